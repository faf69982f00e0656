package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

func testRegion(id string) domain.Region {
	return domain.Region{
		ID:             id,
		Location:       domain.Location{Name: id},
		ComplianceTags: []string{"GDPR"},
		Capacity:       domain.Capacity{MinInstances: 1, MaxInstances: 10},
		Endpoints:      domain.Endpoints{API: "https://" + id + ".example.com"},
	}
}

func TestRegister(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	require.NoError(t, r.Register(testRegion("eu-west-1")))
	assert.True(t, r.Has("eu-west-1"))

	err = r.Register(testRegion("eu-west-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateRegion)
}

func TestRegister_Invalid(t *testing.T) {
	r, _ := New()

	tests := []struct {
		name   string
		region domain.Region
		field  string
	}{
		{"missing id", domain.Region{Capacity: domain.Capacity{MaxInstances: 1}}, "id"},
		{"not an identifier", domain.Region{ID: "US East", Capacity: domain.Capacity{MaxInstances: 1}}, "id"},
		{"zero max", domain.Region{ID: "a"}, "capacity"},
		{"min above max", domain.Region{ID: "a", Capacity: domain.Capacity{MinInstances: 5, MaxInstances: 2}}, "capacity"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.region)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, err := New(testRegion("us-east-1"))
	require.NoError(t, err)

	got, err := r.Get("us-east-1")
	require.NoError(t, err)
	got.ComplianceTags[0] = "MUTATED"

	again, _ := r.Get("us-east-1")
	assert.Equal(t, "GDPR", again.ComplianceTags[0])

	_, err = r.Get("nowhere")
	assert.ErrorIs(t, err, domain.ErrUnknownRegion)
}

func TestList_Sorted(t *testing.T) {
	r, err := New(testRegion("us-west-2"), testRegion("ap-south-1"), testRegion("eu-west-1"))
	require.NoError(t, err)

	ids := []string{}
	for _, region := range r.List() {
		ids = append(ids, region.ID)
	}
	assert.Equal(t, []string{"ap-south-1", "eu-west-1", "us-west-2"}, ids)
}

func TestUpdateCapacity(t *testing.T) {
	r, _ := New(testRegion("eu-west-1"))

	updated, err := r.UpdateCapacity("eu-west-1", domain.Capacity{MinInstances: 2, MaxInstances: 40})
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Capacity.MaxInstances)
	assert.Equal(t, 40, r.Weights()["eu-west-1"])

	_, err = r.UpdateCapacity("eu-west-1", domain.Capacity{MinInstances: 3, MaxInstances: 1})
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = r.UpdateCapacity("missing", domain.Capacity{MaxInstances: 1})
	assert.ErrorIs(t, err, domain.ErrUnknownRegion)
}

func TestConcurrentAccess(t *testing.T) {
	r, _ := New(testRegion("eu-west-1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, _ = r.UpdateCapacity("eu-west-1", domain.Capacity{MinInstances: 1, MaxInstances: n + 1})
		}(i)
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
	}
	wg.Wait()

	region, err := r.Get("eu-west-1")
	require.NoError(t, err)
	assert.True(t, region.Capacity.Valid())
}
