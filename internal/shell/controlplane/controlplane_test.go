package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

type staticResolver map[string]domain.Region

func (r staticResolver) Get(id string) (domain.Region, error) {
	region, ok := r[id]
	if !ok {
		return domain.Region{}, domain.ErrUnknownRegion
	}
	return region, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	resolver := staticResolver{
		"eu-west-1": {ID: "eu-west-1", Endpoints: domain.Endpoints{Admin: server.URL + "/"}},
	}
	return NewHTTPClient(resolver, Config{Token: "secret", Timeout: 5 * time.Second})
}

// =============================================================================
// Live Client Tests
// =============================================================================

func TestHTTPClient_Deploy(t *testing.T) {
	var got deployRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/deployments", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, client.Deploy(context.Background(), "eu-west-1", "2.0.0"))
	assert.Equal(t, "2.0.0", got.Version)
	assert.Equal(t, "green", got.Environment)
}

func TestHTTPClient_SetTrafficAndDecommission(t *testing.T) {
	var paths []string
	var traffic trafficRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&traffic))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.SetTraffic(context.Background(), "eu-west-1", 40))
	require.NoError(t, client.Decommission(context.Background(), "eu-west-1", "blue"))

	assert.Equal(t, 40.0, traffic.Percent)
	assert.Equal(t, []string{"PUT /v1/traffic", "DELETE /v1/environments/blue"}, paths)
}

func TestHTTPClient_Validate(t *testing.T) {
	var got validationRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/validations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	step := domain.ValidationStep{Name: "smoke", Type: "http", Timeout: domain.Duration(10 * time.Second)}
	require.NoError(t, client.Validate(context.Background(), "eu-west-1", step))
	assert.Equal(t, "smoke", got.Name)
	assert.Equal(t, "10s", got.Timeout)
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		rejected bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"conflict is permanent", http.StatusConflict, true},
		{"too many requests is transient", http.StatusTooManyRequests, false},
		{"server error is transient", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			err := client.SetTraffic(context.Background(), "eu-west-1", 10)
			require.Error(t, err)
			assert.Equal(t, tt.rejected, isRejected(err))
		})
	}
}

func TestHTTPClient_UnknownRegion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	err := client.Deploy(context.Background(), "nowhere", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrUnknownRegion)
}

// =============================================================================
// Simulated Backend Tests
// =============================================================================

func TestSimulated_FailureInjection(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	sim.FailNext("a", OpDeploy, 2)
	assert.Error(t, sim.Deploy(ctx, "a", "1.0.0"))
	assert.Error(t, sim.Deploy(ctx, "a", "1.0.0"))
	assert.NoError(t, sim.Deploy(ctx, "a", "1.0.0"))
	assert.Equal(t, "1.0.0", sim.Version("a"))
	assert.Equal(t, 3, sim.Calls("a", OpDeploy))

	sim.FailAlways("b", OpSetTraffic)
	for i := 0; i < 5; i++ {
		assert.Error(t, sim.SetTraffic(ctx, "b", 10))
	}

	sim.FailValidation("a", "smoke")
	err := sim.Validate(ctx, "a", domain.ValidationStep{Name: "smoke"})
	assert.True(t, isRejected(err))
	assert.NoError(t, sim.Validate(ctx, "a", domain.ValidationStep{Name: "load"}))
}

func TestSimulated_TrafficHook(t *testing.T) {
	sim := NewSimulated()
	var seen []float64
	sim.OnSetTraffic = func(region string, percent float64) {
		seen = append(seen, percent)
	}

	ctx := context.Background()
	require.NoError(t, sim.SetTraffic(ctx, "a", 10))
	require.NoError(t, sim.SetTraffic(ctx, "a", 20))

	assert.Equal(t, 20.0, sim.Traffic("a"))
	assert.Equal(t, []float64{10, 20}, sim.TrafficHistory("a"))
	assert.Equal(t, []float64{10, 20}, seen)
}

func TestSimulated_CancelledContext(t *testing.T) {
	sim := NewSimulated()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sim.Deploy(ctx, "a", "1.0.0"), context.Canceled)
	assert.Equal(t, 0, sim.Calls("a", OpDeploy))
}

func isRejected(err error) bool {
	return err != nil && errors.Is(err, ErrRejected)
}
