package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Slugify Tests
// =============================================================================

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"us-east-1", "us-east-1"},
		{"US East 1", "us-east-1"},
		{"eu_central (1)", "eu-central-1"},
		{"  ap--southeast  2 ", "ap-southeast-2"},
		{"Région!", "rgion"},
		{"---", ""},
		{"", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestValidRegionID(t *testing.T) {
	assert.True(t, ValidRegionID("us-east-1"))
	assert.True(t, ValidRegionID("a"))

	assert.False(t, ValidRegionID(""))
	assert.False(t, ValidRegionID("US-East-1"))
	assert.False(t, ValidRegionID("us_east_1"))
	assert.False(t, ValidRegionID("-us-east"))
	assert.False(t, ValidRegionID("us--east"))
}
