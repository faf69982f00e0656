package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoRegionConfig() DeploymentConfig {
	return DeploymentConfig{
		Version:  "1.4.0",
		Strategy: StrategyRolling,
		Regions: []RegionDeploymentConfig{
			{Region: "region-a", Priority: 1, Percentage: 60, Thresholds: RollbackThresholds{MinHealthScore: 80}},
			{Region: "region-b", Priority: 2, Percentage: 40, Dependencies: []string{"region-a"}},
		},
		Rollback: RollbackPolicy{Automatic: true, Strategy: RollbackImmediate},
	}
}

// =============================================================================
// Deployment Creation Tests
// =============================================================================

func TestNewDeploymentStatus(t *testing.T) {
	cfg := twoRegionConfig()

	status := NewDeploymentStatus(cfg)

	assert.NotEmpty(t, status.ID)
	assert.Equal(t, "1.4.0", status.Version)
	assert.Equal(t, StrategyRolling, status.Strategy)
	assert.Equal(t, DeploymentPending, status.Status)
	assert.NotZero(t, status.CreatedAt)
	assert.Nil(t, status.StartedAt)
	require.Len(t, status.Regions, 2)
	assert.Equal(t, RegionPending, status.Regions["region-a"].State)
	assert.Equal(t, 60.0, status.Regions["region-a"].TargetTraffic)
	assert.Zero(t, status.Regions["region-b"].Traffic)
	assert.Empty(t, status.Events)
}

func TestDeploymentStatus_Clone_IsDeep(t *testing.T) {
	status := NewDeploymentStatus(twoRegionConfig())
	now := time.Now()
	status.StartedAt = &now
	status.Events = append(status.Events, DeploymentEvent{Sequence: 1, Message: "started"})

	clone := status.Clone()
	rs := clone.Regions["region-a"]
	rs.Traffic = 50
	rs.Errors = append(rs.Errors, "boom")
	clone.Regions["region-a"] = rs
	clone.Events[0].Message = "changed"
	*clone.StartedAt = now.Add(time.Hour)

	assert.Zero(t, status.Regions["region-a"].Traffic)
	assert.Empty(t, status.Regions["region-a"].Errors)
	assert.Equal(t, "started", status.Events[0].Message)
	assert.Equal(t, now, *status.StartedAt)
}

func TestDeploymentStatus_TotalTraffic(t *testing.T) {
	status := NewDeploymentStatus(twoRegionConfig())
	a := status.Regions["region-a"]
	a.Traffic = 60
	status.Regions["region-a"] = a
	b := status.Regions["region-b"]
	b.Traffic = 40
	status.Regions["region-b"] = b

	assert.Equal(t, 100.0, status.TotalTraffic())
}

// =============================================================================
// Strategy Config Tests
// =============================================================================

func TestDeploymentConfig_StrategyConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      DeploymentConfig
		expected StrategyType
	}{
		{"rolling default", DeploymentConfig{Strategy: StrategyRolling}, StrategyRolling},
		{"blue-green default", DeploymentConfig{Strategy: StrategyBlueGreen}, StrategyBlueGreen},
		{"canary with stages", DeploymentConfig{
			Strategy: StrategyCanary,
			Canary:   &CanaryConfig{Stages: []CanaryStage{{Percentage: 10}}},
		}, StrategyCanary},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.StrategyConfig().Strategy())
		})
	}
}

func TestDeploymentConfig_CanaryStagesPreserved(t *testing.T) {
	cfg := DeploymentConfig{
		Strategy: StrategyCanary,
		Canary:   &CanaryConfig{Stages: []CanaryStage{{Percentage: 10}, {Percentage: 100}}},
	}

	canary, ok := cfg.StrategyConfig().(CanaryConfig)
	require.True(t, ok)
	assert.Len(t, canary.Stages, 2)
}

func TestDeploymentConfig_RegionConfig(t *testing.T) {
	cfg := twoRegionConfig()

	rc, ok := cfg.RegionConfig("region-b")
	require.True(t, ok)
	assert.Equal(t, []string{"region-a"}, rc.Dependencies)

	_, ok = cfg.RegionConfig("region-z")
	assert.False(t, ok)
}

func TestDeploymentConfig_JSONDurations(t *testing.T) {
	raw := `{
		"version": "2.0.0",
		"strategy": "rolling",
		"regions": [{"region": "us-east-1", "priority": 1, "percentage": 100}],
		"rolling": {"step_percent": 20, "step_interval": "250ms", "cooldown": "1s"}
	}`

	var cfg DeploymentConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))

	rolling, ok := cfg.StrategyConfig().(RollingConfig)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, rolling.StepInterval.Std())
	assert.Equal(t, time.Second, rolling.Cooldown.Std())
}

// =============================================================================
// Status Transition Tests
// =============================================================================

func TestValidateDeploymentTransition(t *testing.T) {
	tests := []struct {
		from, to DeploymentState
		valid    bool
	}{
		{DeploymentPending, DeploymentInProgress, true},
		{DeploymentPending, DeploymentFailed, true},
		{DeploymentInProgress, DeploymentCompleted, true},
		{DeploymentInProgress, DeploymentFailed, true},
		{DeploymentCompleted, DeploymentRolledBack, true},
		{DeploymentFailed, DeploymentRolledBack, true},
		{DeploymentPending, DeploymentCompleted, false},
		{DeploymentInProgress, DeploymentRolledBack, false},
		{DeploymentRolledBack, DeploymentInProgress, false},
		{DeploymentCompleted, DeploymentInProgress, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateDeploymentTransition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestValidateRegionTransition(t *testing.T) {
	tests := []struct {
		from, to RegionState
		valid    bool
	}{
		{RegionPending, RegionDeploying, true},
		{RegionDeploying, RegionValidating, true},
		{RegionValidating, RegionActive, true},
		{RegionActive, RegionRolledBack, true},
		{RegionDeploying, RegionFailed, true},
		{RegionPending, RegionActive, false},
		{RegionDeploying, RegionActive, false},
		{RegionRolledBack, RegionActive, false},
		{RegionFailed, RegionDeploying, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateRegionTransition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestDeploymentState_Active(t *testing.T) {
	assert.True(t, DeploymentPending.Active())
	assert.True(t, DeploymentInProgress.Active())
	assert.False(t, DeploymentCompleted.Active())
	assert.False(t, DeploymentFailed.Active())
	assert.False(t, DeploymentRolledBack.Active())
}

func TestStrategyType_Valid(t *testing.T) {
	assert.True(t, StrategyRolling.Valid())
	assert.True(t, StrategyBlueGreen.Valid())
	assert.True(t, StrategyCanary.Valid())
	assert.False(t, StrategyType("big-bang").Valid())
}
