package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/controlplane"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/monitor"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/probe"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/registry"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

const (
	regionA = "region-a"
	regionB = "region-b"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeCompliance struct {
	blocked map[string]bool
}

func (c *fakeCompliance) CheckDeployment(region string, dataTypes []string) error {
	if c.blocked[region] {
		return &domain.ComplianceViolationError{
			Region:     region,
			DataType:   "PHI",
			Violations: []string{"region does not satisfy HIPAA"},
		}
	}
	return nil
}

type fixture struct {
	o      *Orchestrator
	cp     *controlplane.Simulated
	prober *probe.Simulated
	store  *store.SQLiteStore
}

func fastConfig() Config {
	return Config{
		StepPercent:       20,
		StepInterval:      time.Millisecond,
		Cooldown:          time.Millisecond,
		ObservationWindow: 5 * time.Millisecond,
		CanaryObservation: time.Millisecond,
		CallTimeout:       time.Second,
		MaxAttempts:       3,
		RetryBackoff:      time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		RollbackBudget:    5 * time.Second,
		RollbackStepWait:  time.Millisecond,
	}
}

func newFixture(t *testing.T, compliance ComplianceChecker, tweak ...func(*Config)) *fixture {
	t.Helper()

	reg, err := registry.New(testRegion(regionA), testRegion(regionB))
	require.NoError(t, err)

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	cp := controlplane.NewSimulated()
	prober := probe.NewSimulated()
	mon := monitor.New(prober, reg, nil, nil, nil, monitor.Config{}, nil, nil)

	config := fastConfig()
	for _, fn := range tweak {
		fn(&config)
	}
	o := New(cp, mon, compliance, reg, s, config, nil, nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
		s.Close()
	})
	return &fixture{o: o, cp: cp, prober: prober, store: s}
}

func testRegion(id string) domain.Region {
	return domain.Region{
		ID:       id,
		Location: domain.Location{Name: id},
		Capacity: domain.Capacity{MinInstances: 1, MaxInstances: 10},
	}
}

// twoRegionConfig deploys 60% to region-a and 40% to region-b, with b
// depending on a.
func twoRegionConfig(strategy domain.StrategyType) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		Version:  "v2.3.0",
		Strategy: strategy,
		Regions: []domain.RegionDeploymentConfig{
			{Region: regionA, Priority: 1, Percentage: 60},
			{Region: regionB, Priority: 2, Percentage: 40, Dependencies: []string{regionA}},
		},
		Rollback: domain.RollbackPolicy{Automatic: true, Strategy: domain.RollbackImmediate},
	}
}

// gatedStore holds CreateDeployment until release is closed, then fails
// with err when set.
type gatedStore struct {
	store.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	err     error
}

func newGatedStore(s store.Store) *gatedStore {
	return &gatedStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) CreateDeployment(ctx context.Context, d *domain.DeploymentStatus) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	if s.err != nil {
		return s.err
	}
	return s.Store.CreateDeployment(ctx, d)
}

// orchestratorWith builds a second orchestrator over the fixture's
// collaborators and the given store.
func (f *fixture) orchestratorWith(t *testing.T, s store.Store) *Orchestrator {
	t.Helper()
	o := New(f.cp, f.o.health, nil, f.o.regions, s, fastConfig(), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

// within fails the test when fn does not return in time.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call did not return within %s", d)
	}
}

func (f *fixture) submitAndWait(t *testing.T, cfg domain.DeploymentConfig) *domain.DeploymentStatus {
	t.Helper()
	st, err := f.o.Submit(context.Background(), cfg)
	require.NoError(t, err)
	return f.wait(t, st.ID)
}

func (f *fixture) wait(t *testing.T, id string) *domain.DeploymentStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := f.o.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

func eventsOfType(st *domain.DeploymentStatus, typ domain.EventType) []domain.DeploymentEvent {
	var out []domain.DeploymentEvent
	for _, ev := range st.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestSubmit_InvalidConfig(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.o.Submit(context.Background(), domain.DeploymentConfig{
		Version:  "v1.0.0",
		Strategy: domain.StrategyRolling,
	})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "regions", ve.Field)
}

func TestSubmit_UnknownRegion(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Regions[1].Region = "region-z"
	cfg.Regions[1].Dependencies = nil

	_, err := f.o.Submit(context.Background(), cfg)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "regions[1].region", ve.Field)
}

func TestSubmit_ConflictingVersion(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.StepInterval = time.Hour })

	first, err := f.o.Submit(context.Background(), twoRegionConfig(domain.StrategyRolling))
	require.NoError(t, err)

	_, err = f.o.Submit(context.Background(), twoRegionConfig(domain.StrategyRolling))
	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, first.ID, ce.ExistingID)

	all, err := f.o.List(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubmit_StoreWriteDoesNotBlockQueries(t *testing.T) {
	f := newFixture(t, nil)
	gated := newGatedStore(f.store)
	o := f.orchestratorWith(t, gated)
	ctx := context.Background()

	submitted := make(chan error, 1)
	go func() {
		_, err := o.Submit(ctx, twoRegionConfig(domain.StrategyRolling))
		submitted <- err
	}()
	<-gated.entered

	within(t, time.Second, func() {
		_, err := o.GetStatus(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
	within(t, time.Second, func() {
		_, err := o.Submit(ctx, twoRegionConfig(domain.StrategyRolling))
		var ce *domain.ConflictError
		assert.True(t, errors.As(err, &ce))
	})

	close(gated.release)
	require.NoError(t, <-submitted)
}

func TestSubmit_PersistFailureReleasesVersion(t *testing.T) {
	f := newFixture(t, nil)
	gated := newGatedStore(f.store)
	gated.err = errors.New("disk full")
	close(gated.release)
	o := f.orchestratorWith(t, gated)

	_, err := o.Submit(context.Background(), twoRegionConfig(domain.StrategyRolling))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	gated.err = nil
	st, err := o.Submit(context.Background(), twoRegionConfig(domain.StrategyRolling))
	require.NoError(t, err)
	assert.Equal(t, "v2.3.0", st.Version)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Shutdown(context.Background()))

	_, err := f.o.Submit(context.Background(), twoRegionConfig(domain.StrategyRolling))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.o.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// Rolling Tests
// =============================================================================

func TestRolling_CompletesInDependencyOrder(t *testing.T) {
	f := newFixture(t, nil)

	st := f.submitAndWait(t, twoRegionConfig(domain.StrategyRolling))

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	assert.Equal(t, 60.0, f.cp.Traffic(regionA))
	assert.Equal(t, 40.0, f.cp.Traffic(regionB))
	assert.Equal(t, []float64{20, 40, 60}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{20, 40}, f.cp.TrafficHistory(regionB))
	assert.Equal(t, "v2.3.0", f.cp.Version(regionB))
	assert.InDelta(t, 100.0, st.TotalTraffic(), 0.001)

	for _, id := range []string{regionA, regionB} {
		rs := st.Regions[id]
		assert.Equal(t, domain.RegionActive, rs.State, id)
		assert.True(t, rs.Validated, id)
	}
	assert.NotNil(t, st.StartedAt)
	assert.NotNil(t, st.EndedAt)
	assert.Equal(t, 5, st.Metrics.HealthChecks)

	// region-a is active before region-b starts deploying.
	var aActive, bDeploying int
	for i, ev := range st.Events {
		if ev.Type != domain.EventRegionStatus {
			continue
		}
		if ev.Region == regionA && ev.To == string(domain.RegionActive) {
			aActive = i
		}
		if ev.Region == regionB && ev.To == string(domain.RegionDeploying) {
			bDeploying = i
		}
	}
	assert.Less(t, aActive, bDeploying)

	for i, ev := range st.Events {
		assert.Equal(t, i+1, ev.Sequence)
	}
	persisted, err := f.store.ListDeploymentEvents(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, len(st.Events))
}

func TestRolling_HealthBreachRollsBack(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.StepPercent = 10 })
	f.prober.SetFunc(regionA, func() (domain.ProbeResult, error) {
		if f.cp.Traffic(regionA) >= 30 {
			return probe.WithAvailability(50), nil
		}
		return probe.Healthy(), nil
	})

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Regions[0].Thresholds = domain.RollbackThresholds{MinHealthScore: 80}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Contains(t, st.Reason, "health score 50.0 below 80.0")
	assert.Equal(t, []float64{10, 20, 30, 0}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, 0.0, f.cp.Traffic(regionA))
	assert.Equal(t, domain.RegionRolledBack, st.Regions[regionA].State)
	assert.Equal(t, domain.RegionPending, st.Regions[regionB].State)
	assert.Zero(t, f.cp.Calls(regionB, controlplane.OpDeploy))
	assert.Equal(t, 1, st.Metrics.RollbackCount)
	assert.Len(t, eventsOfType(st, domain.EventRollbackCompleted), 1)
}

func TestRolling_VersionReservedUntilRollbackDrains(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) {
		c.StepPercent = 10
		c.RollbackStepWait = 300 * time.Millisecond
	})
	f.prober.SetFunc(regionA, func() (domain.ProbeResult, error) {
		if f.cp.Traffic(regionA) >= 30 {
			return probe.WithAvailability(50), nil
		}
		return probe.Healthy(), nil
	})

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Regions[0].Thresholds = domain.RollbackThresholds{MinHealthScore: 80}
	cfg.Rollback.Strategy = domain.RollbackGradual

	st, err := f.o.Submit(context.Background(), cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, err := f.o.GetStatus(context.Background(), st.ID)
		return err == nil && len(eventsOfType(cur, domain.EventRollbackStarted)) > 0
	}, 5*time.Second, 5*time.Millisecond)

	_, err = f.o.Submit(context.Background(), cfg)
	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce), "version must stay reserved while draining")
	assert.Equal(t, st.ID, ce.ExistingID)

	st = f.wait(t, st.ID)
	require.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, []float64{10, 20, 30, 20, 10, 0}, f.cp.TrafficHistory(regionA))

	f.prober.Set(regionA, probe.Healthy())
	_, err = f.o.Submit(context.Background(), cfg)
	assert.NoError(t, err)
}

func TestRolling_BreachWithoutAutomaticRollbackStaysFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.prober.Set(regionA, probe.WithAvailability(40))

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Rollback.Automatic = false
	cfg.Regions[0].Thresholds = domain.RollbackThresholds{MinHealthScore: 80}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentFailed, st.Status)
	assert.Equal(t, 20.0, f.cp.Traffic(regionA))
	assert.Empty(t, eventsOfType(st, domain.EventRollbackStarted))
}

func TestRolling_TriggerWindow(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.StepPercent = 10 })
	f.prober.Set(regionA, probe.WithAvailability(90))

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Rollback.Triggers = []domain.RollbackTrigger{{
		Metric:    domain.MetricAvailability,
		Operator:  domain.OperatorBelow,
		Threshold: 95,
		Window:    domain.Duration(time.Hour),
	}}

	st := f.submitAndWait(t, cfg)

	// The condition never holds for a whole hour.
	assert.Equal(t, domain.DeploymentCompleted, st.Status)
}

func TestRolling_TransientHealthCheckFailureIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	calls := 0
	f.prober.SetFunc(regionA, func() (domain.ProbeResult, error) {
		calls++
		if calls == 2 {
			return domain.ProbeResult{}, errors.New("connection reset")
		}
		return probe.Healthy(), nil
	})

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Regions[0].Thresholds = domain.RollbackThresholds{MinHealthScore: 80}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	assert.Equal(t, 4, f.prober.Calls(regionA))
	assert.Equal(t, []float64{20, 40, 60}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, 5, st.Metrics.HealthChecks)
	retries := eventsOfType(st, domain.EventRetry)
	require.Len(t, retries, 1)
	assert.Contains(t, retries[0].Message, "connection reset")
	assert.Empty(t, eventsOfType(st, domain.EventRollbackStarted))
}

func TestRolling_ExhaustedHealthChecksFailDeployment(t *testing.T) {
	f := newFixture(t, nil)
	f.prober.SetFunc(regionA, func() (domain.ProbeResult, error) {
		return domain.ProbeResult{}, errors.New("connection reset")
	})

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Regions[0].Thresholds = domain.RollbackThresholds{MinHealthScore: 80}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Contains(t, st.Reason, "probe region-a failed after 3 attempts: connection reset")
	assert.NotContains(t, st.Reason, "health score")
	assert.Equal(t, 3, f.prober.Calls(regionA))
	assert.Zero(t, st.Metrics.HealthChecks)
	assert.Equal(t, 0.0, f.cp.Traffic(regionA))
}

// =============================================================================
// Retry and Validation Tests
// =============================================================================

func TestRetry_TransientFailureSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.cp.FailNext(regionA, controlplane.OpDeploy, 2)

	st := f.submitAndWait(t, twoRegionConfig(domain.StrategyRolling))

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	assert.Equal(t, 3, f.cp.Calls(regionA, controlplane.OpDeploy))
	assert.Len(t, eventsOfType(st, domain.EventRetry), 2)
}

func TestRetry_ExhaustedFailsRegion(t *testing.T) {
	f := newFixture(t, nil)
	f.cp.FailAlways(regionA, controlplane.OpDeploy)

	st := f.submitAndWait(t, twoRegionConfig(domain.StrategyRolling))

	assert.Equal(t, domain.DeploymentFailed, st.Status)
	assert.Equal(t, 3, f.cp.Calls(regionA, controlplane.OpDeploy))
	assert.Equal(t, domain.RegionFailed, st.Regions[regionA].State)
	require.NotEmpty(t, st.Regions[regionA].Errors)
	assert.Contains(t, st.Regions[regionA].Errors[0], "after 3 attempts")
	// Nothing carries traffic so there is nothing to drain.
	assert.Empty(t, eventsOfType(st, domain.EventRollbackStarted))
}

func TestValidation_BlockingRejectionIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.cp.FailValidation(regionA, "smoke")

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Regions[0].Validation = []domain.ValidationStep{{Name: "smoke", Type: "http", Blocking: true}}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentFailed, st.Status)
	assert.Equal(t, 1, f.cp.Calls(regionA, controlplane.OpValidate))
	assert.Equal(t, domain.RegionFailed, st.Regions[regionA].State)
	assert.False(t, st.Regions[regionA].Validated)
	assert.Contains(t, st.Reason, "validation smoke failed")
	assert.Empty(t, f.cp.TrafficHistory(regionA))
}

func TestValidation_NonBlockingBecomesWarning(t *testing.T) {
	f := newFixture(t, nil)
	f.cp.FailValidation(regionA, "perf")

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Validation.PostDeployment = []domain.ValidationStep{{Name: "perf", Type: "load", Blocking: false}}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	require.Len(t, st.Regions[regionA].Warnings, 1)
	assert.Contains(t, st.Regions[regionA].Warnings[0], "validation perf failed")
	assert.Empty(t, st.Regions[regionB].Warnings)
	assert.Len(t, eventsOfType(st, domain.EventValidationWarning), 1)
}

func TestPreflight_ComplianceBlocksDeployment(t *testing.T) {
	f := newFixture(t, &fakeCompliance{blocked: map[string]bool{regionB: true}})

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.DataTypes = []string{"PHI"}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentFailed, st.Status)
	assert.Equal(t, domain.RegionPending, st.Regions[regionA].State)
	assert.Equal(t, domain.RegionPending, st.Regions[regionB].State)
	require.Len(t, st.Regions[regionB].Errors, 1)
	assert.Contains(t, st.Regions[regionB].Errors[0], "HIPAA")
	assert.Len(t, eventsOfType(st, domain.EventComplianceViolation), 1)
	assert.Zero(t, f.cp.Calls(regionA, controlplane.OpDeploy))
}

// =============================================================================
// Blue-Green and Canary Tests
// =============================================================================

func TestBlueGreen_SwitchesAndDecommissions(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyBlueGreen)
	cfg.Regions[1].Dependencies = nil

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	assert.Equal(t, []float64{60}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{40}, f.cp.TrafficHistory(regionB))
	assert.Equal(t, []string{EnvironmentBlue}, f.cp.Decommissioned(regionA))
	assert.Equal(t, []string{EnvironmentBlue}, f.cp.Decommissioned(regionB))
	assert.Len(t, eventsOfType(st, domain.EventDecommission), 2)
}

func TestBlueGreen_DecommissionFailureIsWarning(t *testing.T) {
	f := newFixture(t, nil)
	f.cp.FailAlways(regionB, controlplane.OpDecommission)

	cfg := twoRegionConfig(domain.StrategyBlueGreen)
	cfg.Regions[1].Dependencies = nil

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	require.Len(t, st.Regions[regionB].Warnings, 1)
	assert.Contains(t, st.Regions[regionB].Warnings[0], "decommission of blue failed")
}

func TestCanary_StageBelowThresholdRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	score := func() (domain.ProbeResult, error) {
		if f.cp.Traffic(regionA) >= 30 {
			return probe.WithAvailability(80), nil
		}
		return probe.WithAvailability(95), nil
	}
	f.prober.SetFunc(regionA, score)
	f.prober.SetFunc(regionB, score)

	cfg := twoRegionConfig(domain.StrategyCanary)
	cfg.Regions[1].Dependencies = nil
	cfg.Canary = &domain.CanaryConfig{Stages: []domain.CanaryStage{
		{Percentage: 10},
		{Percentage: 50},
		{Percentage: 100},
	}}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Contains(t, st.Reason, "canary stage 50%")
	assert.Equal(t, []float64{6, 30, 0}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{4, 20, 0}, f.cp.TrafficHistory(regionB))
	assert.Equal(t, domain.RegionRolledBack, st.Regions[regionA].State)
	assert.Equal(t, domain.RegionRolledBack, st.Regions[regionB].State)
}

func TestCanary_AllStagesPass(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyCanary)
	cfg.Regions[1].Dependencies = nil
	cfg.Canary = &domain.CanaryConfig{Stages: []domain.CanaryStage{
		{Percentage: 25},
		{Percentage: 100},
	}}

	st := f.submitAndWait(t, cfg)

	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	assert.Equal(t, []float64{15, 60}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{10, 40}, f.cp.TrafficHistory(regionB))
}

// =============================================================================
// Rollback Tests
// =============================================================================

func TestRollback_OperatorRollsBackCompleted(t *testing.T) {
	f := newFixture(t, nil)

	st := f.submitAndWait(t, twoRegionConfig(domain.StrategyRolling))
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, "rollback requested by operator", st.Reason)
	assert.Equal(t, 0.0, f.cp.Traffic(regionA))
	assert.Equal(t, 0.0, f.cp.Traffic(regionB))

	// A second request is a no-op.
	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)
	assert.Equal(t, 1, st.Metrics.RollbackCount)
}

func TestRollback_OperatorAbortsRunning(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.StepInterval = time.Hour })

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Rollback.Automatic = false

	st, err := f.o.Submit(context.Background(), cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.cp.Traffic(regionA) > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, "rollback requested by operator", st.Reason)
	assert.Equal(t, 0.0, f.cp.Traffic(regionA))
	assert.Equal(t, domain.RegionPending, st.Regions[regionB].State)
	assert.Len(t, eventsOfType(st, domain.EventRollbackRequested), 1)
}

func TestRollback_GradualRetracesRollingRamp(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Rollback.Strategy = domain.RollbackGradual

	st := f.submitAndWait(t, cfg)
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, []float64{20, 40, 60, 40, 20, 0}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{20, 40, 20, 0}, f.cp.TrafficHistory(regionB))
}

func TestRollback_GradualUsesConfiguredRampStep(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Rolling = &domain.RollingConfig{StepPercent: 30}
	cfg.Rollback.Strategy = domain.RollbackGradual

	st := f.submitAndWait(t, cfg)
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, []float64{30, 60, 30, 0}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{30, 40, 30, 0}, f.cp.TrafficHistory(regionB))
}

func TestRollback_GradualCanaryRetracesStages(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyCanary)
	cfg.Regions[1].Dependencies = nil
	cfg.Canary = &domain.CanaryConfig{Stages: []domain.CanaryStage{
		{Percentage: 25},
		{Percentage: 100},
	}}
	cfg.Rollback.Strategy = domain.RollbackGradual

	st := f.submitAndWait(t, cfg)
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, []float64{15, 60, 15, 0}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{10, 40, 10, 0}, f.cp.TrafficHistory(regionB))
}

func TestRollback_GradualBlueGreenSwitchesBack(t *testing.T) {
	f := newFixture(t, nil)

	cfg := twoRegionConfig(domain.StrategyBlueGreen)
	cfg.Regions[1].Dependencies = nil
	cfg.Rollback.Strategy = domain.RollbackGradual

	st := f.submitAndWait(t, cfg)
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.Equal(t, domain.DeploymentRolledBack, st.Status)
	assert.Equal(t, []float64{60, 0}, f.cp.TrafficHistory(regionA))
	assert.Equal(t, []float64{40, 0}, f.cp.TrafficHistory(regionB))
}

func TestRollback_EscalatesWhenBudgetExceeded(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) {
		c.RollbackBudget = 50 * time.Millisecond
		c.RollbackStepWait = time.Hour
	})

	cfg := twoRegionConfig(domain.StrategyRolling)
	cfg.Rollback.Strategy = domain.RollbackGradual

	st := f.submitAndWait(t, cfg)
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.True(t, st.Escalated)
	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	escalated := eventsOfType(st, domain.EventRollbackEscalated)
	require.Len(t, escalated, 1)
	assert.Contains(t, escalated[0].Message, "rollback exceeded budget of 50ms")
	assert.Contains(t, st.Reason, "rollback exceeded budget of 50ms")
	assert.Empty(t, eventsOfType(st, domain.EventRollbackCompleted))
	// Only the first drain step ran before the budget ran out.
	assert.Equal(t, 40.0, f.cp.Traffic(regionA))
	assert.Equal(t, 20.0, f.cp.Traffic(regionB))
}

func TestRollback_EscalatesWhenDrainFails(t *testing.T) {
	f := newFixture(t, nil)

	st := f.submitAndWait(t, twoRegionConfig(domain.StrategyRolling))
	require.Equal(t, domain.DeploymentCompleted, st.Status)

	f.cp.FailAlways(regionA, controlplane.OpSetTraffic)
	require.NoError(t, f.o.Rollback(context.Background(), st.ID))
	st = f.wait(t, st.ID)

	assert.True(t, st.Escalated)
	assert.Equal(t, domain.DeploymentCompleted, st.Status)
	assert.Contains(t, st.Reason, "escalated")
	assert.Len(t, eventsOfType(st, domain.EventRollbackEscalated), 1)
	assert.Empty(t, eventsOfType(st, domain.EventRollbackCompleted))
}

// =============================================================================
// Recovery Tests
// =============================================================================

func TestRecover_MarksInterruptedDeploymentsFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stale := domain.NewDeploymentStatus(twoRegionConfig(domain.StrategyRolling))
	stale.CreatedAt = time.Now().UTC()
	require.NoError(t, f.store.CreateDeployment(ctx, stale))

	n, err := f.o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.o.GetStatus(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Reason)
	assert.NotNil(t, got.EndedAt)
}
