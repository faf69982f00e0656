package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/probe"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/registry"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sent struct {
	channels []string
	severity domain.Severity
	message  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(ctx context.Context, channels []string, severity domain.Severity, message string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{channels, severity, message})
	return len(channels)
}

// blockingNotifier holds every Notify call until release is closed.
type blockingNotifier struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) Notify(ctx context.Context, channels []string, severity domain.Severity, message string) int {
	n.once.Do(func() { close(n.entered) })
	<-n.release
	return len(channels)
}

type fixture struct {
	monitor  *Monitor
	prober   *probe.Simulated
	store    *store.SQLiteStore
	notifier *recordingNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T, rules ...domain.AlertRule) *fixture {
	t.Helper()
	reg, err := registry.New(
		domain.Region{ID: "eu-west-1", Capacity: domain.Capacity{MinInstances: 1, MaxInstances: 30}},
		domain.Region{ID: "us-east-1", Capacity: domain.Capacity{MinInstances: 1, MaxInstances: 10}},
	)
	require.NoError(t, err)

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		prober:   probe.NewSimulated(),
		store:    s,
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.monitor = New(f.prober, reg, s, f.notifier, rules, Config{
		OpenAfter:  2,
		CloseAfter: 2,
		Clock:      f.clock.Now,
	}, nil, nil)
	return f
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestCheckHealth_Healthy(t *testing.T) {
	f := newFixture(t)

	h, err := f.monitor.CheckHealth(context.Background(), "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusHealthy, h.Status)
	assert.Equal(t, 100.0, h.Score)
	assert.Equal(t, f.clock.Now(), h.LastCheck)

	cached, ok := f.monitor.Health("eu-west-1")
	require.True(t, ok)
	assert.Equal(t, h.Score, cached.Score)

	_, ok = f.monitor.Health("us-east-1")
	assert.False(t, ok)
}

func TestCheckHealth_ProbeError(t *testing.T) {
	f := newFixture(t)
	f.prober.Script("eu-west-1", probe.Step{Err: errors.New("dial timeout")})

	h, err := f.monitor.CheckHealth(context.Background(), "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOffline, h.Status)
	assert.Equal(t, 0.0, h.Score)
	assert.Equal(t, "dial timeout", h.Error)
}

func TestCheckHealth_UnknownRegion(t *testing.T) {
	f := newFixture(t)
	_, err := f.monitor.CheckHealth(context.Background(), "mars-1")
	assert.ErrorIs(t, err, domain.ErrUnknownRegion)
}

// =============================================================================
// Incident Lifecycle Tests
// =============================================================================

func TestIncidentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prober.Set("eu-west-1", probe.WithAvailability(80))

	// One degraded check is not sustained.
	_, err := f.monitor.CheckHealth(ctx, "eu-west-1")
	require.NoError(t, err)
	assert.Empty(t, f.monitor.OpenIncidents())

	h, err := f.monitor.CheckHealth(ctx, "eu-west-1")
	require.NoError(t, err)
	require.Len(t, h.Incidents, 1)
	assert.Equal(t, domain.IncidentDegradation, h.Incidents[0].Type)

	// Still degraded: no second incident.
	_, err = f.monitor.CheckHealth(ctx, "eu-west-1")
	require.NoError(t, err)
	open := f.monitor.OpenIncidents()
	require.Len(t, open, 1)

	persisted, err := f.store.ListIncidents(ctx, store.IncidentFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, open[0].ID, persisted[0].ID)

	f.prober.Set("eu-west-1", probe.Healthy())
	_, _ = f.monitor.CheckHealth(ctx, "eu-west-1")
	assert.Len(t, f.monitor.OpenIncidents(), 1)
	_, _ = f.monitor.CheckHealth(ctx, "eu-west-1")
	assert.Empty(t, f.monitor.OpenIncidents())

	persisted, err = f.store.ListIncidents(ctx, store.IncidentFilter{Region: "eu-west-1"})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.False(t, persisted[0].Open())

	require.Len(t, f.notifier.sent, 2)
	assert.Contains(t, f.notifier.sent[0].message, "opened")
	assert.Contains(t, f.notifier.sent[1].message, "closed")
}

func TestIncidentNotifyDoesNotHoldRegionLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slow := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	f.monitor.notifier = slow
	f.prober.Set("eu-west-1", probe.WithAvailability(40))

	_, err := f.monitor.CheckHealth(ctx, "eu-west-1")
	require.NoError(t, err)

	opened := make(chan domain.RegionHealth, 1)
	go func() {
		h, _ := f.monitor.CheckHealth(ctx, "eu-west-1")
		opened <- h
	}()
	<-slow.entered

	// The incident is visible and the region can be checked again while the
	// notification is still being delivered.
	checked := make(chan domain.RegionHealth, 1)
	go func() {
		h, _ := f.monitor.CheckHealth(ctx, "eu-west-1")
		checked <- h
	}()
	select {
	case h := <-checked:
		require.Len(t, h.Incidents, 1)
	case <-time.After(time.Second):
		t.Fatal("CheckHealth blocked behind a slow notification")
	}
	assert.Len(t, f.monitor.OpenIncidents(), 1)

	close(slow.release)
	h := <-opened
	require.Len(t, h.Incidents, 1)
}

func TestReload_RestoresOpenIncidents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc := domain.NewIncident("us-east-1", domain.HealthStatusOffline, "lost before restart", f.clock.Now())
	require.NoError(t, f.store.CreateIncident(ctx, &inc))

	require.NoError(t, f.monitor.Reload(ctx))
	open := f.monitor.OpenIncidents()
	require.Len(t, open, 1)
	assert.Equal(t, inc.ID, open[0].ID)
	assert.Equal(t, 1, f.monitor.GlobalMetrics().OpenIncidents)

	f.prober.Set("us-east-1", probe.WithAvailability(10))
	_, err := f.monitor.CheckHealth(ctx, "us-east-1")
	require.NoError(t, err)
	assert.Len(t, f.monitor.OpenIncidents(), 1)
}

// =============================================================================
// Alert Tests
// =============================================================================

func TestEvaluateAlerts_RequiresSustainedBreach(t *testing.T) {
	rule := domain.AlertRule{
		Name:      "availability-low",
		Metric:    domain.MetricAvailability,
		Operator:  domain.OperatorBelow,
		Threshold: 99,
		Duration:  2 * time.Minute,
		Severity:  domain.SeverityCritical,
		Channels:  []string{"paging"},
	}
	f := newFixture(t, rule)
	ctx := context.Background()
	f.prober.Set("eu-west-1", probe.WithAvailability(95))

	_, _ = f.monitor.CheckHealth(ctx, "eu-west-1")
	assert.Empty(t, f.monitor.EvaluateAlerts(ctx))

	f.clock.Advance(time.Minute)
	assert.Empty(t, f.monitor.EvaluateAlerts(ctx))

	f.clock.Advance(time.Minute)
	fired := f.monitor.EvaluateAlerts(ctx)
	require.Len(t, fired, 1)
	assert.Equal(t, "eu-west-1", fired[0].Region)
	assert.Equal(t, 95.0, fired[0].Value)

	// Fires once per episode.
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.monitor.EvaluateAlerts(ctx))

	// Recovery resets the episode.
	f.prober.Set("eu-west-1", probe.Healthy())
	_, _ = f.monitor.CheckHealth(ctx, "eu-west-1")
	assert.Empty(t, f.monitor.EvaluateAlerts(ctx))

	var paged int
	for _, s := range f.notifier.sent {
		if len(s.channels) == 1 && s.channels[0] == "paging" {
			paged++
		}
	}
	assert.Equal(t, 1, paged)
}

func TestEvaluateAlerts_IndependentRules(t *testing.T) {
	f := newFixture(t,
		domain.AlertRule{Name: "a", Metric: domain.MetricHealthScore, Operator: domain.OperatorBelow, Threshold: 90, Severity: domain.SeverityWarning},
		domain.AlertRule{Name: "b", Metric: domain.MetricAvailability, Operator: domain.OperatorBelow, Threshold: 90, Severity: domain.SeverityCritical},
		domain.AlertRule{Name: "c", Metric: domain.MetricCPU, Operator: domain.OperatorAbove, Threshold: 90, Severity: domain.SeverityCritical, Regions: []string{"us-east-1"}},
	)
	ctx := context.Background()
	f.prober.Set("eu-west-1", probe.WithAvailability(50))
	_, _ = f.monitor.CheckHealth(ctx, "eu-west-1")

	fired := f.monitor.EvaluateAlerts(ctx)
	require.Len(t, fired, 2)
	assert.Equal(t, "a", fired[0].Rule)
	assert.Equal(t, "b", fired[1].Rule)
}

// =============================================================================
// Global Metrics and Polling Tests
// =============================================================================

func TestGlobalMetrics_CapacityWeighted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prober.Script("us-east-1", probe.Step{Err: errors.New("down")})

	_, _ = f.monitor.CheckHealth(ctx, "eu-west-1")
	_, _ = f.monitor.CheckHealth(ctx, "us-east-1")

	g := f.monitor.GlobalMetrics()
	// eu-west-1 weighs 30 at 100%, us-east-1 weighs 10 offline.
	assert.InDelta(t, 75.0, g.Availability, 0.001)
	assert.Equal(t, 1, g.HealthyRegions)
	assert.Equal(t, 1, g.OfflineRegions)
	assert.Equal(t, domain.OverallPartialOutage, g.Overall)
}

func TestGlobalMetrics_NoChecks(t *testing.T) {
	f := newFixture(t)
	g := f.monitor.GlobalMetrics()
	assert.Equal(t, domain.OverallHealthy, g.Overall)
}

func TestRunCycle_ProbesEveryRegion(t *testing.T) {
	f := newFixture(t)

	f.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, f.prober.Calls("eu-west-1"))
	assert.Equal(t, 1, f.prober.Calls("us-east-1"))
	assert.Len(t, f.monitor.AllHealth(), 2)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.monitor.config.Interval = 10 * time.Millisecond

	f.monitor.Start()
	require.Eventually(t, func() bool {
		return f.prober.Calls("eu-west-1") >= 2
	}, time.Second, 5*time.Millisecond)
	f.monitor.Stop()
}
