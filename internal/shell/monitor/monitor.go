// Package monitor polls region health, tracks incidents, and evaluates alert
// rules.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/monitoring"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/probe"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// Config configures the monitor.
type Config struct {
	// Interval is the time between polling cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// ProbeTimeout bounds a single probe.
	// Default: 5 seconds.
	ProbeTimeout time.Duration

	// MaxConcurrent is the maximum number of regions probed concurrently.
	// Default: 5.
	MaxConcurrent int

	// OpenAfter is the number of consecutive below-healthy checks that open
	// an incident. Default: 2.
	OpenAfter int

	// CloseAfter is the number of consecutive healthy checks that close an
	// incident. Default: 2.
	CloseAfter int

	// IncidentChannels receive incident open and close notifications.
	IncidentChannels []string

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		MaxConcurrent:    5,
		OpenAfter:        2,
		CloseAfter:       2,
		IncidentChannels: []string{"chat"},
		Clock:            time.Now,
	}
}

// RegionSource provides the regions to monitor.
type RegionSource interface {
	List() []domain.Region
	Has(id string) bool
	Weights() map[string]int
}

// Notifier delivers notifications. Failures are its own concern.
type Notifier interface {
	Notify(ctx context.Context, channels []string, severity domain.Severity, message string) int
}

// regionEntry is the per-region state. Each entry has its own lock so
// unrelated regions never serialize on each other.
type regionEntry struct {
	mu       sync.Mutex
	health   domain.RegionHealth
	counter  monitoring.IncidentCounter
	incident *domain.Incident
	alerts   map[string]monitoring.AlertState
}

// Monitor is the health and incident monitor.
type Monitor struct {
	prober   probe.Prober
	regions  RegionSource
	store    store.Store
	notifier Notifier
	rules    []domain.AlertRule
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// entriesMu guards the map, not the entries.
	entriesMu sync.RWMutex
	entries   map[string]*regionEntry
	openCount atomic.Int64

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor.
func New(
	prober probe.Prober,
	regions RegionSource,
	s store.Store,
	notifier Notifier,
	rules []domain.AlertRule,
	config Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Monitor {
	def := DefaultConfig()
	if config.Interval == 0 {
		config.Interval = def.Interval
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.OpenAfter == 0 {
		config.OpenAfter = def.OpenAfter
	}
	if config.CloseAfter == 0 {
		config.CloseAfter = def.CloseAfter
	}
	if config.IncidentChannels == nil {
		config.IncidentChannels = def.IncidentChannels
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		prober:   prober,
		regions:  regions,
		store:    s,
		notifier: notifier,
		rules:    append([]domain.AlertRule(nil), rules...),
		config:   config,
		logger:   logger.With("component", "monitor"),
		metrics:  m,
		entries:  make(map[string]*regionEntry),
	}
}

func (m *Monitor) entry(region string) *regionEntry {
	m.entriesMu.RLock()
	e, ok := m.entries[region]
	m.entriesMu.RUnlock()
	if ok {
		return e
	}

	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()
	if e, ok = m.entries[region]; ok {
		return e
	}
	e = &regionEntry{
		health: domain.RegionHealth{Region: region, Status: domain.HealthStatusUnknown},
		alerts: make(map[string]monitoring.AlertState),
	}
	m.entries[region] = e
	return e
}

func (m *Monitor) snapshotEntries() []*regionEntry {
	m.entriesMu.RLock()
	defer m.entriesMu.RUnlock()
	out := make([]*regionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// =============================================================================
// Health Checks
// =============================================================================

// CheckHealth probes a region, updates its health, and opens or closes its
// incident.
func (m *Monitor) CheckHealth(ctx context.Context, region string) (domain.RegionHealth, error) {
	if !m.regions.Has(region) {
		return domain.RegionHealth{}, fmt.Errorf("%w: %s", domain.ErrUnknownRegion, region)
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	res, probeErr := m.prober.Probe(probeCtx, region)
	cancel()

	status, score := monitoring.Assess(res, probeErr)
	now := m.config.Clock()
	h := domain.RegionHealth{
		Region:    region,
		Status:    status,
		Score:     score,
		Metrics:   res.Metrics,
		LastCheck: now,
	}
	if probeErr != nil {
		h.Error = probeErr.Error()
		h.Metrics = domain.HealthMetrics{}
	}

	e := m.entry(region)
	e.mu.Lock()
	prev := e.health.Status
	e.health = h

	var note *notification
	var action monitoring.IncidentAction
	e.counter, action = monitoring.TrackIncident(e.counter, status, e.incident != nil, m.config.OpenAfter, m.config.CloseAfter)
	switch action {
	case monitoring.IncidentOpen:
		note = m.openIncident(ctx, e, h)
	case monitoring.IncidentClose:
		note = m.closeIncident(ctx, e, h)
	}

	if e.incident != nil {
		e.health.Incidents = []domain.Incident{*e.incident}
	}
	out := e.health
	e.mu.Unlock()

	m.metrics.HealthScore(region, score)
	if prev != status {
		m.logger.Info("region health changed",
			"region", region,
			"from", prev,
			"to", status,
			"score", score,
		)
	}
	if note != nil && m.notifier != nil {
		m.notifier.Notify(ctx, m.config.IncidentChannels, note.severity, note.message)
	}
	return out, nil
}

// notification is an incident message sent once the region lock is released.
type notification struct {
	severity domain.Severity
	message  string
}

// openIncident is called with e.mu held.
func (m *Monitor) openIncident(ctx context.Context, e *regionEntry, h domain.RegionHealth) *notification {
	inc := domain.NewIncident(h.Region, h.Status, monitoring.ImpactMessage(h), h.LastCheck)
	if m.store != nil {
		if err := m.store.CreateIncident(ctx, &inc); err != nil {
			m.logger.Error("failed to persist incident", "region", h.Region, "error", err)
		}
	}
	e.incident = &inc
	m.metrics.OpenIncidents(int(m.openCount.Add(1)))
	m.logger.Warn("incident opened",
		"incident_id", inc.ID,
		"region", h.Region,
		"severity", inc.Severity,
	)
	return &notification{
		severity: inc.Severity,
		message:  fmt.Sprintf("incident %s opened: %s", inc.ID, inc.Impact),
	}
}

// closeIncident is called with e.mu held.
func (m *Monitor) closeIncident(ctx context.Context, e *regionEntry, h domain.RegionHealth) *notification {
	inc := *e.incident
	inc.Close(fmt.Sprintf("recovered with score %.1f", h.Score), h.LastCheck)
	if m.store != nil {
		if err := m.store.CloseIncident(ctx, &inc); err != nil {
			m.logger.Error("failed to persist incident close", "incident_id", inc.ID, "error", err)
		}
	}
	e.incident = nil
	m.metrics.OpenIncidents(int(m.openCount.Add(-1)))
	m.logger.Info("incident closed", "incident_id", inc.ID, "region", h.Region)
	return &notification{
		severity: domain.SeverityInfo,
		message:  fmt.Sprintf("incident %s closed: region %s %s", inc.ID, h.Region, inc.Resolution),
	}
}

// Health returns the last known health of a region without probing it.
func (m *Monitor) Health(region string) (domain.RegionHealth, bool) {
	m.entriesMu.RLock()
	e, ok := m.entries[region]
	m.entriesMu.RUnlock()
	if !ok {
		return domain.RegionHealth{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health, !e.health.LastCheck.IsZero()
}

// AllHealth returns the last known health of every checked region, sorted by
// region id.
func (m *Monitor) AllHealth() []domain.RegionHealth {
	var out []domain.RegionHealth
	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		if !e.health.LastCheck.IsZero() {
			out = append(out, e.health)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}
