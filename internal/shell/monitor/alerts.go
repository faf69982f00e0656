package monitor

import (
	"context"
	"sort"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/monitoring"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// EvaluateAlerts checks every rule against the last known health of every
// region it covers. Rules fire independently; two rules breached by the same
// region produce two alerts.
func (m *Monitor) EvaluateAlerts(ctx context.Context) []domain.TriggeredAlert {
	now := m.config.Clock()
	var fired []domain.TriggeredAlert

	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		h := e.health
		if h.LastCheck.IsZero() {
			e.mu.Unlock()
			continue
		}
		for _, rule := range m.rules {
			if !rule.Covers(h.Region) {
				continue
			}
			state, alert := monitoring.EvaluateRule(rule, h, e.alerts[rule.Name], now)
			e.alerts[rule.Name] = state
			if alert != nil {
				fired = append(fired, *alert)
			}
		}
		e.mu.Unlock()
	}

	sort.Slice(fired, func(i, j int) bool {
		if fired[i].Region != fired[j].Region {
			return fired[i].Region < fired[j].Region
		}
		return fired[i].Rule < fired[j].Rule
	})

	for _, a := range fired {
		m.metrics.AlertFired(a.Rule, string(a.Severity))
		m.logger.Warn("alert fired",
			"rule", a.Rule,
			"region", a.Region,
			"severity", a.Severity,
			"value", a.Value,
		)
		if m.notifier != nil {
			m.notifier.Notify(ctx, a.Channels, a.Severity, a.Message)
		}
	}
	return fired
}

// OpenIncidents returns the open incident of every region, sorted by region.
func (m *Monitor) OpenIncidents() []domain.Incident {
	var out []domain.Incident
	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		if e.incident != nil {
			out = append(out, *e.incident)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// GlobalMetrics aggregates the last known health of every checked region.
func (m *Monitor) GlobalMetrics() domain.GlobalMetrics {
	return monitoring.Global(m.AllHealth(), m.regions.Weights(), int(m.openCount.Load()), m.config.Clock())
}

// Reload restores open incidents from the store after a restart. Health
// itself is rebuilt by the next polling cycle.
func (m *Monitor) Reload(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	open, err := m.store.ListIncidents(ctx, store.IncidentFilter{OpenOnly: true, ListOptions: store.ListOptions{Limit: 1000}})
	if err != nil {
		return err
	}

	restored := 0
	for i := range open {
		inc := open[i]
		e := m.entry(inc.Region)
		e.mu.Lock()
		if e.incident == nil {
			e.incident = &inc
			e.counter = monitoring.IncidentCounter{Bad: m.config.OpenAfter}
			restored++
		}
		e.mu.Unlock()
	}
	m.openCount.Store(int64(restored))
	m.metrics.OpenIncidents(restored)
	m.logger.Info("restored open incidents", "count", restored)
	return nil
}
