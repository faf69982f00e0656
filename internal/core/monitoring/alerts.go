package monitoring

import (
	"fmt"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Alert Evaluation
// =============================================================================

// AlertState tracks one rule against one region between evaluations.
type AlertState struct {
	Since time.Time // zero while the condition does not hold
	Fired bool      // already fired for the current episode
}

// EvaluateRule advances the state of a rule for one region. The rule fires
// once per episode, the first time the condition has held for the rule's
// Duration. A cleared condition resets the episode.
func EvaluateRule(rule domain.AlertRule, h domain.RegionHealth, state AlertState, now time.Time) (AlertState, *domain.TriggeredAlert) {
	value, ok := MetricValue(rule.Metric, h)
	if !ok || !Breached(rule.Operator, value, rule.Threshold) {
		return AlertState{}, nil
	}
	if state.Since.IsZero() {
		state.Since = now
	}
	if state.Fired || now.Sub(state.Since) < rule.Duration {
		return state, nil
	}
	state.Fired = true
	return state, &domain.TriggeredAlert{
		Rule:     rule.Name,
		Region:   h.Region,
		Severity: rule.Severity,
		Value:    value,
		Message: fmt.Sprintf("%s: %s %s is %s %g (value %g) for %s",
			rule.Name, h.Region, rule.Metric, rule.Operator, rule.Threshold, value, now.Sub(state.Since)),
		FiredAt:  now,
		Since:    state.Since,
		Channels: append([]string(nil), rule.Channels...),
	}
}

// =============================================================================
// Incident Hysteresis
// =============================================================================

// IncidentAction is what the monitor should do after a health check.
type IncidentAction int

const (
	IncidentNone IncidentAction = iota
	IncidentOpen
	IncidentClose
)

// IncidentCounter counts consecutive unhealthy and healthy checks for a region.
type IncidentCounter struct {
	Bad  int
	Good int
}

// TrackIncident updates the counter with a new status and decides whether an
// incident should open or close. An incident opens after openAfter
// consecutive below-healthy checks when none is open, and closes after
// closeAfter consecutive healthy checks. Unknown statuses leave everything
// unchanged.
func TrackIncident(c IncidentCounter, status domain.HealthStatus, hasOpen bool, openAfter, closeAfter int) (IncidentCounter, IncidentAction) {
	switch status {
	case domain.HealthStatusHealthy:
		c.Good++
		c.Bad = 0
	case domain.HealthStatusDegraded, domain.HealthStatusUnhealthy, domain.HealthStatusOffline:
		c.Bad++
		c.Good = 0
	default:
		return c, IncidentNone
	}

	if !hasOpen && c.Bad >= max(openAfter, 1) {
		return c, IncidentOpen
	}
	if hasOpen && c.Good >= max(closeAfter, 1) {
		return c, IncidentClose
	}
	return c, IncidentNone
}

// ImpactMessage describes an incident's impact for a status.
func ImpactMessage(h domain.RegionHealth) string {
	if h.Error != "" {
		return fmt.Sprintf("region %s is %s: %s", h.Region, h.Status, h.Error)
	}
	return fmt.Sprintf("region %s is %s (score %.1f)", h.Region, h.Status, h.Score)
}

// =============================================================================
// Global Metrics
// =============================================================================

// Global aggregates region health. Availability is weighted by each region's
// maximum instance count; regions missing from weights count once.
func Global(healths []domain.RegionHealth, weights map[string]int, openIncidents int, now time.Time) domain.GlobalMetrics {
	g := domain.GlobalMetrics{OpenIncidents: openIncidents, ComputedAt: now}
	if len(healths) == 0 {
		g.Overall = domain.OverallHealthy
		return g
	}

	var weighted, totalWeight, latency, errRate float64
	for _, h := range healths {
		w := float64(weights[h.Region])
		if w <= 0 {
			w = 1
		}
		avail := h.Metrics.Availability
		if h.Status == domain.HealthStatusOffline {
			avail = 0
		}
		weighted += avail * w
		totalWeight += w
		latency += h.Metrics.LatencyP99Ms
		errRate += h.Metrics.ErrorRate
		g.TotalThroughput += h.Metrics.Throughput

		switch h.Status {
		case domain.HealthStatusHealthy:
			g.HealthyRegions++
		case domain.HealthStatusDegraded:
			g.DegradedRegions++
		case domain.HealthStatusUnhealthy:
			g.UnhealthyRegions++
		case domain.HealthStatusOffline:
			g.OfflineRegions++
		}
	}

	n := float64(len(healths))
	g.Availability = weighted / totalWeight
	g.AvgLatencyP99Ms = latency / n
	g.ErrorRate = errRate / n
	g.Overall = ClassifyOverall(g, len(healths))
	return g
}

// ClassifyOverall: healthy when every region is healthy, major-outage when a
// majority is unhealthy or offline, partial-outage otherwise.
func ClassifyOverall(g domain.GlobalMetrics, total int) domain.OverallHealth {
	down := g.UnhealthyRegions + g.OfflineRegions
	switch {
	case g.HealthyRegions == total:
		return domain.OverallHealthy
	case down*2 > total:
		return domain.OverallMajorOutage
	default:
		return domain.OverallPartialOutage
	}
}
