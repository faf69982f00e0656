// Package monitoring provides pure functions for region health monitoring.
// This package contains NO I/O.
package monitoring

import (
	"math"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Status boundaries on the 0-100 health score.
const (
	HealthyScore  = 90.0
	DegradedScore = 70.0
)

// LatencyBudgetMs is the p99 latency above which the score is penalized.
const LatencyBudgetMs = 1000.0

// =============================================================================
// Health Scoring (Pure Functions)
// =============================================================================

// Score derives a 0-100 health score from a metric snapshot. Availability is
// the base; every 1% of errors costs 2 points; every 100ms of p99 latency over
// the budget costs 1 point.
func Score(m domain.HealthMetrics) float64 {
	score := m.Availability - m.ErrorRate*200
	if m.LatencyP99Ms > LatencyBudgetMs {
		score -= (m.LatencyP99Ms - LatencyBudgetMs) / 100
	}
	return clamp(score)
}

// Classify maps a score to a region status.
func Classify(score float64) domain.HealthStatus {
	switch {
	case score >= HealthyScore:
		return domain.HealthStatusHealthy
	case score >= DegradedScore:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusUnhealthy
	}
}

// Assess turns a probe outcome into a status and score. A failed or down
// probe is offline with a zero score; a probe that reports itself degraded is
// never classified better than degraded.
func Assess(res domain.ProbeResult, probeErr error) (domain.HealthStatus, float64) {
	if probeErr != nil || res.Status == domain.ProbeDown {
		return domain.HealthStatusOffline, 0
	}
	score := Score(res.Metrics)
	status := Classify(score)
	if res.Status == domain.ProbeDegraded && status == domain.HealthStatusHealthy {
		status = domain.HealthStatusDegraded
	}
	return status, score
}

// MetricValue extracts a named metric from a health snapshot.
func MetricValue(metric domain.AlertMetric, h domain.RegionHealth) (float64, bool) {
	switch metric {
	case domain.MetricAvailability:
		return h.Metrics.Availability, true
	case domain.MetricLatencyP99:
		return h.Metrics.LatencyP99Ms, true
	case domain.MetricErrorRate:
		return h.Metrics.ErrorRate, true
	case domain.MetricHealthScore:
		return h.Score, true
	case domain.MetricCPU:
		return h.Metrics.CPU, true
	case domain.MetricMemory:
		return h.Metrics.Memory, true
	default:
		return 0, false
	}
}

// Breached reports whether value crosses threshold in the operator's direction.
func Breached(op domain.AlertOperator, value, threshold float64) bool {
	switch op {
	case domain.OperatorAbove:
		return value > threshold
	case domain.OperatorBelow:
		return value < threshold
	default:
		return false
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
