package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Health Types
// =============================================================================

// HealthStatus represents the health of a region.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusOffline   HealthStatus = "offline"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// Serving reports whether a region in this status can take read traffic.
func (s HealthStatus) Serving() bool {
	return s == HealthStatusHealthy || s == HealthStatusDegraded
}

// HealthMetrics is a metric snapshot for a region.
type HealthMetrics struct {
	Availability float64 `json:"availability"`   // percent, 0-100
	LatencyP99Ms float64 `json:"latency_p99_ms"` // milliseconds
	ErrorRate    float64 `json:"error_rate"`     // fraction, 0-1
	Throughput   float64 `json:"throughput"`     // requests per second
	CPU          float64 `json:"cpu"`            // percent utilization
	Memory       float64 `json:"memory"`         // percent utilization
}

// ProbeStatus is the raw status reported by a probe.
type ProbeStatus string

const (
	ProbeUp       ProbeStatus = "up"
	ProbeDegraded ProbeStatus = "degraded"
	ProbeDown     ProbeStatus = "down"
)

// ProbeResult is what the health probe collaborator returns.
type ProbeResult struct {
	Status  ProbeStatus   `json:"status"`
	Metrics HealthMetrics `json:"metrics"`
}

// RegionHealth is the latest health view of a region.
type RegionHealth struct {
	Region    string        `json:"region"`
	Status    HealthStatus  `json:"status"`
	Score     float64       `json:"score"` // 0-100
	Metrics   HealthMetrics `json:"metrics"`
	LastCheck time.Time     `json:"last_check"`
	Error     string        `json:"error,omitempty"`
	Incidents []Incident    `json:"incidents,omitempty"`
}

// =============================================================================
// Incidents
// =============================================================================

// Severity levels for incidents and alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IncidentType describes the kind of incident.
type IncidentType string

const (
	IncidentDegradation IncidentType = "degradation"
	IncidentOutage      IncidentType = "outage"
)

// Incident tracks a period during which a region is below healthy.
type Incident struct {
	ID         string       `json:"id"`
	Type       IncidentType `json:"type"`
	Severity   Severity     `json:"severity"`
	Region     string       `json:"region"`
	OpenedAt   time.Time    `json:"opened_at"`
	ClosedAt   *time.Time   `json:"closed_at,omitempty"`
	Impact     string       `json:"impact"`
	Resolution string       `json:"resolution,omitempty"`
}

// Open reports whether the incident has not been closed.
func (i Incident) Open() bool {
	return i.ClosedAt == nil
}

// NewIncident opens an incident for a region in the given status.
func NewIncident(region string, status HealthStatus, impact string, now time.Time) Incident {
	inc := Incident{
		ID:       uuid.New().String(),
		Type:     IncidentDegradation,
		Severity: SeverityWarning,
		Region:   region,
		OpenedAt: now,
		Impact:   impact,
	}
	if status == HealthStatusUnhealthy || status == HealthStatusOffline {
		inc.Type = IncidentOutage
		inc.Severity = SeverityCritical
	}
	return inc
}

// Close resolves the incident.
func (i *Incident) Close(resolution string, now time.Time) {
	i.ClosedAt = &now
	i.Resolution = resolution
}

// =============================================================================
// Alerts
// =============================================================================

// AlertMetric names a metric an alert rule observes.
type AlertMetric string

const (
	MetricAvailability AlertMetric = "availability"
	MetricLatencyP99   AlertMetric = "latency_p99_ms"
	MetricErrorRate    AlertMetric = "error_rate"
	MetricHealthScore  AlertMetric = "health_score"
	MetricCPU          AlertMetric = "cpu"
	MetricMemory       AlertMetric = "memory"
)

// AlertOperator compares a metric against a threshold.
type AlertOperator string

const (
	OperatorAbove AlertOperator = "above"
	OperatorBelow AlertOperator = "below"
)

// AlertRule fires when a condition holds continuously for Duration.
type AlertRule struct {
	Name      string        `json:"name" yaml:"name"`
	Metric    AlertMetric   `json:"metric" yaml:"metric"`
	Operator  AlertOperator `json:"operator" yaml:"operator"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Severity  Severity      `json:"severity" yaml:"severity"`
	Channels  []string      `json:"channels" yaml:"channels"`
	Regions   []string      `json:"regions,omitempty" yaml:"regions"` // empty = all regions
}

// Covers reports whether the rule applies to the region.
func (r AlertRule) Covers(region string) bool {
	return len(r.Regions) == 0 || containsString(r.Regions, region)
}

// TriggeredAlert is an alert that fired during an evaluation.
type TriggeredAlert struct {
	Rule     string    `json:"rule"`
	Region   string    `json:"region"`
	Severity Severity  `json:"severity"`
	Value    float64   `json:"value"`
	Message  string    `json:"message"`
	FiredAt  time.Time `json:"fired_at"`
	Since    time.Time `json:"since"`
	Channels []string  `json:"channels"`
}

// =============================================================================
// Global Metrics
// =============================================================================

// OverallHealth classifies the fleet.
type OverallHealth string

const (
	OverallHealthy       OverallHealth = "healthy"
	OverallPartialOutage OverallHealth = "partial-outage"
	OverallMajorOutage   OverallHealth = "major-outage"
)

// GlobalMetrics aggregates health across all regions.
type GlobalMetrics struct {
	Availability     float64       `json:"availability"` // capacity-weighted
	AvgLatencyP99Ms  float64       `json:"avg_latency_p99_ms"`
	ErrorRate        float64       `json:"error_rate"`
	TotalThroughput  float64       `json:"total_throughput"`
	HealthyRegions   int           `json:"healthy_regions"`
	DegradedRegions  int           `json:"degraded_regions"`
	UnhealthyRegions int           `json:"unhealthy_regions"`
	OfflineRegions   int           `json:"offline_regions"`
	OpenIncidents    int           `json:"open_incidents"`
	Overall          OverallHealth `json:"overall"`
	ComputedAt       time.Time     `json:"computed_at"`
}
