// Package metrics defines the Prometheus collectors exported by geodeploy.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geodeploy"

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

var httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics holds all collectors.
type Metrics struct {
	deployments        *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec
	regionTransitions  *prometheus.CounterVec
	rollbacks          *prometheus.CounterVec
	retries            *prometheus.CounterVec
	healthScore        *prometheus.GaugeVec
	openIncidents      prometheus.Gauge
	alertsFired        *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	routingDecisions   *prometheus.CounterVec
	replicationTimeout prometheus.Counter
	audits             *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "deployments_total",
			Help:      "Deployments that reached a terminal state",
		}, []string{"strategy", "outcome"}),
		deploymentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "deployment_duration_seconds",
			Help:      "Wall-clock duration of deployments",
			Buckets:   durationBuckets,
		}, []string{"strategy"}),
		regionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "region_transitions_total",
			Help:      "Per-region state transitions",
		}, []string{"state"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "rollbacks_total",
			Help:      "Rollbacks by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "external_call_retries_total",
			Help:      "Retried control plane calls",
		}, []string{"op"}),
		healthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "region_health_score",
			Help:      "Latest 0-100 health score per region",
		}, []string{"region"}),
		openIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "open_incidents",
			Help:      "Currently open incidents",
		}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by rule and severity",
		}, []string{"rule", "severity"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by operation, level and fallback",
		}, []string{"operation", "level", "fallback"}),
		replicationTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "replication_timeouts_total",
			Help:      "Strong-consistency transactions that timed out waiting for replicas",
		}),
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "audits_total",
			Help:      "Compliance audits by regulation and status",
		}, []string{"regulation", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
	}

	collectors := []prometheus.Collector{
		m.deployments, m.deploymentDuration, m.regionTransitions, m.rollbacks, m.retries,
		m.healthScore, m.openIncidents, m.alertsFired, m.notifications,
		m.routingDecisions, m.replicationTimeout, m.audits, m.httpRequests, m.httpDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DeploymentFinished records a terminal deployment.
func (m *Metrics) DeploymentFinished(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(strategy, outcome).Inc()
	m.deploymentDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RegionTransition counts a region entering state.
func (m *Metrics) RegionTransition(state string) {
	if m == nil {
		return
	}
	m.regionTransitions.WithLabelValues(state).Inc()
}

// Rollback records a finished rollback.
func (m *Metrics) Rollback(strategy, outcome string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(strategy, outcome).Inc()
}

// Retry counts a retried external call.
func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// HealthScore sets a region's latest score.
func (m *Metrics) HealthScore(region string, score float64) {
	if m == nil {
		return
	}
	m.healthScore.WithLabelValues(region).Set(score)
}

// OpenIncidents sets the open incident gauge.
func (m *Metrics) OpenIncidents(n int) {
	if m == nil {
		return
	}
	m.openIncidents.Set(float64(n))
}

// AlertFired counts a fired alert.
func (m *Metrics) AlertFired(rule, severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(rule, severity).Inc()
}

// Notification counts a delivery attempt.
func (m *Metrics) Notification(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// RoutingDecision counts a routing decision.
func (m *Metrics) RoutingDecision(operation, level string, fallback bool) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(operation, level, strconv.FormatBool(fallback)).Inc()
}

// ReplicationTimeout counts a replication wait that expired.
func (m *Metrics) ReplicationTimeout() {
	if m == nil {
		return
	}
	m.replicationTimeout.Inc()
}

// Audit counts a completed compliance audit.
func (m *Metrics) Audit(regulation, status string) {
	if m == nil {
		return
	}
	m.audits.WithLabelValues(regulation, status).Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}
