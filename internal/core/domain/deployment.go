package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Strategies
// =============================================================================

// StrategyType selects the rollout algorithm.
type StrategyType string

const (
	StrategyRolling   StrategyType = "rolling"
	StrategyBlueGreen StrategyType = "blue-green"
	StrategyCanary    StrategyType = "canary"
)

// Valid reports whether the strategy is known.
func (s StrategyType) Valid() bool {
	switch s {
	case StrategyRolling, StrategyBlueGreen, StrategyCanary:
		return true
	}
	return false
}

// StrategyConfig is the strategy-specific part of a DeploymentConfig.
// Zero-valued fields fall back to orchestrator defaults.
type StrategyConfig interface {
	Strategy() StrategyType
}

// RollingConfig tunes the rolling strategy.
type RollingConfig struct {
	StepPercent  float64  `json:"step_percent,omitempty"`
	StepInterval Duration `json:"step_interval,omitempty"`
	Cooldown     Duration `json:"cooldown,omitempty"`
}

func (RollingConfig) Strategy() StrategyType { return StrategyRolling }

// BlueGreenConfig tunes the blue-green strategy.
type BlueGreenConfig struct {
	ObservationWindow Duration `json:"observation_window,omitempty"`
}

func (BlueGreenConfig) Strategy() StrategyType { return StrategyBlueGreen }

// CanaryStage is one traffic stage. Percentage is the share of every region's
// target traffic; MinHealthScore is the aggregate score the stage must hold.
type CanaryStage struct {
	Percentage     float64  `json:"percentage"`
	MinHealthScore float64  `json:"min_health_score,omitempty"`
	Observation    Duration `json:"observation,omitempty"`
}

// CanaryConfig tunes the canary strategy.
type CanaryConfig struct {
	Stages []CanaryStage `json:"stages,omitempty"`
}

func (CanaryConfig) Strategy() StrategyType { return StrategyCanary }

// =============================================================================
// Deployment Config
// =============================================================================

// ValidationStep is a check run through the regional control plane.
type ValidationStep struct {
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Blocking bool     `json:"blocking"`
	Timeout  Duration `json:"timeout,omitempty"`
}

// ValidationConfig groups validation steps by phase.
type ValidationConfig struct {
	PreDeployment  []ValidationStep `json:"pre_deployment,omitempty"`
	PostDeployment []ValidationStep `json:"post_deployment,omitempty"`
	CrossRegion    []ValidationStep `json:"cross_region,omitempty"`
}

// RollbackThresholds are per-region limits checked after every traffic change.
type RollbackThresholds struct {
	MinHealthScore float64 `json:"min_health_score"`
	MaxErrorRate   float64 `json:"max_error_rate,omitempty"`
}

// RegionDeploymentConfig describes one region's part in a deployment.
type RegionDeploymentConfig struct {
	Region       string             `json:"region"`
	Priority     int                `json:"priority"`
	Percentage   float64            `json:"percentage"`
	Dependencies []string           `json:"dependencies,omitempty"`
	Validation   []ValidationStep   `json:"validation,omitempty"`
	Thresholds   RollbackThresholds `json:"thresholds"`
}

// RollbackStrategy controls how traffic is drained during rollback.
type RollbackStrategy string

const (
	RollbackImmediate RollbackStrategy = "immediate"
	RollbackGradual   RollbackStrategy = "gradual"
)

// RollbackTrigger aborts forward progress when a metric breaches its
// threshold for the whole observation window.
type RollbackTrigger struct {
	Metric    AlertMetric   `json:"metric"`
	Operator  AlertOperator `json:"operator"`
	Threshold float64       `json:"threshold"`
	Window    Duration      `json:"window,omitempty"`
}

// RollbackPolicy is the deployment-wide rollback policy.
type RollbackPolicy struct {
	Automatic bool              `json:"automatic"`
	Triggers  []RollbackTrigger `json:"triggers,omitempty"`
	Strategy  RollbackStrategy  `json:"strategy"`
}

// DeploymentConfig is what an operator submits.
type DeploymentConfig struct {
	Version    string                   `json:"version"`
	Strategy   StrategyType             `json:"strategy"`
	Regions    []RegionDeploymentConfig `json:"regions"`
	Rollback   RollbackPolicy           `json:"rollback"`
	Validation ValidationConfig         `json:"validation"`
	DataTypes  []string                 `json:"data_types,omitempty"`

	Rolling   *RollingConfig   `json:"rolling,omitempty"`
	BlueGreen *BlueGreenConfig `json:"blue_green,omitempty"`
	Canary    *CanaryConfig    `json:"canary,omitempty"`
}

// StrategyConfig returns the options block for the selected strategy.
func (c DeploymentConfig) StrategyConfig() StrategyConfig {
	switch c.Strategy {
	case StrategyBlueGreen:
		if c.BlueGreen != nil {
			return *c.BlueGreen
		}
		return BlueGreenConfig{}
	case StrategyCanary:
		if c.Canary != nil {
			return *c.Canary
		}
		return CanaryConfig{}
	default:
		if c.Rolling != nil {
			return *c.Rolling
		}
		return RollingConfig{}
	}
}

// RegionConfig returns the config entry for a region.
func (c DeploymentConfig) RegionConfig(region string) (RegionDeploymentConfig, bool) {
	for _, rc := range c.Regions {
		if rc.Region == region {
			return rc, true
		}
	}
	return RegionDeploymentConfig{}, false
}

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentState is the deployment lifecycle.
type DeploymentState string

const (
	DeploymentPending    DeploymentState = "pending"
	DeploymentInProgress DeploymentState = "in-progress"
	DeploymentCompleted  DeploymentState = "completed"
	DeploymentFailed     DeploymentState = "failed"
	DeploymentRolledBack DeploymentState = "rolled-back"
)

// Active reports whether the deployment still occupies its version slot.
func (s DeploymentState) Active() bool {
	return s == DeploymentPending || s == DeploymentInProgress
}

// RegionState is the per-region lifecycle.
type RegionState string

const (
	RegionPending    RegionState = "pending"
	RegionDeploying  RegionState = "deploying"
	RegionValidating RegionState = "validating"
	RegionActive     RegionState = "active"
	RegionFailed     RegionState = "failed"
	RegionRolledBack RegionState = "rolled-back"
)

// Terminal reports whether no further transitions are expected.
func (s RegionState) Terminal() bool {
	return s == RegionFailed || s == RegionRolledBack
}

// RegionStatus is the per-region progress of a deployment.
type RegionStatus struct {
	Region        string      `json:"region"`
	State         RegionState `json:"state"`
	Version       string      `json:"version"`
	Traffic       float64     `json:"traffic"`
	TargetTraffic float64     `json:"target_traffic"`
	HealthScore   float64     `json:"health_score"`
	Validated     bool        `json:"validated"`
	Errors        []string    `json:"errors"`
	Warnings      []string    `json:"warnings,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// DeploymentMetrics aggregates deployment-level measurements.
type DeploymentMetrics struct {
	Duration      Duration `json:"duration"`
	Downtime      Duration `json:"downtime"`
	ErrorRate     float64  `json:"error_rate"`
	RollbackCount int      `json:"rollback_count"`
	HealthChecks  int      `json:"health_checks"`
}

// EventType classifies deployment log entries.
type EventType string

const (
	EventDeploymentStatus    EventType = "deployment-status"
	EventRegionStatus        EventType = "region-status"
	EventTraffic             EventType = "traffic"
	EventHealthCheck         EventType = "health-check"
	EventValidationWarning   EventType = "validation-warning"
	EventComplianceViolation EventType = "compliance-violation"
	EventRetry               EventType = "retry"
	EventRollbackRequested   EventType = "rollback-requested"
	EventRollbackStarted     EventType = "rollback-started"
	EventRollbackCompleted   EventType = "rollback-completed"
	EventRollbackEscalated   EventType = "rollback-escalated"
	EventDecommission        EventType = "decommission"
)

// DeploymentEvent is an append-only log entry. Events are recorded before the
// change they describe is acted on.
type DeploymentEvent struct {
	Sequence  int       `json:"sequence"`
	Type      EventType `json:"type"`
	Region    string    `json:"region,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Traffic   *float64  `json:"traffic,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DeploymentStatus is the full state of one deployment.
type DeploymentStatus struct {
	ID        string                  `json:"id"`
	Version   string                  `json:"version"`
	Strategy  StrategyType            `json:"strategy"`
	Status    DeploymentState         `json:"status"`
	Reason    string                  `json:"reason,omitempty"`
	Escalated bool                    `json:"escalated,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	StartedAt *time.Time              `json:"started_at,omitempty"`
	EndedAt   *time.Time              `json:"ended_at,omitempty"`
	Regions   map[string]RegionStatus `json:"regions"`
	Metrics   DeploymentMetrics       `json:"metrics"`
	Events    []DeploymentEvent       `json:"events"`
	Config    DeploymentConfig        `json:"config"`
}

// NewDeploymentStatus creates a pending status for a config.
func NewDeploymentStatus(cfg DeploymentConfig) *DeploymentStatus {
	now := time.Now().UTC()
	regions := make(map[string]RegionStatus, len(cfg.Regions))
	for _, rc := range cfg.Regions {
		regions[rc.Region] = RegionStatus{
			Region:        rc.Region,
			State:         RegionPending,
			Version:       cfg.Version,
			TargetTraffic: rc.Percentage,
			Errors:        []string{},
			UpdatedAt:     now,
		}
	}
	return &DeploymentStatus{
		ID:        uuid.New().String(),
		Version:   cfg.Version,
		Strategy:  cfg.Strategy,
		Status:    DeploymentPending,
		CreatedAt: now,
		Regions:   regions,
		Events:    []DeploymentEvent{},
		Config:    cfg,
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d *DeploymentStatus) Clone() *DeploymentStatus {
	out := *d
	out.Regions = make(map[string]RegionStatus, len(d.Regions))
	for id, rs := range d.Regions {
		rs.Errors = append([]string{}, rs.Errors...)
		rs.Warnings = append([]string(nil), rs.Warnings...)
		out.Regions[id] = rs
	}
	out.Events = append([]DeploymentEvent{}, d.Events...)
	if d.StartedAt != nil {
		t := *d.StartedAt
		out.StartedAt = &t
	}
	if d.EndedAt != nil {
		t := *d.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// TotalTraffic sums the traffic of every region.
func (d *DeploymentStatus) TotalTraffic() float64 {
	var total float64
	for _, rs := range d.Regions {
		total += rs.Traffic
	}
	return total
}

// =============================================================================
// State Machines
// =============================================================================

var deploymentTransitions = map[DeploymentState][]DeploymentState{
	DeploymentPending:    {DeploymentInProgress, DeploymentFailed},
	DeploymentInProgress: {DeploymentCompleted, DeploymentFailed},
	DeploymentCompleted:  {DeploymentRolledBack},
	DeploymentFailed:     {DeploymentRolledBack},
	DeploymentRolledBack: {}, // Terminal state
}

var regionTransitions = map[RegionState][]RegionState{
	RegionPending:    {RegionDeploying},
	RegionDeploying:  {RegionValidating, RegionFailed, RegionRolledBack},
	RegionValidating: {RegionActive, RegionFailed, RegionRolledBack},
	RegionActive:     {RegionRolledBack, RegionFailed},
	RegionFailed:     {},
	RegionRolledBack: {},
}

// ValidateDeploymentTransition checks a deployment lifecycle transition.
func ValidateDeploymentTransition(from, to DeploymentState) error {
	for _, s := range deploymentTransitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// ValidateRegionTransition checks a region lifecycle transition.
func ValidateRegionTransition(from, to RegionState) error {
	for _, s := range regionTransitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}
