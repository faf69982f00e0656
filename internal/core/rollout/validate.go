package rollout

import (
	"errors"
	"fmt"
	"math"

	"github.com/blang/semver"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// ErrCircularDependency is returned when region dependencies form a cycle.
var ErrCircularDependency = errors.New("circular region dependency")

// percentTolerance absorbs float rounding when percentages are summed.
const percentTolerance = 0.01

// ValidateConfig checks a deployment config structurally. It returns a
// *domain.ValidationError describing the first problem found.
func ValidateConfig(cfg domain.DeploymentConfig) error {
	if cfg.Version == "" {
		return domain.NewValidationError("version", "is required")
	}
	if _, err := semver.ParseTolerant(cfg.Version); err != nil {
		return domain.NewValidationError("version", fmt.Sprintf("%q is not a semantic version", cfg.Version))
	}
	if !cfg.Strategy.Valid() {
		return domain.NewValidationError("strategy", fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}
	if len(cfg.Regions) == 0 {
		return domain.NewValidationError("regions", "at least one region is required")
	}

	seen := make(map[string]bool, len(cfg.Regions))
	var total float64
	for i, rc := range cfg.Regions {
		field := fmt.Sprintf("regions[%d]", i)
		if rc.Region == "" {
			return domain.NewValidationError(field+".region", "is required")
		}
		if seen[rc.Region] {
			return domain.NewValidationError(field+".region", fmt.Sprintf("duplicate region %q", rc.Region))
		}
		seen[rc.Region] = true
		if rc.Percentage <= 0 || rc.Percentage > 100 {
			return domain.NewValidationError(field+".percentage", "must be greater than 0 and at most 100")
		}
		if rc.Thresholds.MinHealthScore < 0 || rc.Thresholds.MinHealthScore > 100 {
			return domain.NewValidationError(field+".thresholds.min_health_score", "must be between 0 and 100")
		}
		if rc.Thresholds.MaxErrorRate < 0 || rc.Thresholds.MaxErrorRate > 1 {
			return domain.NewValidationError(field+".thresholds.max_error_rate", "must be between 0 and 1")
		}
		total += rc.Percentage
	}
	if math.Abs(total-100) > percentTolerance {
		return domain.NewValidationError("regions", fmt.Sprintf("traffic percentages sum to %g, expected 100", total))
	}

	for i, rc := range cfg.Regions {
		for _, dep := range rc.Dependencies {
			if dep == rc.Region {
				return domain.NewValidationError(fmt.Sprintf("regions[%d].dependencies", i), "region cannot depend on itself")
			}
			if !seen[dep] {
				return domain.NewValidationError(fmt.Sprintf("regions[%d].dependencies", i),
					fmt.Sprintf("unknown dependency %q", dep))
			}
		}
	}
	if err := detectCircularDependencies(cfg.Regions); err != nil {
		return domain.NewValidationError("regions", err.Error())
	}

	if err := validateRollback(cfg.Rollback); err != nil {
		return err
	}
	if err := validateSteps(cfg.Validation); err != nil {
		return err
	}
	return validateStrategyConfig(cfg.StrategyConfig())
}

func validateRollback(p domain.RollbackPolicy) error {
	switch p.Strategy {
	case "", domain.RollbackImmediate, domain.RollbackGradual:
	default:
		return domain.NewValidationError("rollback.strategy", fmt.Sprintf("unknown rollback strategy %q", p.Strategy))
	}
	for i, trig := range p.Triggers {
		field := fmt.Sprintf("rollback.triggers[%d]", i)
		if !knownMetric(trig.Metric) {
			return domain.NewValidationError(field+".metric", fmt.Sprintf("unknown metric %q", trig.Metric))
		}
		if trig.Operator != domain.OperatorAbove && trig.Operator != domain.OperatorBelow {
			return domain.NewValidationError(field+".operator", fmt.Sprintf("unknown operator %q", trig.Operator))
		}
		if trig.Window < 0 {
			return domain.NewValidationError(field+".window", "must not be negative")
		}
	}
	return nil
}

func validateSteps(v domain.ValidationConfig) error {
	groups := map[string][]domain.ValidationStep{
		"validation.pre_deployment":  v.PreDeployment,
		"validation.post_deployment": v.PostDeployment,
		"validation.cross_region":    v.CrossRegion,
	}
	for field, steps := range groups {
		for i, step := range steps {
			if step.Name == "" {
				return domain.NewValidationError(fmt.Sprintf("%s[%d].name", field, i), "is required")
			}
		}
	}
	return nil
}

func validateStrategyConfig(sc domain.StrategyConfig) error {
	switch c := sc.(type) {
	case domain.RollingConfig:
		if c.StepPercent < 0 || c.StepPercent > 100 {
			return domain.NewValidationError("rolling.step_percent", "must be between 0 and 100")
		}
	case domain.CanaryConfig:
		prev := 0.0
		for i, stage := range c.Stages {
			field := fmt.Sprintf("canary.stages[%d]", i)
			if stage.Percentage <= prev || stage.Percentage > 100 {
				return domain.NewValidationError(field+".percentage", "stages must increase strictly and stay within 100")
			}
			if stage.MinHealthScore < 0 || stage.MinHealthScore > 100 {
				return domain.NewValidationError(field+".min_health_score", "must be between 0 and 100")
			}
			prev = stage.Percentage
		}
		if len(c.Stages) > 0 && prev != 100 {
			return domain.NewValidationError("canary.stages", "final stage must be 100")
		}
	}
	return nil
}

func knownMetric(m domain.AlertMetric) bool {
	switch m {
	case domain.MetricAvailability, domain.MetricLatencyP99, domain.MetricErrorRate,
		domain.MetricHealthScore, domain.MetricCPU, domain.MetricMemory:
		return true
	}
	return false
}

// detectCircularDependencies walks the dependency graph depth first.
func detectCircularDependencies(regions []domain.RegionDeploymentConfig) error {
	deps := make(map[string][]string, len(regions))
	for _, rc := range regions {
		deps[rc.Region] = rc.Dependencies
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		for _, dep := range deps[node] {
			if onStack[dep] {
				return true
			}
			if !visited[dep] && hasCycle(dep) {
				return true
			}
		}
		onStack[node] = false
		return false
	}

	for _, rc := range regions {
		if !visited[rc.Region] && hasCycle(rc.Region) {
			return fmt.Errorf("%w involving %s", ErrCircularDependency, rc.Region)
		}
	}
	return nil
}
