package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/rollout"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/controlplane"
)

// Environments addressed by blue-green deployments.
const (
	EnvironmentBlue  = "blue"
	EnvironmentGreen = "green"
)

// =============================================================================
// Region Steps
// =============================================================================

// deployRegion takes a region from pending to active at zero traffic.
func (r *run) deployRegion(ctx context.Context, rc domain.RegionDeploymentConfig) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	if err := r.setRegionState(rc.Region, domain.RegionDeploying, ""); err != nil {
		return err
	}

	err := r.call(ctx, controlplane.OpDeploy, rc.Region, r.o.config.CallTimeout, func(ctx context.Context) error {
		return r.o.cp.Deploy(ctx, rc.Region, r.version)
	})
	if err != nil {
		return r.failRegion(rc.Region, err)
	}
	if err := r.setRegionState(rc.Region, domain.RegionValidating, ""); err != nil {
		return err
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	steps := make([]domain.ValidationStep, 0, len(rc.Validation)+len(r.cfg.Validation.PostDeployment))
	steps = append(steps, rc.Validation...)
	steps = append(steps, r.cfg.Validation.PostDeployment...)
	if err := r.runValidation(ctx, rc.Region, steps); err != nil {
		return r.failRegion(rc.Region, err)
	}

	r.apply(func(s *domain.DeploymentStatus) {
		rs := s.Regions[rc.Region]
		rs.Validated = true
		s.Regions[rc.Region] = rs
	})
	return r.setRegionState(rc.Region, domain.RegionActive, "")
}

// runValidation runs steps against a region. A failed blocking step is
// returned; a failed non-blocking step becomes a warning.
func (r *run) runValidation(ctx context.Context, region string, steps []domain.ValidationStep) error {
	for _, step := range steps {
		step := step
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		timeout := step.Timeout.Or(r.o.config.CallTimeout)
		err := r.call(ctx, controlplane.OpValidate, region, timeout, func(ctx context.Context) error {
			return r.o.cp.Validate(ctx, region, step)
		})
		if err == nil {
			continue
		}
		if step.Blocking {
			return fmt.Errorf("validation %s failed: %w", step.Name, err)
		}

		warning := fmt.Sprintf("validation %s failed: %v", step.Name, err)
		r.record(domain.DeploymentEvent{
			Type:    domain.EventValidationWarning,
			Region:  region,
			Message: warning,
		}, func(s *domain.DeploymentStatus) {
			rs := s.Regions[region]
			rs.Warnings = append(rs.Warnings, warning)
			s.Regions[region] = rs
		})
		r.logger.Warn("non-blocking validation failed", "region", region, "step", step.Name, "error", err)
	}
	return nil
}

// =============================================================================
// Rolling
// =============================================================================

// rolling deploys regions one at a time in dependency and priority order,
// ramping each to its target before moving on.
func (r *run) rolling(ctx context.Context, sc domain.RollingConfig) error {
	step := r.rampStep(sc)
	interval := sc.StepInterval.Or(r.o.config.StepInterval)
	cooldown := sc.Cooldown.Or(r.o.config.Cooldown)

	for i, rc := range rollout.OrderRegions(r.cfg.Regions) {
		if i > 0 {
			if err := r.wait(ctx, cooldown); err != nil {
				return err
			}
		}
		if !rollout.DependenciesMet(rc, r.regionStates()) {
			return fmt.Errorf("region %s: dependencies %v are not active", rc.Region, rc.Dependencies)
		}
		if err := r.deployRegion(ctx, rc); err != nil {
			return err
		}

		for _, pct := range rollout.RampSteps(rc.Percentage, step) {
			if err := r.checkpoint(ctx); err != nil {
				return err
			}
			if err := r.setTraffic(ctx, rc.Region, pct, "ramp"); err != nil {
				return r.failRegion(rc.Region, err)
			}
			if err := r.wait(ctx, interval); err != nil {
				return err
			}
			if _, err := r.checkRegion(ctx, rc); err != nil {
				return err
			}
		}
	}
	return nil
}

// rampStep is the increment a rolling deployment ramps each region by.
func (r *run) rampStep(sc domain.RollingConfig) float64 {
	if sc.StepPercent > 0 {
		return sc.StepPercent
	}
	return r.o.config.StepPercent
}

// =============================================================================
// Blue-Green
// =============================================================================

// blueGreen deploys the green environment everywhere in parallel, switches
// all traffic at once, and tears blue down after the observation window.
func (r *run) blueGreen(ctx context.Context, sc domain.BlueGreenConfig) error {
	if err := r.deployAll(ctx); err != nil {
		return err
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	r.record(domain.DeploymentEvent{
		Type:    domain.EventTraffic,
		Message: fmt.Sprintf("switching all traffic to %s", EnvironmentGreen),
	}, nil)
	if err := r.setAllTraffic(ctx, func(rc domain.RegionDeploymentConfig) float64 { return rc.Percentage }, "switch"); err != nil {
		return err
	}

	window := sc.ObservationWindow.Or(r.o.config.ObservationWindow)
	if err := r.observe(ctx, window); err != nil {
		return err
	}

	r.decommission(ctx, EnvironmentBlue)
	return nil
}

// observe re-reads every region's health each step interval until window has
// elapsed. At least one check is made.
func (r *run) observe(ctx context.Context, window time.Duration) error {
	interval := r.o.config.StepInterval
	if interval <= 0 || interval > window {
		interval = window
	}
	deadline := r.o.config.Clock().Add(window)
	for {
		if err := r.wait(ctx, interval); err != nil {
			return err
		}
		if _, err := r.checkAll(ctx); err != nil {
			return err
		}
		if !r.o.config.Clock().Before(deadline) {
			return nil
		}
	}
}

// decommission tears down env in every region. Failures are warnings.
func (r *run) decommission(ctx context.Context, env string) {
	d, ok := r.o.cp.(controlplane.Decommissioner)
	if !ok {
		return
	}
	for _, rc := range r.cfg.Regions {
		rc := rc
		r.record(domain.DeploymentEvent{
			Type:    domain.EventDecommission,
			Region:  rc.Region,
			Message: fmt.Sprintf("decommissioning %s environment in %s", env, rc.Region),
		}, nil)
		err := r.call(ctx, controlplane.OpDecommission, rc.Region, r.o.config.CallTimeout, func(ctx context.Context) error {
			return d.Decommission(ctx, rc.Region, env)
		})
		if err != nil {
			warning := fmt.Sprintf("decommission of %s failed: %v", env, err)
			r.apply(func(s *domain.DeploymentStatus) {
				rs := s.Regions[rc.Region]
				rs.Warnings = append(rs.Warnings, warning)
				s.Regions[rc.Region] = rs
			})
			r.logger.Warn("decommission failed", "region", rc.Region, "environment", env, "error", err)
		}
	}
}

// =============================================================================
// Canary
// =============================================================================

// canary deploys everywhere at zero traffic, then raises every region
// through the stage list, holding each stage's aggregate health threshold.
func (r *run) canary(ctx context.Context, sc domain.CanaryConfig) error {
	if err := r.deployAll(ctx); err != nil {
		return err
	}

	for _, stage := range rollout.ResolveStages(sc) {
		stage := stage
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		label := fmt.Sprintf("canary stage %g%%", stage.Percentage)
		if err := r.setAllTraffic(ctx, func(rc domain.RegionDeploymentConfig) float64 {
			return rollout.StageTraffic(rc.Percentage, stage.Percentage)
		}, label); err != nil {
			return err
		}

		if err := r.wait(ctx, stage.Observation.Or(r.o.config.CanaryObservation)); err != nil {
			return err
		}
		healths, err := r.checkAll(ctx)
		if err != nil {
			return err
		}

		scores := make([]float64, len(healths))
		for i, h := range healths {
			scores[i] = h.Score
		}
		aggregate := rollout.AggregateScore(scores)
		if aggregate < stage.MinHealthScore {
			return &thresholdError{
				Region: "all",
				Reason: fmt.Sprintf("%s aggregate health %.1f below %.1f", label, aggregate, stage.MinHealthScore),
			}
		}
		r.logger.Info("canary stage passed", "stage", stage.Percentage, "aggregate_health", aggregate)
	}
	return nil
}

// =============================================================================
// Parallel Helpers
// =============================================================================

// deployAll deploys every region in parallel. The first failure cancels the
// others.
func (r *run) deployAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rc := range r.cfg.Regions {
		rc := rc
		g.Go(func() error {
			return r.deployRegion(gctx, rc)
		})
	}
	return g.Wait()
}

// setAllTraffic sets every region's traffic in parallel with fail-fast
// cancellation.
func (r *run) setAllTraffic(ctx context.Context, level func(domain.RegionDeploymentConfig) float64, reason string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rc := range r.cfg.Regions {
		rc := rc
		pct := level(rc)
		g.Go(func() error {
			if err := r.setTraffic(gctx, rc.Region, pct, reason); err != nil {
				return r.failRegion(rc.Region, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// checkAll re-reads every region's health in config order.
func (r *run) checkAll(ctx context.Context) ([]domain.RegionHealth, error) {
	out := make([]domain.RegionHealth, 0, len(r.cfg.Regions))
	for _, rc := range r.cfg.Regions {
		h, err := r.checkRegion(ctx, rc)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
