package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/rollout"
)

// rollback drains every region the deployment touched and marks the
// deployment rolled back. A drain that fails or outlives the rollback budget
// is escalated and left for an operator.
func (r *run) rollback(reason string) error {
	defer func() {
		r.ctlMu.Lock()
		r.rollingBack = false
		r.ctlMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.o.config.RollbackBudget)
	defer cancel()

	policy := r.cfg.Rollback.Strategy
	if policy == "" {
		policy = domain.RollbackImmediate
	}
	start := time.Now()

	r.record(domain.DeploymentEvent{
		Type:    domain.EventRollbackStarted,
		Message: fmt.Sprintf("%s rollback started: %s", policy, reason),
	}, func(s *domain.DeploymentStatus) {
		s.Metrics.RollbackCount++
	})
	r.logger.Warn("rollback started", "policy", policy, "reason", reason)

	snap := r.snapshot()
	targets := rollout.RollbackTargets(snap)

	var err error
	if policy == domain.RollbackGradual {
		err = r.drainGradually(ctx, snap, targets)
	} else {
		err = r.drainImmediately(ctx, targets)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return r.escalate(err, time.Since(start))
	}

	for _, id := range targets {
		if r.regionState(id) == domain.RegionFailed {
			continue
		}
		if serr := r.setRegionState(id, domain.RegionRolledBack, reason); serr != nil {
			r.logger.Warn("could not mark region rolled back", "region", id, "error", serr)
		}
	}

	r.record(domain.DeploymentEvent{
		Type:    domain.EventRollbackCompleted,
		Message: fmt.Sprintf("rollback completed for %d regions", len(targets)),
	}, nil)
	if serr := r.setStatus(domain.DeploymentRolledBack, reason); serr != nil {
		r.logger.Error("failed to mark deployment rolled back", "error", serr)
	}
	r.o.metrics.Rollback(string(r.cfg.Strategy), "completed")
	r.logger.Info("rollback completed", "regions", len(targets), "elapsed", time.Since(start))
	return nil
}

func (r *run) regionState(id string) domain.RegionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.Regions[id].State
}

// drainImmediately sets every target to zero traffic at once.
func (r *run) drainImmediately(ctx context.Context, targets []string) error {
	var g errgroup.Group
	for _, id := range targets {
		id := id
		g.Go(func() error {
			return r.setTraffic(ctx, id, 0, "rollback")
		})
	}
	return g.Wait()
}

// drainGradually steps every target down through the levels it ramped up
// through, in reverse, all regions in lockstep, waiting between steps.
func (r *run) drainGradually(ctx context.Context, snap *domain.DeploymentStatus, targets []string) error {
	plans := make(map[string][]float64, len(targets))
	rounds := 0
	for _, id := range targets {
		steps := r.drainPlan(snap.Regions[id])
		plans[id] = steps
		if len(steps) > rounds {
			rounds = len(steps)
		}
	}

	for i := 0; i < rounds; i++ {
		if i > 0 {
			if err := sleep(ctx, r.o.config.RollbackStepWait); err != nil {
				return err
			}
		}
		var g errgroup.Group
		for _, id := range targets {
			id := id
			steps := plans[id]
			if i >= len(steps) {
				continue
			}
			pct := steps[i]
			g.Go(func() error {
				return r.setTraffic(ctx, id, pct, "gradual rollback")
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// drainPlan returns the levels a region is stepped down through. Rolling
// retraces its ramp steps and canary its stage list. Blue-green switched
// traffic in a single step, so it drains straight to 0.
func (r *run) drainPlan(rs domain.RegionStatus) []float64 {
	if rs.Traffic <= 0 {
		return nil
	}
	target := rs.TargetTraffic
	if target <= 0 {
		target = rs.Traffic
	}
	switch sc := r.cfg.StrategyConfig().(type) {
	case domain.RollingConfig:
		return rollout.RampDrainSteps(rs.Traffic, target, r.rampStep(sc))
	case domain.CanaryConfig:
		return rollout.DrainSteps(rs.Traffic, target, rollout.StagePercents(rollout.ResolveStages(sc)))
	default:
		return []float64{0}
	}
}

// escalate records a stalled rollback. The deployment keeps its status and
// is flagged for manual intervention.
func (r *run) escalate(cause error, elapsed time.Duration) error {
	reason := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) || elapsed >= r.o.config.RollbackBudget {
		reason = fmt.Sprintf("rollback exceeded budget of %s", r.o.config.RollbackBudget)
	}
	esc := &domain.RollbackEscalation{DeploymentID: r.id, Reason: reason, Err: cause}

	r.record(domain.DeploymentEvent{
		Type:    domain.EventRollbackEscalated,
		Message: esc.Error(),
	}, func(s *domain.DeploymentStatus) {
		s.Escalated = true
		s.Reason = esc.Error()
	})
	r.o.metrics.Rollback(string(r.cfg.Strategy), "escalated")
	r.logger.Error("rollback escalated",
		"reason", reason,
		"elapsed", elapsed,
		"error", cause,
	)
	return esc
}
