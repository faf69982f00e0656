package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/monitoring"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/rollout"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/controlplane"
)

// storeTimeout bounds every persistence call made by a deployment task.
const storeTimeout = 5 * time.Second

// opProbe names health probes in retry events and metrics.
const opProbe = "probe"

// errAborted is returned by waits and checkpoints once a rollback was
// requested for a running deployment.
var errAborted = errors.New("deployment aborted")

// thresholdError reports a health threshold or rollback trigger breach.
type thresholdError struct {
	Region string
	Reason string
}

func (e *thresholdError) Error() string {
	return fmt.Sprintf("region %s breached rollback threshold: %s", e.Region, e.Reason)
}

type rollbackAction int

const (
	rollbackNoop rollbackAction = iota
	rollbackQueued
	rollbackStart
)

// run is the state of one deployment. Lock order: ctlMu, writeMu, mu.
type run struct {
	o       *Orchestrator
	id      string
	version string
	cfg     domain.DeploymentConfig
	logger  *slog.Logger

	// mu guards status for readers. writeMu serializes writers so every
	// event is sequenced and persisted before the change is applied.
	mu      sync.RWMutex
	writeMu sync.Mutex
	status  *domain.DeploymentStatus

	lastCheck map[string]time.Time // guarded by mu

	ctlMu       sync.Mutex
	abortReason string
	aborted     chan struct{}
	rollingBack bool
	tasks       int
	idleCh      chan struct{}

	trigMu   sync.Mutex
	breaches map[string]time.Time // trigger/region -> first breached sample
}

func newRun(o *Orchestrator, status *domain.DeploymentStatus) *run {
	idle := make(chan struct{})
	close(idle)
	return &run{
		o:       o,
		id:      status.ID,
		version: status.Version,
		cfg:     status.Config,
		logger: o.logger.With(
			"deployment_id", status.ID,
			"version", status.Version,
			"strategy", status.Strategy,
		),
		status:    status,
		lastCheck: make(map[string]time.Time),
		aborted:   make(chan struct{}),
		idleCh:    idle,
		breaches:  make(map[string]time.Time),
	}
}

// snapshot returns a deep copy of the status.
func (r *run) snapshot() *domain.DeploymentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.Clone()
}

func (r *run) regionStates() map[string]domain.RegionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.RegionState, len(r.status.Regions))
	for id, rs := range r.status.Regions {
		out[id] = rs.State
	}
	return out
}

// =============================================================================
// Task Control
// =============================================================================

func (r *run) begin() {
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()
	if r.tasks == 0 {
		r.idleCh = make(chan struct{})
	}
	r.tasks++
}

func (r *run) end() {
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()
	r.tasks--
	if r.tasks == 0 {
		close(r.idleCh)
	}
}

func (r *run) idle() <-chan struct{} {
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()
	return r.idleCh
}

// requestRollback decides what an operator rollback request does.
func (r *run) requestRollback(reason string) rollbackAction {
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()
	if r.rollingBack {
		return rollbackNoop
	}

	r.mu.RLock()
	state := r.status.Status
	r.mu.RUnlock()

	switch state {
	case domain.DeploymentRolledBack:
		return rollbackNoop
	case domain.DeploymentPending, domain.DeploymentInProgress:
		if r.abortReason == "" {
			r.abortReason = reason
			close(r.aborted)
		}
		return rollbackQueued
	default:
		r.rollingBack = true
		return rollbackStart
	}
}

// checkpoint returns errAborted once a rollback was requested.
func (r *run) checkpoint(ctx context.Context) error {
	select {
	case <-r.aborted:
		return errAborted
	default:
	}
	return ctx.Err()
}

// wait is a cancellable delay that also ends on a rollback request.
func (r *run) wait(ctx context.Context, d time.Duration) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-r.aborted:
		return errAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Event Log
// =============================================================================

// record appends ev and applies fn to the status.
func (r *run) record(ev domain.DeploymentEvent, fn func(s *domain.DeploymentStatus)) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.recordLocked(ev, fn)
}

// recordLocked persists ev, then applies fn and persists the status.
// Caller holds writeMu.
func (r *run) recordLocked(ev domain.DeploymentEvent, fn func(s *domain.DeploymentStatus)) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	r.mu.RLock()
	ev.Sequence = len(r.status.Events) + 1
	r.mu.RUnlock()
	ev.Timestamp = r.o.config.Clock().UTC()

	if err := r.o.store.AppendDeploymentEvent(ctx, r.id, ev); err != nil {
		r.logger.Error("failed to persist deployment event",
			"sequence", ev.Sequence,
			"type", ev.Type,
			"error", err,
		)
	}

	r.mu.Lock()
	r.status.Events = append(r.status.Events, ev)
	if fn != nil {
		fn(r.status)
	}
	snap := r.status.Clone()
	r.mu.Unlock()

	if fn != nil {
		r.persist(ctx, snap)
	}
}

// apply changes the status without an event.
func (r *run) apply(fn func(s *domain.DeploymentStatus)) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	fn(r.status)
	snap := r.status.Clone()
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	r.persist(ctx, snap)
}

func (r *run) persist(ctx context.Context, snap *domain.DeploymentStatus) {
	if err := r.o.store.UpdateDeployment(ctx, snap); err != nil {
		r.logger.Error("failed to persist deployment status", "error", err)
	}
}

// =============================================================================
// State Transitions
// =============================================================================

// setStatus moves the deployment through its lifecycle.
func (r *run) setStatus(to domain.DeploymentState, reason string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	from := r.status.Status
	r.mu.RUnlock()
	if err := domain.ValidateDeploymentTransition(from, to); err != nil {
		return fmt.Errorf("deployment %s: %s -> %s: %w", r.id, from, to, err)
	}

	msg := fmt.Sprintf("deployment %s", to)
	if reason != "" {
		msg += ": " + reason
	}
	now := r.o.config.Clock().UTC()
	r.recordLocked(domain.DeploymentEvent{
		Type:    domain.EventDeploymentStatus,
		From:    string(from),
		To:      string(to),
		Message: msg,
	}, func(s *domain.DeploymentStatus) {
		s.Status = to
		if reason != "" {
			s.Reason = reason
		}
		switch to {
		case domain.DeploymentInProgress:
			s.StartedAt = &now
		case domain.DeploymentCompleted, domain.DeploymentFailed, domain.DeploymentRolledBack:
			s.EndedAt = &now
			if s.StartedAt != nil {
				s.Metrics.Duration = domain.Duration(now.Sub(*s.StartedAt))
			}
		}
	})

	r.logger.Info("deployment status changed", "from", from, "to", to, "reason", reason)
	return nil
}

// setRegionState moves a region through its lifecycle. A region only becomes
// active after its validation succeeded.
func (r *run) setRegionState(region string, to domain.RegionState, detail string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	rs := r.status.Regions[region]
	r.mu.RUnlock()
	if err := domain.ValidateRegionTransition(rs.State, to); err != nil {
		return fmt.Errorf("region %s: %s -> %s: %w", region, rs.State, to, err)
	}
	if to == domain.RegionActive && !rs.Validated {
		return fmt.Errorf("region %s activated before validation: %w", region, domain.ErrInvalidTransition)
	}

	msg := fmt.Sprintf("region %s %s", region, to)
	if detail != "" {
		msg += ": " + detail
	}
	now := r.o.config.Clock().UTC()
	r.recordLocked(domain.DeploymentEvent{
		Type:    domain.EventRegionStatus,
		Region:  region,
		From:    string(rs.State),
		To:      string(to),
		Message: msg,
	}, func(s *domain.DeploymentStatus) {
		cur := s.Regions[region]
		cur.State = to
		cur.UpdatedAt = now
		if to == domain.RegionFailed && detail != "" {
			cur.Errors = append(cur.Errors, detail)
		}
		s.Regions[region] = cur
	})

	r.o.metrics.RegionTransition(string(to))
	r.logger.Info("region status changed", "region", region, "from", rs.State, "to", to)
	return nil
}

// failRegion marks a region failed and returns err.
func (r *run) failRegion(region string, err error) error {
	if terr := r.setRegionState(region, domain.RegionFailed, err.Error()); terr != nil {
		r.logger.Warn("could not mark region failed", "region", region, "error", terr)
	}
	return err
}

// setTraffic records the change, then asks the control plane to apply it.
func (r *run) setTraffic(ctx context.Context, region string, percent float64, reason string) error {
	pct := percent
	r.record(domain.DeploymentEvent{
		Type:    domain.EventTraffic,
		Region:  region,
		Traffic: &pct,
		Message: fmt.Sprintf("%s: region %s traffic to %g%%", reason, region, percent),
	}, nil)

	err := r.call(ctx, controlplane.OpSetTraffic, region, r.o.config.CallTimeout, func(ctx context.Context) error {
		return r.o.cp.SetTraffic(ctx, region, percent)
	})
	if err != nil {
		return err
	}

	now := r.o.config.Clock().UTC()
	r.apply(func(s *domain.DeploymentStatus) {
		rs := s.Regions[region]
		rs.Traffic = percent
		rs.UpdatedAt = now
		s.Regions[region] = rs
	})
	return nil
}

// =============================================================================
// Health
// =============================================================================

// checkRegion re-reads the region's health and returns a *thresholdError
// when the region threshold or a rollback trigger is breached. A failed probe
// is retried like any other external call; thresholds are only judged on a
// sample that was actually taken.
func (r *run) checkRegion(ctx context.Context, rc domain.RegionDeploymentConfig) (domain.RegionHealth, error) {
	var h domain.RegionHealth
	err := r.call(ctx, opProbe, rc.Region, r.o.config.CallTimeout, func(ctx context.Context) error {
		var err error
		h, err = r.o.health.CheckHealth(ctx, rc.Region)
		if err != nil {
			return err
		}
		if h.Error != "" {
			return errors.New(h.Error)
		}
		return nil
	})
	if err != nil {
		return h, err
	}

	now := r.o.config.Clock().UTC()
	r.record(domain.DeploymentEvent{
		Type:    domain.EventHealthCheck,
		Region:  rc.Region,
		Message: fmt.Sprintf("region %s %s, score %.1f", rc.Region, h.Status, h.Score),
	}, func(s *domain.DeploymentStatus) {
		rs := s.Regions[rc.Region]
		rs.HealthScore = h.Score
		s.Regions[rc.Region] = rs
		s.Metrics.HealthChecks++
		if h.Metrics.ErrorRate > s.Metrics.ErrorRate {
			s.Metrics.ErrorRate = h.Metrics.ErrorRate
		}
		if last, ok := r.lastCheck[rc.Region]; ok && h.Status == domain.HealthStatusOffline {
			s.Metrics.Downtime += domain.Duration(now.Sub(last))
		}
		r.lastCheck[rc.Region] = now
	})

	if reason := r.breach(rc, h, now); reason != "" {
		return h, &thresholdError{Region: rc.Region, Reason: reason}
	}
	return h, nil
}

// breach returns why a health sample breaches the region's thresholds or a
// rollback trigger, or "" when it does not. Triggers fire only after the
// condition has held for their whole window.
func (r *run) breach(rc domain.RegionDeploymentConfig, h domain.RegionHealth, now time.Time) string {
	t := rc.Thresholds
	if t.MinHealthScore > 0 && h.Score < t.MinHealthScore {
		return fmt.Sprintf("health score %.1f below %.1f", h.Score, t.MinHealthScore)
	}
	if t.MaxErrorRate > 0 && h.Metrics.ErrorRate > t.MaxErrorRate {
		return fmt.Sprintf("error rate %.4f above %.4f", h.Metrics.ErrorRate, t.MaxErrorRate)
	}

	r.trigMu.Lock()
	defer r.trigMu.Unlock()
	for i, trig := range r.cfg.Rollback.Triggers {
		key := fmt.Sprintf("%d/%s", i, rc.Region)
		value, ok := monitoring.MetricValue(trig.Metric, h)
		if !ok || !monitoring.Breached(trig.Operator, value, trig.Threshold) {
			delete(r.breaches, key)
			continue
		}
		since, seen := r.breaches[key]
		if !seen {
			since = now
			r.breaches[key] = now
		}
		if now.Sub(since) >= trig.Window.Std() {
			return fmt.Sprintf("%s %g %s %g for %s", trig.Metric, value, trig.Operator, trig.Threshold, trig.Window)
		}
	}
	return ""
}

// =============================================================================
// Execution
// =============================================================================

// execute is the deployment task.
func (r *run) execute() {
	ctx := r.o.ctx
	if err := r.setStatus(domain.DeploymentInProgress, ""); err != nil {
		r.logger.Error("failed to start deployment", "error", err)
		return
	}

	err := r.preflight(ctx)
	if err == nil {
		err = r.runStrategy(ctx)
	}
	if err == nil {
		err = r.crossRegion(ctx)
	}
	r.finish(err)
}

// preflight runs compliance gates and pre-deployment validation before any
// region is touched.
func (r *run) preflight(ctx context.Context) error {
	var violation error
	if r.o.compliance != nil {
		for _, rc := range r.cfg.Regions {
			rc := rc
			err := r.o.compliance.CheckDeployment(rc.Region, r.cfg.DataTypes)
			if err == nil {
				continue
			}
			r.record(domain.DeploymentEvent{
				Type:    domain.EventComplianceViolation,
				Region:  rc.Region,
				Message: err.Error(),
			}, func(s *domain.DeploymentStatus) {
				rs := s.Regions[rc.Region]
				rs.Errors = append(rs.Errors, err.Error())
				s.Regions[rc.Region] = rs
			})
			r.logger.Warn("region blocked by compliance", "region", rc.Region, "error", err)
			if violation == nil {
				violation = err
			}
		}
	}
	if violation != nil {
		return violation
	}

	for _, rc := range rollout.OrderRegions(r.cfg.Regions) {
		if err := r.runValidation(ctx, rc.Region, r.cfg.Validation.PreDeployment); err != nil {
			return fmt.Errorf("pre-deployment validation: %w", err)
		}
	}
	return nil
}

func (r *run) runStrategy(ctx context.Context) error {
	switch sc := r.cfg.StrategyConfig().(type) {
	case domain.BlueGreenConfig:
		return r.blueGreen(ctx, sc)
	case domain.CanaryConfig:
		return r.canary(ctx, sc)
	case domain.RollingConfig:
		return r.rolling(ctx, sc)
	default:
		return fmt.Errorf("unsupported strategy %s", r.cfg.Strategy)
	}
}

// crossRegion runs the cross-region validation steps once every region is
// active.
func (r *run) crossRegion(ctx context.Context) error {
	steps := r.cfg.Validation.CrossRegion
	if len(steps) == 0 {
		return nil
	}
	for _, rc := range rollout.OrderRegions(r.cfg.Regions) {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		if err := r.runValidation(ctx, rc.Region, steps); err != nil {
			return fmt.Errorf("cross-region validation: %w", err)
		}
	}
	return nil
}

// finish settles the deployment after its strategy returned.
func (r *run) finish(err error) {
	r.ctlMu.Lock()
	aborted := r.abortReason != ""
	shutdown := r.o.ctx.Err() != nil

	if err == nil && !aborted {
		if serr := r.setStatus(domain.DeploymentCompleted, ""); serr != nil {
			r.logger.Error("failed to complete deployment", "error", serr)
		}
		r.ctlMu.Unlock()
		r.settled("completed")
		return
	}

	var reason string
	switch {
	case aborted && (err == nil || errors.Is(err, errAborted)):
		reason = r.abortReason
	case shutdown:
		reason = "interrupted by shutdown"
	default:
		reason = err.Error()
	}
	if serr := r.setStatus(domain.DeploymentFailed, reason); serr != nil {
		r.logger.Error("failed to mark deployment failed", "error", serr)
	}

	needsDrain := len(rollout.RollbackTargets(r.snapshot())) > 0
	doRollback := !shutdown && (aborted || (r.cfg.Rollback.Automatic && needsDrain))
	if doRollback {
		r.rollingBack = true
	}
	r.ctlMu.Unlock()

	// The version stays reserved until the drain is over.
	if doRollback {
		if aborted {
			r.record(domain.DeploymentEvent{Type: domain.EventRollbackRequested, Message: reason}, nil)
		}
		_ = r.rollback(reason)
	}
	r.settled("failed")
}

// settled releases the version slot and reports the outcome.
func (r *run) settled(outcome string) {
	r.o.releaseVersion(r.version, r.id)
	snap := r.snapshot()
	r.o.metrics.DeploymentFinished(string(r.cfg.Strategy), outcome, snap.Metrics.Duration.Std())
	r.logger.Info("deployment finished",
		"outcome", outcome,
		"duration", snap.Metrics.Duration.Std(),
		"traffic", snap.TotalTraffic(),
	)
}
