// Package orchestrator drives deployments through their region state machines
// using the rolling, blue-green and canary strategies, and rolls them back
// when health thresholds are breached or an operator asks for it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/rollout"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/controlplane"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// ErrShuttingDown is returned by Submit after Shutdown was called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// HealthChecker re-reads a region's health.
type HealthChecker interface {
	CheckHealth(ctx context.Context, region string) (domain.RegionHealth, error)
}

// ComplianceChecker gates regions on the data types a deployment carries.
type ComplianceChecker interface {
	CheckDeployment(region string, dataTypes []string) error
}

// RegionSource reports which regions are registered.
type RegionSource interface {
	Has(id string) bool
}

// Config configures the orchestrator. Strategy blocks in a DeploymentConfig
// override the matching fields per deployment.
type Config struct {
	// StepPercent is the rolling ramp increment.
	// Default: 10.
	StepPercent float64

	// StepInterval is the wait after every traffic change before health is
	// re-read. Default: 10 seconds.
	StepInterval time.Duration

	// Cooldown is the wait between regions of a rolling deployment.
	// Default: 30 seconds.
	Cooldown time.Duration

	// ObservationWindow is how long blue-green traffic must stay healthy
	// before the blue environment is torn down. Default: 5 minutes.
	ObservationWindow time.Duration

	// CanaryObservation is the wait after each canary stage.
	// Default: 2 minutes.
	CanaryObservation time.Duration

	// CallTimeout bounds every control plane call.
	// Default: 30 seconds.
	CallTimeout time.Duration

	// MaxAttempts is the number of tries for a control plane call.
	// Default: 3.
	MaxAttempts int

	// RetryBackoff is the first retry delay; it doubles up to MaxBackoff.
	// Default: 1 second.
	RetryBackoff time.Duration

	// MaxBackoff caps the retry delay.
	// Default: 30 seconds.
	MaxBackoff time.Duration

	// RollbackBudget is the wall-clock limit for a rollback before it is
	// escalated. Default: 5 minutes.
	RollbackBudget time.Duration

	// RollbackStepWait is the wait between gradual rollback steps.
	// Default: 10 seconds.
	RollbackStepWait time.Duration

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StepPercent:       rollout.DefaultStepPercent,
		StepInterval:      10 * time.Second,
		Cooldown:          30 * time.Second,
		ObservationWindow: 5 * time.Minute,
		CanaryObservation: 2 * time.Minute,
		CallTimeout:       30 * time.Second,
		MaxAttempts:       3,
		RetryBackoff:      time.Second,
		MaxBackoff:        30 * time.Second,
		RollbackBudget:    5 * time.Minute,
		RollbackStepWait:  10 * time.Second,
		Clock:             time.Now,
	}
}

// Orchestrator owns every deployment task. Each deployment runs in its own
// goroutine and is the only writer of its status.
type Orchestrator struct {
	cp         controlplane.RegionControlPlane
	health     HealthChecker
	compliance ComplianceChecker
	regions    RegionSource
	store      store.Store
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	runs     map[string]*run
	versions map[string]string // version -> active deployment id
	closed   bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. Waits may be zero; zero attempts, timeouts,
// backoff and budget take their defaults.
func New(
	cp controlplane.RegionControlPlane,
	health HealthChecker,
	compliance ComplianceChecker,
	regions RegionSource,
	s store.Store,
	config Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	def := DefaultConfig()
	if config.StepPercent <= 0 {
		config.StepPercent = def.StepPercent
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.MaxBackoff < config.RetryBackoff {
		config.MaxBackoff = config.RetryBackoff
	}
	if config.RollbackBudget <= 0 {
		config.RollbackBudget = def.RollbackBudget
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cp:         cp,
		health:     health,
		compliance: compliance,
		regions:    regions,
		store:      s,
		config:     config,
		logger:     logger.With("component", "orchestrator"),
		metrics:    m,
		runs:       make(map[string]*run),
		versions:   make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// =============================================================================
// Submit
// =============================================================================

// Submit validates cfg, persists a pending deployment and starts it in the
// background. It returns a *domain.ValidationError for a bad config and a
// *domain.ConflictError when the version is already being deployed.
func (o *Orchestrator) Submit(ctx context.Context, cfg domain.DeploymentConfig) (*domain.DeploymentStatus, error) {
	if err := rollout.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	for i, rc := range cfg.Regions {
		if !o.regions.Has(rc.Region) {
			return nil, domain.NewValidationError(fmt.Sprintf("regions[%d].region", i),
				fmt.Sprintf("unknown region %q", rc.Region))
		}
	}

	status := domain.NewDeploymentStatus(cfg)
	status.CreatedAt = o.config.Clock().UTC()

	// The version slot is reserved before persisting so the store write
	// happens outside o.mu.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if existing, ok := o.versions[cfg.Version]; ok {
		o.mu.Unlock()
		return nil, &domain.ConflictError{Version: cfg.Version, ExistingID: existing}
	}
	o.versions[cfg.Version] = status.ID
	o.mu.Unlock()

	if err := o.store.CreateDeployment(ctx, status); err != nil {
		o.releaseVersion(cfg.Version, status.ID)
		return nil, fmt.Errorf("failed to persist deployment: %w", err)
	}

	r := newRun(o, status)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.releaseVersion(cfg.Version, status.ID)
		return nil, ErrShuttingDown
	}
	o.runs[status.ID] = r
	o.mu.Unlock()

	o.logger.Info("deployment submitted",
		"deployment_id", status.ID,
		"version", cfg.Version,
		"strategy", cfg.Strategy,
		"regions", len(cfg.Regions),
	)

	snapshot := r.snapshot()
	o.spawn(r, r.execute)
	return snapshot, nil
}

// spawn runs fn as a task of r.
func (o *Orchestrator) spawn(r *run, fn func()) {
	r.begin()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer r.end()
		fn()
	}()
}

// releaseVersion frees the version slot once a deployment stops being active.
func (o *Orchestrator) releaseVersion(version, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.versions[version] == id {
		delete(o.versions, version)
	}
}

// =============================================================================
// Queries
// =============================================================================

// GetStatus returns a snapshot of a deployment. Deployments owned by this
// process are read from memory; older ones come from history.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*domain.DeploymentStatus, error) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if ok {
		return r.snapshot(), nil
	}

	d, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return d, nil
}

// List returns deployment history, newest first.
func (o *Orchestrator) List(ctx context.Context, opts store.ListOptions) ([]domain.DeploymentStatus, error) {
	return o.store.ListDeployments(ctx, opts)
}

// Events returns the event log of a deployment.
func (o *Orchestrator) Events(ctx context.Context, id string) ([]domain.DeploymentEvent, error) {
	d, err := o.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Events, nil
}

// Wait blocks until the deployment has no running task, then returns its
// status.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*domain.DeploymentStatus, error) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return o.GetStatus(ctx, id)
	}
	select {
	case <-r.idle():
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// Rollback
// =============================================================================

// Rollback requests an operator rollback. A running deployment observes the
// request at its next step; a finished one is drained in the background.
// Requests against a deployment already rolling back or rolled back are
// no-ops.
func (o *Orchestrator) Rollback(ctx context.Context, id string) error {
	r, err := o.load(ctx, id)
	if err != nil {
		return err
	}

	const reason = "rollback requested by operator"
	switch r.requestRollback(reason) {
	case rollbackQueued:
		r.logger.Info("rollback requested")
	case rollbackStart:
		r.logger.Info("rollback requested")
		o.spawn(r, func() { _ = r.rollback(reason) })
	}
	return nil
}

// load returns the run for id, adopting it from history when this process
// does not own it.
func (o *Orchestrator) load(ctx context.Context, id string) (*run, error) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if ok {
		return r, nil
	}

	d, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", domain.ErrNotFound, id)
		}
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runs[id]; ok {
		return r, nil
	}
	r = newRun(o, d)
	o.runs[id] = r
	return r, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Recover marks deployments left pending or in progress by a previous
// process as failed. It returns how many were marked.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	stale, err := o.store.ListDeploymentsByStatus(ctx, domain.DeploymentPending, domain.DeploymentInProgress)
	if err != nil {
		return 0, err
	}

	const reason = "interrupted by restart"
	for i := range stale {
		d := &stale[i]
		events, err := o.store.ListDeploymentEvents(ctx, d.ID)
		if err != nil {
			return 0, err
		}
		now := o.config.Clock().UTC()
		ev := domain.DeploymentEvent{
			Sequence:  len(events) + 1,
			Type:      domain.EventDeploymentStatus,
			From:      string(d.Status),
			To:        string(domain.DeploymentFailed),
			Message:   reason,
			Timestamp: now,
		}
		if err := o.store.AppendDeploymentEvent(ctx, d.ID, ev); err != nil {
			return 0, err
		}
		d.Status = domain.DeploymentFailed
		d.Reason = reason
		d.EndedAt = &now
		if err := o.store.UpdateDeployment(ctx, d); err != nil {
			return 0, err
		}
		o.logger.Warn("deployment interrupted by restart",
			"deployment_id", d.ID,
			"version", d.Version,
		)
	}
	return len(stale), nil
}

// Shutdown stops accepting deployments, cancels running tasks and waits for
// them to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
