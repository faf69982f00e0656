// Package router directs reads and writes to regions of the replicated data
// store according to a per-operation consistency level.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/routing"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
)

// ErrNoConnection is returned when the primary has no database connection.
var ErrNoConnection = errors.New("no database connection for region")

// Member is one region of the replicated store.
type Member struct {
	Region string
	Sync   bool
	MaxLag time.Duration
}

// HealthSource provides the last known health of a region.
type HealthSource interface {
	Health(region string) (domain.RegionHealth, bool)
}

// LagReader reports replication lag of a region behind the primary.
type LagReader interface {
	Lag(ctx context.Context, region string) (time.Duration, error)
}

// Config configures the router.
type Config struct {
	Primary      string
	Members      []Member // secondaries; the primary may be listed too
	Proximity    routing.Proximity
	MaxStaleness time.Duration
	// PollInterval is how often replication lag is re-read while waiting.
	// Default: 50ms.
	PollInterval time.Duration
}

// Router is safe for concurrent use. The primary designation is swapped
// atomically on failover; every routing decision reads one snapshot of it.
type Router struct {
	primary atomic.Pointer[string]
	members map[string]Member
	config  Config
	health  HealthSource
	lags    LagReader
	conns   map[string]*sqlx.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a router. conns maps regions to database handles and may be
// nil when transactions are not used.
func New(cfg Config, health HealthSource, lags LagReader, conns map[string]*sqlx.DB, logger *slog.Logger, m *metrics.Metrics) (*Router, error) {
	if cfg.Primary == "" {
		return nil, routing.ErrNoPrimary
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.MaxStaleness == 0 {
		cfg.MaxStaleness = routing.DefaultMaxStaleness
	}
	if logger == nil {
		logger = slog.Default()
	}

	members := make(map[string]Member, len(cfg.Members)+1)
	for _, mem := range cfg.Members {
		members[mem.Region] = mem
	}
	if _, ok := members[cfg.Primary]; !ok {
		members[cfg.Primary] = Member{Region: cfg.Primary, Sync: true}
	}

	r := &Router{
		members: members,
		config:  cfg,
		health:  health,
		lags:    lags,
		conns:   conns,
		logger:  logger.With("component", "router"),
		metrics: m,
	}
	primary := cfg.Primary
	r.primary.Store(&primary)
	return r, nil
}

// Primary returns the current primary region.
func (r *Router) Primary() string {
	return *r.primary.Load()
}

// Failover makes region the primary. It must be a member of the topology.
func (r *Router) Failover(region string) (string, error) {
	if _, ok := r.members[region]; !ok {
		return "", fmt.Errorf("%w: %s is not a replica", domain.ErrUnknownRegion, region)
	}
	next := region
	prev := r.primary.Swap(&next)
	r.logger.Warn("primary failover", "from", *prev, "to", region)
	return *prev, nil
}

// Members returns the topology sorted by region.
func (r *Router) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Model returns the consistency model for a level over the current topology.
func (r *Router) Model(level routing.ConsistencyLevel) routing.ConsistencyModel {
	return routing.ModelFor(level, len(r.members), r.config.MaxStaleness)
}

// Route picks the region an operation should target.
func (r *Router) Route(ctx context.Context, op routing.Operation, level routing.ConsistencyLevel, caller string) (*routing.SelectResult, error) {
	primary := r.Primary()
	req := routing.SelectRequest{
		Operation: op,
		Model:     r.Model(level),
		Caller:    caller,
		Primary:   primary,
		Proximity: r.config.Proximity,
	}
	if op == routing.OpRead {
		req.Replicas = r.replicaStates(ctx, primary)
	}

	result, err := routing.Select(req)
	if err != nil {
		return nil, err
	}
	r.metrics.RoutingDecision(string(op), string(level), result.Fallback)
	r.logger.Debug("routed operation",
		"operation", op,
		"level", level,
		"caller", caller,
		"target", result.Region,
		"fallback", result.Fallback,
	)
	return result, nil
}

// replicaStates reads health and lag for every secondary. A region with no
// health sample yet is not considered healthy; an unreadable lag counts as
// unbounded.
func (r *Router) replicaStates(ctx context.Context, primary string) []routing.ReplicaState {
	states := make([]routing.ReplicaState, 0, len(r.members))
	for _, m := range r.Members() {
		if m.Region == primary {
			continue
		}
		st := routing.ReplicaState{Region: m.Region, Sync: m.Sync}
		if r.health != nil {
			if h, ok := r.health.Health(m.Region); ok {
				st.Healthy = h.Status.Serving()
			}
		}
		st.Lag = time.Duration(math.MaxInt64)
		if r.lags != nil {
			if lag, err := r.lags.Lag(ctx, m.Region); err == nil {
				st.Lag = lag
			}
		}
		states = append(states, st)
	}
	return states
}

// maxLag returns the configured lag bound of a region.
func (r *Router) maxLag(region string) time.Duration {
	if m, ok := r.members[region]; ok && m.MaxLag > 0 {
		return m.MaxLag
	}
	return r.config.MaxStaleness
}
