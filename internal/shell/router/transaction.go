package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/routing"
)

// CrossRegionTransaction runs fn in a transaction on the primary and commits
// it. For strong consistency it then waits, bounded by timeout, until the
// replication lag of every listed region is within that region's bound.
//
// The commit happens before the wait, so on a replication timeout the result
// is returned together with a *domain.ReplicationTimeoutError.
func CrossRegionTransaction[T any](
	ctx context.Context,
	r *Router,
	fn func(ctx context.Context, tx *sqlx.Tx) (T, error),
	regions []string,
	level routing.ConsistencyLevel,
	timeout time.Duration,
) (T, error) {
	var zero T

	primary := r.Primary()
	db, ok := r.conns[primary]
	if !ok || db == nil {
		return zero, fmt.Errorf("%w: %s", ErrNoConnection, primary)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction on %s: %w", primary, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("transaction rollback failed", "primary", primary, "error", rbErr)
		}
	}()

	result, err := fn(ctx, tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("failed to commit on %s: %w", primary, err)
	}
	committed = true

	if level != routing.Strong || len(regions) == 0 {
		return result, nil
	}
	if err := r.WaitForReplication(ctx, regions, timeout); err != nil {
		return result, err
	}
	return result, nil
}

// WaitForReplication blocks until every region's lag is within its bound or
// the timeout elapses.
func (r *Router) WaitForReplication(ctx context.Context, regions []string, timeout time.Duration) error {
	if r.lags == nil {
		return fmt.Errorf("replication wait requires a lag reader")
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	primary := r.Primary()
	for {
		lagging := r.lagging(waitCtx, primary, regions)
		if len(lagging) == 0 {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.metrics.ReplicationTimeout()
			r.logger.Warn("replication wait timed out", "lagging", lagging, "timeout", timeout)
			return &domain.ReplicationTimeoutError{Lagging: lagging, Timeout: timeout}
		case <-ticker.C:
		}
	}
}

func (r *Router) lagging(ctx context.Context, primary string, regions []string) []string {
	var out []string
	for _, region := range regions {
		if region == primary {
			continue
		}
		lag, err := r.lags.Lag(ctx, region)
		if err != nil || lag > r.maxLag(region) {
			out = append(out, region)
		}
	}
	sort.Strings(out)
	return out
}
