package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/controlplane"
)

// call runs fn against a region's control plane or health probe with a
// per-attempt timeout, retrying with exponential backoff up to MaxAttempts.
// Rejections the control plane reports as permanent are not retried. The final error is an *domain.ExternalCallError.
func (r *run) call(ctx context.Context, op, region string, timeout time.Duration, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.o.config.RetryBackoff
	b.MaxInterval = r.o.config.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && (controlplane.IsPermanent(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		r.o.metrics.Retry(op)
		r.record(domain.DeploymentEvent{
			Type:    domain.EventRetry,
			Region:  region,
			Message: fmt.Sprintf("%s attempt %d failed, retrying in %s: %v", op, attempts, next, err),
		}, nil)
		r.logger.Warn("external call failed, retrying",
			"op", op,
			"region", region,
			"attempt", attempts,
			"error", err,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.o.config.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return &domain.ExternalCallError{Op: op, Region: region, Attempts: attempts, Err: err}
	}
	return nil
}

// sleep is a delay that only ends early when ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
