// Package retry wraps github.com/sethvargo/go-retry with the
// exponential-backoff-with-jitter policy used across the episode pipeline,
// key pool, graph store, and scheduler lock code paths: a fixed number of
// attempts, a base delay that doubles each attempt, and ±20% jitter so
// concurrent workers don't retry in lockstep.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
	"github.com/atlasagent/atlas-core/pkg/sharedlogging"
	"go.uber.org/zap"
)

// Policy configures a backoff run.
type Policy struct {
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	OperationName string
}

// DefaultPolicy matches the episode-pipeline retry primitive: 3 attempts,
// 500ms base delay, capped at 8s.
func DefaultPolicy(operationName string) Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		OperationName: operationName,
	}
}

// Do runs fn under the policy's backoff schedule. fn signals a retryable
// failure by returning an error classified sharederrors.KindTransientExternal
// (or already wrapped in retry.RetryableError); any other error stops the
// loop immediately. A nil logger is fine.
func Do(ctx context.Context, p Policy, logger *zap.Logger, fn func(ctx context.Context) error) error {
	backoff, err := retry.NewExponential(p.BaseDelay)
	if err != nil {
		return sharederrors.FailedToWithDetails(p.OperationName, "retry", "", err)
	}
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}
	if p.MaxAttempts > 0 {
		backoff = retry.WithMaxRetries(p.MaxAttempts-1, backoff)
	}
	backoff = retry.WithJitterPercent(20, backoff)

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		cause := fn(ctx)
		if cause == nil {
			return nil
		}
		if logger != nil {
			logger.Warn("retrying operation",
				sharedlogging.NewFields().
					Component("retry").
					Operation(p.OperationName).
					Count(attempt).
					Error(cause).ToZap()...,
			)
		}
		if sharederrors.IsRetryable(cause) {
			return retry.RetryableError(cause)
		}
		return cause
	})
	if err != nil {
		return sharederrors.FailedToWithDetails(p.OperationName, "retry", "", err)
	}
	return nil
}
