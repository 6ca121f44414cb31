package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vineyard-genomics/harvester/internal/common/harvestererrors"
)

type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
}

var DefaultRetryPolicy = RetryPolicy{
	InitialBackoff: time.Second,
	MaxBackoff:     60 * time.Second,
	MaxRetries:     10,
}

// WithRetry executes a database function, retrying with exponential backoff until it succeeds, encounters a
// non-retryable error, runs out of attempts or ctx is cancelled.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, executeDb func() (T, error)) (T, error) {
	backOff := policy.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		res, err := executeDb()
		if err == nil {
			return res, nil
		}
		if !harvestererrors.IsNetworkError(err) && !harvestererrors.IsRetryablePostgresError(err) {
			return res, err
		}
		lastErr = err
		if attempt == policy.MaxRetries {
			break
		}
		log.Warnf("Retryable error encountered executing sql, will wait for %s before retrying.  Error was %v", backOff, err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, errors.WithStack(ctx.Err())
		case <-time.After(backOff):
		}
		backOff *= 2
		if backOff > policy.MaxBackoff {
			backOff = policy.MaxBackoff
		}
	}
	var zero T
	return zero, errors.WithMessagef(lastErr, "giving up after %d retries", policy.MaxRetries)
}

// WithRetryExec is WithRetry for functions that only return an error.
func WithRetryExec(ctx context.Context, policy RetryPolicy, executeDb func() error) error {
	_, err := WithRetry(ctx, policy, func() (struct{}, error) {
		return struct{}{}, executeDb()
	})
	return err
}
