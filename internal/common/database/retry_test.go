package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, MaxRetries: 3}

func TestWithRetry_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	res, err := WithRetry(context.Background(), fastPolicy, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := WithRetryExec(context.Background(), fastPolicy, func() error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := WithRetryExec(context.Background(), fastPolicy, func() error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.ConnectionFailure}
	})
	assert.Error(t, err)
	assert.Equal(t, fastPolicy.MaxRetries+1, calls)
}

func TestWithRetry_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetryExec(ctx, RetryPolicy{InitialBackoff: time.Hour, MaxBackoff: time.Hour, MaxRetries: 5}, func() error {
		return &pgconn.PgError{Code: pgerrcode.ConnectionFailure}
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
