package harvestererrors

import (
	"context"
	"io"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryablePostgresError(t *testing.T) {
	tests := map[string]struct {
		err      error
		expected bool
	}{
		"nil":                   {err: nil, expected: false},
		"cancelled":             {err: context.Canceled, expected: false},
		"plain error":           {err: errors.New("nope"), expected: false},
		"unique violation":      {err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, expected: false},
		"connection failure":    {err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, expected: true},
		"serialization failure": {err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, expected: true},
		"wrapped deadlock":      {err: errors.WithMessage(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}, "apply batch"), expected: true},
		"too many connections":  {err: &pgconn.PgError{Code: pgerrcode.TooManyConnections}, expected: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsRetryablePostgresError(tc.err))
		})
	}
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(errors.New("bad input")))
	assert.True(t, IsNetworkError(errors.Wrap(io.ErrUnexpectedEOF, "read")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `resource "EPI_1" of type "record" does not exist`, (&ErrNotFound{Type: "record", Value: "EPI_1"}).Error())
	assert.Equal(t, `value "sideways" is invalid for field "mode"; must be append or update`,
		(&ErrInvalidArgument{Name: "mode", Value: "sideways", Message: "must be append or update"}).Error())

	inner := errors.New("permission denied")
	err := &ErrPreflight{Check: "workDir writable", Err: inner}
	assert.Equal(t, `preflight check "workDir writable" failed: permission denied`, err.Error())
	assert.True(t, errors.Is(err, inner))
}
