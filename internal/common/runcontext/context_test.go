package runcontext

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := logrus.NewEntry(logrus.New()).WithField("foo", "bar")
	ctx := New(context.Background(), logger)
	require.Equal(t, logger, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestFromContext(t *testing.T) {
	ctx := WithLogField(Background(), "worker", 1)
	assert.Same(t, ctx, FromContext(ctx))

	wrapped := FromContext(context.Background())
	assert.Equal(t, context.Background(), wrapped.Context)
	assert.NotNil(t, wrapped.Log)
}

func TestWithLogFields(t *testing.T) {
	ctx := WithLogField(Background(), "worker", 3)
	ctx = WithLogFields(ctx, logrus.Fields{"batch": "abc", "records": 2})
	assert.Equal(t, logrus.Fields{"worker": 3, "batch": "abc", "records": 2}, ctx.Log.Data)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(Background(), 50*time.Millisecond)
	defer cancel()
	select {
	case <-time.After(5 * time.Second):
		t.Fatal("context not timed out")
	case <-ctx.Done():
	}
	assert.Equal(t, context.DeadlineExceeded, ctx.Err())
}

func TestErrGroup_CancelsSiblingsOnError(t *testing.T) {
	ctx := WithLogField(Background(), "stage", "preload")
	g, gctx := ErrGroup(ctx)
	assert.Equal(t, ctx.Log, gctx.Log)

	g.Go(func() error { return errors.New("boom") })
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	assert.EqualError(t, g.Wait(), "boom")
}
