package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
)

func TestCreateContextWithShutdown_FollowsParent(t *testing.T) {
	parent, cancel := runcontext.WithCancel(runcontext.Background())
	ctx := CreateContextWithShutdown(parent)
	assert.NoError(t, ctx.Err())

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled")
	}
}
