package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
)

// CreateContextWithShutdown returns a context that is cancelled on the first SIGINT or SIGTERM.
// The signal is logged with the context's logger so operators can tell a requested stop from a crash.
func CreateContextWithShutdown(parent *runcontext.Context) *runcontext.Context {
	ctx, cancel := runcontext.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			ctx.Log.Warnf("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
