// Package serve runs the auxiliary http endpoints of long running commands.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// ListenAndServe serves until ctx is cancelled and then shuts the server down gracefully.
func ListenAndServe(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WithStack(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.WithStack(server.Shutdown(shutdownCtx))
	}
}

// MetricsHandler exposes the metrics of gatherer in the prometheus text format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ServeMetrics serves the default registry on port in the background. Port 0 disables the endpoint. The returned
// function stops the server.
func ServeMetrics(port uint16) func() {
	if port == 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           MetricsHandler(prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Infof("Serving metrics on port %d", port)
		if err := ListenAndServe(ctx, server); err != nil {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
