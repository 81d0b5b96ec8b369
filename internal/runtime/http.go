package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
)

const readHeaderTimeout = 5 * time.Second

func (b *Broker) startMetricsServer() {
	if !b.conf.MetricsEnabled || b.conf.MetricsPort == 0 {
		return
	}
	b.registerHTTPHandler(b.conf.MetricsPort, "/metrics", b.MetricsHandler())
}

// MetricsHandler serves the broker registry in the Prometheus exposition format.
func (b *Broker) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.metricsRegistry, promhttp.HandlerOpts{})
}

func (b *Broker) registerHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpMu.Lock()
	defer b.httpMu.Unlock()

	if b.httpMuxes == nil {
		b.httpMuxes = make(map[int]*http.ServeMux)
	}

	mux, ok := b.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		b.httpMuxes[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (b *Broker) startHTTPServers() {
	b.httpMu.Lock()
	defer b.httpMu.Unlock()

	for port, mux := range b.httpMuxes {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		b.httpServers = append(b.httpServers, srv)
		b.logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (b *Broker) stopHTTPServers(ctx context.Context) error {
	b.httpMu.Lock()
	defer b.httpMu.Unlock()

	var errs []error
	for _, srv := range b.httpServers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("relay: stop http server %s: %w", srv.Addr, err))
		}
	}
	b.httpServers = nil
	return errors.Join(errs...)
}
