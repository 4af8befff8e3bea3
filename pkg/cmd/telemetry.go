package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/marketflow/pkg/metrics"
	"github.com/dukex/marketflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP tracer when enabled and a no-op tracer otherwise.
// nolint:ireturn
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, otelhelper.Shutdown, error) {
	if !enabled {
		return otelhelper.NewNoopTracer(), func(context.Context) error { return nil }, nil
	}

	return otelhelper.NewTracer(ctx, serviceName)
}

// ServeMetrics exposes Prometheus metrics on addr until ctx is done. An empty
// addr disables the endpoint.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown metrics server", "error", err)
		}
	}()

	go func() {
		logger.Info("Serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()
}
