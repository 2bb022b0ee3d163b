// Package observability provides OpenTelemetry-based metrics instrumentation
// for the stream archiver, exported in Prometheus exposition format.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Module owns the OTel MeterProvider and the Prometheus exposition server.
// It is the central entry point for observability setup: create it once at
// startup, hand its Meter to NewMetrics, and Shutdown on the way out.
type Module struct {
	provider *sdkmetric.MeterProvider
	meter    otelmetric.Meter
	server   *http.Server
}

// New creates a new observability Module. It configures a Prometheus
// exporter as the metric reader, creates a MeterProvider, and sets it as
// the global OTel MeterProvider. The jobName is used as the meter scope
// name.
func New(jobName string) (*Module, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return &Module{
		provider: provider,
		meter:    provider.Meter(jobName),
	}, nil
}

// ServeMetrics starts the Prometheus exposition endpoint at /metrics on
// addr in the background. Shutdown stops it.
func (m *Module) ServeMetrics(addr string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.MetricsHandler())
	m.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

// Shutdown stops the exposition server, if started, and shuts down the
// MeterProvider, flushing any remaining metric data.
func (m *Module) Shutdown(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics
// in the standard exposition format.
func (m *Module) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Meter returns the OTel Meter for creating metric instruments.
func (m *Module) Meter() otelmetric.Meter {
	return m.meter
}
