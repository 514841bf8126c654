// Package telemetry wires OpenTelemetry traces, metrics and logs, continuous
// profiling, and the sync engine's business metrics.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/infrastructure/config"
)

const (
	// ServiceVersion is reported on every resource
	ServiceVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

// newResource describes this service to the collector
func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdowner is implemented by the sdk providers
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown flushes p with a bounded timeout. A nil p (telemetry disabled) is a no-op.
func shutdown(ctx context.Context, p shutdowner, what string, logger *zap.Logger) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down "+what, zap.Error(err))
		return fmt.Errorf("failed to shutdown %s: %w", what, err)
	}
	logger.Info(what + " shutdown complete")
	return nil
}

// Providers bundles the three signal providers so the server can start and stop them together
type Providers struct {
	Tracer *TracerProvider
	Meter  *MeterProvider
	Logs   *LoggerProvider
}

// NewProviders starts the trace, metric and log providers. With telemetry
// disabled every provider is a no-op.
func NewProviders(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	tp, err := NewTracerProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	mp, err := NewMeterProvider(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	lp, err := NewLoggerProvider(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	return &Providers{Tracer: tp, Meter: mp, Logs: lp}, nil
}

// Shutdown flushes and stops all providers, logs last so the others can still log
func (p *Providers) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range []func(context.Context) error{p.Tracer.Shutdown, p.Meter.Shutdown, p.Logs.Shutdown} {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
