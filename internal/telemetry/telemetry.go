// internal/telemetry/telemetry.go
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewLogger returns a JSON or text slog logger writing to w at the given level.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ShutdownFunc flushes and stops telemetry exporters.
type ShutdownFunc func(ctx context.Context) error

// SetupTracing installs a global SDK tracer provider exporting over OTLP/HTTP to endpoint. With an empty
// endpoint the global no-op provider stays in place and the returned shutdown does nothing.
func SetupTracing(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// SetupMetrics installs a global SDK meter provider. With an endpoint, a periodic reader pushes the
// circulation instruments over OTLP/HTTP; extra readers are attached as given. With neither, the global
// no-op provider stays in place.
func SetupMetrics(ctx context.Context, serviceName, endpoint string, readers ...sdkmetric.Reader) (ShutdownFunc, error) {
	if endpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter))
	}
	if len(readers) == 0 {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Setup installs tracing and metrics. The returned shutdown flushes both.
func Setup(ctx context.Context, serviceName, tracesEndpoint, metricsEndpoint string) (ShutdownFunc, error) {
	shutdownTracing, err := SetupTracing(ctx, serviceName, tracesEndpoint)
	if err != nil {
		return nil, err
	}
	shutdownMetrics, err := SetupMetrics(ctx, serviceName, metricsEndpoint)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(shutdownMetrics(ctx), shutdownTracing(ctx))
	}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}
