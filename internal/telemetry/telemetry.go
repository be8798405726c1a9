// Package telemetry provides opt-in OpenTelemetry integration.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
// # Configuration
//
//	LOOM_OTEL_ENABLED=true   enable telemetry (default: off)
//	OTEL_SERVICE_NAME=loom   override service name
//
// When enabled, spans and metrics are pretty-printed to stderr. The
// engine records its counters against the global meter provider, so a
// deployment can swap in an OTLP pipeline without touching engine code.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active (LOOM_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("LOOM_OTEL_ENABLED") == "true"
}

// Init configures OTel providers. When LOOM_OTEL_ENABLED is not "true"
// this installs no-op providers and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

// Shutdown flushes and stops all providers started by Init.
func Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	shutdownFns = nil
	return firstErr
}
