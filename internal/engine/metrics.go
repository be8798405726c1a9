package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationScope = "github.com/loomworks/loom/internal/engine"

// metrics holds the engine's OTel counters. With telemetry disabled the
// global meter provider is a no-op, so recording costs nothing.
type metrics struct {
	claims      metric.Int64Counter
	completions metric.Int64Counter
	forced      metric.Int64Counter
	reclaims    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(instrumentationScope)
	m := &metrics{}
	m.claims, _ = meter.Int64Counter("loom.steps.claimed",
		metric.WithDescription("Steps claimed by orchestrators"))
	m.completions, _ = meter.Int64Counter("loom.steps.completed",
		metric.WithDescription("Steps completed through the gate"))
	m.forced, _ = meter.Int64Counter("loom.steps.force_completed",
		metric.WithDescription("Administrative force completions"))
	m.reclaims, _ = meter.Int64Counter("loom.leases.reclaimed",
		metric.WithDescription("Expired leases returned to the ready pool"))
	return m
}
