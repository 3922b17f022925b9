package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "transcriptdesk"

// Metrics records operation outcomes. It reads the global MeterProvider,
// which is a no-op until the host process installs one.
type Metrics struct {
	operations metric.Int64Counter
}

func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(meterName))
}

func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	ops, err := meter.Int64Counter("transcriptdesk.operations",
		metric.WithDescription("Concurrency-controlled operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{operations: ops}, nil
}

// Record counts one operation. A nil receiver records nothing.
func (m *Metrics) Record(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
