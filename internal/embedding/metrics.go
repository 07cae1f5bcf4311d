package embedding

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/searchd/internal/embedding"

// Metrics holds embedding client metrics.
type Metrics struct {
	meter    metric.Meter
	duration metric.Float64Histogram
	degraded metric.Int64Counter
}

// NewMetrics creates the embedding client instruments.
func NewMetrics(logger *logging.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName)}

	var err error
	m.duration, err = m.meter.Float64Histogram(
		"searchd.embedding.duration_seconds",
		metric.WithDescription("Duration of query embedding calls to the multimodal worker, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		logger.Zap().Warn("failed to create duration histogram", zap.Error(err))
	}

	m.degraded, err = m.meter.Int64Counter(
		"searchd.embedding.degraded_total",
		metric.WithDescription("Queries that fell back to a zero vector because the worker was unavailable."),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		logger.Zap().Warn("failed to create degraded counter", zap.Error(err))
	}

	return m
}

// RecordEmbed records one embed call outcome.
func (m *Metrics) RecordEmbed(ctx context.Context, duration time.Duration, degraded bool) {
	attrs := metric.WithAttributes(attribute.Bool("degraded", degraded))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if degraded && m.degraded != nil {
		m.degraded.Add(ctx, 1)
	}
}
