package httpapi

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/searchd/internal/httpapi"

// Metrics holds HTTP-layer metrics.
type Metrics struct {
	meter         metric.Meter
	requestsTotal metric.Int64Counter
	requestDur    metric.Float64Histogram
	responseSize  metric.Int64Histogram
}

// NewMetrics creates the HTTP instruments.
func NewMetrics(logger *logging.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName)}

	var err error
	m.requestsTotal, err = m.meter.Int64Counter(
		"searchd.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, route, and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Zap().Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"searchd.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, route, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Zap().Warn("failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"searchd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	if err != nil {
		logger.Zap().Warn("failed to create response size histogram", zap.Error(err))
	}

	return m
}

// RecordRequest records one completed request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration, size int64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	if m.requestsTotal != nil {
		m.requestsTotal.Add(ctx, 1, attrs)
	}
	if m.requestDur != nil {
		m.requestDur.Record(ctx, duration.Seconds(), attrs)
	}
	if m.responseSize != nil {
		m.responseSize.Record(ctx, size, attrs)
	}
}
