package retrieval

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/searchd/internal/retrieval"

// Metrics holds retrieval engine metrics.
type Metrics struct {
	meter           metric.Meter
	searchDuration  metric.Float64Histogram
	searchResults   metric.Int64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	sessionFailures metric.Int64Counter
}

// NewMetrics creates the engine instruments.
func NewMetrics(logger *logging.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName)}

	var err error
	m.searchDuration, err = m.meter.Float64Histogram(
		"searchd.search.duration_seconds",
		metric.WithDescription("End-to-end search latency including embedding, fan-out, enrichment, and assembly."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Zap().Warn("failed to create search duration histogram", zap.Error(err))
	}

	m.searchResults, err = m.meter.Int64Histogram(
		"searchd.search.results",
		metric.WithDescription("Result count per successful search."),
		metric.WithUnit("{result}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100),
	)
	if err != nil {
		logger.Zap().Warn("failed to create search results histogram", zap.Error(err))
	}

	m.cacheHits, err = m.meter.Int64Counter(
		"searchd.enrichment.cache_hits_total",
		metric.WithDescription("Enrichment lookups served from the LRU cache."),
	)
	if err != nil {
		logger.Zap().Warn("failed to create cache hit counter", zap.Error(err))
	}

	m.cacheMisses, err = m.meter.Int64Counter(
		"searchd.enrichment.cache_misses_total",
		metric.WithDescription("Enrichment lookups that went to the metadata store."),
	)
	if err != nil {
		logger.Zap().Warn("failed to create cache miss counter", zap.Error(err))
	}

	m.sessionFailures, err = m.meter.Int64Counter(
		"searchd.sessions.write_failures_total",
		metric.WithDescription("Best-effort session writes that failed."),
	)
	if err != nil {
		logger.Zap().Warn("failed to create session failure counter", zap.Error(err))
	}

	return m
}

// RecordSearch records one search outcome.
func (m *Metrics) RecordSearch(ctx context.Context, duration time.Duration, results int, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	if m.searchDuration != nil {
		m.searchDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if success && m.searchResults != nil {
		m.searchResults.Record(ctx, int64(results))
	}
}

// RecordCacheHit counts one enrichment cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m.cacheHits != nil {
		m.cacheHits.Add(ctx, 1)
	}
}

// RecordCacheMiss counts one enrichment cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m.cacheMisses != nil {
		m.cacheMisses.Add(ctx, 1)
	}
}

// RecordSessionWriteFailure counts one failed best-effort session write.
func (m *Metrics) RecordSessionWriteFailure(ctx context.Context) {
	if m.sessionFailures != nil {
		m.sessionFailures.Add(ctx, 1)
	}
}
