package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution metrics for the middleware.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordDispatch records a dispatched operation with duration and error status.
	RecordDispatch(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordCacheLookup records a cache hit or miss for a category.
	RecordCacheLookup(ctx context.Context, category string, hit bool)

	// RecordRateLimitWait records time spent waiting on the limiter for a key.
	RecordRateLimitWait(ctx context.Context, key string, wait time.Duration)

	// RecordQueueDepth records the current number of queued requests.
	RecordQueueDepth(ctx context.Context, depth int)

	// RecordRetry records a retried attempt for a key.
	RecordRetry(ctx context.Context, key string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	cacheLookups metric.Int64Counter
	limitWait    metric.Float64Histogram
	queueDepth   metric.Int64Gauge
	retries      metric.Int64Counter
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"dispatch.exec.total",
		metric.WithDescription("Total number of dispatched operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"dispatch.exec.errors",
		metric.WithDescription("Total number of dispatched operations that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"dispatch.exec.duration_ms",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Cache lookups partitioned by hit/miss"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	limitWait, err := meter.Float64Histogram(
		"ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for a rate-limit permit"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"queue.depth",
		metric.WithDescription("Current number of queued requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"queue.retries",
		metric.WithDescription("Total retried attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		cacheLookups: cacheLookups,
		limitWait:    limitWait,
		queueDepth:   queueDepth,
		retries:      retries,
	}, nil
}

// RecordDispatch records metrics for a dispatched operation.
func (m *metricsImpl) RecordDispatch(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("op.endpoint", meta.Endpoint),
		attribute.Bool("op.mutating", meta.Mutating),
	}
	if meta.Category != "" {
		attrs = append(attrs, attribute.String("op.category", meta.Category))
	}

	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordCacheLookup(ctx context.Context, category string, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.category", category),
		attribute.Bool("cache.hit", hit),
	))
}

func (m *metricsImpl) RecordRateLimitWait(ctx context.Context, key string, wait time.Duration) {
	m.limitWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(
		attribute.String("ratelimit.key", key),
	))
}

func (m *metricsImpl) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}

func (m *metricsImpl) RecordRetry(ctx context.Context, key string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ratelimit.key", key),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordDispatch(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
}
func (m *noopMetrics) RecordCacheLookup(ctx context.Context, category string, hit bool)        {}
func (m *noopMetrics) RecordRateLimitWait(ctx context.Context, key string, wait time.Duration) {}
func (m *noopMetrics) RecordQueueDepth(ctx context.Context, depth int)                         {}
func (m *noopMetrics) RecordRetry(ctx context.Context, key string)                             {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics {
	return &noopMetrics{}
}
