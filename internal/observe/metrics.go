// Package observe provides application-wide observability primitives for
// lectern: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lectern metrics.
const meterName = "github.com/MrWong99/lectern"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Scoring ---

	// ScoreDuration tracks how long one scoring call takes. Use with
	// attribute.String("path", ...) ("direct" or "respeak").
	ScoreDuration metric.Float64Histogram

	// ScoreAccuracy records the distribution of returned accuracies.
	ScoreAccuracy metric.Float64Histogram

	// ScoreRequests counts scoring calls. Use with attributes:
	//   attribute.String("path", ...), attribute.String("status", ...)
	ScoreRequests metric.Int64Counter

	// --- Provider latency ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Batch ---

	// BatchItems counts batch items by outcome. Use with attribute:
	//   attribute.String("status", ...)
	BatchItems metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Scoring
// lands in the low buckets, provider round trips in the high ones.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// accuracyBuckets covers [0, 1] with the grading thresholds as edges.
var accuracyBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Scoring.
	if met.ScoreDuration, err = m.Float64Histogram("lectern.score.duration",
		metric.WithDescription("Latency of one scoring call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScoreAccuracy, err = m.Float64Histogram("lectern.score.accuracy",
		metric.WithDescription("Distribution of reading accuracy."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(accuracyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScoreRequests, err = m.Int64Counter("lectern.score.requests",
		metric.WithDescription("Total scoring calls by path and status."),
	); err != nil {
		return nil, err
	}

	// Provider histograms.
	if met.STTDuration, err = m.Float64Histogram("lectern.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("lectern.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("lectern.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lectern.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("lectern.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider, kind, and new state."),
	); err != nil {
		return nil, err
	}

	if met.BatchItems, err = m.Int64Counter("lectern.batch.items",
		metric.WithDescription("Total batch items by status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("lectern.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordScore records one scoring call. accuracy is only recorded on success.
func (m *Metrics) RecordScore(ctx context.Context, path string, d time.Duration, accuracy float64, err error) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.ScoreDuration.Record(ctx, d.Seconds(), attrs)
	m.ScoreRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status", Status(err)),
	))
	if err == nil {
		m.ScoreAccuracy.Record(ctx, accuracy, attrs)
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderCall records the latency, request count and, on failure, the
// error count of one provider call. kind is "stt" or "tts"; other kinds are
// only counted.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", Status(err)),
	)
	switch kind {
	case "stt":
		m.STTDuration.Record(ctx, d.Seconds(), attrs)
	case "tts":
		m.TTSDuration.Record(ctx, d.Seconds(), attrs)
	}
	m.RecordProviderRequest(ctx, provider, kind, Status(err))
	if err != nil {
		m.RecordProviderError(ctx, provider, kind)
	}
}

// RecordBreakerTransition counts one circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("state", state),
	))
}

// RecordBatchItem counts one finished batch item.
func (m *Metrics) RecordBatchItem(ctx context.Context, status string) {
	m.BatchItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
