// Package observe provides application-wide observability primitives for
// Lybrarian: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lybrarian metrics.
const meterName = "github.com/MrWong99/lybrarian"

// Retrieval signal names used as the "signal" attribute.
const (
	SignalSemantic   = "semantic"
	SignalStructural = "structural"
)

// Candidate status values used as the "status" attribute.
const (
	StatusValidated = "validated"
	StatusFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RetrievalDuration tracks one retrieval signal. Use with attribute:
	//   attribute.String("signal", SignalSemantic|SignalStructural)
	RetrievalDuration metric.Float64Histogram

	// GenerationDuration tracks a single LLM batch request.
	GenerationDuration metric.Float64Histogram

	// RequestDuration tracks a whole retrieve-and-generate call.
	RequestDuration metric.Float64Histogram

	// --- Counters ---

	// SignalLoss counts retrieval signals degraded to an empty result.
	SignalLoss metric.Int64Counter

	// Candidates counts returned candidates by validation status.
	Candidates metric.Int64Counter

	// Regenerations counts regeneration attempts made by the validator.
	Regenerations metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks in-flight retrieve-and-generate calls.
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by "method",
	// "route" and "status_class". See [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Retrieval
// sits at the low end; LLM batches of ten candidates reach the upper buckets.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RetrievalDuration, err = m.Float64Histogram("lybrarian.retrieval.duration",
		metric.WithDescription("Latency of a single retrieval signal."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("lybrarian.generation.duration",
		metric.WithDescription("Latency of one candidate batch from the language model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("lybrarian.request.duration",
		metric.WithDescription("End-to-end retrieve-and-generate latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SignalLoss, err = m.Int64Counter("lybrarian.signal_loss",
		metric.WithDescription("Retrieval signals replaced by an empty result, by signal."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Counter("lybrarian.candidates",
		metric.WithDescription("Returned candidates by validation status."),
	); err != nil {
		return nil, err
	}
	if met.Regenerations, err = m.Int64Counter("lybrarian.regenerations",
		metric.WithDescription("Regeneration attempts for candidates failing validation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("lybrarian.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lybrarian.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("lybrarian.active_requests",
		metric.WithDescription("Number of in-flight retrieve-and-generate calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lybrarian.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status class."),
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

// RecordRetrieval records the latency of one retrieval signal.
func (m *Metrics) RecordRetrieval(ctx context.Context, signal string, seconds float64) {
	m.RetrievalDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("signal", signal)))
}

// RecordSignalLoss records a retrieval signal degraded to an empty result.
func (m *Metrics) RecordSignalLoss(ctx context.Context, signal string) {
	m.SignalLoss.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

// RecordCandidate records one returned candidate with its validation status.
func (m *Metrics) RecordCandidate(ctx context.Context, status string) {
	m.Candidates.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
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
