// Package observe provides application-wide observability primitives for
// voicepipe: OpenTelemetry metrics, tracing helpers, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all voicepipe metrics.
const meterName = "github.com/verbalia/voicepipe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture path ---

	// FramesEmitted counts PCM frames handed to the outbound stream.
	FramesEmitted metric.Int64Counter

	// FramesDropped counts frames evicted under backpressure (queue full).
	// A non-zero rate means the frame consumer is not keeping up.
	FramesDropped metric.Int64Counter

	// CaptureInitDuration tracks device acquisition latency, including the
	// sample-rate fallback retry when one happens.
	CaptureInitDuration metric.Float64Histogram

	// --- Playback path ---

	// PlaybackDuration tracks wall time of a single playback, load to done.
	PlaybackDuration metric.Float64Histogram

	// PlaybackFailures counts playbacks that were resolved fail-open rather
	// than completing cleanly. Playback never fails the call, so this
	// counter is the only visibility into systemic audio failures. Use with
	// attribute.String("reason", ...): fetch, decode, output, timeout.
	PlaybackFailures metric.Int64Counter

	// Ringtones counts procedural ringtone playbacks.
	Ringtones metric.Int64Counter

	// --- Pipeline ---

	// StateTransitions counts facade state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live duplex sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesEmitted, err = m.Int64Counter("voicepipe.capture.frames_emitted",
		metric.WithDescription("Total PCM frames emitted to the outbound stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicepipe.capture.frames_dropped",
		metric.WithDescription("Total frames dropped under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("voicepipe.playback.failures",
		metric.WithDescription("Total playbacks resolved fail-open, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Ringtones, err = m.Int64Counter("voicepipe.playback.ringtones",
		metric.WithDescription("Total procedural ringtone playbacks."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voicepipe.pipeline.state_transitions",
		metric.WithDescription("Total pipeline state transitions by from/to state."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.CaptureInitDuration, err = m.Float64Histogram("voicepipe.capture.init.duration",
		metric.WithDescription("Latency of input device acquisition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voicepipe.playback.duration",
		metric.WithDescription("Wall time of a single playback, load start to done."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicepipe.active_sessions",
		metric.WithDescription("Number of live duplex sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicepipe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordPlaybackFailure records a fail-open playback resolution with the
// standard reason attribute.
func (m *Metrics) RecordPlaybackFailure(ctx context.Context, reason string) {
	m.PlaybackFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordStateTransition records a pipeline state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
