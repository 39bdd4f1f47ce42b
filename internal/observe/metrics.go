// Package observe provides the server's observability primitives:
// OpenTelemetry metric instruments with a Prometheus exporter bridge so the
// pool and session layers can be watched via a standard /metrics endpoint.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/yc7764/whisperstream"

// Metrics holds all OpenTelemetry metric instruments for the server.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscribeDuration tracks per-utterance model inference latency.
	TranscribeDuration metric.Float64Histogram

	// AllocWaitDuration tracks how long session handlers waited for an idle
	// engine.
	AllocWaitDuration metric.Float64Histogram

	// SessionDuration tracks total session lifetime from handshake to close.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// Sessions counts finished sessions. Use with attribute:
	//   attribute.String("outcome", ...) — ok, too_busy, timeout, protocol_error, disconnect
	Sessions metric.Int64Counter

	// Utterances counts recognized utterances emitted as %R frames.
	Utterances metric.Int64Counter

	// ProtocolErrors counts malformed frames and illegal packets.
	ProtocolErrors metric.Int64Counter

	// TranscribeErrors counts model failures reported as %E frames.
	TranscribeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live client connections past the
	// handshake.
	ActiveSessions metric.Int64UpDownCounter

	// BusyEngines tracks how many pool slots are currently allocated.
	BusyEngines metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// streaming-recognition latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("whisperstream.transcribe.duration",
		metric.WithDescription("Latency of one utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AllocWaitDuration, err = m.Float64Histogram("whisperstream.pool.alloc_wait",
		metric.WithDescription("Time spent waiting for an idle engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("whisperstream.session.duration",
		metric.WithDescription("Session lifetime from handshake to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Sessions, err = m.Int64Counter("whisperstream.sessions",
		metric.WithDescription("Finished sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("whisperstream.utterances",
		metric.WithDescription("Recognized utterances emitted to clients."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("whisperstream.protocol_errors",
		metric.WithDescription("Malformed frames and illegal packets."),
	); err != nil {
		return nil, err
	}
	if met.TranscribeErrors, err = m.Int64Counter("whisperstream.transcribe_errors",
		metric.WithDescription("Model failures reported in-session."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("whisperstream.sessions.active",
		metric.WithDescription("Live client connections past the handshake."),
	); err != nil {
		return nil, err
	}
	if met.BusyEngines, err = m.Int64UpDownCounter("whisperstream.engines.busy",
		metric.WithDescription("Pool slots currently allocated to sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// SessionOutcome returns the attribute set recording why a session ended.
func SessionOutcome(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}

// --- Default instance ---

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns a process-wide Metrics instance built from the
// global OTel meter provider. Tests should use [NewMetrics] with their own
// provider to avoid cross-test pollution.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The no-op provider never fails; a real provider failing here
			// is a programming error in instrument names.
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

