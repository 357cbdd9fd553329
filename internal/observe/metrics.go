// Package observe provides application-wide observability primitives for
// voxfill: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API.
// [InitProvider] bridges them to Prometheus and hands back the scrape
// handler the control server mounts. A package-level default
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

// meterName is the instrumentation scope name used for all voxfill metrics.
const meterName = "github.com/MrWong99/voxfill"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// Transcripts counts recognizer finals seen by the engine. Use with
	// attribute.String("status", "accepted"|"rejected").
	Transcripts metric.Int64Counter

	// Commands counts classified commands. Use with attribute.String("kind", ...).
	Commands metric.Int64Counter

	// FieldWrites counts field writes. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("status", ...)
	FieldWrites metric.Int64Counter

	// FieldWriteDuration tracks how long a complete write took, including
	// inter-event delays.
	FieldWriteDuration metric.Float64Histogram

	// RecognizerRestarts counts listen-loop restarts. Use with
	// attribute.String("reason", "no_speech"|"error").
	RecognizerRestarts metric.Int64Counter

	// RecognizerDuration tracks the lifetime of individual recognizer sessions.
	RecognizerDuration metric.Float64Histogram

	// EngineActive is 1 while an engine session is active.
	EngineActive metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// field writes, which are dominated by the simulated event delays.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// sessionBuckets covers recognizer session lifetimes, from an immediate
// failure up to several minutes of continuous listening.
var sessionBuckets = []float64{
	0.1, 0.5, 1, 5, 10, 30, 60, 300, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Transcripts, err = m.Int64Counter("voxfill.transcripts",
		metric.WithDescription("Recognizer finals by filter outcome."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voxfill.commands",
		metric.WithDescription("Classified voice commands by kind."),
	); err != nil {
		return nil, err
	}
	if met.FieldWrites, err = m.Int64Counter("voxfill.field_writes",
		metric.WithDescription("Field writes by strategy and status."),
	); err != nil {
		return nil, err
	}
	if met.FieldWriteDuration, err = m.Float64Histogram("voxfill.field_write.duration",
		metric.WithDescription("Latency of a complete field write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizerRestarts, err = m.Int64Counter("voxfill.recognizer.restarts",
		metric.WithDescription("Recognizer restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerDuration, err = m.Float64Histogram("voxfill.recognizer.duration",
		metric.WithDescription("Lifetime of a single recognizer session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineActive, err = m.Int64UpDownCounter("voxfill.engine.active",
		metric.WithDescription("Number of active engine sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxfill.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordTranscript records one filter outcome.
func (m *Metrics) RecordTranscript(ctx context.Context, accepted bool) {
	status := "rejected"
	if accepted {
		status = "accepted"
	}
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCommand records one classified command.
func (m *Metrics) RecordCommand(ctx context.Context, kind string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFieldWrite records a write attempt and its latency.
func (m *Metrics) RecordFieldWrite(ctx context.Context, strategy, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("status", status),
	)
	m.FieldWrites.Add(ctx, 1, attrs)
	m.FieldWriteDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRecognizerSession records the end of a recognizer session. reason is
// empty when the session was stopped by the caller and no restart follows.
func (m *Metrics) RecordRecognizerSession(ctx context.Context, reason string, d time.Duration) {
	m.RecognizerDuration.Record(ctx, d.Seconds())
	if reason != "" {
		m.RecognizerRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
