// Package observe provides voiceloom's observability primitives: OpenTelemetry
// metric instruments for the speech/inference pipeline and a Prometheus
// exporter bridge so metrics can be scraped via /metrics.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voiceloom metrics.
const meterName = "github.com/voiceloom/voiceloom"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// The underlying OTel types handle their own synchronisation, so all fields
// are safe for concurrent use.
type Metrics struct {
	// InferenceDuration tracks per-task latency on the inference queue.
	// Use with attribute.String("kind", ...) — vad, stt, llm, or tts.
	InferenceDuration metric.Float64Histogram

	// InferenceQueueDepth tracks the number of tasks waiting on or executing
	// in the inference queue.
	InferenceQueueDepth metric.Int64UpDownCounter

	// InferenceTasks counts tasks by kind and status (ok, error).
	InferenceTasks metric.Int64Counter

	// DeviceLost counts inference failures that match the device-loss
	// signature. These are logged but not retried.
	DeviceLost metric.Int64Counter

	// Segments counts utterance segments by status (dispatched, discarded,
	// overflow).
	Segments metric.Int64Counter

	// Thoughts counts thought records by status (emitted, skipped).
	Thoughts metric.Int64Counter

	// Turns counts completed conversational turns by outcome (ok, apology,
	// aborted).
	Turns metric.Int64Counter

	// FramesDropped counts microphone frames dropped by the playback gate.
	FramesDropped metric.Int64Counter

	// PlaybackSeconds accumulates seconds of synthesized audio played.
	PlaybackSeconds metric.Float64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline inference latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("voiceloom.inference.duration",
		metric.WithDescription("Latency of tasks executed on the inference queue."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceQueueDepth, err = m.Int64UpDownCounter("voiceloom.inference.queue_depth",
		metric.WithDescription("Tasks waiting on or executing in the inference queue."),
	); err != nil {
		return nil, err
	}
	if met.InferenceTasks, err = m.Int64Counter("voiceloom.inference.tasks",
		metric.WithDescription("Total inference tasks by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.DeviceLost, err = m.Int64Counter("voiceloom.inference.device_lost",
		metric.WithDescription("Inference failures matching the device-loss signature."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voiceloom.vad.segments",
		metric.WithDescription("Utterance segments by status."),
	); err != nil {
		return nil, err
	}
	if met.Thoughts, err = m.Int64Counter("voiceloom.thoughts",
		metric.WithDescription("Thought records by status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voiceloom.turns",
		metric.WithDescription("Completed conversational turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voiceloom.audio.frames_dropped",
		metric.WithDescription("Microphone frames dropped by the playback gate."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSeconds, err = m.Float64Counter("voiceloom.audio.playback_seconds",
		metric.WithDescription("Seconds of synthesized audio played."),
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

// RecordInference records one inference task: its latency histogram sample
// and the per-kind counter increment.
func (m *Metrics) RecordInference(ctx context.Context, kind, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.InferenceDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
	m.InferenceTasks.Add(ctx, 1, attrs)
}

// RecordSegment records one utterance segment outcome.
func (m *Metrics) RecordSegment(ctx context.Context, status string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordThought records one parsed thought outcome.
func (m *Metrics) RecordThought(ctx context.Context, status string) {
	m.Thoughts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTurn records one completed conversational turn.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
