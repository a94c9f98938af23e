// Package observe wires scribe into OpenTelemetry: the metric instruments
// of the recording pipeline, tracing helpers, trace-aware loggers and the
// middleware of the ops HTTP router. [InitProvider] installs the global
// providers with a Prometheus bridge behind /metrics.
//
// Components take a *[Metrics] and fall back to [DefaultMetrics]. Tests
// build their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/scribe"

// Reasons recorded by [Metrics.RecordDropped].
const (
	DropEmpty    = "empty"
	DropSTTError = "stt_error"
	DropLate     = "late"
	DropClosed   = "closed"
)

// Metrics holds the instruments of the recording pipeline. Safe for
// concurrent use.
type Metrics struct {
	// Round trips to the speech and language model backends, in seconds.
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram

	// UtteranceLength is the spoken length of each finished utterance.
	UtteranceLength metric.Float64Histogram

	// DrainDuration is how long pause and stop waited for the queue.
	DrainDuration metric.Float64Histogram

	// ProviderRequests carries kind, op and status; ProviderErrors the
	// failed subset by kind and op. See [Metrics.RecordProviderCall].
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	Utterances        metric.Int64Counter
	UtterancesDropped metric.Int64Counter // reason
	CaptureErrors     metric.Int64Counter // stage
	BudgetWarnings    metric.Int64Counter
	BudgetExceeded    metric.Int64Counter
	Transitions       metric.Int64Counter // to
	Revisions         metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter
	ActiveStreams  metric.Int64UpDownCounter
	QueueDepth     metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware] with method, route
	// and status.
	HTTPRequestDuration metric.Float64Histogram
}

var (
	latencyBuckets   = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	utteranceBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}
)

// builder creates instruments on one meter and keeps every error.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	met := &Metrics{
		STTDuration:     b.seconds("scribe.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets),
		LLMDuration:     b.seconds("scribe.llm.duration", "Latency of summary and revision completions.", latencyBuckets),
		UtteranceLength: b.seconds("scribe.utterance.length", "Audio length of finalized utterances.", utteranceBuckets),
		DrainDuration:   b.seconds("scribe.queue.drain.duration", "Time spent waiting for the transcription queue to drain.", latencyBuckets),

		ProviderRequests:  b.counter("scribe.provider.requests", "Provider calls by kind, operation and status."),
		ProviderErrors:    b.counter("scribe.provider.errors", "Failed provider calls by kind and operation."),
		Utterances:        b.counter("scribe.utterances", "Utterances appended to a chat log."),
		UtterancesDropped: b.counter("scribe.utterances.dropped", "Transcription jobs dropped by reason."),
		CaptureErrors:     b.counter("scribe.capture.errors", "Capture stream failures by stage."),
		BudgetWarnings:    b.counter("scribe.tokens.budget_warnings", "Token budget warnings posted."),
		BudgetExceeded:    b.counter("scribe.tokens.budget_exceeded", "Epochs whose chat log reached the force threshold."),
		Transitions:       b.counter("scribe.session.transitions", "Session state transitions by target state."),
		Revisions:         b.counter("scribe.revisions", "Summary revision requests handled."),

		ActiveSessions: b.gauge("scribe.sessions.active", "Sessions that are not closed."),
		ActiveStreams:  b.gauge("scribe.streams.active", "Per-speaker capture streams."),
		QueueDepth:     b.gauge("scribe.queue.depth", "Utterance jobs waiting for transcription."),

		HTTPRequestDuration: b.seconds("scribe.http.request.duration", "Ops endpoint latency by method, route and status.", nil),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global meter provider, created
// on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderCall counts one call to a backend of kind ("stt", "llm")
// performing op, and counts it as an error when err is non-nil.
func (m *Metrics) RecordProviderCall(ctx context.Context, kind, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("op", op),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("op", op),
		attribute.String("status", status),
	))
}

// RecordDropped counts a transcription job dropped for reason.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.UtterancesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCaptureError counts a capture failure at stage: "subscribe",
// "decode" or "stream".
func (m *Metrics) RecordCaptureError(ctx context.Context, stage string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordTransition counts a session entering the named state.
func (m *Metrics) RecordTransition(ctx context.Context, to string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}
