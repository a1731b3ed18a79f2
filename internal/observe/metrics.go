// Package observe provides the relay's observability primitives:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. Tests should use [NewMetrics] with a
// [sdkmetric.ManualReader]-backed provider to avoid cross-test pollution.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all relay metrics.
const meterName = "github.com/lkeff/voicerelay"

// Pipeline stage names used as metric and span labels.
const (
	StageCapture  = "capture"
	StageSTT      = "stt"
	StageLLM      = "llm"
	StageTTS      = "tts"
	StagePlayback = "playback"
)

// Metrics holds all OpenTelemetry instruments for the relay. The underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	CaptureDuration  metric.Float64Histogram
	STTDuration      metric.Float64Histogram
	LLMDuration      metric.Float64Histogram
	TTSDuration      metric.Float64Histogram
	PlaybackDuration metric.Float64Histogram

	// TurnDuration tracks trigger-to-playback-finished latency of whole turns.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished turns. Attribute: outcome.
	Turns metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, stage, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// provider, state.
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request time of the metrics/health server.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Capture and playback
// run for the configured clip length, so the range reaches past 10 s.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.CaptureDuration, "voicerelay.capture.duration", "Time spent recording from the input device."},
		{&met.STTDuration, "voicerelay.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "voicerelay.llm.duration", "Latency of reply generation."},
		{&met.TTSDuration, "voicerelay.tts.duration", "Latency of speech synthesis."},
		{&met.PlaybackDuration, "voicerelay.playback.duration", "Time spent playing the reply on the output device."},
		{&met.TurnDuration, "voicerelay.turn.duration", "Duration of a whole turn."},
	}
	for _, h := range histograms {
		var err error
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, fmt.Errorf("observe: create %s: %w", h.name, err)
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Turns, "voicerelay.turns", "Finished turns by outcome."},
		{&met.ProviderRequests, "voicerelay.provider.requests", "Provider calls by provider, stage, and status."},
		{&met.ProviderErrors, "voicerelay.provider.errors", "Provider errors by provider and kind."},
		{&met.BreakerTransitions, "voicerelay.breaker.transitions", "Circuit breaker state changes by provider and new state."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("observe: create %s: %w", c.name, err)
		}
	}

	var err error
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicerelay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observe: create voicerelay.http.request.duration: %w", err)
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the Prometheus exporter.
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

// RecordStage records the duration of one pipeline stage. Unknown stage
// names are ignored.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	var h metric.Float64Histogram
	switch stage {
	case StageCapture:
		h = m.CaptureDuration
	case StageSTT:
		h = m.STTDuration
	case StageLLM:
		h = m.LLMDuration
	case StageTTS:
		h = m.TTSDuration
	case StagePlayback:
		h = m.PlaybackDuration
	default:
		return
	}
	h.Record(ctx, d.Seconds())
}

// RecordTurn records a finished turn with its outcome label.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, stage, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
