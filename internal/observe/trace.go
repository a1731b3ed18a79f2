package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the relay tracer.
const tracerName = "github.com/lkeff/voicerelay"

type turnIDKey struct{}

// Tracer returns the relay's [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithTurnID returns a copy of ctx carrying the turn identifier.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnID returns the turn identifier stored in ctx, or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the turn_id and trace_id
// found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := TurnID(ctx); id != "" {
		l = l.With(slog.String("turn_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(slog.String("trace_id", sc.TraceID().String()))
	}
	return l
}

// Stage tracks one pipeline stage as a span plus a latency sample.
type Stage struct {
	ctx     context.Context
	span    trace.Span
	name    string
	start   time.Time
	metrics *Metrics
}

// StartStage opens a span named "stage.<name>" and starts the stage clock.
// m may be nil, in which case no latency is recorded.
func StartStage(ctx context.Context, m *Metrics, name string) (context.Context, *Stage) {
	ctx, span := StartSpan(ctx, "stage."+name, trace.WithAttributes(attribute.String("stage", name)))
	return ctx, &Stage{ctx: ctx, span: span, name: name, start: time.Now(), metrics: m}
}

// End closes the stage, marking the span as failed when err is non-nil, and
// returns the elapsed time.
func (s *Stage) End(err error) time.Duration {
	d := time.Since(s.start)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
	if s.metrics != nil {
		s.metrics.RecordStage(s.ctx, s.name, d)
	}
	return d
}
