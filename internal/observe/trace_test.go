package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// useTestTracer installs a TracerProvider with an in-memory exporter as the
// global provider for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_CreatesSpan(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "turn")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "turn" {
		t.Fatalf("spans = %v, want one named turn", spans)
	}
}

func TestTurnID_RoundTrip(t *testing.T) {
	if TurnID(context.Background()) != "" {
		t.Error("TurnID on empty context should be empty")
	}
	ctx := WithTurnID(context.Background(), "abc")
	if got := TurnID(ctx); got != "abc" {
		t.Errorf("TurnID = %q, want abc", got)
	}
}

func TestLogger_IncludesTurnAndTrace(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(WithTurnID(context.Background(), "turn-1"), "log-test")
	defer span.End()
	Logger(ctx).Info("test message")

	logged := buf.String()
	if !strings.Contains(logged, "turn_id=turn-1") {
		t.Errorf("log output missing turn_id, got: %s", logged)
	}
	if !strings.Contains(logged, "trace_id=") {
		t.Errorf("log output missing trace_id, got: %s", logged)
	}
}

func TestLogger_Plain(t *testing.T) {
	buf := captureLogs(t)
	Logger(context.Background()).Info("test message")
	if strings.Contains(buf.String(), "trace_id") || strings.Contains(buf.String(), "turn_id") {
		t.Errorf("unexpected attributes: %s", buf.String())
	}
}

func TestStartStage(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	_, st := StartStage(context.Background(), m, StageLLM)
	time.Sleep(time.Millisecond)
	if d := st.End(errors.New("rate limited")); d <= 0 {
		t.Errorf("duration = %v, want > 0", d)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "stage.llm" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status.Code)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "voicerelay.llm.duration")
	if met == nil {
		t.Fatal("llm histogram not found")
	}
	if hist := met.Data.(metricdata.Histogram[float64]); hist.DataPoints[0].Count != 1 {
		t.Errorf("sample count = %d, want 1", hist.DataPoints[0].Count)
	}
}

func TestStartStage_NilMetrics(t *testing.T) {
	useTestTracer(t)
	_, st := StartStage(context.Background(), nil, StageTTS)
	st.End(nil)
}
