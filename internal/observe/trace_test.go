package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer routes the global tracer to an in-memory exporter for the
// duration of the test. Tests using it must not run in parallel.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs swaps the default logger for one writing to the returned
// buffer. Tests using it must not run in parallel.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestTraceID(t *testing.T) {
	installTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "session.transcribe")
	defer span.End()
	id := TraceID(ctx)
	if len(id) != 32 {
		t.Fatalf("TraceID = %q, want 32 hex characters", id)
	}

	child, childSpan := StartSpan(ctx, "stt.request")
	defer childSpan.End()
	if TraceID(child) != id {
		t.Error("child span should share the parent's trace id")
	}

	other, otherSpan := StartSpan(context.Background(), "session.summarize")
	defer otherSpan.End()
	if TraceID(other) == id {
		t.Error("independent spans should have distinct trace ids")
	}
}

func TestEndSpan(t *testing.T) {
	exp := installTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "failed")
	EndSpan(failed, errors.New("provider unavailable"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("ok span status = %v, want unset", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "provider unavailable" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 || spans[1].Events[0].Name != "exception" {
		t.Errorf("failed span should record the error as an event, got %+v", spans[1].Events)
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span carries a trace id: %s", buf)
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "session.pause")
	defer span.End()
	SessionLogger(ctx, "owner-1").Info("traced")

	line := buf.String()
	for _, want := range []string{"trace_id=" + TraceID(ctx), "span_id=", "session_id=owner-1"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q lacks %q", line, want)
		}
	}
}
