package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// installRecordingTracer swaps in a tracer provider with an in-memory
// exporter for the duration of the test and returns the exporter.
func installRecordingTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartStageSpanNameAndAttribute(t *testing.T) {
	exp := installRecordingTracer(t)

	_, span := StartStageSpan(context.Background(), "stt")
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "pipeline.stt" {
		t.Errorf("span name = %q, want pipeline.stt", spans[0].Name)
	}

	var stage string
	for _, a := range spans[0].Attributes {
		if string(a.Key) == AttrStage {
			stage = a.Value.AsString()
		}
	}
	if stage != "stt" {
		t.Errorf("%s attribute = %q, want stt", AttrStage, stage)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful stage span marked as error")
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exp := installRecordingTracer(t)

	_, span := StartStageSpan(context.Background(), "tts")
	EndSpan(span, errors.New("synthesis endpoint returned 500"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "synthesis endpoint returned 500" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
	if len(spans[0].Events) == 0 {
		t.Error("no exception event recorded")
	}
}

func TestStartSpanCreatesSpan(t *testing.T) {
	exp := installRecordingTracer(t)

	ctx, span := StartSpan(context.Background(), "handle_message",
		trace.WithAttributes(attribute.String("type", "heartbeat")))
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "handle_message" {
		t.Fatalf("spans = %+v, want one named handle_message", spans)
	}
}

func TestCorrelationIDEmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationIDIsHexTraceID(t *testing.T) {
	installRecordingTracer(t)

	ctx, span := StartStageSpan(context.Background(), "multimodal")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("correlation ID contains non-hex character %q", c)
		}
	}
}

func TestCorrelationIDUniquePerTrace(t *testing.T) {
	installRecordingTracer(t)

	ids := make(map[string]struct{}, 100)
	for range 100 {
		ctx, span := StartStageSpan(context.Background(), "stt")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := ids[cid]; dup {
			t.Fatalf("duplicate correlation ID: %s", cid)
		}
		ids[cid] = struct{}{}
	}
}

func TestLoggerCarriesSpanIdentity(t *testing.T) {
	installRecordingTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, span := StartStageSpan(context.Background(), "stt")
	defer span.End()

	Logger(ctx).Info("transcribing")

	logged := buf.String()
	if !bytes.Contains([]byte(logged), []byte("trace_id=")) {
		t.Errorf("log output missing trace_id: %s", logged)
	}
	if !bytes.Contains([]byte(logged), []byte("span_id=")) {
		t.Errorf("log output missing span_id: %s", logged)
	}
}

func TestLoggerPlainWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("idle")

	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("log output should not contain trace_id: %s", buf.String())
	}
}
