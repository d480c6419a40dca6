package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"bloodbank/internal/core"
	"bloodbank/pkg/domain"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ core.Tracer = (*Tracer)(nil)

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return New(provider), recorder
}

func TestTracerRecordsOperationSpans(t *testing.T) {
	tracer, recorder := newRecordingTracer()
	ctx, span := tracer.Start(context.Background(), "submit_mci_request")
	if ctx == context.Background() {
		t.Fatalf("expected span context")
	}
	span.End(nil)
	_, failed := tracer.Start(context.Background(), "get_request")
	failed.End(errors.New("request r1 not found"))

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "bloodbank.submit_mci_request" || ended[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %+v", ended[0].Name(), ended[0].Status())
	}
	attrs := ended[0].Attributes()
	if len(attrs) != 1 || attrs[0].Value.AsString() != "submit_mci_request" {
		t.Fatalf("expected operation attribute, got %+v", attrs)
	}
	if ended[1].Status().Code != codes.Error || len(ended[1].Events()) != 1 {
		t.Fatalf("expected error status and recorded exception, got %+v", ended[1].Status())
	}
}

func TestTracerWrapsServiceOperations(t *testing.T) {
	tracer, recorder := newRecordingTracer()
	svc := core.NewInMemoryService(nil, core.WithTracer(tracer))
	_, err := svc.SubmitSingleRequest(context.Background(), core.SingleRequest{BloodType: domain.OPos, Units: 1})
	if !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("expected shortfall, got %v", err)
	}
	names := map[string]codes.Code{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = s.Status().Code
	}
	if names["bloodbank.submit_single_request"] != codes.Error {
		t.Fatalf("expected failed request span, got %+v", names)
	}
	if names["bloodbank.record_rejection"] != codes.Ok {
		t.Fatalf("expected rejection span, got %+v", names)
	}
}

func TestNewProviderExporters(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tp, err := NewProvider(ctx, Config{ServiceName: "bloodbank", Exporter: ExporterStdout, Output: &buf})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	_, span := New(tp).Start(ctx, "record_donation")
	span.End(nil)
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "bloodbank.record_donation") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}

	none, err := NewProvider(ctx, Config{ServiceName: "bloodbank"})
	if err != nil {
		t.Fatalf("provider without exporter: %v", err)
	}
	_ = none.Shutdown(ctx)

	if _, err := NewProvider(ctx, Config{Exporter: "jaeger"}); err == nil {
		t.Fatalf("expected unknown exporter error")
	}
}
