package dispatch

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// The package tracer is bound to the first provider installed, so every
// span assertion in this package lives in this one test.
func TestCallToolSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := newDispatcher(t, &fakeServer{})
	d.CallTool(context.Background(), "search_tables", map[string]any{"search_term": "cust"})
	d.CallTool(context.Background(), "drop_everything", nil)

	var calls []tracetest.SpanStub
	for _, s := range exporter.GetSpans() {
		if s.Name == "dispatch.CallTool" {
			calls = append(calls, s)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 CallTool spans, got %d", len(calls))
	}

	if calls[0].Status.Code == codes.Error {
		t.Errorf("successful call recorded error status: %v", calls[0].Status)
	}
	if !hasAttr(calls[0].Attributes, attribute.String("tool.name", "search_tables")) {
		t.Errorf("missing tool.name attribute: %v", calls[0].Attributes)
	}

	if calls[1].Status.Code != codes.Error || calls[1].Status.Description != "unknown tool" {
		t.Errorf("unknown tool status = %+v", calls[1].Status)
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}
