package otel_test

import (
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/piyushagarwal-55/flowforge/core"
	ffotel "github.com/piyushagarwal-55/flowforge/otel"
)

func spanByName(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func TestTracingHandler_SuccessfulExecution(t *testing.T) {
	exporter, tp := newTestTracer()
	h := ffotel.NewTracingHandler(tp.Tracer("test"))

	for _, e := range executionEvents("exec-1", false) {
		h.Handle(e)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	root := spanByName(spans, "execution:signup")
	step := spanByName(spans, "step:save")
	if root == nil || step == nil {
		t.Fatalf("missing spans: %v", spans)
	}
	if step.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("step span should be a child of the execution span")
	}
	if step.Status.Code != otelcodes.Ok {
		t.Errorf("step status = %v, want Ok", step.Status.Code)
	}
	if len(step.Events) != 2 {
		t.Errorf("step span events = %d, want 2 (tool_start, tool_complete)", len(step.Events))
	}
	if root.Status.Code != otelcodes.Ok {
		t.Errorf("root status = %v, want Ok", root.Status.Code)
	}
}

func TestTracingHandler_FailedExecution(t *testing.T) {
	exporter, tp := newTestTracer()
	h := ffotel.NewTracingHandler(tp.Tracer("test"))

	for _, e := range executionEvents("exec-2", true) {
		h.Emit(e.ExecutionID, e)
	}

	spans := exporter.GetSpans()
	step := spanByName(spans, "step:save")
	root := spanByName(spans, "execution:signup")
	if step == nil || root == nil {
		t.Fatalf("missing spans: %v", spans)
	}
	if step.Status.Code != otelcodes.Error || step.Status.Description != "boom" {
		t.Errorf("step status = %v %q, want Error boom", step.Status.Code, step.Status.Description)
	}
	if root.Status.Code != otelcodes.Error {
		t.Errorf("root status = %v, want Error", root.Status.Code)
	}
}

func TestTracingHandler_ActiveSpanContexts(t *testing.T) {
	_, tp := newTestTracer()
	h := ffotel.NewTracingHandler(tp.Tracer("test"))
	events := executionEvents("exec-3", false)

	if h.ActiveExecutionSpanContext("exec-3").IsValid() {
		t.Fatal("no span should be active before execution_started")
	}

	h.Handle(events[0])
	if !h.ActiveExecutionSpanContext("exec-3").IsValid() {
		t.Fatal("expected active execution span")
	}
	if h.ActiveSpanContext("exec-3").IsValid() {
		t.Fatal("no step span should be active yet")
	}

	h.Handle(events[1])
	if !h.ActiveSpanContext("exec-3").IsValid() {
		t.Fatal("expected active step span")
	}

	for _, e := range events[2:] {
		h.Handle(e)
	}
	if h.ActiveSpanContext("exec-3").IsValid() || h.ActiveExecutionSpanContext("exec-3").IsValid() {
		t.Fatal("spans should be released after execution finished")
	}
}

func TestTracingHandler_IgnoresUnknownExecution(t *testing.T) {
	exporter, tp := newTestTracer()
	h := ffotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(core.NewLogEvent("ghost", core.LogStepCompleted).With("step", 1))
	h.Handle(core.NewLogEvent("ghost", core.LogExecutionCompleted))

	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("got %d spans, want 0", n)
	}
}
