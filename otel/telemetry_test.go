package otel_test

import (
	"context"
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/piyushagarwal-55/flowforge/core"
	ffotel "github.com/piyushagarwal-55/flowforge/otel"
	"github.com/piyushagarwal-55/flowforge/runtime"
)

func TestTelemetry_Notify(t *testing.T) {
	reader, mp := newTestMeter()
	exporter, tp := newTestTracer()
	tel, err := ffotel.NewTelemetry(mp.Meter("test"), tp.Tracer("test"))
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	events := []runtime.TelemetryEvent{
		{Event: core.EventRuntimeStarted, ServerID: "s1", Timestamp: now},
		{Event: core.EventAgentAttached, ServerID: "s1", AgentID: "a1", Timestamp: now},
		{Event: core.EventPermissionDenied, ServerID: "s1", AgentID: "a1", ToolID: "t", Timestamp: now},
		{Event: core.EventToolInvoked, ServerID: "s1", ToolID: "t", Timestamp: now},
		{Event: core.EventToolCompleted, ServerID: "s1", ToolID: "t", Duration: 20 * time.Millisecond, Timestamp: now},
		{Event: core.EventToolFailed, ServerID: "s1", ToolID: "t", Duration: 5 * time.Millisecond, Timestamp: now,
			Metadata: map[string]any{"error": "boom"}},
	}
	for _, e := range events {
		if err := tel.Notify(ctx, e); err != nil {
			t.Fatalf("Notify(%s): %v", e.Event, err)
		}
	}

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "flowforge.runtime.events"); got != 2 {
		t.Errorf("runtime events = %d, want 2", got)
	}
	if got := counterTotal(t, rm, "flowforge.permission.denials"); got != 1 {
		t.Errorf("denials = %d, want 1", got)
	}
	if got := counterTotal(t, rm, "flowforge.tool.invocations"); got != 2 {
		t.Errorf("invocations = %d, want 2", got)
	}
	if got := histogramCount(t, rm, "flowforge.tool.latency"); got != 2 {
		t.Errorf("latency count = %d, want 2", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	var failed int
	for _, s := range spans {
		if s.Status.Code == otelcodes.Error {
			failed++
			if s.Status.Description != "boom" {
				t.Errorf("failed span description = %q", s.Status.Description)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed spans = %d, want 1", failed)
	}
}

func TestTelemetry_WiredIntoManager(t *testing.T) {
	reader, mp := newTestMeter()
	tel, err := ffotel.NewTelemetry(mp.Meter("test"), nil)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	m := runtime.NewManager(runtime.ManagerConfig{Telemetry: tel})
	m.CreateRuntime(core.ServerDefinition{ID: "s1"})
	m.StartRuntime("s1")
	m.StopRuntime("s1")
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "flowforge.runtime.events"); got != 2 {
		t.Errorf("runtime events = %d, want 2 (started, stopped)", got)
	}
}

func TestSetup_ProvidersFeedHandlers(t *testing.T) {
	reader := metric.NewManualReader()
	exporter := tracetest.NewInMemoryExporter()

	ctx := context.Background()
	p, err := ffotel.Setup(ctx, ffotel.SetupConfig{
		ServiceName:  "test",
		MetricReader: reader,
		SpanExporter: exporter,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	var forwarded int
	emit := p.Emitter(core.LogEmitterFunc(func(string, core.LogEvent) { forwarded++ }))
	for _, e := range executionEvents("exec-1", false) {
		emit.Emit(e.ExecutionID, e)
	}
	if forwarded != 6 {
		t.Errorf("forwarded = %d, want 6", forwarded)
	}

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "flowforge.step.executions"); got != 1 {
		t.Errorf("step executions = %d, want 1", got)
	}

	if err := p.TracerProvider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if n := len(exporter.GetSpans()); n != 2 {
		t.Errorf("exported spans = %d, want 2", n)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
