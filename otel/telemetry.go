package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/runtime"
)

// Telemetry is the runtime manager's telemetry collaborator backed by
// OpenTelemetry. Runtime and agent transitions and permission denials become
// counters; finished invocations also record latency and a span.
type Telemetry struct {
	tracer trace.Tracer

	runtimeEvents metric.Int64Counter
	invocations   metric.Int64Counter
	denials       metric.Int64Counter
	latency       metric.Float64Histogram
}

var _ runtime.Telemetry = (*Telemetry)(nil)

// NewTelemetry creates a Telemetry bound to the provided meter and tracer. A
// nil tracer disables spans.
func NewTelemetry(meter metric.Meter, tracer trace.Tracer) (*Telemetry, error) {
	runtimeEvents, err := meter.Int64Counter(
		"flowforge.runtime.events",
		metric.WithDescription("Number of runtime and agent lifecycle events"),
	)
	if err != nil {
		return nil, err
	}
	invocations, err := meter.Int64Counter(
		"flowforge.tool.invocations",
		metric.WithDescription("Number of tool invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}
	denials, err := meter.Int64Counter(
		"flowforge.permission.denials",
		metric.WithDescription("Number of agent calls rejected by permission checks"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"flowforge.tool.latency",
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		tracer:        tracer,
		runtimeEvents: runtimeEvents,
		invocations:   invocations,
		denials:       denials,
		latency:       latency,
	}, nil
}

// Notify records one telemetry event.
func (t *Telemetry) Notify(ctx context.Context, e runtime.TelemetryEvent) error {
	if t == nil {
		return nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("server_id", e.ServerID),
	}
	if e.ToolID != "" {
		attrs = append(attrs, attribute.String("tool_id", e.ToolID))
	}
	if e.AgentID != "" {
		attrs = append(attrs, attribute.String("agent_id", e.AgentID))
	}

	switch e.Event.Category() {
	case core.CategoryRuntime, core.CategoryAgent:
		attrs = append(attrs, attribute.String("event", string(e.Event)))
		t.runtimeEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
	case core.CategoryPermission:
		t.denials.Add(ctx, 1, metric.WithAttributes(attrs...))
	case core.CategoryTool:
		t.observeTool(ctx, e, attrs)
	}
	return nil
}

func (t *Telemetry) observeTool(ctx context.Context, e runtime.TelemetryEvent, attrs []attribute.KeyValue) {
	switch e.Event {
	case core.EventToolCompleted:
		attrs = append(attrs, attribute.Bool("success", true))
	case core.EventToolFailed:
		attrs = append(attrs, attribute.Bool("success", false))
	default:
		// tool_invoked is counted once its outcome is known.
		return
	}

	options := metric.WithAttributes(attrs...)
	t.invocations.Add(ctx, 1, options)
	t.latency.Record(ctx, e.Duration.Seconds(), options)

	if t.tracer == nil {
		return
	}
	start := e.Timestamp.Add(-e.Duration)
	_, span := t.tracer.Start(ctx, "tool.invoke",
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(start),
	)
	if e.Event == core.EventToolFailed {
		msg, _ := e.Metadata["error"].(string)
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Timestamp))
}
