// Package otel provides OpenTelemetry integration for FlowForge: spans and
// metrics derived from execution log events, and a runtime telemetry
// collaborator for runtime, tool and permission events.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/piyushagarwal-55/flowforge/core"
)

// TracingHandler translates execution log events into OpenTelemetry spans.
// Each execution gets a root span; each step gets a child span. Invocation
// events become span events on the active step span.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	execSpans map[string]trace.Span      // executionID -> span
	execCtxs  map[string]context.Context // executionID -> context (for child spans)
	stepSpans map[string]trace.Span      // executionID:step -> span
	current   map[string]string          // executionID -> active step key
}

// NewTracingHandler creates a TracingHandler that uses the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		execSpans: make(map[string]trace.Span),
		execCtxs:  make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
		current:   make(map[string]string),
	}
}

// Emit implements core.LogEmitter.
func (h *TracingHandler) Emit(_ string, e core.LogEvent) {
	h.Handle(e)
}

// Handle processes one log event and creates or ends spans accordingly.
func (h *TracingHandler) Handle(e core.LogEvent) {
	switch e.Type {
	case core.LogExecutionStarted:
		h.handleExecutionStarted(e)
	case core.LogStepStarted:
		h.handleStepStarted(e)
	case core.LogStepCompleted:
		h.endStep(e, "")
	case core.LogStepFailed:
		h.endStep(e, stringData(e, "error", "unknown error"))
	case core.LogToolStart, core.LogToolComplete, core.LogToolError:
		h.handleToolEvent(e)
	case core.LogExecutionCompleted, core.LogExecutionFailed:
		h.handleExecutionFinished(e)
	}
}

func (h *TracingHandler) handleExecutionStarted(e core.LogEvent) {
	spanName := "execution:" + e.ExecutionID
	graphID := stringData(e, "graph_id", "")
	if graphID != "" {
		spanName = "execution:" + graphID
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("flowforge.execution_id", e.ExecutionID),
			attribute.String("flowforge.server_id", stringData(e, "server_id", "")),
		),
		trace.WithTimestamp(e.Timestamp),
	)
	if graphID != "" {
		span.SetAttributes(attribute.String("flowforge.graph_id", graphID))
	}

	h.mu.Lock()
	h.execSpans[e.ExecutionID] = span
	h.execCtxs[e.ExecutionID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleStepStarted(e core.LogEvent) {
	h.mu.RLock()
	parentCtx, ok := h.execCtxs[e.ExecutionID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	nodeID := stringData(e, "node_id", "")
	_, span := h.tracer.Start(parentCtx, "step:"+nodeID,
		trace.WithAttributes(
			attribute.String("flowforge.execution_id", e.ExecutionID),
			attribute.String("flowforge.node_id", nodeID),
			attribute.String("flowforge.tool_id", stringData(e, "tool_id", "")),
			attribute.Int("flowforge.step", intData(e, "step")),
		),
		trace.WithTimestamp(e.Timestamp),
	)

	key := stepKey(e)
	h.mu.Lock()
	h.stepSpans[key] = span
	h.current[e.ExecutionID] = key
	h.mu.Unlock()
}

// endStep closes the step span; a non-empty errMsg marks it failed.
func (h *TracingHandler) endStep(e core.LogEvent, errMsg string) {
	key := stepKey(e)

	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
		if h.current[e.ExecutionID] == key {
			delete(h.current, e.ExecutionID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if ms, found := e.Data["duration_ms"]; found {
		span.SetAttributes(attribute.String("flowforge.duration_ms", fmt.Sprint(ms)))
	}
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Timestamp))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Timestamp))
}

func (h *TracingHandler) handleToolEvent(e core.LogEvent) {
	h.mu.RLock()
	span, ok := h.stepSpans[h.current[e.ExecutionID]]
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("flowforge.event_type", string(e.Type)),
		attribute.String("flowforge.tool_id", stringData(e, "tool_id", "")),
	}
	if id := stringData(e, "invocation_id", ""); id != "" {
		attrs = append(attrs, attribute.String("flowforge.invocation_id", id))
	}
	span.AddEvent(string(e.Type), trace.WithTimestamp(e.Timestamp), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleExecutionFinished(e core.LogEvent) {
	h.mu.Lock()
	span, ok := h.execSpans[e.ExecutionID]
	if ok {
		delete(h.execSpans, e.ExecutionID)
		delete(h.execCtxs, e.ExecutionID)
		delete(h.current, e.ExecutionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int("flowforge.steps_executed", intData(e, "steps_executed")))
	if e.Type == core.LogExecutionFailed {
		span.SetAttributes(attribute.String("flowforge.status", "failed"))
		span.SetStatus(codes.Error, stringData(e, "error", "execution failed"))
	} else {
		span.SetAttributes(attribute.String("flowforge.status", "completed"))
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Timestamp))
}

// ActiveSpanContext returns the span context of the step currently running
// in executionID, or an empty SpanContext.
func (h *TracingHandler) ActiveSpanContext(executionID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stepSpans[h.current[executionID]]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveExecutionSpanContext returns the root span context for executionID,
// or an empty SpanContext.
func (h *TracingHandler) ActiveExecutionSpanContext(executionID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.execSpans[executionID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func stepKey(e core.LogEvent) string {
	return fmt.Sprintf("%s:%d", e.ExecutionID, intData(e, "step"))
}

func stringData(e core.LogEvent, key, fallback string) string {
	if v, ok := e.Data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intData(e core.LogEvent, key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
