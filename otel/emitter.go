package otel

import (
	"github.com/piyushagarwal-55/flowforge/core"
)

// EnrichEmitter wraps a LogEmitter so every event carries the trace context
// of the span it belongs to. The active step span is preferred; the
// execution's root span is the fallback. Events with no active span pass
// through unchanged.
//
// The TracingHandler must see each event before the enriched emitter does,
// so compose them as core.MultiEmitter(tracing, EnrichEmitter(next, tracing)).
func EnrichEmitter(next core.LogEmitter, tracing *TracingHandler) core.LogEmitter {
	return core.LogEmitterFunc(func(executionID string, e core.LogEvent) {
		if e.TraceID == "" {
			sc := tracing.ActiveSpanContext(executionID)
			if !sc.IsValid() {
				sc = tracing.ActiveExecutionSpanContext(executionID)
			}
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		next.Emit(executionID, e)
	})
}
