package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/piyushagarwal-55/flowforge/core"
)

// MetricsHandler translates execution log events into OpenTelemetry metrics.
// It records counters and histograms for step executions, step failures and
// execution durations.
type MetricsHandler struct {
	stepExecutions metric.Int64Counter
	stepFailures   metric.Int64Counter
	stepDuration   metric.Float64Histogram
	execDuration   metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler whose instruments come from meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	stepExec, err := meter.Int64Counter("flowforge.step.executions",
		metric.WithDescription("Number of completed engine steps"),
	)
	if err != nil {
		return nil, err
	}

	stepFail, err := meter.Int64Counter("flowforge.step.failures",
		metric.WithDescription("Number of failed engine steps"),
	)
	if err != nil {
		return nil, err
	}

	stepDur, err := meter.Float64Histogram("flowforge.step.duration",
		metric.WithDescription("Duration of engine steps in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	execDur, err := meter.Float64Histogram("flowforge.execution.duration",
		metric.WithDescription("Duration of graph executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		stepExecutions: stepExec,
		stepFailures:   stepFail,
		stepDuration:   stepDur,
		execDuration:   execDur,
	}, nil
}

// Emit implements core.LogEmitter.
func (h *MetricsHandler) Emit(_ string, e core.LogEvent) {
	h.Handle(e)
}

// Handle processes one log event and records the matching metrics.
func (h *MetricsHandler) Handle(e core.LogEvent) {
	ctx := context.Background()
	switch e.Type {
	case core.LogStepCompleted:
		attrs := metric.WithAttributes(
			attribute.String("tool_id", stringData(e, "tool_id", "")),
			attribute.String("node_id", stringData(e, "node_id", "")),
		)
		h.stepExecutions.Add(ctx, 1, attrs)
		h.stepDuration.Record(ctx, seconds(e), attrs)
	case core.LogStepFailed:
		h.stepFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_id", stringData(e, "tool_id", "")),
			attribute.String("node_id", stringData(e, "node_id", "")),
		))
	case core.LogExecutionCompleted:
		h.execDuration.Record(ctx, seconds(e), metric.WithAttributes(
			attribute.String("status", "completed"),
		))
	case core.LogExecutionFailed:
		h.execDuration.Record(ctx, seconds(e), metric.WithAttributes(
			attribute.String("status", "failed"),
		))
	}
}

// seconds reads data.duration_ms.
func seconds(e core.LogEvent) float64 {
	switch v := e.Data["duration_ms"].(type) {
	case int64:
		return float64(v) / 1000
	case int:
		return float64(v) / 1000
	case float64:
		return v / 1000
	}
	return 0
}
