package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/piyushagarwal-55/flowforge/core"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

// collectMetrics reads all metrics from the reader.
func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

// findMetric searches for a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

// counterTotal sums every data point of an Int64 sum metric.
func counterTotal(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s data = %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// histogramCount sums the counts of a Float64 histogram.
func histogramCount(t *testing.T, rm *metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not found", name)
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %s data = %T, want Histogram[float64]", name, m.Data)
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	return total
}

// executionEvents builds the log events of a one-step execution.
func executionEvents(execID string, fail bool) []core.LogEvent {
	now := time.Now()
	ev := func(typ core.LogEventType, offset time.Duration, data map[string]any) core.LogEvent {
		return core.LogEvent{ExecutionID: execID, Type: typ, Timestamp: now.Add(offset), Data: data}
	}
	events := []core.LogEvent{
		ev(core.LogExecutionStarted, 0, map[string]any{"graph_id": "signup", "server_id": "s1"}),
		ev(core.LogStepStarted, time.Millisecond, map[string]any{"step": 1, "node_id": "save", "tool_id": "db.insert"}),
		ev(core.LogToolStart, 2*time.Millisecond, map[string]any{"tool_id": "db.insert", "invocation_id": "inv-1"}),
	}
	if fail {
		return append(events,
			ev(core.LogToolError, 3*time.Millisecond, map[string]any{"tool_id": "db.insert", "error": "boom"}),
			ev(core.LogStepFailed, 4*time.Millisecond, map[string]any{"step": 1, "node_id": "save", "tool_id": "db.insert", "duration_ms": int64(3), "error": "boom"}),
			ev(core.LogExecutionFailed, 5*time.Millisecond, map[string]any{"steps_executed": 0, "error": "boom"}),
		)
	}
	return append(events,
		ev(core.LogToolComplete, 3*time.Millisecond, map[string]any{"tool_id": "db.insert"}),
		ev(core.LogStepCompleted, 4*time.Millisecond, map[string]any{"step": 1, "node_id": "save", "tool_id": "db.insert", "duration_ms": int64(3)}),
		ev(core.LogExecutionCompleted, 5*time.Millisecond, map[string]any{"steps_executed": 1, "duration_ms": int64(5)}),
	)
}
