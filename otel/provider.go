package otel

import (
	"context"
	"errors"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/piyushagarwal-55/flowforge/core"
)

// DefaultServiceName is the service.name resource attribute used when none
// is configured.
const DefaultServiceName = "flowforge"

// SetupConfig configures the OpenTelemetry providers.
type SetupConfig struct {
	ServiceName string

	// OTLPEndpoint is the OTLP/HTTP traces endpoint URL. When empty, spans
	// are recorded but not exported.
	OTLPEndpoint string

	// MetricReader collects metrics. When nil, metrics are aggregated in
	// process only.
	MetricReader sdkmetric.Reader

	// SpanExporter overrides the OTLP exporter (for tests).
	SpanExporter sdktrace.SpanExporter

	// Global installs the providers as the otel globals.
	Global bool
}

// Providers bundles the SDK providers and the FlowForge handlers built on
// them.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider

	Tracing   *TracingHandler
	Metrics   *MetricsHandler
	Telemetry *Telemetry
}

// Setup builds tracer and meter providers and the handlers that feed them.
func Setup(ctx context.Context, cfg SetupConfig) (*Providers, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attributeServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	exporter := cfg.SpanExporter
	if exporter == nil && cfg.OTLPEndpoint != "" {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(cfg.MetricReader))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	if cfg.Global {
		otelapi.SetTracerProvider(tp)
		otelapi.SetMeterProvider(mp)
	}

	p, err := newProviders(tp.Tracer("flowforge"), mp.Meter("flowforge"))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	p.TracerProvider = tp
	p.MeterProvider = mp
	return p, nil
}

func newProviders(tracer trace.Tracer, meter metric.Meter) (*Providers, error) {
	metrics, err := NewMetricsHandler(meter)
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	telemetry, err := NewTelemetry(meter, tracer)
	if err != nil {
		return nil, fmt.Errorf("otel telemetry: %w", err)
	}
	return &Providers{
		Tracing:   NewTracingHandler(tracer),
		Metrics:   metrics,
		Telemetry: telemetry,
	}, nil
}

// Emitter wraps next so execution log events feed spans and metrics and
// carry trace context when they reach next.
func (p *Providers) Emitter(next core.LogEmitter) core.LogEmitter {
	return core.MultiEmitter(p.Tracing, p.Metrics, EnrichEmitter(next, p.Tracing))
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func attributeServiceName(name string) attribute.KeyValue {
	return attribute.String("service.name", name)
}
