// Package otelhelper provides distributed tracing for workflow runs.
package otelhelper

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	WorkflowIDKey  = "marketflow.workflow.id"
	ShopIDKey      = "marketflow.shop.id"
	TriggerTypeKey = "marketflow.trigger.type"
	ActionTypeKey  = "marketflow.action.type"
	ExecutionIDKey = "marketflow.execution.id"
	SourceKey      = "marketflow.execution.source"
	CustomerIDKey  = "marketflow.customer.id"
	TargetCountKey = "marketflow.target.count"
)

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(ctx context.Context) error

// NewTracer installs a global OTLP/HTTP tracer provider. The exporter endpoint
// comes from the OTEL_EXPORTER_OTLP_* environment variables.
// nolint:ireturn
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, Shutdown, error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("tracer resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// NewNoopTracer is used when tracing is disabled.
// nolint:ireturn
func NewNoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("marketflow")
}

// nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RunAttributes describes the workflow a span runs.
func RunAttributes(workflowID, shopID, triggerType, actionType, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(WorkflowIDKey, workflowID),
		attribute.String(ShopIDKey, shopID),
		attribute.String(TriggerTypeKey, triggerType),
		attribute.String(ActionTypeKey, actionType),
		attribute.String(SourceKey, source),
	}
}
