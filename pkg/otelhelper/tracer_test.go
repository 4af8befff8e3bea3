package otelhelper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_SetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := StartSpan(t.Context(), tracer, "workflow.run", attribute.String(WorkflowIDKey, "wf-1"))
	SetError(span, errors.New("boom"), attribute.String(ExecutionIDKey, "exec-1"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.run", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(WorkflowIDKey, "wf-1"))
	require.Len(t, spans[0].Events(), 1)

	event := spans[0].Events()[0]
	assert.Equal(t, "exception", event.Name)
	assert.Contains(t, event.Attributes, attribute.String(ErrorTypeKey, "*errors.errorString"))
	assert.Contains(t, event.Attributes, attribute.String(ExecutionIDKey, "exec-1"))
}

func TestNewNoopTracer(t *testing.T) {
	_, span := StartSpan(t.Context(), NewNoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}

func TestRunAttributes(t *testing.T) {
	attrs := RunAttributes("wf-1", "shop-1", "birthday", "MESSAGE_ONLY", "sweep")

	assert.Equal(t, []attribute.KeyValue{
		attribute.String(WorkflowIDKey, "wf-1"),
		attribute.String(ShopIDKey, "shop-1"),
		attribute.String(TriggerTypeKey, "birthday"),
		attribute.String(ActionTypeKey, "MESSAGE_ONLY"),
		attribute.String(SourceKey, "sweep"),
	}, attrs)
}
