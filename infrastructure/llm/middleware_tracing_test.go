package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, provider
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingMiddleware_RecordsSuccessfulRequests(t *testing.T) {
	// Given a tracer that records spans
	recorder, provider := newRecordingTracer()
	mock := NewMockCoreLLM()
	wrapped := TracingMiddlewareWithTracer("ollama", provider.Tracer("test"))(mock)

	// When a request succeeds
	resp, err := wrapped.DoRequest(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Content)

	// Then one llm.request span carries model and token attributes
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "llm.request", spans[0].Name())
	attrs := spanAttributes(spans[0])
	assert.Equal(t, "ollama", attrs["llm.provider"].AsString())
	assert.Equal(t, "test-model", attrs["llm.model"].AsString())
	assert.Equal(t, int64(1), attrs["llm.messages"].AsInt64())
	assert.Equal(t, int64(10), attrs["llm.tokens.input"].AsInt64())
	assert.Equal(t, int64(20), attrs["llm.tokens.output"].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTracingMiddleware_RecordsErrors(t *testing.T) {
	recorder, provider := newRecordingTracer()
	mock := NewMockCoreLLM()
	mock.Error = errors.New("provider down")
	wrapped := TracingMiddlewareWithTracer("openai", provider.Tracer("test"))(mock)

	_, err := wrapped.DoRequest(context.Background(), testRequest())

	require.Error(t, err)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "provider down", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events(), "error should be recorded as an event")
}

func TestTracingMiddleware_PassesSpanContextDownstream(t *testing.T) {
	recorder, provider := newRecordingTracer()
	inner := NewMockCoreLLM()
	wrapped := Chain(inner,
		TracingMiddlewareWithTracer("outer", provider.Tracer("test")),
		TracingMiddlewareWithTracer("inner", provider.Tracer("test")),
	)

	_, err := wrapped.DoRequest(context.Background(), testRequest())

	require.NoError(t, err)
	spans := recorder.Ended()
	require.Len(t, spans, 2)
	// The inner span ends first and is a child of the outer one.
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}
