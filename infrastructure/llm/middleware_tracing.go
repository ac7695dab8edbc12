package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of the "llm.request" spans.
const TracerName = "github.com/webis-de/GenIRSim/infrastructure/llm"

// TracingMiddleware records every request as a client span of the global
// tracer provider. Spans of model calls made by plugins nest under the
// runner's simulate and evaluate spans.
func TracingMiddleware(provider string) Middleware {
	return TracingMiddlewareWithTracer(provider, otel.Tracer(TracerName))
}

// TracingMiddlewareWithTracer is TracingMiddleware with an explicit tracer.
func TracingMiddlewareWithTracer(provider string, tracer trace.Tracer) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{CoreLLM: next, provider: provider, tracer: tracer}
	}
}

type tracedLLM struct {
	CoreLLM
	provider string
	tracer   trace.Tracer
}

func (t *tracedLLM) DoRequest(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := t.tracer.Start(ctx, "llm.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("llm.provider", t.provider),
		attribute.String("llm.model", t.GetModel()),
		attribute.Int("llm.messages", len(req.Messages)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("llm.tokens.input", resp.TokensIn),
				attribute.Int("llm.tokens.output", resp.TokensOut),
			)
		}
		span.End()
	}()
	return t.CoreLLM.DoRequest(ctx, req)
}
