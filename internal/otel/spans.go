package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for rove spans.
var (
	AttrAgentID      = attribute.Key("rove.agent.id")
	AttrTaskID       = attribute.Key("rove.task.id")
	AttrToolName     = attribute.Key("rove.tool.name")
	AttrModel        = attribute.Key("rove.llm.model")
	AttrTokensInput  = attribute.Key("rove.llm.tokens.input")
	AttrTokensOutput = attribute.Key("rove.llm.tokens.output")
	AttrLoopID       = attribute.Key("rove.loop.id")
	AttrLoopStep     = attribute.Key("rove.loop.step")
	AttrSessionID    = attribute.Key("rove.session.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound task submission (a channel
// delivering a message, a cron tick, a CLI invocation).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (LLM provider API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
