package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer used for all clawmail spans.
const TracerName = "github.com/teemow/clawmail"

// Span attribute keys.
const (
	SpanAttrProvider  = "mail.provider"
	SpanAttrOperation = "mail.operation"
	SpanAttrAccount   = "mail.account"
	SpanAttrStrategy  = "auth.strategy"
	SpanAttrState     = "auth.token_state"
	SpanAttrTool      = "mcp.tool"
)

// StartSpan starts a span with the given name and attributes. The caller
// ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartProviderSpan starts a client span for a mail provider operation,
// named "<provider>.<operation>".
func StartProviderSpan(ctx context.Context, provider, operation, account string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, provider+"."+operation,
		trace.WithAttributes(
			attribute.String(SpanAttrProvider, provider),
			attribute.String(SpanAttrOperation, operation),
			attribute.String(SpanAttrAccount, account),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartAcquireSpan starts a span covering credential acquisition for an
// account.
func StartAcquireSpan(ctx context.Context, provider, account string) (context.Context, trace.Span) {
	return StartSpan(ctx, "credentials.acquire",
		attribute.String(SpanAttrProvider, provider),
		attribute.String(SpanAttrAccount, account),
	)
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "tool."+toolName,
		trace.WithAttributes(attribute.String(SpanAttrTool, toolName)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError records err on the span and marks it failed.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks the span OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
