package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/sous"

// Span names. A turn shows up as one assistant span followed by one speak
// span; the first remote speak of the process nests a credential fetch.
const (
	SpanAssistantReply  = "sous.assistant.reply"
	SpanSpeak           = "sous.speech.speak"
	SpanCredentialFetch = "sous.speech.credential_fetch"
)

// Attribute keys shared by spans and metrics.
const (
	AttrTurnID    = attribute.Key("sous.turn.id")
	AttrBackend   = attribute.Key("sous.speech.backend")
	AttrSessionID = attribute.Key("sous.speech.session_id")
)

// Tracer returns the sous tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the sous tracer. The caller ends it, usually
// through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span and ends it. Cancellation is how barge-in and
// shutdown stop work, so it is noted as an event instead of an error status.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.AddEvent("cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("sous.error.kind", ErrorKind(err)))
	}
	span.End()
}

// TraceID returns the trace ID of the active span in ctx, or "" when there
// is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span, so assistant and speech warnings can be joined with
// their traces.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
