package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Lybrarian tracer.
const tracerName = "github.com/MrWong99/lybrarian"

// Span names for the retrieve-and-generate pipeline. Each stage opens one span
// as a child of [SpanRetrieveAndGenerate].
const (
	SpanRetrieveAndGenerate = "engine.retrieve_and_generate"
	SpanSemantic            = "retrieval.semantic"
	SpanStructural          = "retrieval.structural"
	SpanAssemble            = "genctx.assemble"
	SpanGenerate            = "generate.batch"
	SpanValidate            = "validate.candidates"
)

// Span attribute keys shared by pipeline stages.
const (
	AttrIteration     = attribute.Key("lybrarian.iteration")
	AttrFragments     = attribute.Key("lybrarian.fragments")
	AttrCandidates    = attribute.Key("lybrarian.candidates")
	AttrRegenerations = attribute.Key("lybrarian.regenerations")
	AttrSignalLost    = attribute.Key("lybrarian.signal_lost")
)

// Tracer returns the Lybrarian tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span and marks it failed. Use it for errors the
// caller will return; degraded retrieval signals use [LoseSignal].
func FailSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// LoseSignal records that a retrieval signal was replaced by an empty result.
// The span status stays unset because the request continues.
func LoseSignal(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(AttrSignalLost.Bool(true))
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// ComponentLogger returns the default logger tagged with component and, when
// ctx carries a span, its trace_id and span_id.
func ComponentLogger(ctx context.Context, component string) *slog.Logger {
	l := slog.Default().With(slog.String("component", component))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
