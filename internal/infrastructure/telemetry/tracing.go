package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of exchange spans
const TracerName = "exchange-1c"

// Span attributes of the import pipeline
const (
	SpanSessionID  = attribute.Key("exchange.session_id")
	SpanImportType = attribute.Key("exchange.import_type")
	SpanPhase      = attribute.Key("exchange.phase")
)

// StartSpan starts an internal span on the global provider
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Record sets the span status from err without ending it
func Record(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// End records err and ends the span
func End(span trace.Span, err error) {
	Record(span, err)
	span.End()
}
