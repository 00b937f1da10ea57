package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrMessage = attribute.Key("ncp.message")
	AttrPeer    = attribute.Key("ncp.peer")
	AttrDrivers = attribute.Key("fleetbench.drivers")
	AttrBench   = attribute.Key("fleetbench.benchmark")
)

// StartCallSpan starts a client span for one request sent to peer.
func StartCallSpan(ctx context.Context, tracer trace.Tracer, message, peer string) (context.Context, trace.Span) {
	spanName := "ncp " + message
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("rpc.system", "ncp"),
		AttrMessage.String(message),
	)
	if peer != "" {
		span.SetAttributes(AttrPeer.String(peer))
	}
	return ctx, span
}

// StartHandlerSpan starts a server span for a request received from the
// controller or the admin.
func StartHandlerSpan(ctx context.Context, tracer trace.Tracer, message string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "handle "+message,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("rpc.system", "ncp"),
		AttrMessage.String(message),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Inject returns the W3C trace context of ctx as a flat map suitable for a
// message field. It returns nil when ctx carries no span.
func Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Extract returns ctx extended with the trace context found in carrier.
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}
