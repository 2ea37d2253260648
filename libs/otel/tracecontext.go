package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceHeaders is the W3C trace context of a span in its stored form, for
// rows that are published later by another process.
type TraceHeaders struct {
	Traceparent string
	Tracestate  string
}

// TraceHeadersFrom captures the span context of ctx through the global
// propagator. It is empty when ctx carries no sampled span.
func TraceHeadersFrom(ctx context.Context) TraceHeaders {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceHeaders{
		Traceparent: carrier.Get("traceparent"),
		Tracestate:  carrier.Get("tracestate"),
	}
}

func (h TraceHeaders) IsZero() bool {
	return h.Traceparent == ""
}

// Context returns ctx with h as its remote parent. A tracestate without a
// traceparent is meaningless and ignored.
func (h TraceHeaders) Context(ctx context.Context) context.Context {
	if h.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": h.Traceparent}
	if h.Tracestate != "" {
		carrier["tracestate"] = h.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
