package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext is the W3C trace context stored next to queued work (job and
// outbox rows) so whoever picks the work up continues the producer's trace.
type TraceContext struct {
	Parent string // traceparent
	State  string // tracestate
}

// Rows always carry W3C headers, whatever global propagator is installed.
var w3c = propagation.TraceContext{}

// CaptureTraceContext returns the context of the span in ctx, or the zero
// value when ctx has no valid span.
func CaptureTraceContext(ctx context.Context) TraceContext {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return TraceContext{}
	}
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return TraceContext{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

func (tc TraceContext) IsZero() bool { return tc.Parent == "" }

// Attach makes tc the remote parent of spans started from the returned
// context. A zero or malformed tc leaves ctx as it is.
func (tc TraceContext) Attach(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": tc.Parent}
	if tc.State != "" {
		carrier["tracestate"] = tc.State
	}
	return w3c.Extract(ctx, carrier)
}
