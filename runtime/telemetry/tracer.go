package telemetry

import (
	"context"

	"github.com/raffel-dev/raffel/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func otelKind(k core.SpanKind) trace.SpanKind {
	switch k {
	case core.SpanKindServer:
		return trace.SpanKindServer
	case core.SpanKindClient:
		return trace.SpanKindClient
	case core.SpanKindProducer:
		return trace.SpanKindProducer
	default:
		return trace.SpanKindInternal
	}
}

type otelSpan struct{ span trace.Span }

func (s otelSpan) SetAttributes(kv map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(kv))
	for k, v := range kv {
		attrs = append(attrs, attribute.String(k, v))
	}
	s.span.SetAttributes(attrs...)
}

func (s otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) End() { s.span.End() }

// OTelTracer is the concrete OTel-backed implementation of the router's
// Tracer external interface: start spans, and round-trip W3C trace headers
// across transport boundaries that aren't plain net/http (JSON-RPC over
// WS/TCP carries headers in envelope metadata instead).
type OTelTracer struct {
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

// NewOTelTracer wraps an OTel TracerProvider (see NewTracerProvider) as an OTelTracer.
func NewOTelTracer(tp trace.TracerProvider) *OTelTracer {
	return &OTelTracer{
		tracer: Tracer(tp),
		prop: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// StartSpan begins a new span as a child of any span already in ctx.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, kind core.SpanKind) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(otelKind(kind)))
	return ctx, otelSpan{span: span}
}

// mapCarrier adapts a map[string]string to propagation.TextMapCarrier.
type mapCarrier map[string]string

func (c mapCarrier) Get(key string) string { return c[key] }
func (c mapCarrier) Set(key, value string) { c[key] = value }
func (c mapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Extract builds a context carrying the trace identified by the given headers
// (e.g. envelope metadata on a non-HTTP transport, or raw HTTP headers).
func (t *OTelTracer) Extract(headers map[string]string) context.Context {
	return t.prop.Extract(context.Background(), mapCarrier(headers))
}

// Inject serializes the trace carried in ctx into a header map suitable for
// a downstream call or for outbound envelope metadata.
func (t *OTelTracer) Inject(ctx context.Context) map[string]string {
	carrier := mapCarrier{}
	t.prop.Inject(ctx, carrier)
	return carrier
}
