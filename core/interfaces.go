package core

import (
	"context"
	"encoding/json"
)

// Validator is implemented by the schema engine the Router uses for
// HandlerDef input/output validation. runtime/validators.SchemaValidator is
// this repo's concrete (gojsonschema) implementation.
type Validator interface {
	Validate(schema, value json.RawMessage) (ValidationResult, error)
	ToJSONSchema(schema json.RawMessage) (json.RawMessage, error)
}

// ValidationResult is the outcome of one Validator.Validate call.
type ValidationResult struct {
	OK         bool
	Violations []string
}

// SpanKind classifies a span started by a Tracer.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
)

// Span is a single in-flight trace span.
type Span interface {
	SetAttributes(kv map[string]string)
	SetError(err error)
	End()
}

// Tracer is implemented by the distributed tracing collaborator.
// runtime/telemetry.OTelTracer is this repo's concrete (OTel/OTLP-HTTP)
// implementation.
type Tracer interface {
	StartSpan(ctx context.Context, name string, kind SpanKind) (context.Context, Span)
	Extract(headers map[string]string) context.Context
	Inject(ctx context.Context) map[string]string
}

// Counter, Gauge, and Histogram are the per-metric write handles returned by
// a MetricSink.
type Counter interface{ Inc() }
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}
type Histogram interface{ Observe(float64) }

// MetricSink is implemented by the metrics collaborator.
// runtime/metrics/prometheus.Sink is this repo's concrete implementation.
type MetricSink interface {
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, labels map[string]string) Histogram
}

// Principal is the authenticated identity attached to a Context by an
// AuthStrategy.
type Principal struct {
	ID     string
	Roles  []string
	Claims map[string]any
}

// AuthStrategy verifies a bearer token and resolves it to a Principal. No
// concrete implementation ships in this repo, and server.Server has no
// option that accepts one; the server performs no authentication.
type AuthStrategy interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}
