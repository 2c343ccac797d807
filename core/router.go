package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/raffel-dev/raffel/runtime/events"
)

// Router resolves an envelope's procedure name against a Registry, runs the
// interceptor Chain around invocation, and maps errors onto the taxonomy.
// Adapters call Handle/HandleStream/HandleEvent; Router never knows which
// wire protocol produced the envelope it's given.
type Router struct {
	Registry  *Registry
	Chain     *Chain
	Validator Validator
	Tracer    Tracer
	Metrics   MetricSink
	Events    *events.EventBus
	Logger    *slog.Logger
}

// NewRouter builds a Router. Validator, Tracer, Metrics, and Events are
// optional fields set after construction; leaving one nil skips the
// corresponding step.
func NewRouter(registry *Registry, chain *Chain, logger *slog.Logger) *Router {
	if chain == nil {
		chain = NewChain()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{Registry: registry, Chain: chain, Logger: logger}
}

// ErrorPayload is the JSON shape of an error envelope's Payload.
type ErrorPayload struct {
	Code    raffelerrors.Code `json:"code"`
	Message string            `json:"message"`
	Details map[string]any    `json:"details,omitempty"`
}

func (r *Router) errorEnvelope(req *Envelope, code raffelerrors.Code, message string, details map[string]any) *Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message, Details: details})
	return NewErrorEnvelope(req, payload)
}

func codeAndMessage(err error) (raffelerrors.Code, string, map[string]any) {
	var coded *raffelerrors.Error
	if e, ok := err.(*raffelerrors.Error); ok {
		coded = e
	}
	if coded != nil {
		msg := coded.Error()
		if coded.Cause != nil {
			msg = coded.Cause.Error()
		}
		return coded.Code, msg, coded.Details
	}
	return raffelerrors.InternalError, err.Error(), nil
}

func violationsOf(details map[string]any) []string {
	raw, ok := details["violations"]
	if !ok {
		return nil
	}
	if v, ok := raw.([]string); ok {
		return v
	}
	return nil
}

// Handle dispatches a request/event envelope: lookup, input validation,
// interceptor chain, output validation, response wrapping, error mapping.
// Streams are dispatched
// through HandleStream instead, since they return a lazy sequence rather
// than a single envelope.
func (r *Router) Handle(parent context.Context, env *Envelope) *Envelope {
	start := time.Now()

	def, err := r.Registry.Lookup(env.Procedure)
	if err != nil {
		return r.fail(env, nil, raffelerrors.NotFound, "unknown procedure", nil, start)
	}

	switch def.Kind {
	case KindEvent:
		return r.handleEvent(parent, env, def, start)
	case KindProcedure:
		return r.handleProcedure(parent, env, def, start)
	default:
		return r.fail(env, def, raffelerrors.InvalidArgument, "procedure dispatched as stream", nil, start)
	}
}

// HandleStream dispatches a stream-kind envelope, returning the lazy
// sequence for the adapter to iterate. Only the input payload is validated;
// stream items are not checked against the output schema, here or in the
// adapters.
func (r *Router) HandleStream(parent context.Context, env *Envelope) (*Stream, *Context, error) {
	start := time.Now()
	def, err := r.Registry.Lookup(env.Procedure)
	if err != nil {
		return nil, nil, raffelerrors.Wrap(raffelerrors.NotFound, "core.Router", "HandleStream", err)
	}
	if def.Kind != KindStream {
		return nil, nil, raffelerrors.Wrap(raffelerrors.InvalidArgument, "core.Router", "HandleStream", nil).
			WithDetails(map[string]any{"procedure": env.Procedure, "reason": "not a stream"})
	}

	r.publish(events.EventValidationStarted, env, events.ValidationStartedData{Procedure: def.Name, Direction: "input"})
	if verr := r.validateInput(def, env.Payload); verr != nil {
		_, _, details := codeAndMessage(verr)
		r.publish(events.EventValidationFailed, env, events.ValidationFailedData{Procedure: def.Name, Direction: "input", Violations: violationsOf(details), Duration: time.Since(start)})
		return nil, nil, verr
	}
	r.publish(events.EventValidationPassed, env, events.ValidationPassedData{Procedure: def.Name, Direction: "input", Duration: time.Since(start)})

	ctx, _ := NewContext(parent, env.ID)
	ctx.Metadata = env.Metadata

	var stream *Stream
	var handlerErr error
	_, err = r.Chain.Run(ctx, env, func(ctx *Context, env *Envelope) (*Envelope, error) {
		stream, handlerErr = def.stream(ctx, env.Payload)
		return nil, handlerErr
	})
	if err != nil {
		return nil, nil, err
	}
	r.publish(events.EventStreamStarted, env, events.StreamStartedData{Procedure: def.Name})
	return stream, ctx, nil
}

func (r *Router) handleProcedure(parent context.Context, env *Envelope, def *HandlerDef, start time.Time) *Envelope {
	r.publish(events.EventCallStarted, env, events.CallStartedData{Procedure: def.Name, Kind: string(def.Kind)})

	r.publish(events.EventValidationStarted, env, events.ValidationStartedData{Procedure: def.Name, Direction: "input"})
	if verr := r.validateInput(def, env.Payload); verr != nil {
		code, msg, details := codeAndMessage(verr)
		r.publish(events.EventValidationFailed, env, events.ValidationFailedData{Procedure: def.Name, Direction: "input", Violations: violationsOf(details), Duration: time.Since(start)})
		return r.fail(env, def, code, msg, details, start)
	}
	r.publish(events.EventValidationPassed, env, events.ValidationPassedData{Procedure: def.Name, Direction: "input", Duration: time.Since(start)})

	ctx, cancel := NewContext(parent, env.ID)
	defer cancel()
	ctx.Metadata = env.Metadata

	spanCtx, span := r.startSpan(ctx.Context, "raffel.procedure."+def.Name)
	ctx.Context = spanCtx
	defer func() {
		if span != nil {
			span.End()
		}
	}()

	result, err := r.Chain.Run(ctx, env, func(ctx *Context, env *Envelope) (resultEnv *Envelope, handlerErr error) {
		defer func() {
			if p := recover(); p != nil {
				handlerErr = fmt.Errorf("handler panic: %v", p)
			}
		}()
		payload, herr := def.procedure(ctx, env.Payload)
		if herr != nil {
			return nil, herr
		}
		return NewResponse(env, payload), nil
	})
	if err != nil {
		if span != nil {
			span.SetError(err)
		}
		code, msg, details := codeAndMessage(err)
		return r.fail(env, def, code, msg, details, start)
	}

	if def.OutputSchema != nil && r.Validator != nil {
		r.publish(events.EventValidationStarted, env, events.ValidationStartedData{Procedure: def.Name, Direction: "output"})
		res, verr := r.Validator.Validate(def.OutputSchema, result.Payload)
		if verr != nil || !res.OK {
			details := map[string]any{}
			if res.Violations != nil {
				details["violations"] = res.Violations
			}
			r.publish(events.EventValidationFailed, env, events.ValidationFailedData{Procedure: def.Name, Direction: "output", Violations: violationsOf(details), Duration: time.Since(start)})
			return r.fail(env, def, raffelerrors.OutputValidationError, "output validation failed", details, start)
		}
		r.publish(events.EventValidationPassed, env, events.ValidationPassedData{Procedure: def.Name, Direction: "output", Duration: time.Since(start)})
	}

	r.recordCall(env, def, "ok", start)
	return result
}

func (r *Router) handleEvent(parent context.Context, env *Envelope, def *HandlerDef, start time.Time) *Envelope {
	r.publish(events.EventCallStarted, env, events.CallStartedData{Procedure: def.Name, Kind: string(def.Kind)})

	ctx, cancel := NewContext(parent, env.ID)
	defer cancel()
	ctx.Metadata = env.Metadata

	_, err := r.Chain.Run(ctx, env, func(ctx *Context, env *Envelope) (*Envelope, error) {
		return nil, def.event(ctx, env.Payload)
	})
	if err != nil && err != context.Canceled {
		r.Logger.Error("event handler failed", "procedure", env.Procedure, "error", err)
		r.publish(events.EventCallFailed, env, events.CallFailedData{Procedure: def.Name, Kind: string(def.Kind), Error: err, Duration: time.Since(start)})
	}
	r.recordCall(env, def, "ack", start)
	return NewResponse(env, nil)
}

// startSpan begins a span via r.Tracer if one is configured, returning the
// unmodified ctx and a nil Span otherwise; callers check the Span for nil
// before using it.
func (r *Router) startSpan(ctx context.Context, name string) (context.Context, Span) {
	if r.Tracer == nil {
		return ctx, nil
	}
	return r.Tracer.StartSpan(ctx, name, SpanKindServer)
}

// publish forwards a lifecycle event to Events if a bus is configured; a nil
// bus makes this a no-op so Router works standalone without one.
func (r *Router) publish(t events.EventType, env *Envelope, data events.EventData) {
	if r.Events == nil {
		return
	}
	r.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), RequestID: env.ID, Data: data})
}

func (r *Router) validateInput(def *HandlerDef, payload []byte) error {
	if def.InputSchema == nil || r.Validator == nil {
		return nil
	}
	res, err := r.Validator.Validate(def.InputSchema, payload)
	if err != nil {
		return raffelerrors.Wrap(raffelerrors.InternalError, "core.Router", "validateInput", err)
	}
	if !res.OK {
		return raffelerrors.Wrap(raffelerrors.ValidationError, "core.Router", "validateInput", nil).
			WithDetails(map[string]any{"violations": res.Violations})
	}
	return nil
}

func (r *Router) fail(env *Envelope, def *HandlerDef, code raffelerrors.Code, message string, details map[string]any, start time.Time) *Envelope {
	kind := "unknown"
	if def != nil {
		kind = string(def.Kind)
	}
	r.Logger.Warn("call failed", "procedure", env.Procedure, "code", code, "message", message)
	if r.Metrics != nil {
		r.Metrics.Counter("calls_total", map[string]string{"procedure": env.Procedure, "kind": kind, "status": string(code)}).Inc()
	}
	r.publish(events.EventCallFailed, env, events.CallFailedData{Procedure: env.Procedure, Kind: kind, Code: string(code), Duration: time.Since(start)})
	return r.errorEnvelope(env, code, message, details)
}

func (r *Router) recordCall(env *Envelope, def *HandlerDef, status string, start time.Time) {
	duration := time.Since(start)
	if r.Metrics != nil {
		r.Metrics.Histogram("call_duration_seconds", map[string]string{"procedure": def.Name, "kind": string(def.Kind)}).
			Observe(duration.Seconds())
		r.Metrics.Counter("calls_total", map[string]string{"procedure": def.Name, "kind": string(def.Kind), "status": status}).Inc()
	}
	r.publish(events.EventCallCompleted, env, events.CallCompletedData{Procedure: def.Name, Kind: string(def.Kind), Duration: duration})
}
