package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Message string `json:"message"`
}

func greetHandler(ctx *Context, payload []byte) ([]byte, error) {
	var in greetInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, raffelerrors.Wrap(raffelerrors.InvalidArgument, "test", "greet", err)
	}
	out, _ := json.Marshal(greetOutput{Message: "Hello, " + in.Name + "!"})
	return out, nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.RegisterProcedure("greet", greetHandler))
	require.NoError(t, registry.RegisterEvent("log", func(ctx *Context, payload []byte) error { return nil }))
	return NewRouter(registry, NewChain(), slog.Default())
}

func TestRouter_HandleProcedure_S1Greet(t *testing.T) {
	router := newTestRouter(t)

	req := &Envelope{ID: "req-1", Procedure: "greet", Type: EnvelopeRequest, Payload: json.RawMessage(`{"name":"World"}`)}
	resp := router.Handle(context.Background(), req)

	assert.Equal(t, EnvelopeResponse, resp.Type)
	assert.Equal(t, "req-1:response", resp.ID)

	var out greetOutput
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.Equal(t, "Hello, World!", out.Message)
}

func TestRouter_HandleProcedure_UnknownProcedure(t *testing.T) {
	router := newTestRouter(t)

	req := &Envelope{ID: "req-1", Procedure: "missing", Type: EnvelopeRequest}
	resp := router.Handle(context.Background(), req)

	assert.Equal(t, EnvelopeError, resp.Type)
	assert.Equal(t, "req-1:error", resp.ID)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Payload, &errPayload))
	assert.Equal(t, raffelerrors.NotFound, errPayload.Code)
}

func TestRouter_HandleEvent_AlwaysAcknowledged(t *testing.T) {
	router := newTestRouter(t)

	req := &Envelope{ID: "req-1", Procedure: "log", Type: EnvelopeEvent}
	resp := router.Handle(context.Background(), req)

	assert.Equal(t, EnvelopeResponse, resp.Type)
}

func TestRouter_HandleProcedure_InputValidation(t *testing.T) {
	registry := NewRegistry()
	schema := json.RawMessage(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	require.NoError(t, registry.RegisterProcedure("greet", greetHandler, WithInputSchema(schema)))

	router := NewRouter(registry, NewChain(), slog.Default())
	router.Validator = fakeValidator{}

	req := &Envelope{ID: "req-1", Procedure: "greet", Type: EnvelopeRequest, Payload: json.RawMessage(`{}`)}
	resp := router.Handle(context.Background(), req)

	assert.Equal(t, EnvelopeError, resp.Type)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Payload, &errPayload))
	assert.Equal(t, raffelerrors.ValidationError, errPayload.Code)
}

func TestRouter_HandleProcedure_RecoversPanic(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterProcedure("boom", func(ctx *Context, payload []byte) ([]byte, error) {
		panic("kaboom")
	}))
	router := NewRouter(registry, NewChain(), slog.Default())

	req := &Envelope{ID: "req-1", Procedure: "boom", Type: EnvelopeRequest}
	resp := router.Handle(context.Background(), req)

	assert.Equal(t, EnvelopeError, resp.Type)
}

func TestRouter_HandleStream_EmptyStreamIsValid(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterStream("counter", func(ctx *Context, payload []byte) (*Stream, error) {
		stream, items := NewStream(0)
		close(items)
		return stream, nil
	}))
	router := NewRouter(registry, NewChain(), slog.Default())

	req := &Envelope{ID: "req-1", Procedure: "counter", Type: EnvelopeStreamStart}
	stream, _, err := router.HandleStream(context.Background(), req)
	require.NoError(t, err)

	_, ok := <-stream.Items
	assert.False(t, ok)
}

// fakeValidator rejects payloads missing the required "name" field, enough
// to exercise the router's validation-failure branch without pulling in
// the real gojsonschema implementation.
type fakeValidator struct{}

func (fakeValidator) Validate(schema, value json.RawMessage) (ValidationResult, error) {
	var v map[string]any
	_ = json.Unmarshal(value, &v)
	if _, ok := v["name"]; !ok {
		return ValidationResult{OK: false, Violations: []string{"name is required"}}, nil
	}
	return ValidationResult{OK: true}, nil
}

func (fakeValidator) ToJSONSchema(schema json.RawMessage) (json.RawMessage, error) { return schema, nil }
