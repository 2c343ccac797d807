// Package core implements the protocol-agnostic request pipeline: the
// Envelope/Context data model, the handler Registry, the Interceptor chain,
// the Router that ties them together, and the Stream engine. Transport
// adapters under transport/ translate wire formats into this model and
// back; nothing in this package knows about HTTP, JSON-RPC, WebSocket, TCP,
// or UDP.
package core

import "encoding/json"

// EnvelopeType tags the shape and intent of an Envelope.
type EnvelopeType string

const (
	EnvelopeRequest     EnvelopeType = "request"
	EnvelopeResponse    EnvelopeType = "response"
	EnvelopeEvent       EnvelopeType = "event"
	EnvelopeStreamStart EnvelopeType = "stream:start"
	EnvelopeStreamData  EnvelopeType = "stream:data"
	EnvelopeStreamEnd   EnvelopeType = "stream:end"
	EnvelopeStreamError EnvelopeType = "stream:error"
	EnvelopeError       EnvelopeType = "error"
)

// Envelope is the uniform in-process message passed between adapters,
// router, interceptors, and handlers.
//
// Invariants: response/error envelope IDs echo their request ID with a
// ":response"/":error" suffix; every stream frame carries the originating
// request ID; event envelopes never produce a response.
type Envelope struct {
	ID        string            `json:"id"`
	Procedure string            `json:"procedure,omitempty"`
	Type      EnvelopeType      `json:"type"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ResponseID derives the response-envelope ID for a request ID.
func ResponseID(requestID string) string { return requestID + ":response" }

// ErrorID derives the error-envelope ID for a request ID.
func ErrorID(requestID string) string { return requestID + ":error" }

// NewResponse builds a response envelope echoing req's ID.
func NewResponse(req *Envelope, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:        ResponseID(req.ID),
		Procedure: req.Procedure,
		Type:      EnvelopeResponse,
		Payload:   payload,
	}
}

// NewErrorEnvelope builds an error envelope echoing req's ID.
func NewErrorEnvelope(req *Envelope, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:        ErrorID(req.ID),
		Procedure: req.Procedure,
		Type:      EnvelopeError,
		Payload:   payload,
	}
}

// MetadataValue reads a metadata key, reporting whether it was present.
func (e *Envelope) MetadataValue(key string) (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata[key]
	return v, ok
}
