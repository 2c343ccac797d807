// Package jsonrpc implements the JSON-RPC 2.0 adapter: single or batched
// requests over one POST endpoint, translated to/from core.Envelope calls.
package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
)

const defaultMaxBodySize int64 = 1 << 20

// request is the wire shape of one JSON-RPC 2.0 request or notification.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Meta    json.RawMessage `json:"_meta,omitempty"`
}

// response is the wire shape of one JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Adapter dispatches JSON-RPC 2.0 requests against Router.
type Adapter struct {
	Router      *core.Router
	MaxBodySize int64
}

// New builds an Adapter for the given Router.
func New(router *core.Router) *Adapter {
	return &Adapter{Router: router, MaxBodySize: defaultMaxBodySize}
}

// ServeHTTP implements http.Handler for the single /rpc endpoint.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isJSONContentType(r) && r.ContentLength != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(raffelerrors.UnsupportedMediaType.HTTPStatus())
		_ = json.NewEncoder(w).Encode(errorResponse(nil, raffelerrors.UnsupportedMediaType.JSONRPCCode(), "Content-Type must be application/json"))
		return
	}

	max := a.MaxBodySize
	if max <= 0 {
		max = defaultMaxBodySize
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, max))
	if err != nil {
		writeSingleError(w, nil, raffelerrors.ParseError.JSONRPCCode(), "request body exceeds limit")
		return
	}

	trimmed := trimLeadingSpace(body)
	if len(trimmed) == 0 {
		writeSingleError(w, nil, raffelerrors.ParseError.JSONRPCCode(), "empty body")
		return
	}

	if trimmed[0] == '[' {
		a.handleBatch(w, r, body)
		return
	}
	a.handleSingle(w, r, body)
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

func (a *Adapter) handleSingle(w http.ResponseWriter, r *http.Request, body []byte) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeSingleError(w, nil, raffelerrors.ParseError.JSONRPCCode(), "parse error")
		return
	}

	resp, isNotification := a.dispatch(r.Context(), req)
	if isNotification {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *Adapter) handleBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var reqs []request
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeSingleError(w, nil, raffelerrors.ParseError.JSONRPCCode(), "parse error")
		return
	}
	if len(reqs) == 0 {
		writeSingleError(w, nil, -32600, "empty batch")
		return
	}

	responses := make([]response, 0, len(reqs))
	for _, req := range reqs {
		resp, isNotification := a.dispatch(r.Context(), req)
		if !isNotification {
			responses = append(responses, resp)
		}
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(responses)
}

// dispatch converts one JSON-RPC request to an envelope, routes it, and
// converts the result back. The second return value is true for
// notifications, which never produce a response entry.
func (a *Adapter) dispatch(ctx context.Context, req request) (response, bool) {
	id := req.ID
	isNotification := len(id) == 0 || string(id) == "null"

	if req.JSONRPC != "2.0" {
		return errorResponse(id, -32600, "invalid request: jsonrpc must be \"2.0\""), isNotification
	}
	if req.Method == "" {
		return errorResponse(id, -32600, "invalid request: method required"), isNotification
	}

	payload := normalizeParams(req.Params)
	reqID := req.Method
	if !isNotification {
		reqID = string(id)
	} else {
		reqID = uuid.NewString()
	}

	meta := map[string]string{}
	if len(req.Meta) > 0 {
		_ = json.Unmarshal(req.Meta, &meta)
	}

	env := &core.Envelope{ID: reqID, Procedure: req.Method, Type: core.EnvelopeRequest, Payload: payload, Metadata: meta}
	resultEnv := a.Router.Handle(ctx, env)

	if isNotification {
		return response{}, true
	}

	if resultEnv.Type == core.EnvelopeError {
		var errPayload core.ErrorPayload
		_ = json.Unmarshal(resultEnv.Payload, &errPayload)
		return errorResponse(id, errPayload.Code.JSONRPCCode(), errPayload.Message), false
	}

	return response{JSONRPC: "2.0", Result: resultEnv.Payload, ID: id}, false
}

// normalizeParams converts JSON-RPC params into an envelope payload: an
// object passes through unchanged, a one-element array unwraps to that
// element, and a many-element array passes through as the payload itself.
func normalizeParams(params json.RawMessage) json.RawMessage {
	if len(params) == 0 {
		return json.RawMessage(`{}`)
	}
	trimmed := trimLeadingSpace(params)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return params
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(params, &arr); err != nil {
		return params
	}
	if len(arr) == 1 {
		return arr[0]
	}
	return params
}

func errorResponse(id json.RawMessage, code int, message string) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message}, ID: id}
}

func writeSingleError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(errorResponse(id, code, message))
}
