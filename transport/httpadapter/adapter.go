// Package httpadapter maps HTTP/REST and Server-Sent Events onto
// core.Router, per the URL grammar /<base?>/[(streams|events)/]<procedure>.
package httpadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/raffel-dev/raffel/runtime/events"
	"github.com/raffel-dev/raffel/runtime/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultMaxBodySize       int64 = 1 << 20 // 1 MiB default request body cap
	defaultReadHeaderTimeout       = 10 * time.Second
)

// CORSConfig configures preflight handling.
type CORSConfig struct {
	AllowedOrigins []string // exact-match entries, or "*"
	AllowedHeaders []string
}

func (c CORSConfig) allows(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Adapter translates HTTP requests into core.Envelope calls against Router.
type Adapter struct {
	Router      *core.Router
	BasePath    string
	MaxBodySize int64
	CORS        CORSConfig
}

// New builds an Adapter. basePath, if non-empty, is stripped uniformly from
// incoming paths before procedure-name resolution.
func New(router *core.Router, basePath string) *Adapter {
	return &Adapter{Router: router, BasePath: strings.TrimSuffix(basePath, "/"), MaxBodySize: defaultMaxBodySize}
}

// Handler returns the adapter's mux, including the admin surface
// (/healthz, /readyz) and registry introspection endpoint.
func (a *Adapter) Handler(ready func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz(ready))
	mux.HandleFunc("GET "+a.path("_registry"), a.handleRegistry)
	mux.HandleFunc("GET "+a.path("streams/"), a.handleStream)
	mux.HandleFunc("POST "+a.path("events/"), a.handleEvent)
	mux.HandleFunc("OPTIONS "+a.path(""), a.handlePreflight)
	mux.HandleFunc("POST "+a.path(""), a.handleProcedure)
	return otelhttp.NewHandler(mux, "raffel-http")
}

func (a *Adapter) path(suffix string) string {
	if a.BasePath == "" {
		return "/" + suffix
	}
	return a.BasePath + "/" + suffix
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *Adapter) handleReadyz(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// registryEntry is the JSON shape of one handler in the introspection feed.
type registryEntry struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (a *Adapter) handleRegistry(w http.ResponseWriter, r *http.Request) {
	entries := make([]registryEntry, 0)
	for _, kind := range []core.HandlerKind{core.KindProcedure, core.KindStream, core.KindEvent} {
		for _, def := range a.Router.Registry.List(kind) {
			entries = append(entries, registryEntry{Name: def.Name, Kind: string(def.Kind), Description: def.Description, Tags: def.Tags})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (a *Adapter) handlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if a.CORS.allows(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		if len(a.CORS.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(a.CORS.AllowedHeaders, ", "))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) procedureName(r *http.Request, prefix string) string {
	trimmed := strings.TrimPrefix(r.URL.Path, a.path(prefix))
	return strings.Trim(trimmed, "/")
}

func writeJSONError(w http.ResponseWriter, status int, code raffelerrors.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

// handleProcedure implements POST /<name> for request/response procedures.
func (a *Adapter) handleProcedure(w http.ResponseWriter, r *http.Request) {
	if !acceptsJSON(r) {
		writeJSONError(w, raffelerrors.NotAcceptable.HTTPStatus(), raffelerrors.NotAcceptable, "Accept must include application/json")
		return
	}
	if !isJSONContentType(r) && r.ContentLength != 0 {
		writeJSONError(w, raffelerrors.UnsupportedMediaType.HTTPStatus(), raffelerrors.UnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	body, err := readBody(r, a.maxBodySize())
	if err != nil {
		writeJSONError(w, raffelerrors.MessageTooLarge.HTTPStatus(), raffelerrors.MessageTooLarge, err.Error())
		return
	}

	name := a.procedureName(r, "")
	env := &core.Envelope{
		ID:        requestID(r),
		Procedure: name,
		Type:      core.EnvelopeRequest,
		Payload:   body,
		Metadata:  extractMetadata(r),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		<-r.Context().Done()
		cancel()
	}()

	resp := a.Router.Handle(ctx, env)
	a.writeEnvelope(w, resp)
}

func (a *Adapter) writeEnvelope(w http.ResponseWriter, resp *core.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Type == core.EnvelopeError {
		var payload core.ErrorPayload
		_ = json.Unmarshal(resp.Payload, &payload)
		status := payload.Code.HTTPStatus()
		if status == raffelerrors.RateLimited.HTTPStatus() {
			applyRateLimitHeaders(w, payload.Details)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	w.WriteHeader(http.StatusOK)
	if len(resp.Payload) == 0 {
		_, _ = w.Write([]byte("{}"))
		return
	}
	_, _ = w.Write(resp.Payload)
}

func applyRateLimitHeaders(w http.ResponseWriter, details map[string]any) {
	w.Header().Set("X-RateLimit-Remaining", "0")
	if retry, ok := details["retry_after_seconds"].(float64); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retry+0.999)))
	}
}

// handleEvent implements POST /events/<name>.
func (a *Adapter) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, a.maxBodySize())
	if err != nil {
		writeJSONError(w, raffelerrors.MessageTooLarge.HTTPStatus(), raffelerrors.MessageTooLarge, err.Error())
		return
	}

	env := &core.Envelope{
		ID:        requestID(r),
		Procedure: a.procedureName(r, "events/"),
		Type:      core.EnvelopeEvent,
		Payload:   body,
		Metadata:  extractMetadata(r),
	}
	a.Router.Handle(r.Context(), env)
	w.WriteHeader(http.StatusAccepted)
}

// handleStream implements GET /streams/<name> as Server-Sent Events.
func (a *Adapter) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, raffelerrors.InternalError, "streaming unsupported")
		return
	}

	name := a.procedureName(r, "streams/")
	payload := queryToPayload(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	env := &core.Envelope{ID: requestID(r), Procedure: name, Type: core.EnvelopeStreamStart, Payload: payload, Metadata: extractMetadata(r)}
	stream, _, err := a.Router.HandleStream(ctx, env)
	if err != nil {
		code := raffelerrors.InternalError
		if coded, ok := err.(*raffelerrors.Error); ok {
			code = coded.Code
		}
		writeJSONError(w, code.HTTPStatus(), code, err.Error())
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	sequence := 0
	bw := bufio.NewWriter(w)
	for {
		select {
		case <-r.Context().Done():
			a.publishStreamEvent(events.EventStreamCancelled, env.ID, events.StreamCancelledData{Procedure: name, Reason: "disconnected"})
			return
		case item, ok := <-stream.Items:
			if !ok {
				fmt.Fprint(bw, "event: end\ndata: {}\n\n")
				_ = bw.Flush()
				flusher.Flush()
				a.publishStreamEvent(events.EventStreamEnded, env.ID, events.StreamEndedData{Procedure: name, ItemCount: sequence, Duration: time.Since(start)})
				return
			}
			if item.Err != nil {
				fmt.Fprintf(bw, "event: error\ndata: %s\n\n", errorJSON(item.Err))
				_ = bw.Flush()
				flusher.Flush()
				a.publishStreamEvent(events.EventStreamFailed, env.ID, events.StreamFailedData{Procedure: name, Error: item.Err})
				return
			}
			fmt.Fprintf(bw, "event: data\ndata: %s\n\n", item.Payload)
			_ = bw.Flush()
			flusher.Flush()
			a.publishStreamEvent(events.EventStreamItemEmitted, env.ID, events.StreamItemEmittedData{Procedure: name, Sequence: sequence})
			sequence++
		}
	}
}

func (a *Adapter) publishStreamEvent(t events.EventType, requestID string, data events.EventData) {
	if a.Router.Events == nil {
		return
	}
	a.Router.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), RequestID: requestID, Data: data})
}

func errorJSON(err error) []byte {
	code := raffelerrors.InternalError
	var coded *raffelerrors.Error
	if e, ok := err.(*raffelerrors.Error); ok {
		coded = e
		code = coded.Code
	}
	b, _ := json.Marshal(map[string]any{"code": code, "message": err.Error()})
	return b
}

func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" {
		return true
	}
	return strings.Contains(accept, "application/json") || strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "*/*")
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}

func (a *Adapter) maxBodySize() int64 {
	if a.MaxBodySize > 0 {
		return a.MaxBodySize
	}
	return defaultMaxBodySize
}

func readBody(r *http.Request, max int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	limited := http.MaxBytesReader(nil, r.Body, max)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("request body exceeds %d bytes", max)
	}
	return body, nil
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("x-request-id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func extractMetadata(r *http.Request) map[string]string {
	meta := make(map[string]string)
	for key, values := range r.Header {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "x-") || lower == "authorization" {
			if len(values) > 0 {
				meta[lower] = values[0]
			}
		}
	}
	return logger.RedactHeaders(meta)
}

func queryToPayload(r *http.Request) json.RawMessage {
	values := map[string]any{}
	for key := range r.URL.Query() {
		v := r.URL.Query().Get(key)
		if n, err := strconv.Atoi(v); err == nil {
			values[key] = n
			continue
		}
		values[key] = v
	}
	b, _ := json.Marshal(values)
	return b
}
