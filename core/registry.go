package core

import (
	"regexp"
	"sync"

	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
)

// HandlerKind classifies a registered handler.
type HandlerKind string

const (
	KindProcedure HandlerKind = "procedure"
	KindStream    HandlerKind = "stream"
	KindEvent     HandlerKind = "event"
)

// StreamDirection describes which side may initiate stream frames, only
// meaningful when Kind == KindStream.
type StreamDirection string

const (
	StreamServer StreamDirection = "server"
	StreamClient StreamDirection = "client"
	StreamBidi   StreamDirection = "bidi"
)

// EventDelivery describes the delivery guarantee of an event handler, only
// meaningful when Kind == KindEvent.
type EventDelivery string

const (
	DeliveryBestEffort   EventDelivery = "best-effort"
	DeliveryAtLeastOnce  EventDelivery = "at-least-once"
)

// ProcedureFunc is a request/response handler: (payload, ctx) -> payload.
type ProcedureFunc func(ctx *Context, payload []byte) ([]byte, error)

// StreamFunc produces a lazy sequence of payloads.
type StreamFunc func(ctx *Context, payload []byte) (*Stream, error)

// EventFunc handles a fire-and-forget invocation.
type EventFunc func(ctx *Context, payload []byte) error

// HandlerDef is immutable once registered.
type HandlerDef struct {
	Name            string
	Kind            HandlerKind
	InputSchema     []byte
	OutputSchema    []byte
	StreamDirection StreamDirection
	Delivery        EventDelivery
	ContentType     string
	Description     string
	Tags            []string

	procedure ProcedureFunc
	stream    StreamFunc
	event     EventFunc
}

var nameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)*$`)

// ValidName reports whether name matches the dotted procedure-name grammar.
func ValidName(name string) bool { return nameRe.MatchString(name) }

// Registry is the name -> handler table: three parallel maps (procedures,
// streams, events), one insertion-order slice shared by all three kinds
// (filtered by kind in List), and a name -> kind index, guarded by one
// RWMutex.
//
// Grounded on the double-checked-locking discipline of a server registry
// that lazily creates clients per name: here the "client" is simply the
// HandlerDef/function pair, and the registry is frozen (closed for writes)
// once the server starts accepting connections.
type Registry struct {
	mu sync.RWMutex

	procedures map[string]*HandlerDef
	streams    map[string]*HandlerDef
	events     map[string]*HandlerDef

	order  []string // insertion order across all three kinds
	byName map[string]HandlerKind

	frozen bool
}

// NewRegistry returns an empty, writable Registry.
func NewRegistry() *Registry {
	return &Registry{
		procedures: make(map[string]*HandlerDef),
		streams:    make(map[string]*HandlerDef),
		events:     make(map[string]*HandlerDef),
		byName:     make(map[string]HandlerKind),
	}
}

// Freeze marks the registry read-only. Called once at server startup, per
// the concurrency model's "Registry — read-only post-start" invariant.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) register(def *HandlerDef) error {
	if !ValidName(def.Name) {
		return raffelerrors.Wrap(raffelerrors.InvalidArgument, "core.Registry", "register",
			nil).WithDetails(map[string]any{"name": def.Name, "reason": "invalid procedure name"})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return raffelerrors.Wrap(raffelerrors.FailedPrecondition, "core.Registry", "register", nil).
			WithDetails(map[string]any{"reason": "registry frozen"})
	}

	if _, exists := r.byName[def.Name]; exists {
		return raffelerrors.Wrap(raffelerrors.AlreadyExists, "core.Registry", "register", nil).
			WithDetails(map[string]any{"name": def.Name})
	}

	switch def.Kind {
	case KindProcedure:
		r.procedures[def.Name] = def
	case KindStream:
		r.streams[def.Name] = def
	case KindEvent:
		r.events[def.Name] = def
	}
	r.byName[def.Name] = def.Kind
	r.order = append(r.order, def.Name)
	return nil
}

// RegisterProcedure registers a request/response handler.
func (r *Registry) RegisterProcedure(name string, fn ProcedureFunc, opts ...DefOption) error {
	def := &HandlerDef{Name: name, Kind: KindProcedure, procedure: fn}
	for _, opt := range opts {
		opt(def)
	}
	return r.register(def)
}

// RegisterStream registers a lazy-sequence handler.
func (r *Registry) RegisterStream(name string, fn StreamFunc, opts ...DefOption) error {
	def := &HandlerDef{Name: name, Kind: KindStream, StreamDirection: StreamServer, stream: fn}
	for _, opt := range opts {
		opt(def)
	}
	return r.register(def)
}

// RegisterEvent registers a fire-and-forget handler.
func (r *Registry) RegisterEvent(name string, fn EventFunc, opts ...DefOption) error {
	def := &HandlerDef{Name: name, Kind: KindEvent, Delivery: DeliveryBestEffort, event: fn}
	for _, opt := range opts {
		opt(def)
	}
	return r.register(def)
}

// DefOption customizes a HandlerDef at registration time.
type DefOption func(*HandlerDef)

func WithInputSchema(schema []byte) DefOption  { return func(d *HandlerDef) { d.InputSchema = schema } }
func WithOutputSchema(schema []byte) DefOption { return func(d *HandlerDef) { d.OutputSchema = schema } }
func WithDescription(desc string) DefOption    { return func(d *HandlerDef) { d.Description = desc } }
func WithTags(tags ...string) DefOption        { return func(d *HandlerDef) { d.Tags = tags } }
func WithContentType(ct string) DefOption      { return func(d *HandlerDef) { d.ContentType = ct } }
func WithStreamDirection(dir StreamDirection) DefOption {
	return func(d *HandlerDef) { d.StreamDirection = dir }
}
func WithDelivery(delivery EventDelivery) DefOption {
	return func(d *HandlerDef) { d.Delivery = delivery }
}

// Lookup resolves a name to its kind and definition.
func (r *Registry) Lookup(name string) (*HandlerDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, ok := r.byName[name]
	if !ok {
		return nil, raffelerrors.Wrap(raffelerrors.NotFound, "core.Registry", "lookup", nil).
			WithDetails(map[string]any{"name": name})
	}

	switch kind {
	case KindProcedure:
		return r.procedures[name], nil
	case KindStream:
		return r.streams[name], nil
	default:
		return r.events[name], nil
	}
}

// List returns handler definitions of the given kind, ordered by insertion.
func (r *Registry) List(kind HandlerKind) []*HandlerDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*HandlerDef, 0)
	for _, name := range r.order {
		if r.byName[name] != kind {
			continue
		}
		switch kind {
		case KindProcedure:
			out = append(out, r.procedures[name])
		case KindStream:
			out = append(out, r.streams[name])
		case KindEvent:
			out = append(out, r.events[name])
		}
	}
	return out
}
