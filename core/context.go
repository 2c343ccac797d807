package core

import (
	"context"
	"time"
)

// ContextKey is a typed extension key. Interceptors attach strongly-typed
// values to a Context via WithValue/Value, keyed by ContextKey rather than a
// stringly-typed map, so handlers downstream can retrieve exactly the type
// they expect.
type ContextKey string

// Auth is the principal record attached to a Context once authenticated.
type Auth struct {
	Principal string
	Roles     []string
	Claims    map[string]any
}

// TraceInfo is the tracing slot carried on every Context.
type TraceInfo struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// Context is the per-call scoped state threaded through the router,
// interceptor chain, and handler. It embeds a context.Context so the
// standard cancellation/deadline machinery (and anything accepting a plain
// context.Context) composes with it directly, rather than reimplementing
// cancellation from scratch.
type Context struct {
	context.Context

	RequestID string
	Deadline  *time.Time
	Auth      *Auth
	Trace     TraceInfo
	Metadata  map[string]string

	cancel context.CancelFunc
}

// NewContext creates a Context rooted at parent, with its own cancellation
// scope. The returned CancelFunc must be called (directly or via the
// adapter's disconnect/shutdown path) to release resources associated with
// the call.
func NewContext(parent context.Context, requestID string) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:   ctx,
		RequestID: requestID,
		Metadata:  make(map[string]string),
		cancel:    cancel,
	}, cancel
}

// WithDeadline returns a derived Context whose underlying context.Context
// carries the given deadline, updating c.Deadline to match.
func (c *Context) WithDeadline(d time.Time) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithDeadline(c.Context, d)
	next := *c
	next.Context = ctx
	next.Deadline = &d
	return &next, cancel
}

// Cancel fires the Context's cancellation token. Safe to call more than
// once; subsequent calls are no-ops.
func (c *Context) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Cancelled reports whether the Context's cancellation token has fired.
func (c *Context) Cancelled() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// WithExtension returns a derived Context carrying value under key, without
// mutating c. Interceptors use this to pass data downstream to later
// interceptors and the handler.
func (c *Context) WithExtension(key ContextKey, value any) *Context {
	next := *c
	next.Context = context.WithValue(c.Context, key, value)
	return &next
}

// Extension retrieves a value previously attached with WithExtension.
func Extension[T any](c *Context, key ContextKey) (T, bool) {
	v, ok := c.Value(key).(T)
	return v, ok
}
