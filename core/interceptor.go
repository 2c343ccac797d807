package core

// Next invokes the downstream interceptor, or the handler if this is the
// last interceptor in the chain.
type Next func(ctx *Context, env *Envelope) (*Envelope, error)

// Interceptor wraps every envelope's invocation. It may short-circuit by
// returning without calling next, wrap next's result, attach extensions to
// ctx, or translate an error — but must propagate cancellation rather than
// swallow it.
type Interceptor func(ctx *Context, env *Envelope, next Next) (*Envelope, error)

// Chain is an ordered, immutable list of interceptors. Grounded on a
// pipeline executor's recursive index-closured next(): NewChain and Append
// copy the slice into a new Chain and never modify an existing one
// (copy-on-write on the registering side, per the concurrency model's "the
// chain observed on a call is the chain registered at call time"
// guarantee), and Chain.Run threads an index-closured Next through it.
type Chain struct {
	interceptors []Interceptor
}

// NewChain builds a Chain from interceptors in registration order.
func NewChain(interceptors ...Interceptor) *Chain {
	snapshot := make([]Interceptor, len(interceptors))
	copy(snapshot, interceptors)
	return &Chain{interceptors: snapshot}
}

// Append returns a new Chain with interceptor added to the end, leaving the
// receiver (and any in-flight call holding it) unmodified.
func (c *Chain) Append(interceptor Interceptor) *Chain {
	snapshot := make([]Interceptor, len(c.interceptors)+1)
	copy(snapshot, c.interceptors)
	snapshot[len(c.interceptors)] = interceptor
	return &Chain{interceptors: snapshot}
}

// Run executes the chain around terminal, which is invoked once all
// interceptors have called next.
func (c *Chain) Run(ctx *Context, env *Envelope, terminal Next) (*Envelope, error) {
	var step func(i int) Next
	step = func(i int) Next {
		return func(ctx *Context, env *Envelope) (*Envelope, error) {
			if i >= len(c.interceptors) {
				return terminal(ctx, env)
			}
			return c.interceptors[i](ctx, env, step(i+1))
		}
	}
	return step(0)(ctx, env)
}
