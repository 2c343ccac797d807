// Package ratelimit provides a token-bucket rate-limit Interceptor: the
// concrete algorithm behind the X-RateLimit-*/Retry-After wire contract.
package ratelimit

import (
	"sync"
	"time"

	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"golang.org/x/time/rate"
)

// KeyFunc extracts the rate-limit bucket key (principal id, IP, ...) from a
// call's Context.
type KeyFunc func(ctx *core.Context) string

// Limiter is a token-bucket interceptor keyed by KeyFunc, backed by
// golang.org/x/time/rate.
type Limiter struct {
	rps   rate.Limit
	burst int
	key   KeyFunc

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// New creates a Limiter allowing rps requests per second per key, with
// burst allowance, keyed by key (defaults to a single global bucket if nil).
func New(rps float64, burst int, key KeyFunc) *Limiter {
	if key == nil {
		key = func(*core.Context) string { return "*" }
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		key:      key,
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeen[key] = time.Now()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b := rate.NewLimiter(l.rps, l.burst)
	l.buckets[key] = b
	return b
}

// Interceptor returns a core.Interceptor enforcing this Limiter. On refusal
// the returned error's Details carry "retry_after_seconds" and "remaining"
// so the HTTP adapter can set X-RateLimit-*/Retry-After headers from the
// mapped error without a second lookup against the bucket.
func (l *Limiter) Interceptor() core.Interceptor {
	return func(ctx *core.Context, env *core.Envelope, next core.Next) (*core.Envelope, error) {
		key := l.key(ctx)
		b := l.bucket(key)

		reservation := b.Reserve()
		if !reservation.OK() || reservation.Delay() > 0 {
			reservation.Cancel()
			retryAfter := time.Duration(float64(time.Second) / float64(l.rps))
			return nil, raffelerrors.Wrap(raffelerrors.RateLimited, "core/ratelimit", "Interceptor", nil).
				WithDetails(map[string]any{
					"key":                 key,
					"retry_after_seconds": retryAfter.Seconds(),
					"remaining":           0,
				})
		}
		return next(ctx, env)
	}
}
