// Package udp implements the UDP adapter: one datagram is one envelope,
// with no reassembly and no persistent connection state. Grounded on the
// same listener-lifecycle shape as the TCP adapter (accept loop / Serve on
// a caller-supplied listener / Shutdown), generalized from net.Listener to
// net.PacketConn.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
)

// DefaultMaxDatagramSize is the largest datagram the adapter will attempt
// to read in one ReadFrom call; a typical network MTU leaves well under
// this, and an oversize read is simply truncated by the kernel rather than
// causing an error (UDP has no framing to violate).
const DefaultMaxDatagramSize = 65507

// Option configures an Adapter at construction.
type Option func(*Adapter)

// WithMaxDatagramSize overrides DefaultMaxDatagramSize.
func WithMaxDatagramSize(n int) Option {
	return func(a *Adapter) { a.maxDatagramSize = n }
}

// Adapter reads envelopes off a UDP socket and replies in place, reusing
// the same Router every other adapter dispatches through.
type Adapter struct {
	Router *core.Router
	Logger *slog.Logger

	port            int
	maxDatagramSize int

	pcMu sync.Mutex
	pc   net.PacketConn

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New builds an Adapter bound to port once ListenAndServe/Serve is called.
func New(router *core.Router, logger *slog.Logger, port int, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		Router:          router,
		Logger:          logger,
		port:            port,
		maxDatagramSize: DefaultMaxDatagramSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListenAndServe opens a UDP socket on the configured port and serves it
// until Shutdown is called or the socket errors.
func (a *Adapter) ListenAndServe() error {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return err
	}
	return a.Serve(pc)
}

// Serve reads datagrams off pc until it is closed, dispatching each to its
// own goroutine (one task per datagram, per the concurrency model) so a
// slow handler never delays the next read. It blocks for the socket's
// lifetime.
func (a *Adapter) Serve(pc net.PacketConn) error {
	a.pcMu.Lock()
	a.pc = pc
	a.pcMu.Unlock()

	buf := make([]byte, a.maxDatagramSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if a.closed.Load() {
				return nil
			}
			return err
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.dispatch(datagram, addr)
		}()
	}
}

// Push sends an unsolicited envelope to addr, the optional server-initiated
// send path for UDP.
func (a *Adapter) Push(addr net.Addr, env *core.Envelope) error {
	a.pcMu.Lock()
	pc := a.pc
	a.pcMu.Unlock()
	if pc == nil {
		return raffelerrors.Wrap(raffelerrors.FailedPrecondition, "udp.Adapter", "Push", nil).
			WithDetails(map[string]any{"reason": "adapter not serving"})
	}
	body, err := json.Marshal(env)
	if err != nil {
		return raffelerrors.Wrap(raffelerrors.InternalError, "udp.Adapter", "Push", err)
	}
	_, err = pc.WriteTo(body, addr)
	return err
}

// Shutdown stops accepting new datagrams and waits for in-flight
// request/event dispatches to finish, or for ctx to expire.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.closed.Store(true)

	a.pcMu.Lock()
	pc := a.pc
	a.pcMu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
