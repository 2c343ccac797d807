package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/runtime/events"
)

const (
	defaultKeepAlivePeriod = 30 * time.Second
)

// Option configures an Adapter at construction, in the style of the A2A
// server's functional-option set.
type Option func(*Adapter)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n uint32) Option {
	return func(a *Adapter) { a.maxFrameSize = n }
}

// WithKeepAlivePeriod overrides the TCP keep-alive interval set on every
// accepted connection.
func WithKeepAlivePeriod(d time.Duration) Option {
	return func(a *Adapter) { a.keepAlivePeriod = d }
}

// Adapter accepts raw TCP connections and serves the length-prefixed
// envelope protocol over each one, reusing the same Router every other
// adapter dispatches through.
type Adapter struct {
	Router *core.Router
	Logger *slog.Logger

	port            int
	maxFrameSize    uint32
	keepAlivePeriod time.Duration

	lnMu sync.Mutex
	ln   net.Listener

	connsMu sync.Mutex
	conns   map[string]net.Conn

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
		maxFrameSize:    DefaultMaxFrameSize,
		keepAlivePeriod: defaultKeepAlivePeriod,
		conns:           make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListenAndServe opens a TCP listener on the configured port and serves it
// until Shutdown is called or the listener errors.
func (a *Adapter) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return err
	}
	return a.Serve(ln)
}

// Serve accepts connections off ln until it is closed, spawning one
// goroutine per connection. It blocks for the listener's lifetime.
func (a *Adapter) Serve(ln net.Listener) error {
	a.lnMu.Lock()
	a.ln = ln
	a.lnMu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if a.closed.Load() {
				return nil
			}
			return err
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(a.keepAlivePeriod)
		}

		id := uuid.NewString()
		a.trackConn(id, conn)
		a.publishConnEvent(events.EventConnectionOpened, id, events.ConnectionOpenedData{Transport: "tcp", RemoteAddr: conn.RemoteAddr().String()})
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.untrackConn(id)
			c := newConnection(id, conn, a.Router, a.Logger, a.maxFrameSize)
			c.serve()
			a.publishConnEvent(events.EventConnectionClosed, id, events.ConnectionClosedData{Transport: "tcp", Reason: "disconnected"})
		}()
	}
}

func (a *Adapter) publishConnEvent(t events.EventType, connID string, data events.EventData) {
	if a.Router.Events == nil {
		return
	}
	a.Router.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), ConnectionID: connID, Data: data})
}

func (a *Adapter) trackConn(id string, conn net.Conn) {
	a.connsMu.Lock()
	a.conns[id] = conn
	a.connsMu.Unlock()
}

func (a *Adapter) untrackConn(id string) {
	a.connsMu.Lock()
	delete(a.conns, id)
	a.connsMu.Unlock()
}

// Shutdown stops accepting new connections, closes every open connection
// (which fires its in-flight cancellation controllers via Connection's
// teardown), and waits for all connection goroutines to return or ctx to
// expire, whichever comes first.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.closed.Store(true)

	a.lnMu.Lock()
	ln := a.ln
	a.lnMu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	a.connsMu.Lock()
	for _, conn := range a.conns {
		_ = conn.Close()
	}
	a.connsMu.Unlock()

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
