package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/runtime/events"
	"golang.org/x/sync/semaphore"
)

// defaultMaxConnections bounds concurrently upgraded sockets, the
// websocket analogue of a stream pipeline's MaxConcurrentExecutions gate.
const defaultMaxConnections = 1024

// Adapter upgrades HTTP requests to WebSocket connections and wires each
// one to the channel Engine and the shared Router.
type Adapter struct {
	Router *core.Router
	Engine *Engine
	Logger *slog.Logger

	upgrader   websocket.Upgrader
	sem        *semaphore.Weighted
	maxConns   int64
}

// New builds an Adapter. maxConnections <= 0 uses defaultMaxConnections.
func New(router *core.Router, engine *Engine, logger *slog.Logger, maxConnections int64) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConnections <= 0 {
		maxConnections = defaultMaxConnections
	}
	if engine == nil {
		engine = NewEngine()
	}
	if engine.Events == nil && router != nil {
		engine.Events = router.Events
	}
	return &Adapter{
		Router: router,
		Engine: engine,
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sem:      semaphore.NewWeighted(maxConnections),
		maxConns: maxConnections,
	}
}

// ServeHTTP upgrades the connection and blocks for its lifetime, matching
// http.Handler's documented synchronous-per-request contract.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.sem.TryAcquire(1) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer a.sem.Release(1)

	wsConn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	a.publishConnEvent(events.EventConnectionOpened, id, events.ConnectionOpenedData{Transport: "ws", RemoteAddr: r.RemoteAddr})

	conn := newConnection(id, wsConn, a.Engine, a.Router, a.Logger)
	conn.run()

	a.publishConnEvent(events.EventConnectionClosed, id, events.ConnectionClosedData{Transport: "ws", Reason: "disconnected"})
}

func (a *Adapter) publishConnEvent(t events.EventType, connID string, data events.EventData) {
	if a.Router.Events == nil {
		return
	}
	a.Router.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), ConnectionID: connID, Data: data})
}

// AcquireForShutdown blocks until every in-flight connection slot is
// released, or ctx is done, letting Server wait out the grace period
// before closing listeners.
func (a *Adapter) AcquireForShutdown(ctx context.Context) error {
	return a.sem.Acquire(ctx, a.maxConns)
}
