package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20 // 1 MiB per inbound frame

	// mailboxSize bounds how far a slow reader may lag the publisher before
	// frames are dropped, per the channel engine's backpressure contract.
	mailboxSize = 256
)

// Connection wraps one upgraded *websocket.Conn with a bounded outbound
// mailbox and a heartbeat loop, adapted from a client-dialing connection
// wrapper to a server-accepting one: Connect/Dial becomes the Upgrade call
// in Adapter.ServeHTTP, and the ping/pong roles invert (server pings,
// client pongs) but the deadline-reset discipline is the same.
type Connection struct {
	ID  string
	ctx *core.Context

	ws     *websocket.Conn
	send   chan outboundFrame
	logger *slog.Logger

	engine *Engine
	router *core.Router

	cancel context.CancelFunc

	// cancelsMu/cancels tracks every in-flight request's cancellation
	// controller, keyed by request id, the same table shape as the TCP
	// adapter's Connection uses. Each is derived from c.ctx so a disconnect
	// cancels them even without teardown's explicit sweep, which exists for
	// immediate cleanup rather than relying on context propagation alone.
	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc
}

func newConnection(id string, ws *websocket.Conn, engine *Engine, router *core.Router, logger *slog.Logger) *Connection {
	ctx, cancel := core.NewContext(context.Background(), id)
	return &Connection{
		ID:      id,
		ctx:     ctx,
		ws:      ws,
		send:    make(chan outboundFrame, mailboxSize),
		logger:  logger,
		engine:  engine,
		router:  router,
		cancel:  cancel,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (c *Connection) registerCancel(requestID string, cancel context.CancelFunc) {
	c.cancelsMu.Lock()
	c.cancels[requestID] = cancel
	c.cancelsMu.Unlock()
}

func (c *Connection) releaseCancel(requestID string) {
	c.cancelsMu.Lock()
	delete(c.cancels, requestID)
	c.cancelsMu.Unlock()
}

// run drives the connection until either pump exits, then tears down
// subscriptions and closes the socket. It blocks until the connection
// closes, so the caller (Adapter.ServeHTTP) should call it directly on the
// request goroutine.
func (c *Connection) run() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.readPump()
	c.cancel()
	c.teardown()
	c.engine.UnsubscribeAll(c)
	<-done
	_ = c.ws.Close()
}

// teardown fires every in-flight request's cancellation controller, per the
// rule that a disconnect cancels every active call and stream producer
// immediately rather than leaving them to run to completion against a
// socket nobody will read the response from. c.cancel() above already
// cancels c.ctx, which every entry here derives from and so is already
// cancelled by the time this runs; the explicit sweep just clears the
// table rather than leaving stale entries for the GC.
func (c *Connection) teardown() {
	c.cancelsMu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = make(map[string]context.CancelFunc)
	c.cancelsMu.Unlock()
}

func (c *Connection) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.deliverError("", string(raffelerrors.ParseError), "invalid frame")
			continue
		}
		c.dispatch(frame)
	}
}

// writePump stops on c.ctx.Done() rather than a closed c.send: the mailbox
// stays open for the lifetime of the Connection value so in-flight dispatch
// goroutines can always send to it through the non-blocking selects in
// deliverEvent/deliverMember/deliverError/sendEnvelope without racing a
// close. Once this pump exits, nothing reads c.send again; sends quietly
// fall through to the drop branch once the buffer fills.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// deliverEvent is the channel engine's fan-out hook: non-blocking, drops
// the frame rather than stalling the publisher if the mailbox is full.
// Reports whether the frame was queued, so callers can surface the drop.
func (c *Connection) deliverEvent(channel, event string, data json.RawMessage) bool {
	select {
	case c.send <- outboundFrame{Type: typeEvent, Channel: channel, Event: event, Data: data}:
		return true
	default:
		c.logger.Warn("dropped frame: mailbox full", "connection", c.ID, "channel", channel)
		return false
	}
}

// deliverMember is the presence-channel fan-out hook for member_added and
// member_removed frames.
func (c *Connection) deliverMember(channel, frameType string, member Member) {
	m := member
	select {
	case c.send <- outboundFrame{Type: frameType, Channel: channel, Member: &m}:
	default:
		c.logger.Warn("dropped frame: mailbox full", "connection", c.ID, "channel", channel)
	}
}

func (c *Connection) deliverError(inReplyTo string, code string, message string) {
	select {
	case c.send <- outboundFrame{Type: typeError, ID: inReplyTo, Code: code, Message: message}:
	default:
	}
}
