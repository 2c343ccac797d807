package tcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/raffel-dev/raffel/runtime/events"
)

// Connection wraps one accepted net.Conn: a single reader goroutine that
// decodes frames in arrival order, a mutex-serialized writer (frames may be
// written concurrently by multiple in-flight stream/procedure tasks), and a
// table of cancellation controllers keyed by request id, adapted from the
// A2A server's task_id -> context.CancelFunc table down to one connection's
// scope instead of the whole server's.
type Connection struct {
	id           string
	conn         net.Conn
	router       *core.Router
	logger       *slog.Logger
	maxFrameSize uint32

	writeMu sync.Mutex

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc
}

func newConnection(id string, conn net.Conn, router *core.Router, logger *slog.Logger, maxFrameSize uint32) *Connection {
	return &Connection{
		id:           id,
		conn:         conn,
		router:       router,
		logger:       logger,
		maxFrameSize: maxFrameSize,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// serve reads frames until the peer disconnects or an unrecoverable framing
// error occurs, dispatching each to its own goroutine so a slow handler
// never blocks the next inbound frame. It blocks for the connection's
// lifetime.
func (c *Connection) serve() {
	defer c.teardown()
	for {
		payload, err := readFrame(c.conn, c.maxFrameSize)
		if err != nil {
			if coded, ok := err.(*raffelerrors.Error); ok && coded.Code == raffelerrors.MessageTooLarge {
				c.logger.Warn("oversize tcp frame, closing connection", "connection", c.id)
				c.replyFramingError(coded)
			} else if err != io.EOF {
				c.logger.Debug("tcp read error", "connection", c.id, "error", err)
			}
			return
		}

		var env core.Envelope
		if jsonErr := json.Unmarshal(payload, &env); jsonErr != nil {
			c.writeEnvelope(&core.Envelope{
				Type: core.EnvelopeError,
				Payload: mustJSON(core.ErrorPayload{
					Code:    raffelerrors.ParseError,
					Message: "invalid envelope: " + jsonErr.Error(),
				}),
			})
			continue
		}

		go c.dispatch(&env)
	}
}

// teardown fires every in-flight request's cancellation controller, per the
// spec's "on disconnect, every active stream's cancellation controller
// fires" rule, then closes the socket.
func (c *Connection) teardown() {
	c.cancelsMu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = make(map[string]context.CancelFunc)
	c.cancelsMu.Unlock()
	_ = c.conn.Close()
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

func (c *Connection) dispatch(env *core.Envelope) {
	switch env.Type {
	case core.EnvelopeStreamStart:
		c.dispatchStream(env)
	default:
		ctx, cancel := context.WithCancel(context.Background())
		c.registerCancel(env.ID, cancel)
		defer func() {
			cancel()
			c.releaseCancel(env.ID)
		}()
		resp := c.router.Handle(ctx, env)
		c.writeEnvelope(resp)
	}
}

// dispatchStream routes a stream:start frame through the Router and relays
// every item back with the original request id, same as the WebSocket
// adapter but over the length-prefixed wire.
func (c *Connection) dispatchStream(env *core.Envelope) {
	parent, cancel := context.WithCancel(context.Background())
	c.registerCancel(env.ID, cancel)

	stream, ctx, err := c.router.HandleStream(parent, env)
	if err != nil {
		cancel()
		c.releaseCancel(env.ID)
		code, msg, details := errorParts(err)
		c.writeEnvelope(&core.Envelope{ID: core.ErrorID(env.ID), Procedure: env.Procedure, Type: core.EnvelopeError,
			Payload: mustJSON(core.ErrorPayload{Code: code, Message: msg, Details: details})})
		return
	}

	go func() {
		start := time.Now()
		sequence := 0
		defer stream.Close()
		defer cancel()
		defer c.releaseCancel(env.ID)

		for item := range stream.Items {
			if item.Err != nil {
				code, msg, details := errorParts(item.Err)
				c.writeEnvelope(&core.Envelope{ID: env.ID, Procedure: env.Procedure, Type: core.EnvelopeStreamError,
					Payload: mustJSON(core.ErrorPayload{Code: code, Message: msg, Details: details})})
				c.publishStreamEvent(events.EventStreamFailed, env.ID, events.StreamFailedData{Procedure: env.Procedure, Error: item.Err})
				return
			}
			c.writeEnvelope(&core.Envelope{ID: env.ID, Procedure: env.Procedure, Type: core.EnvelopeStreamData, Payload: item.Payload})
			c.publishStreamEvent(events.EventStreamItemEmitted, env.ID, events.StreamItemEmittedData{Procedure: env.Procedure, Sequence: sequence})
			sequence++
			select {
			case <-ctx.Done():
				c.publishStreamEvent(events.EventStreamCancelled, env.ID, events.StreamCancelledData{Procedure: env.Procedure, Reason: "disconnected"})
				return
			default:
			}
		}
		c.writeEnvelope(&core.Envelope{ID: env.ID, Procedure: env.Procedure, Type: core.EnvelopeStreamEnd})
		c.publishStreamEvent(events.EventStreamEnded, env.ID, events.StreamEndedData{Procedure: env.Procedure, ItemCount: sequence, Duration: time.Since(start)})
	}()
}

func (c *Connection) publishStreamEvent(t events.EventType, requestID string, data events.EventData) {
	if c.router.Events == nil {
		return
	}
	c.router.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), RequestID: requestID, ConnectionID: c.id, Data: data})
}

// writeEnvelope serializes writes: multiple concurrently dispatched
// requests and streams share one socket, so the frame boundary (length
// prefix + body) must never interleave with another goroutine's write.
func (c *Connection) writeEnvelope(env *core.Envelope) {
	if env == nil {
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal outbound envelope", "connection", c.id, "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.conn, body); err != nil {
		c.logger.Debug("tcp write error", "connection", c.id, "error", err)
	}
}

func (c *Connection) replyFramingError(err *raffelerrors.Error) {
	c.writeEnvelope(&core.Envelope{
		Type:    core.EnvelopeError,
		Payload: mustJSON(core.ErrorPayload{Code: err.Code, Message: err.Error(), Details: err.Details}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func errorParts(err error) (raffelerrors.Code, string, map[string]any) {
	if e, ok := err.(*raffelerrors.Error); ok {
		return e.Code, e.Error(), e.Details
	}
	return raffelerrors.InternalError, err.Error(), nil
}
