package ws

import (
	"context"
	"time"

	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/raffel-dev/raffel/runtime/events"
)

// dispatch routes one decoded inbound frame to either the channel engine or
// the Router, per its Type.
func (c *Connection) dispatch(frame inboundFrame) {
	if channelOpTypes[frame.Type] {
		c.dispatchChannelOp(frame)
		return
	}
	switch core.EnvelopeType(frame.Type) {
	case core.EnvelopeRequest, core.EnvelopeEvent, core.EnvelopeStreamStart:
		c.dispatchEnvelope(frame)
	default:
		c.deliverError(frame.ID, string(raffelerrors.InvalidEnvelope), "unknown frame type: "+frame.Type)
	}
}

// dispatchChannelOp walks the subscription state machine: subscribing ->
// subscribed (or rejected), unsubscribing -> unsubscribed, publish checked
// against the channel's publish authorization, ping answered with pong.
func (c *Connection) dispatchChannelOp(frame inboundFrame) {
	switch frame.Type {
	case typeSubscribe:
		result, err := c.engine.Subscribe(c.ctx, c, frame.Channel, frame.Auth)
		if err != nil {
			c.deliverError(frame.ID, string(codeOf(err)), err.Error())
			return
		}
		select {
		case c.send <- outboundFrame{Type: typeSubscribed, Channel: frame.Channel, ID: frame.ID, Members: result.Members}:
		default:
		}

	case typeUnsubscribe:
		wasMember := c.engine.Unsubscribe(c, frame.Channel)
		select {
		case c.send <- outboundFrame{Type: typeUnsubscribed, Channel: frame.Channel, ID: frame.ID}:
		default:
		}
		if wasMember {
			c.engine.PublishMember(frame.Channel, typeMemberRemoved, Member{ID: c.ID})
			c.engine.publish(events.EventChannelMemberRemoved, c.ID, events.ChannelMemberRemovedData{Channel: frame.Channel, MemberID: c.ID})
		}

	case typePublish:
		if !c.engine.CanPublish(c.ctx, frame.Channel, frame.Event, frame.Data) {
			c.deliverError(frame.ID, string(raffelerrors.PermissionDenied), "not authorized to publish")
			return
		}
		c.engine.PublishExcept(frame.Channel, frame.Event, frame.Data, c.ID)

	case typePing:
		select {
		case c.send <- outboundFrame{Type: typePong, ID: frame.ID}:
		default:
		}
	}
}

// dispatchEnvelope routes request/event/stream:start frames through the
// shared Router, the same code path the HTTP and JSON-RPC adapters use.
func (c *Connection) dispatchEnvelope(frame inboundFrame) {
	env := &core.Envelope{
		ID:        frame.ID,
		Procedure: frame.Procedure,
		Type:      core.EnvelopeType(frame.Type),
		Payload:   frame.Payload,
		Metadata:  frame.Metadata,
	}

	switch env.Type {
	case core.EnvelopeStreamStart:
		c.dispatchStream(env)
	default:
		// Each invocation runs on its own goroutine so a slow handler never
		// blocks this connection's next inbound frame. The context is
		// derived from c.ctx (cancelled on disconnect) and registered under
		// the request id so a disconnect cancels it immediately instead of
		// leaving it to run against a socket nobody reads the reply from.
		ctx, cancel := context.WithCancel(c.ctx.Context)
		c.registerCancel(env.ID, cancel)
		go func() {
			defer cancel()
			defer c.releaseCancel(env.ID)
			resp := c.router.Handle(ctx, env)
			c.sendEnvelope(resp)
		}()
	}
}

func (c *Connection) dispatchStream(env *core.Envelope) {
	parent, cancel := context.WithCancel(c.ctx.Context)
	c.registerCancel(env.ID, cancel)

	stream, ctx, err := c.router.HandleStream(parent, env)
	if err != nil {
		cancel()
		c.releaseCancel(env.ID)
		code, msg, details := errorParts(err)
		c.sendEnvelope(&core.Envelope{ID: core.ErrorID(env.ID), Procedure: env.Procedure, Type: core.EnvelopeError,
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
				c.sendEnvelope(&core.Envelope{ID: env.ID, Procedure: env.Procedure, Type: core.EnvelopeStreamError,
					Payload: mustJSON(core.ErrorPayload{Code: code, Message: msg, Details: details})})
				c.publishStreamEvent(events.EventStreamFailed, env.ID, events.StreamFailedData{Procedure: env.Procedure, Error: item.Err})
				return
			}
			c.sendEnvelope(&core.Envelope{ID: env.ID, Procedure: env.Procedure, Type: core.EnvelopeStreamData, Payload: item.Payload})
			c.publishStreamEvent(events.EventStreamItemEmitted, env.ID, events.StreamItemEmittedData{Procedure: env.Procedure, Sequence: sequence})
			sequence++
			select {
			case <-ctx.Done():
				c.publishStreamEvent(events.EventStreamCancelled, env.ID, events.StreamCancelledData{Procedure: env.Procedure, Reason: "disconnected"})
				return
			default:
			}
		}
		c.sendEnvelope(&core.Envelope{ID: env.ID, Procedure: env.Procedure, Type: core.EnvelopeStreamEnd})
		c.publishStreamEvent(events.EventStreamEnded, env.ID, events.StreamEndedData{Procedure: env.Procedure, ItemCount: sequence, Duration: time.Since(start)})
	}()
}

func (c *Connection) publishStreamEvent(t events.EventType, requestID string, data events.EventData) {
	if c.router.Events == nil {
		return
	}
	c.router.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), RequestID: requestID, ConnectionID: c.ID, Data: data})
}

func (c *Connection) sendEnvelope(env *core.Envelope) {
	select {
	case c.send <- outboundFrame{ID: env.ID, Procedure: env.Procedure, Type: string(env.Type), Payload: env.Payload, Metadata: env.Metadata}:
	default:
		c.logger.Warn("dropped envelope frame: mailbox full", "connection", c.ID, "procedure", env.Procedure)
	}
}

func codeOf(err error) raffelerrors.Code {
	if e, ok := err.(*raffelerrors.Error); ok {
		return e.Code
	}
	return raffelerrors.InternalError
}

func errorParts(err error) (raffelerrors.Code, string, map[string]any) {
	if e, ok := err.(*raffelerrors.Error); ok {
		return e.Code, e.Error(), e.Details
	}
	return raffelerrors.InternalError, err.Error(), nil
}
