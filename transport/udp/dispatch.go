package udp

import (
	"bytes"
	"context"
	"encoding/json"
	"net"

	"github.com/raffel-dev/raffel/core"
	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
)

// typeProbe reads just the type field, letting dispatch decide how to
// react to a malformed envelope before the full Envelope is known to be
// well-formed.
type typeProbe struct {
	ID   string            `json:"id"`
	Type core.EnvelopeType `json:"type"`
}

// dispatch decodes one datagram and reacts accordingly: a request
// that fails to parse gets an error envelope back; an event that fails to
// parse is dropped silently, since echoing errors back to an unverified
// source address on a connectionless protocol is an amplification vector.
// stream:* envelopes are rejected as UNIMPLEMENTED — UDP has no persistent
// connection to carry a stream's lifetime.
func (a *Adapter) dispatch(datagram []byte, addr net.Addr) {
	var probe typeProbe
	if err := json.Unmarshal(datagram, &probe); err != nil {
		// A truncated datagram still names its type when the "type" key
		// arrived before the cut, so scan tokens up to the syntax error.
		dec := json.NewDecoder(bytes.NewReader(datagram))
		var key any
		for tok, terr := dec.Token(); terr == nil; tok, terr = dec.Token() {
			if s, ok := tok.(string); ok && key == "id" {
				probe.ID = s
			} else if ok && key == "type" {
				probe.Type = core.EnvelopeType(s)
			}
			key = tok
		}
		if probe.Type != core.EnvelopeRequest {
			// Can't tell this was a request; dropping is the only safe
			// default.
			return
		}
	}

	var env core.Envelope
	if err := json.Unmarshal(datagram, &env); err != nil {
		if probe.Type == core.EnvelopeRequest {
			a.replyError(addr, probe.ID, raffelerrors.ParseError, "invalid envelope: "+err.Error())
		}
		return
	}

	switch env.Type {
	case core.EnvelopeStreamStart:
		a.replyError(addr, env.ID, raffelerrors.Unimplemented, "streaming is not supported over UDP")
	case core.EnvelopeEvent:
		a.Router.Handle(context.Background(), &env)
	case core.EnvelopeRequest:
		resp := a.Router.Handle(context.Background(), &env)
		a.reply(addr, resp)
	default:
		if env.Type != "" {
			a.replyError(addr, env.ID, raffelerrors.InvalidEnvelope, "unsupported envelope type: "+string(env.Type))
		}
	}
}

func (a *Adapter) reply(addr net.Addr, env *core.Envelope) {
	if env == nil {
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		a.Logger.Error("failed to marshal outbound envelope", "error", err)
		return
	}
	a.pcMu.Lock()
	pc := a.pc
	a.pcMu.Unlock()
	if pc == nil {
		return
	}
	if _, err := pc.WriteTo(body, addr); err != nil {
		a.Logger.Debug("udp write error", "error", err)
	}
}

func (a *Adapter) replyError(addr net.Addr, requestID string, code raffelerrors.Code, message string) {
	a.reply(addr, &core.Envelope{
		ID:      core.ErrorID(requestID),
		Type:    core.EnvelopeError,
		Payload: mustJSON(core.ErrorPayload{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
