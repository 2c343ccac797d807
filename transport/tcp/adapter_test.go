package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/raffel-dev/raffel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*Adapter, net.Listener) {
	t.Helper()
	registry := core.NewRegistry()
	require.NoError(t, registry.RegisterProcedure("echo", func(ctx *core.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}))
	require.NoError(t, registry.RegisterStream("countdown", func(ctx *core.Context, payload []byte) (*core.Stream, error) {
		stream, items := core.NewStream(4)
		go func() {
			defer close(items)
			for i := 3; i >= 1; i-- {
				items <- core.StreamItem{Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
			}
		}()
		return stream, nil
	}))
	router := core.NewRouter(registry, core.NewChain(), slog.Default())
	adapter := New(router, slog.Default(), 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = adapter.Serve(ln) }()
	return adapter, ln
}

func dialEnvelope(t *testing.T, addr net.Addr, env *core.Envelope) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, body))
	return conn
}

func readEnvelope(t *testing.T, conn net.Conn) *core.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := readFrame(conn, DefaultMaxFrameSize)
	require.NoError(t, err)
	var env core.Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return &env
}

func TestAdapter_RequestRoundTrip(t *testing.T) {
	adapter, ln := newTestAdapter(t)
	defer ln.Close()

	conn := dialEnvelope(t, ln.Addr(), &core.Envelope{ID: "1", Procedure: "echo", Type: core.EnvelopeRequest, Payload: json.RawMessage(`{"x":1}`)})
	defer conn.Close()

	resp := readEnvelope(t, conn)
	assert.Equal(t, core.EnvelopeResponse, resp.Type)
	assert.JSONEq(t, `{"x":1}`, string(resp.Payload))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = adapter.Shutdown(ctx)
}

func TestAdapter_StreamRoundTrip(t *testing.T) {
	_, ln := newTestAdapter(t)
	defer ln.Close()

	conn := dialEnvelope(t, ln.Addr(), &core.Envelope{ID: "s1", Procedure: "countdown", Type: core.EnvelopeStreamStart})
	defer conn.Close()

	var frames []*core.Envelope
	for i := 0; i < 4; i++ {
		frames = append(frames, readEnvelope(t, conn))
	}
	assert.Equal(t, core.EnvelopeStreamData, frames[0].Type)
	assert.Equal(t, core.EnvelopeStreamData, frames[1].Type)
	assert.Equal(t, core.EnvelopeStreamData, frames[2].Type)
	assert.Equal(t, core.EnvelopeStreamEnd, frames[3].Type)
	for _, f := range frames {
		assert.Equal(t, "s1", f.ID)
	}
}

func TestAdapter_ParseErrorReply(t *testing.T) {
	_, ln := newTestAdapter(t)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, writeFrame(conn, []byte("not json")))

	resp := readEnvelope(t, conn)
	assert.Equal(t, core.EnvelopeError, resp.Type)
}

func TestAdapter_OversizeFrameClosesConnection(t *testing.T) {
	_, ln := newTestAdapter(t)
	defer ln.Close()

	smallAdapter := New(core.NewRouter(core.NewRegistry(), core.NewChain(), slog.Default()), slog.Default(), 0, WithMaxFrameSize(16))
	smallLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer smallLn.Close()
	go func() { _ = smallAdapter.Serve(smallLn) }()

	conn, err := net.Dial("tcp", smallLn.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	body, err := json.Marshal(&core.Envelope{ID: "big", Procedure: "echo", Type: core.EnvelopeRequest, Payload: json.RawMessage(`{"padding":"01234567890123456789"}`)})
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, body))

	resp := readEnvelope(t, conn)
	assert.Equal(t, core.EnvelopeError, resp.Type)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, readErr := conn.Read(buf)
	assert.Error(t, readErr, "connection should be closed after an oversize frame")
}
