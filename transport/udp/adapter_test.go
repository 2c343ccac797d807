package udp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/raffel-dev/raffel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*Adapter, net.PacketConn) {
	adapter, pc, _ := newTestAdapterWithEvents(t)
	return adapter, pc
}

func newTestAdapterWithEvents(t *testing.T) (*Adapter, net.PacketConn, chan struct{}) {
	t.Helper()
	registry := core.NewRegistry()
	require.NoError(t, registry.RegisterProcedure("echo", func(ctx *core.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}))
	events := make(chan struct{}, 8)
	require.NoError(t, registry.RegisterEvent("ping", func(ctx *core.Context, payload []byte) error {
		events <- struct{}{}
		return nil
	}))
	router := core.NewRouter(registry, core.NewChain(), slog.Default())
	adapter := New(router, slog.Default(), 0)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = adapter.Serve(pc) }()
	return adapter, pc, events
}

func sendDatagram(t *testing.T, client net.Conn, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = client.Write(body)
	require.NoError(t, err)
}

func readEnvelope(t *testing.T, client net.Conn) *core.Envelope {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, DefaultMaxDatagramSize)
	n, err := client.Read(buf)
	require.NoError(t, err)
	var env core.Envelope
	require.NoError(t, json.Unmarshal(buf[:n], &env))
	return &env
}

func dialTestAdapter(t *testing.T, pc net.PacketConn) net.Conn {
	t.Helper()
	conn, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	return conn
}

func TestAdapter_RequestRoundTrip(t *testing.T) {
	_, pc := newTestAdapter(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	sendDatagram(t, client, &core.Envelope{ID: "1", Procedure: "echo", Type: core.EnvelopeRequest, Payload: json.RawMessage(`{"x":1}`)})
	resp := readEnvelope(t, client)
	assert.Equal(t, core.EnvelopeResponse, resp.Type)
	assert.JSONEq(t, `{"x":1}`, string(resp.Payload))
}

func TestAdapter_EventDispatchedWithoutReply(t *testing.T) {
	_, pc, events := newTestAdapterWithEvents(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	sendDatagram(t, client, &core.Envelope{ID: "e1", Procedure: "ping", Type: core.EnvelopeEvent})

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("event handler never ran")
	}

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	_, readErr := client.Read(buf)
	assert.Error(t, readErr, "a well-formed event must never produce a reply datagram")
}

func TestAdapter_StreamStartRejectedUnimplemented(t *testing.T) {
	_, pc := newTestAdapter(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	sendDatagram(t, client, &core.Envelope{ID: "s1", Procedure: "echo", Type: core.EnvelopeStreamStart})
	resp := readEnvelope(t, client)
	assert.Equal(t, core.EnvelopeError, resp.Type)

	var payload core.ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Equal(t, "UNIMPLEMENTED", string(payload.Code))
}

func TestAdapter_MalformedRequestGetsErrorReply(t *testing.T) {
	_, pc := newTestAdapter(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	_, err := client.Write([]byte(`{"id":"bad","type":"request","payload":`))
	require.NoError(t, err)

	resp := readEnvelope(t, client)
	assert.Equal(t, core.EnvelopeError, resp.Type)
}

func TestAdapter_MalformedEventIsDroppedSilently(t *testing.T) {
	_, pc := newTestAdapter(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	_, err := client.Write([]byte(`{"id":"bad","type":"event","payload":`))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	_, readErr := client.Read(buf)
	assert.Error(t, readErr, "a malformed event datagram must not produce any reply")
}

func TestAdapter_CompletelyUnparsableDatagramIsDropped(t *testing.T) {
	_, pc := newTestAdapter(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	_, err := client.Write([]byte("not json at all"))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	_, readErr := client.Read(buf)
	assert.Error(t, readErr, "an unparsable datagram of unknown type must not produce any reply")
}

func TestAdapter_Push(t *testing.T) {
	adapter, pc := newTestAdapter(t)
	defer pc.Close()
	client := dialTestAdapter(t, pc)
	defer client.Close()

	// Have the server learn the client's address via one request, then push
	// an unsolicited envelope back.
	sendDatagram(t, client, &core.Envelope{ID: "1", Procedure: "echo", Type: core.EnvelopeRequest})
	_ = readEnvelope(t, client)

	serverAddr, err := net.ResolveUDPAddr("udp", client.LocalAddr().String())
	require.NoError(t, err)
	require.NoError(t, adapter.Push(serverAddr, &core.Envelope{ID: "push-1", Type: core.EnvelopeEvent, Payload: json.RawMessage(`{"pushed":true}`)}))

	resp := readEnvelope(t, client)
	assert.Equal(t, "push-1", resp.ID)
}

func TestAdapter_ShutdownClosesSocket(t *testing.T) {
	adapter, pc := newTestAdapter(t)
	defer pc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, adapter.Shutdown(ctx))
}
