// Package tcp implements the raw-TCP adapter: 4-byte big-endian
// length-prefixed framing around the same JSON envelope the HTTP,
// JSON-RPC, and WebSocket adapters exchange, with no handshake.
package tcp

import (
	"encoding/binary"
	"io"

	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
)

const lengthPrefixSize = 4

// DefaultMaxFrameSize bounds a single frame's payload absent an explicit
// Adapter override.
const DefaultMaxFrameSize = 16 << 20 // 16 MiB

// readFrame reads one length-prefixed frame from r. io.ReadFull blocks
// across as many underlying reads as the peer needs to deliver the
// declared length, which is what gives the adapter its partial-frame
// reassembly: a length prefix followed by a delayed, split payload still
// resolves to exactly one frame.
//
// A declared length over maxFrameSize is rejected before any payload bytes
// are read, so an oversize declaration never forces the adapter to buffer
// attacker-controlled data.
func readFrame(r io.Reader, maxFrameSize uint32) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, raffelerrors.Wrap(raffelerrors.MessageTooLarge, "tcp", "readFrame", nil).
			WithDetails(map[string]any{"declared_size": n, "max_size": maxFrameSize})
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
