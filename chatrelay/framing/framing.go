// Package framing implements the 4-byte big-endian length-prefixed frame
// format used on the wire between client and broker, both before and after
// the handshake: a Handshake event travels as one cleartext frame, and
// every encrypted blob that follows travels as one frame too.
package framing

import (
	"encoding/binary"
	"io"

	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// MaxFrameSize bounds a single frame so a peer can't force unbounded
// allocation by sending a bogus length prefix.
const MaxFrameSize = 1 << 22 // 4MiB

// WriteFrame writes the 4-byte length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return relerr.Wrap(relerr.Generic, "frame exceeds maximum size")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return relerr.From(relerr.IO, err)
	}
	if _, err := w.Write(payload); err != nil {
		return relerr.From(relerr.IO, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, failing closed on oversize or
// truncated input.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, relerr.From(relerr.Shutdown, err)
		}
		return nil, relerr.From(relerr.IO, err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, relerr.Wrap(relerr.Decode, "frame exceeds maximum size")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, relerr.From(relerr.IO, err)
	}
	return payload, nil
}
