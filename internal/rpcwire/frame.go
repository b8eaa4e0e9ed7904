package rpcwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single envelope's encoded size, guarding the reader
// against a corrupt or hostile length prefix requesting an unbounded
// allocation.
const MaxFrameLen = 16 << 20

// WriteFrame writes one length-prefixed envelope to w.
func WriteFrame(w io.Writer, e Envelope) error {
	body := Marshal(e)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("rpcwire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("rpcwire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed envelope from r. It reports io.EOF
// unaltered when the peer closes cleanly between frames.
func ReadFrame(r *bufio.Reader) (Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return Envelope{}, fmt.Errorf("rpcwire: frame length %d exceeds max %d", n, MaxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Envelope{}, fmt.Errorf("rpcwire: read body: %w", err)
	}
	return Unmarshal(body)
}
