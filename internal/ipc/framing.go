// Package ipc implements the half-duplex, length-prefixed pipe protocol
// used at each worker-process boundary (spec §5: "each communicates with
// the core by a half-duplex pipe carrying length-prefixed messages").
//
// Every message is a 4-byte big-endian length header followed by that many
// payload bytes. There is no framing magic number and no checksum: the
// pipe is a private, in-process io.ReadWriter (or, on a real deployment, an
// os.Pipe to a worker binary), not a network boundary.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message so a corrupt or malicious length
// header cannot make ReadFrame allocate unbounded memory.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned by ReadFrame when a length header exceeds
// MaxFrameSize.
type ErrFrameTooLarge struct{ Size uint32 }

func (e ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("ipc: frame size %d exceeds max %d", e.Size, MaxFrameSize)
}

// WriteFrame writes one length-prefixed message to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("ipc: writing frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message from r, blocking until a
// full frame arrives or r returns an error (typically io.EOF on pipe
// close, which the caller should treat as a normal shutdown signal).
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge{Size: size}
	}
	if size == 0 {
		return nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: reading frame payload: %w", err)
	}
	return payload, nil
}
