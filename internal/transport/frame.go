// Package transport implements the length-framed TCP protocol: every
// frame on the wire is a u32 big-endian length followed by that many bytes
// of JSON, carrying either a MasterMessage (master -> minion) or a
// MinionMessage (minion -> master).
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
)

// MaxFrameSize bounds a single decoded frame, guarding against a
// corrupt/hostile length prefix causing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64MiB

// WriteFrame encodes v as JSON and writes it length-prefixed to w. Safe
// for concurrent use only if w itself is, or mu serializes callers — see
// FrameWriter for the serialized variant used by the master's per-connection
// writer.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, err)
	}
	if len(body) > MaxFrameSize {
		return apierrors.NewProtocolf("frame too large: %d bytes", len(body))
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and unmarshals it into
// v, a malformed envelope (length prefix but short/corrupt body) yields a
// CodeProtocol error rather than propagating the raw io error.
func ReadFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err // EOF/connection closed propagates as-is
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxFrameSize {
		return apierrors.NewProtocolf("frame length %d exceeds maximum", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return apierrors.Wrap(apierrors.CodeProtocol, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apierrors.Wrap(apierrors.CodeProtocol, err)
	}
	return nil
}

// FrameWriter serializes concurrent writers onto one connection, since
// io.Writer.Write is not itself safe for interleaved frame writes.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter { return &FrameWriter{w: w} }

func (fw *FrameWriter) Write(v any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return WriteFrame(fw.w, v)
}
