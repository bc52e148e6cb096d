package relay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest accepted message body
const MaxFrameSize = 1024 * 1024

// headerSize is the length prefix: a little-endian uint32
const headerSize = 4

// ErrInvalidFrameLength is returned when a length prefix is zero or too large.
// Everything buffered at that point is discarded.
var ErrInvalidFrameLength = errors.New("invalid native message length")

// Decoder splits a byte stream into length-prefixed frames
type Decoder struct {
	buf []byte
}

// Feed appends p to the buffer and returns every complete frame.
// An invalid length drops the buffer; frames decoded before it are still returned.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	d.buf = append(d.buf, p...)

	var frames [][]byte
	for len(d.buf) >= headerSize {
		n := binary.LittleEndian.Uint32(d.buf)
		if n == 0 || n > MaxFrameSize {
			d.buf = nil
			return frames, fmt.Errorf("%w: %d", ErrInvalidFrameLength, n)
		}
		end := headerSize + int(n)
		if len(d.buf) < end {
			break
		}
		frame := make([]byte, n)
		copy(frame, d.buf[headerSize:end])
		frames = append(frames, frame)
		d.buf = d.buf[end:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for a complete frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// WriteFrame marshals v and writes it with its length prefix in one write
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrInvalidFrameLength, len(body))
	}

	frame := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerSize:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
