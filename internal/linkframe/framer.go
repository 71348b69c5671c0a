// Package linkframe splits the raw byte stream coming from the driver board
// into newline-delimited lines using a fixed-capacity buffer.
package linkframe

import (
	"errors"
)

// DefaultCapacity is the line buffer size used by the driver board firmware.
const DefaultCapacity = 64

// ErrOverflow is returned when a line exceeds the buffer capacity before a
// newline arrives. The rest of that line, up to and including its newline,
// is discarded without producing a line.
var ErrOverflow = errors.New("line buffer overflow")

// Framer accumulates bytes into a bounded line buffer.
// Not safe for concurrent use.
type Framer struct {
	buf []byte
	cap int

	// discarding is set after an overflow until the next newline.
	discarding bool
}

// NewFramer creates a framer holding at most capacity bytes per line.
func NewFramer(capacity int) *Framer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Framer{
		buf: make([]byte, 0, capacity),
		cap: capacity,
	}
}

// Feed consumes a single byte. When b terminates a line, the line is returned
// with complete=true and the buffer is reset. A trailing '\r' is stripped.
func (f *Framer) Feed(b byte) (line string, complete bool, err error) {
	if f.discarding {
		if b == '\n' {
			f.discarding = false
		}
		return "", false, nil
	}

	if b == '\n' {
		n := len(f.buf)
		if n > 0 && f.buf[n-1] == '\r' {
			n--
		}
		line = string(f.buf[:n])
		f.buf = f.buf[:0]
		return line, true, nil
	}

	if len(f.buf) >= f.cap {
		f.buf = f.buf[:0]
		f.discarding = true
		return "", false, ErrOverflow
	}

	f.buf = append(f.buf, b)
	return "", false, nil
}

// Len returns the number of buffered bytes.
func (f *Framer) Len() int {
	return len(f.buf)
}

// Capacity returns the configured capacity.
func (f *Framer) Capacity() int {
	return f.cap
}

// Reset discards any partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.discarding = false
}
