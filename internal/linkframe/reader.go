package linkframe

import (
	"io"
	"time"
)

// Reader is a pull-based line iterator over a byte stream. A Reader belongs
// to one connection; create a new one after reconnecting.
//
// A read that returns no bytes and no error (a serial read timeout) counts as
// inactivity. Once no byte has arrived for the inactivity window, the idle
// timer restarts and OnIdle is invoked.
type Reader struct {
	src        io.Reader
	framer     *Framer
	chunk      []byte
	pending    []byte
	deferred   error
	inactivity time.Duration
	lastByte   time.Time
	now        func() time.Time

	// OnIdle is called from Next on every expired inactivity window.
	OnIdle func()
}

// NewReader creates a line reader with the given buffer capacity and
// inactivity window (0 disables the idle check).
func NewReader(src io.Reader, capacity int, inactivity time.Duration) *Reader {
	return &Reader{
		src:        src,
		framer:     NewFramer(capacity),
		chunk:      make([]byte, 256),
		inactivity: inactivity,
		lastByte:   time.Now(),
		now:        time.Now,
	}
}

// Next returns the next complete line. ErrOverflow is not terminal: the
// caller may keep calling Next. Any other error comes from the source and
// ends the iteration.
func (r *Reader) Next() (string, error) {
	for {
		for len(r.pending) > 0 {
			b := r.pending[0]
			r.pending = r.pending[1:]

			line, complete, err := r.framer.Feed(b)
			if err != nil {
				return "", err
			}
			if complete {
				return line, nil
			}
		}

		if r.deferred != nil {
			err := r.deferred
			r.deferred = nil
			return "", err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.pending = r.chunk[:n]
			r.lastByte = r.now()
			r.deferred = err
			continue
		}
		if err != nil {
			return "", err
		}

		r.checkIdle()
	}
}

// Buffered returns the length of the partial line currently held.
func (r *Reader) Buffered() int {
	return r.framer.Len()
}

func (r *Reader) checkIdle() {
	if r.inactivity <= 0 {
		return
	}
	now := r.now()
	if now.Sub(r.lastByte) < r.inactivity {
		return
	}
	r.lastByte = now
	if r.OnIdle != nil {
		r.OnIdle()
	}
}
