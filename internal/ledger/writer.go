package ledger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize bounds entries waiting to be written.
const DefaultQueueSize = 256

// Store is the persistence side of a Writer.
type Store interface {
	Append(e Entry) error
}

// Writer appends entries on a background goroutine so the control loop never
// waits on disk. Entries are written in submission order. When the queue is
// full or the writer is closing, entries are dropped.
type Writer struct {
	store Store
	queue chan Entry

	wg      sync.WaitGroup
	closing chan struct{}

	// mu orders Submit against Close: an entry is either queued before
	// closing is signalled, and so drained, or it is counted as dropped.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWriter starts a writer with the given queue size.
func NewWriter(store Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Writer{
		store:   store,
		queue:   make(chan Entry, queueSize),
		closing: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	log.Debug().Int("queue_size", queueSize).Msg("Ledger writer started")
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-w.closing:
			// Drain what was accepted before Close.
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(e Entry) {
	if err := w.store.Append(e); err != nil {
		w.failed.Add(1)
		log.Error().Err(err).Str("event_type", string(e.EventType)).Msg("Failed to write ledger entry")
	}
}

// Submit queues an entry. It never blocks.
func (w *Writer) Submit(e Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.queue <- e:
		return true
	default:
		w.dropped.Add(1)
		log.Warn().Str("event_type", string(e.EventType)).Msg("Ledger queue full, dropping entry")
		return false
	}
}

// Dropped returns how many entries were never queued.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Failed returns how many queued entries the store rejected.
func (w *Writer) Failed() int64 { return w.failed.Load() }

// Close stops accepting entries and waits for queued ones to be written.
func (w *Writer) Close(ctx context.Context) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.closing)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Ledger writer stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Ledger writer shutdown timed out, some entries may be lost")
	}
}
