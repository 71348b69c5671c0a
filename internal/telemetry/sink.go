// Package telemetry emits human-readable status messages, rate limited so a
// chatty link cannot flood the cloud.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultMinInterval is the minimum spacing between emitted messages.
const DefaultMinInterval = time.Second

// Publisher delivers an accepted message.
type Publisher interface {
	Publish(topic string, payload string) error
}

// Sink gates messages through a single-token bucket refilled every
// minInterval.
type Sink struct {
	limiter *rate.Limiter
	pub     Publisher
	topic   string
	now     func() time.Time

	mu      sync.Mutex
	dropped uint64
	onDrop  func()
}

// NewSink creates a sink. pub may be nil, in which case accepted messages
// are only logged.
func NewSink(minInterval time.Duration, pub Publisher, topic string) *Sink {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Sink{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		pub:     pub,
		topic:   topic,
		now:     time.Now,
	}
}

// OnDrop registers a callback invoked for every rejected message.
func (s *Sink) OnDrop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = fn
}

// Emit publishes msg if the gate is open. Returns false when the message
// was dropped by the rate limit.
func (s *Sink) Emit(msg string) bool {
	if !s.limiter.AllowN(s.now(), 1) {
		s.mu.Lock()
		s.dropped++
		onDrop := s.onDrop
		s.mu.Unlock()

		log.Debug().Str("message", msg).Msg("Telemetry rate limited")
		if onDrop != nil {
			onDrop()
		}
		return false
	}

	log.Info().Str("telemetry", msg).Msg("Telemetry")
	if s.pub != nil {
		if err := s.pub.Publish(s.topic, msg); err != nil {
			log.Warn().Err(err).Str("topic", s.topic).Msg("Failed to publish telemetry")
		}
	}
	return true
}

// Emitf formats and emits a message.
func (s *Sink) Emitf(format string, args ...any) bool {
	return s.Emit(fmt.Sprintf(format, args...))
}

// Dropped returns how many messages the gate rejected.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
