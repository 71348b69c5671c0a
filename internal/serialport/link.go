// Package serialport owns the serial connection to the driver board. It
// reconnects with backoff and turns each connection into a stream of events.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/dokzlo13/lightshowd/internal/linkframe"
)

// ErrNotConnected is returned by Write while no port is open.
var ErrNotConnected = errors.New("serial port not connected")

// Config contains serial port and reconnect settings.
type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration // poll granularity; a timed-out read is an idle observation
	BufferSize  int
	Inactivity  time.Duration
	SettleDelay time.Duration // wait after open before talking to a freshly reset board

	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64
}

// EventKind identifies a link event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventLine
	EventOverflow
	EventDisconnected
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventLine:
		return "line"
	case EventOverflow:
		return "overflow"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered to the control loop in arrival order.
type Event struct {
	Kind EventKind
	Line string
	Err  error
}

// Opener opens a port; serial.Open in production.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Link is the reconnecting serial connection. Write may be called from any
// goroutine; Run must be called once.
type Link struct {
	cfg  Config
	open Opener

	mu   sync.Mutex
	port serial.Port
}

// New creates a link for cfg.
func New(cfg Config) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = linkframe.DefaultCapacity
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	return &Link{cfg: cfg, open: serial.Open}
}

// Write sends raw bytes to the current port.
func (l *Link) Write(p []byte) (int, error) {
	port := l.current()
	if port == nil {
		return 0, ErrNotConnected
	}
	return port.Write(p)
}

// Flush blocks until written bytes have left the UART.
func (l *Link) Flush() error {
	port := l.current()
	if port == nil {
		return ErrNotConnected
	}
	return port.Drain()
}

// Connected reports whether a port is open.
func (l *Link) Connected() bool {
	return l.current() != nil
}

func (l *Link) current() serial.Port {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

func (l *Link) setPort(p serial.Port) {
	l.mu.Lock()
	l.port = p
	l.mu.Unlock()
}

// Run keeps the port open until ctx is cancelled, delivering events for
// every connection. It always returns nil once ctx is done.
func (l *Link) Run(ctx context.Context, events chan<- Event) error {
	retry := 0
	backoff := l.cfg.MinBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := l.session(ctx, events)
		if ctx.Err() != nil {
			return nil
		}

		if connected {
			retry = 0
			backoff = l.cfg.MinBackoff
			l.emit(ctx, events, Event{Kind: EventDisconnected, Err: err})
		}
		retry++

		log.Warn().
			Err(err).
			Str("port", l.cfg.Port).
			Dur("backoff", backoff).
			Int("retry", retry).
			Msg("Serial link down, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		next := time.Duration(float64(backoff) * l.cfg.Multiplier)
		if next > l.cfg.MaxBackoff {
			next = l.cfg.MaxBackoff
		}
		backoff = next
	}
}

// session runs one connection. connected is true if the port was opened.
func (l *Link) session(ctx context.Context, events chan<- Event) (connected bool, err error) {
	port, err := l.open(l.cfg.Port, &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", l.cfg.Port, err)
	}

	var closeOnce sync.Once
	closePort := func() { closeOnce.Do(func() { _ = port.Close() }) }
	defer closePort()

	if l.cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
			return true, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	if l.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(l.cfg.SettleDelay):
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Debug().Err(err).Msg("Failed to reset serial input buffer")
	}

	// Unblock a pending Read on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closePort()
		case <-done:
		}
	}()

	l.setPort(port)
	defer l.setPort(nil)

	log.Info().Str("port", l.cfg.Port).Int("baud", l.cfg.BaudRate).Msg("Serial port opened")
	l.emit(ctx, events, Event{Kind: EventConnected})

	reader := linkframe.NewReader(port, l.cfg.BufferSize, l.cfg.Inactivity)
	reader.OnIdle = func() {
		log.Debug().Str("port", l.cfg.Port).Dur("window", l.cfg.Inactivity).Msg("Serial link idle")
	}

	for {
		line, err := reader.Next()
		if errors.Is(err, linkframe.ErrOverflow) {
			l.emit(ctx, events, Event{Kind: EventOverflow, Err: err})
			continue
		}
		if err != nil {
			return true, err
		}
		l.emit(ctx, events, Event{Kind: EventLine, Line: line})
	}
}

func (l *Link) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
