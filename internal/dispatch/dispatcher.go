// Package dispatch sends commands to the driver board one at a time and
// matches reply lines against the single outstanding command.
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/lightshowd/internal/protocol"
)

// ErrUnknownCommand is returned when a command has no wire token.
var ErrUnknownCommand = errors.New("command has no wire token")

// Pending is the command awaiting acknowledgment.
type Pending struct {
	ID       string
	Command  protocol.Command
	Token    string
	IssuedAt time.Time
}

// Outcome classifies a reply line against the pending command.
type Outcome int

const (
	// AckMatched: the reply equals the pending command's token.
	AckMatched Outcome = iota
	// AckMismatch: the reply differs from the expected token.
	AckMismatch
	// AckStatus: a valid ON/OFF reply to a STATUS query.
	AckStatus
	// AckStatusInvalid: a STATUS query got something other than ON/OFF.
	AckStatusInvalid
	// AckUnsolicited: a line arrived with nothing pending.
	AckUnsolicited
	// AckUnknown: the pending command has an unrecognized kind.
	AckUnknown
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case AckMatched:
		return "matched"
	case AckMismatch:
		return "mismatch"
	case AckStatus:
		return "status"
	case AckStatusInvalid:
		return "status_invalid"
	case AckUnsolicited:
		return "unsolicited"
	case AckUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Ack is the result of matching one reply line.
type Ack struct {
	Outcome Outcome
	Line    string
	Pending Pending // zero for AckUnsolicited
	Running bool    // only for AckStatus
}

type flusher interface {
	Flush() error
}

// Dispatcher owns the single pending-command slot.
// Not safe for concurrent use.
type Dispatcher struct {
	w       io.Writer
	pending *Pending
	newID   func() string
}

// New creates a dispatcher writing commands to w. If w also implements
// Flush() error, it is flushed after every command.
func New(w io.Writer) *Dispatcher {
	return &Dispatcher{
		w:     w,
		newID: uuid.NewString,
	}
}

// Pending returns the outstanding command, if any.
func (d *Dispatcher) Pending() (Pending, bool) {
	if d.pending == nil {
		return Pending{}, false
	}
	return *d.pending, true
}

// Busy reports whether a command is outstanding.
func (d *Dispatcher) Busy() bool {
	return d.pending != nil
}

// Send writes cmd and marks it pending. It returns false without writing
// when another command is already pending. A failed write leaves the slot
// empty so the command is retried on a later tick.
func (d *Dispatcher) Send(cmd protocol.Command, now time.Time) (Pending, bool, error) {
	if d.pending != nil {
		return Pending{}, false, nil
	}

	token, ok := cmd.Token()
	if !ok {
		return Pending{}, false, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}

	if _, err := io.WriteString(d.w, token+"\n"); err != nil {
		return Pending{}, false, fmt.Errorf("failed to write %s: %w", token, err)
	}
	if f, ok := d.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return Pending{}, false, fmt.Errorf("failed to flush %s: %w", token, err)
		}
	}

	p := Pending{
		ID:       d.newID(),
		Command:  cmd,
		Token:    token,
		IssuedAt: now,
	}
	d.pending = &p
	return p, true, nil
}

// Supersede re-sends cmd in place of a pending command of the same kind.
// Returns false if a command of a different kind is pending.
func (d *Dispatcher) Supersede(cmd protocol.Command, now time.Time) (Pending, bool, error) {
	if d.pending != nil {
		if d.pending.Command.Kind != cmd.Kind {
			return Pending{}, false, nil
		}
		d.pending = nil
	}
	return d.Send(cmd, now)
}

// Match classifies line against the pending command and clears the slot,
// except for unsolicited lines which leave nothing to clear.
func (d *Dispatcher) Match(line string) Ack {
	if d.pending == nil {
		return Ack{Outcome: AckUnsolicited, Line: line}
	}

	p := *d.pending
	d.pending = nil
	ack := Ack{Line: line, Pending: p}

	switch p.Command.Kind {
	case protocol.KindHandshake, protocol.KindStart, protocol.KindStop, protocol.KindSetBrightness:
		if line == p.Token {
			ack.Outcome = AckMatched
		} else {
			ack.Outcome = AckMismatch
		}
	case protocol.KindStatus:
		if running, ok := protocol.ParseStatus(line); ok {
			ack.Outcome = AckStatus
			ack.Running = running
		} else {
			ack.Outcome = AckStatusInvalid
		}
	default:
		ack.Outcome = AckUnknown
	}

	return ack
}

// Expire clears the pending command if it has been outstanding for at least
// timeout. A non-positive timeout never expires anything.
func (d *Dispatcher) Expire(now time.Time, timeout time.Duration) (Pending, bool) {
	if timeout <= 0 || d.pending == nil {
		return Pending{}, false
	}
	if now.Sub(d.pending.IssuedAt) < timeout {
		return Pending{}, false
	}
	p := *d.pending
	d.pending = nil
	return p, true
}

// Clear drops the pending command without matching it.
func (d *Dispatcher) Clear() {
	d.pending = nil
}
