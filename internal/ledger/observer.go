package ledger

import (
	"github.com/dokzlo13/lightshowd/internal/dispatch"
	"github.com/dokzlo13/lightshowd/internal/protocol"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
	"github.com/dokzlo13/lightshowd/internal/state"
)

// Recorder turns link events into ledger entries. It implements
// reconcile.Observer.
type Recorder struct {
	w *Writer
}

// NewRecorder records into w.
func NewRecorder(w *Writer) *Recorder {
	return &Recorder{w: w}
}

var ackEvents = map[dispatch.Outcome]EventType{
	dispatch.AckMatched:       EventAckMatched,
	dispatch.AckMismatch:      EventAckMismatch,
	dispatch.AckStatus:        EventStatus,
	dispatch.AckStatusInvalid: EventStatusInvalid,
	dispatch.AckUnsolicited:   EventUnsolicited,
	dispatch.AckUnknown:       EventUnknownPending,
}

func (r *Recorder) CommandSent(p dispatch.Pending) {
	r.w.Submit(Entry{
		EventType: EventCommandSent,
		Timestamp: p.IssuedAt,
		CommandID: p.ID,
		Token:     p.Token,
		Payload:   map[string]any{"kind": p.Command.Kind.String()},
	})
}

func (r *Recorder) CommandFailed(cmd protocol.Command, err error) {
	token, _ := cmd.Token()
	r.w.Submit(Entry{
		EventType: EventCommandFailed,
		Token:     token,
		Payload:   map[string]any{"kind": cmd.Kind.String(), "error": err.Error()},
	})
}

func (r *Recorder) Acknowledged(ack dispatch.Ack) {
	eventType, ok := ackEvents[ack.Outcome]
	if !ok {
		return
	}
	e := Entry{
		EventType: eventType,
		CommandID: ack.Pending.ID,
		Token:     ack.Pending.Token,
		Line:      ack.Line,
	}
	if ack.Outcome == dispatch.AckStatus {
		e.Payload = map[string]any{"running": ack.Running}
	}
	r.w.Submit(e)
}

func (r *Recorder) Expired(p dispatch.Pending) {
	r.w.Submit(Entry{
		EventType: EventExpired,
		CommandID: p.ID,
		Token:     p.Token,
		Payload:   map[string]any{"issued_at": p.IssuedAt.UTC().UnixMilli()},
	})
}

func (r *Recorder) PhaseChanged(from, to reconcile.Phase) {
	r.w.Submit(Entry{
		EventType: EventPhaseChanged,
		Payload:   map[string]any{"from": from.String(), "to": to.String()},
	})
}

// Overflow records a discarded oversized line.
func (r *Recorder) Overflow(buffered int) {
	r.w.Submit(Entry{
		EventType: EventOverflow,
		Payload:   map[string]any{"capacity": buffered},
	})
}

// DesiredChanged records an accepted cloud command and the resulting target.
func (r *Recorder) DesiredChanged(change state.Change, desired state.DeviceState, version int64) {
	r.w.Submit(Entry{
		EventType: EventDesiredChanged,
		Payload: map[string]any{
			"change":     change.String(),
			"running":    desired.Running,
			"brightness": desired.Brightness,
			"version":    version,
		},
	})
}

// Reboot records a reboot request.
func (r *Recorder) Reboot() {
	r.w.Submit(Entry{EventType: EventReboot})
}
