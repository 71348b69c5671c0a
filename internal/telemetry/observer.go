package telemetry

import (
	"github.com/dokzlo13/lightshowd/internal/dispatch"
	"github.com/dokzlo13/lightshowd/internal/protocol"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
)

// Observer turns controller events into status messages. Routine command
// traffic is not reported; failures and phase changes are.
type Observer struct {
	sink *Sink
}

// NewObserver creates an observer emitting to sink.
func NewObserver(sink *Sink) *Observer {
	return &Observer{sink: sink}
}

func (o *Observer) CommandSent(dispatch.Pending) {}

func (o *Observer) CommandFailed(cmd protocol.Command, err error) {
	o.sink.Emitf("Failed to send %s: %v", cmd, err)
}

func (o *Observer) Acknowledged(ack dispatch.Ack) {
	switch ack.Outcome {
	case dispatch.AckMismatch:
		o.sink.Emitf("Expected %s, board replied %q", ack.Pending.Token, ack.Line)
	case dispatch.AckStatusInvalid:
		o.sink.Emitf("Unexpected status reply %q", ack.Line)
	case dispatch.AckUnknown:
		o.sink.Emitf("Reply %q for unknown command", ack.Line)
	}
}

func (o *Observer) Expired(p dispatch.Pending) {
	o.sink.Emitf("No reply to %s", p.Token)
}

func (o *Observer) PhaseChanged(_, to reconcile.Phase) {
	switch to {
	case reconcile.PhaseAwaitingHandshake:
		o.sink.Emit("Waiting for light show board")
	case reconcile.PhaseReady:
		o.sink.Emit("Light show board ready")
	case reconcile.PhaseConverged:
		o.sink.Emit("Light show in sync")
	}
}
