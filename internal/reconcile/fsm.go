// Package reconcile drives the driver board from its confirmed state toward
// the desired state, one acknowledged command at a time.
package reconcile

import (
	"github.com/dokzlo13/lightshowd/internal/protocol"
	"github.com/dokzlo13/lightshowd/internal/state"
)

// Phase is the externally visible reconciliation state.
type Phase int

const (
	// PhaseAwaitingHandshake: no READY acknowledgment yet.
	PhaseAwaitingHandshake Phase = iota
	// PhaseReady: handshake done, board run state not yet queried.
	PhaseReady
	// PhaseSyncing: a command is in flight or state diverges.
	PhaseSyncing
	// PhaseConverged: no divergence and nothing pending.
	PhaseConverged
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhaseReady:
		return "ready"
	case PhaseSyncing:
		return "syncing"
	case PhaseConverged:
		return "converged"
	default:
		return "unknown"
	}
}

// NextCommand picks the corrective command for the current divergence.
// Brightness is applied before start/stop so a board that is already
// running never flickers off and on. ok is false when nothing diverges.
func NextCommand(desired, confirmed state.DeviceState) (cmd protocol.Command, ok bool) {
	div := state.Diff(desired, confirmed)

	switch {
	case div.Brightness:
		return protocol.SetBrightness(desired.Brightness), true
	case div.Running && desired.Running:
		return protocol.Start(), true
	case div.Running:
		return protocol.Stop(), true
	}

	return protocol.Command{}, false
}
