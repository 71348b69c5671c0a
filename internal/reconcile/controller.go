package reconcile

import (
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightshowd/internal/dispatch"
	"github.com/dokzlo13/lightshowd/internal/protocol"
	"github.com/dokzlo13/lightshowd/internal/state"
)

// DefaultHandshakeInterval is the minimum spacing between READY probes.
const DefaultHandshakeInterval = 5 * time.Second

// Config tunes the Controller.
type Config struct {
	HandshakeInterval time.Duration
	// AckTimeout drops a pending command that got no reply at all.
	// Zero keeps a pending command until some reply arrives.
	AckTimeout        time.Duration
	DefaultBrightness int
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	Phase     Phase
	Connected bool
	Ready     bool
	Desired   state.DeviceState
	Confirmed state.DeviceState
	Pending   *dispatch.Pending
	Version   int64
}

// Controller owns desired state, confirmed state and the pending-command
// slot. It is driven by a single goroutine and is not safe for concurrent use.
type Controller struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	observer   Observer

	desired   state.Desired
	confirmed state.DeviceState

	connected     bool
	ready         bool
	statusKnown   bool
	wantStatus    bool
	lastHandshake time.Time
	phase         Phase
}

// NewController creates a controller writing commands to link.
func NewController(link io.Writer, cfg Config, observer Observer) *Controller {
	if cfg.HandshakeInterval <= 0 {
		cfg.HandshakeInterval = DefaultHandshakeInterval
	}
	if observer == nil {
		observer = NopObserver{}
	}

	c := &Controller{
		cfg:        cfg,
		dispatcher: dispatch.New(link),
		observer:   observer,
		phase:      PhaseAwaitingHandshake,
	}
	c.desired.DefaultBrightness = cfg.DefaultBrightness
	return c
}

// SetConnected records cloud transport connectivity. Ticks do nothing while
// disconnected.
func (c *Controller) SetConnected(connected bool) {
	if c.connected == connected {
		return
	}
	c.connected = connected
	log.Info().Bool("connected", connected).Msg("Cloud connectivity changed")
}

// Reset forgets everything learned from the board. Desired state survives.
// Call it when the serial link is re-established.
func (c *Controller) Reset() {
	c.dispatcher.Clear()
	c.confirmed = state.DeviceState{}
	c.ready = false
	c.statusKnown = false
	c.wantStatus = false
	c.lastHandshake = time.Time{}
	c.updatePhase()
}

// ApplyDesired applies a cloud change to desired state.
func (c *Controller) ApplyDesired(change state.Change) bool {
	if !c.desired.Apply(change) {
		return false
	}

	log.Info().
		Str("change", change.String()).
		Str("desired", c.desired.DeviceState.String()).
		Int64("version", c.desired.Version).
		Msg("Desired state updated")

	c.updatePhase()
	return true
}

// Tick runs one iteration: maybe expire a silent command, then either probe
// for the handshake or issue at most one corrective command.
func (c *Controller) Tick(now time.Time) {
	if !c.connected {
		return
	}

	if p, ok := c.dispatcher.Expire(now, c.cfg.AckTimeout); ok {
		log.Warn().
			Str("token", p.Token).
			Str("id", p.ID).
			Dur("timeout", c.cfg.AckTimeout).
			Msg("No acknowledgment, dropping pending command")
		if p.Command.Kind == protocol.KindStatus {
			c.wantStatus = true
		}
		c.observer.Expired(p)
	}

	if !c.ready {
		c.tickHandshake(now)
	} else {
		c.tickReconcile(now)
	}

	c.updatePhase()
}

func (c *Controller) tickHandshake(now time.Time) {
	if !c.lastHandshake.IsZero() && now.Sub(c.lastHandshake) < c.cfg.HandshakeInterval {
		return
	}
	if p, busy := c.dispatcher.Pending(); busy && p.Command.Kind != protocol.KindHandshake {
		return
	}

	c.lastHandshake = now
	p, sent, err := c.dispatcher.Supersede(protocol.Handshake(), now)
	c.afterSend(protocol.Handshake(), p, sent, err)
}

func (c *Controller) tickReconcile(now time.Time) {
	if c.dispatcher.Busy() {
		return
	}

	var cmd protocol.Command
	if c.wantStatus {
		cmd = protocol.Status()
	} else {
		next, ok := NextCommand(c.desired.DeviceState, c.confirmed)
		if !ok {
			return
		}
		cmd = next
	}

	p, sent, err := c.dispatcher.Send(cmd, now)
	if sent && cmd.Kind == protocol.KindStatus {
		c.wantStatus = false
	}
	c.afterSend(cmd, p, sent, err)
}

func (c *Controller) afterSend(cmd protocol.Command, p dispatch.Pending, sent bool, err error) {
	if err != nil {
		log.Error().Err(err).Str("command", cmd.String()).Msg("Failed to send command")
		c.observer.CommandFailed(cmd, err)
		return
	}
	if !sent {
		return
	}

	log.Debug().Str("token", p.Token).Str("id", p.ID).Msg("Command sent")
	c.observer.CommandSent(p)
}

// OnPeripheralLine matches a reply line against the pending command and
// applies its effect on confirmed state.
func (c *Controller) OnPeripheralLine(line string) {
	ack := c.dispatcher.Match(line)
	p := ack.Pending

	switch ack.Outcome {
	case dispatch.AckMatched:
		c.applyMatched(p)

	case dispatch.AckStatus:
		c.confirmed.Running = ack.Running
		c.statusKnown = true
		log.Info().Bool("running", ack.Running).Msg("Board status received")

	case dispatch.AckStatusInvalid:
		c.wantStatus = true
		log.Warn().Str("line", line).Msg("Unexpected status reply, requesting again")

	case dispatch.AckMismatch:
		log.Warn().
			Str("expected", p.Token).
			Str("got", line).
			Str("id", p.ID).
			Msg("Acknowledgment mismatch")

	case dispatch.AckUnsolicited:
		log.Warn().Str("line", line).Msg("Reply with no pending command")

	case dispatch.AckUnknown:
		log.Error().
			Str("kind", p.Command.Kind.String()).
			Str("line", line).
			Msg("Pending command has unknown identity")
	}

	c.observer.Acknowledged(ack)
	c.updatePhase()
}

func (c *Controller) applyMatched(p dispatch.Pending) {
	switch p.Command.Kind {
	case protocol.KindHandshake:
		c.ready = true
		c.wantStatus = true
		log.Info().Msg("Board handshake acknowledged")
	case protocol.KindStart:
		c.confirmed.Running = true
	case protocol.KindStop:
		c.confirmed.Running = false
	case protocol.KindSetBrightness:
		c.confirmed.Brightness = p.Command.Brightness
	}

	log.Debug().
		Str("token", p.Token).
		Str("confirmed", c.confirmed.String()).
		Msg("Command acknowledged")
}

// Phase returns the current reconciliation phase.
func (c *Controller) Phase() Phase {
	switch {
	case !c.ready:
		return PhaseAwaitingHandshake
	case !c.statusKnown:
		return PhaseReady
	case c.dispatcher.Busy() || !state.Diff(c.desired.DeviceState, c.confirmed).Empty():
		return PhaseSyncing
	default:
		return PhaseConverged
	}
}

func (c *Controller) updatePhase() {
	next := c.Phase()
	if next == c.phase {
		return
	}
	prev := c.phase
	c.phase = next
	log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("Phase changed")
	c.observer.PhaseChanged(prev, next)
}

// Ready reports whether the board handshake has completed.
func (c *Controller) Ready() bool {
	return c.ready
}

// Snapshot copies the controller state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		Phase:     c.Phase(),
		Connected: c.connected,
		Ready:     c.ready,
		Desired:   c.desired.DeviceState,
		Confirmed: c.confirmed,
		Version:   c.desired.Version,
	}
	if p, ok := c.dispatcher.Pending(); ok {
		s.Pending = &p
	}
	return s
}
