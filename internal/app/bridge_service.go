package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightshowd/internal/linkframe"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
	"github.com/dokzlo13/lightshowd/internal/serialport"
	"github.com/dokzlo13/lightshowd/internal/state"
)

// Queue sizes for the control loop inputs.
const (
	linkEventQueue    = 64
	changeQueue       = 32
	connectivityQueue = 8
)

// BridgeEvents receives bridge-level events the Controller does not report.
// Every method may be a no-op.
type BridgeEvents interface {
	Overflow(capacity int)
	DesiredChanged(change state.Change, snap reconcile.Snapshot)
	Rejected(payload string, err error)
	SerialConnected(up bool, reconnect bool)
	BrokerConnected(up bool, reconnect bool)
	Reboot()
}

// BridgeService runs the control loop. It is the only goroutine that touches
// the Controller; everything else talks to it through channels.
type BridgeService struct {
	controller   *reconcile.Controller
	tickInterval time.Duration
	capacity     int
	notify       BridgeEvents
	onReboot     func()

	events       chan serialport.Event
	changes      chan state.Change
	connectivity chan bool

	serialUp       bool
	serialSessions int
	brokerSessions int

	mu   sync.RWMutex
	snap reconcile.Snapshot
}

// NewBridgeService creates the control loop around controller. onReboot is
// called on the loop goroutine when a reboot command arrives.
func NewBridgeService(controller *reconcile.Controller, tickInterval time.Duration, capacity int, notify BridgeEvents, onReboot func()) *BridgeService {
	if tickInterval <= 0 {
		tickInterval = 50 * time.Millisecond
	}
	if capacity <= 0 {
		capacity = linkframe.DefaultCapacity
	}
	if notify == nil {
		notify = nopBridgeEvents{}
	}
	if onReboot == nil {
		onReboot = func() {}
	}
	s := &BridgeService{
		controller:   controller,
		tickInterval: tickInterval,
		capacity:     capacity,
		notify:       notify,
		onReboot:     onReboot,
		events:       make(chan serialport.Event, linkEventQueue),
		changes:      make(chan state.Change, changeQueue),
		connectivity: make(chan bool, connectivityQueue),
	}
	s.snap = controller.Snapshot()
	return s
}

// LinkEvents is the channel the serial link delivers into.
func (s *BridgeService) LinkEvents() chan<- serialport.Event {
	return s.events
}

// SubmitChange hands a decoded cloud command to the loop. It blocks while
// the queue is full and gives up when ctx is done.
func (s *BridgeService) SubmitChange(ctx context.Context, change state.Change) bool {
	select {
	case s.changes <- change:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reject reports an undecodable cloud payload.
func (s *BridgeService) Reject(payload string, err error) {
	s.notify.Rejected(payload, err)
}

// SetBrokerConnected reports MQTT connectivity. Safe from any goroutine.
func (s *BridgeService) SetBrokerConnected(ctx context.Context, up bool) {
	select {
	case s.connectivity <- up:
	case <-ctx.Done():
	}
}

// Snapshot returns the controller state as of the last loop iteration.
func (s *BridgeService) Snapshot() reconcile.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Run processes inputs until ctx is cancelled.
func (s *BridgeService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	log.Info().Dur("tick", s.tickInterval).Msg("Control loop started")
	defer log.Info().Msg("Control loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handleLinkEvent(ev)
		case change := <-s.changes:
			s.handleChange(change)
		case up := <-s.connectivity:
			s.handleConnectivity(up)
		case now := <-ticker.C:
			if s.serialUp {
				s.controller.Tick(now)
			}
		}
		s.publish()
	}
}

func (s *BridgeService) handleLinkEvent(ev serialport.Event) {
	switch ev.Kind {
	case serialport.EventConnected:
		s.serialSessions++
		s.serialUp = true
		// The board may have been reset; readiness has to be earned again.
		s.controller.Reset()
		s.notify.SerialConnected(true, s.serialSessions > 1)
	case serialport.EventLine:
		s.controller.OnPeripheralLine(ev.Line)
	case serialport.EventOverflow:
		log.Warn().Int("capacity", s.capacity).Msg("Serial line too long, discarded")
		s.notify.Overflow(s.capacity)
	case serialport.EventDisconnected:
		s.serialUp = false
		log.Warn().Err(ev.Err).Msg("Serial link lost")
		s.notify.SerialConnected(false, false)
	default:
		log.Error().Str("kind", ev.Kind.String()).Msg("Unhandled link event")
	}
}

func (s *BridgeService) handleChange(change state.Change) {
	if change.Op == state.OpReboot {
		log.Warn().Msg("Reboot requested")
		s.notify.Reboot()
		s.onReboot()
		return
	}

	if !s.controller.ApplyDesired(change) {
		log.Warn().Str("change", change.String()).Msg("Change not applicable")
		return
	}
	s.notify.DesiredChanged(change, s.controller.Snapshot())
}

func (s *BridgeService) handleConnectivity(up bool) {
	if up {
		s.brokerSessions++
	}
	s.controller.SetConnected(up)
	s.notify.BrokerConnected(up, up && s.brokerSessions > 1)
}

func (s *BridgeService) publish() {
	snap := s.controller.Snapshot()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// ChangeMessage is the status line announcing an accepted cloud command.
func ChangeMessage(change state.Change) string {
	switch change.Op {
	case state.OpOn:
		return "Received light show start"
	case state.OpOff:
		return "Received light show stop"
	case state.OpBrightness:
		return fmt.Sprintf("Received light show brightness %d", change.Brightness)
	case state.OpReboot:
		return "Reboot request received"
	default:
		return "Received " + change.String()
	}
}

type nopBridgeEvents struct{}

func (nopBridgeEvents) Overflow(int) {}
func (nopBridgeEvents) DesiredChanged(state.Change, reconcile.Snapshot) {}
func (nopBridgeEvents) Rejected(string, error) {}
func (nopBridgeEvents) SerialConnected(bool, bool) {}
func (nopBridgeEvents) BrokerConnected(bool, bool) {}
func (nopBridgeEvents) Reboot() {}
