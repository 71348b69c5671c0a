package reconcile

import (
	"github.com/dokzlo13/lightshowd/internal/dispatch"
	"github.com/dokzlo13/lightshowd/internal/protocol"
)

// Observer receives link events from the Controller. Calls happen on the
// control loop goroutine and must not block.
type Observer interface {
	CommandSent(p dispatch.Pending)
	CommandFailed(cmd protocol.Command, err error)
	Acknowledged(ack dispatch.Ack)
	Expired(p dispatch.Pending)
	PhaseChanged(from, to Phase)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CommandSent(dispatch.Pending) {}
func (NopObserver) CommandFailed(protocol.Command, error) {}
func (NopObserver) Acknowledged(dispatch.Ack) {}
func (NopObserver) Expired(dispatch.Pending) {}
func (NopObserver) PhaseChanged(Phase, Phase) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) CommandSent(p dispatch.Pending) {
	for _, obs := range o {
		obs.CommandSent(p)
	}
}

func (o Observers) CommandFailed(cmd protocol.Command, err error) {
	for _, obs := range o {
		obs.CommandFailed(cmd, err)
	}
}

func (o Observers) Acknowledged(ack dispatch.Ack) {
	for _, obs := range o {
		obs.Acknowledged(ack)
	}
}

func (o Observers) Expired(p dispatch.Pending) {
	for _, obs := range o {
		obs.Expired(p)
	}
}

func (o Observers) PhaseChanged(from, to Phase) {
	for _, obs := range o {
		obs.PhaseChanged(from, to)
	}
}
