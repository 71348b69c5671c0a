package app

import (
	"github.com/dokzlo13/lightshowd/internal/ledger"
	"github.com/dokzlo13/lightshowd/internal/metrics"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
	"github.com/dokzlo13/lightshowd/internal/state"
	"github.com/dokzlo13/lightshowd/internal/telemetry"
)

// notifier reports bridge events to metrics, telemetry and the ledger.
// recorder is nil when the database is disabled.
type notifier struct {
	metrics   *metrics.Metrics
	telemetry *telemetry.Sink
	recorder  *ledger.Recorder
}

func (n *notifier) Overflow(capacity int) {
	n.metrics.Overflow()
	if n.recorder != nil {
		n.recorder.Overflow(capacity)
	}
}

func (n *notifier) DesiredChanged(change state.Change, snap reconcile.Snapshot) {
	n.metrics.CloudCommand(change.Op)
	n.telemetry.Emit(ChangeMessage(change))
	if n.recorder != nil {
		n.recorder.DesiredChanged(change, snap.Desired, snap.Version)
	}
}

// Rejected runs on the MQTT callback goroutine.
func (n *notifier) Rejected(payload string, err error) {
	n.metrics.CloudRejected()
	n.telemetry.Emitf("Unknown command %q", payload)
}

func (n *notifier) SerialConnected(up bool, reconnect bool) {
	n.metrics.SerialConnected(up)
	if reconnect {
		n.metrics.Reconnect("serial")
	}
	if !up {
		n.telemetry.Emit("Serial link lost")
	}
}

func (n *notifier) BrokerConnected(up bool, reconnect bool) {
	n.metrics.BrokerConnected(up)
	if reconnect {
		n.metrics.Reconnect("mqtt")
	}
}

func (n *notifier) Reboot() {
	n.metrics.CloudCommand(state.OpReboot)
	n.telemetry.Emit(ChangeMessage(state.Change{Op: state.OpReboot}))
	if n.recorder != nil {
		n.recorder.Reboot()
	}
}
