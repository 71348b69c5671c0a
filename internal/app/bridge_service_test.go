package app

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightshowd/internal/reconcile"
	"github.com/dokzlo13/lightshowd/internal/serialport"
	"github.com/dokzlo13/lightshowd/internal/state"
)

// syncWire is a serial stand-in shared by the loop and the test.
type syncWire struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWire) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWire) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Fields(w.buf.String())
}

func (w *syncWire) count(token string) int {
	n := 0
	for _, l := range w.lines() {
		if l == token {
			n++
		}
	}
	return n
}

func (w *syncWire) last() string {
	l := w.lines()
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1]
}

type eventLog struct {
	mu       sync.Mutex
	calls    []string
	overflow int
	changes  []state.Change
}

func (e *eventLog) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, s)
}

func (e *eventLog) has(s string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c == s {
			return true
		}
	}
	return false
}

func (e *eventLog) Overflow(capacity int) {
	e.mu.Lock()
	e.overflow = capacity
	e.mu.Unlock()
	e.add("overflow")
}

func (e *eventLog) DesiredChanged(change state.Change, _ reconcile.Snapshot) {
	e.mu.Lock()
	e.changes = append(e.changes, change)
	e.mu.Unlock()
	e.add("desired")
}

func (e *eventLog) Rejected(string, error) { e.add("rejected") }

func (e *eventLog) SerialConnected(up, reconnect bool) {
	switch {
	case reconnect:
		e.add("serial_reconnect")
	case up:
		e.add("serial_up")
	default:
		e.add("serial_down")
	}
}

func (e *eventLog) BrokerConnected(up, reconnect bool) {
	switch {
	case reconnect:
		e.add("broker_reconnect")
	case up:
		e.add("broker_up")
	default:
		e.add("broker_down")
	}
}

func (e *eventLog) Reboot() { e.add("reboot") }

func startBridge(t *testing.T) (*BridgeService, *syncWire, *eventLog, *atomic.Bool, context.Context) {
	t.Helper()
	wire := &syncWire{}
	events := &eventLog{}
	rebooted := &atomic.Bool{}

	controller := reconcile.NewController(wire, reconcile.Config{}, nil)
	bridge := NewBridgeService(controller, time.Millisecond, 64, events, func() { rebooted.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return bridge, wire, events, rebooted, ctx
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msg)
}

func TestBridge_HandshakeStatusAndReconcile(t *testing.T) {
	bridge, wire, events, _, ctx := startBridge(t)
	link := bridge.LinkEvents()

	bridge.SetBrokerConnected(ctx, true)
	link <- serialport.Event{Kind: serialport.EventConnected}
	waitFor(t, "handshake probe", func() bool { return wire.last() == "READY" })

	link <- serialport.Event{Kind: serialport.EventLine, Line: "READY"}
	waitFor(t, "status query", func() bool { return wire.last() == "STATUS" })
	assert.Equal(t, reconcile.PhaseReady, bridge.Snapshot().Phase)

	link <- serialport.Event{Kind: serialport.EventLine, Line: "OFF"}
	waitFor(t, "converged on idle board", func() bool { return bridge.Snapshot().Phase == reconcile.PhaseConverged })

	require.True(t, bridge.SubmitChange(ctx, state.Change{Op: state.OpBrightness, Brightness: 7}))
	require.True(t, bridge.SubmitChange(ctx, state.Change{Op: state.OpOn}))
	waitFor(t, "brightness first", func() bool { return wire.last() == "B7" })

	link <- serialport.Event{Kind: serialport.EventLine, Line: "B7"}
	waitFor(t, "then start", func() bool { return wire.last() == "START" })

	link <- serialport.Event{Kind: serialport.EventLine, Line: "START"}
	waitFor(t, "converged", func() bool { return bridge.Snapshot().Phase == reconcile.PhaseConverged })

	snap := bridge.Snapshot()
	assert.Equal(t, state.DeviceState{Running: true, Brightness: 7}, snap.Confirmed)
	assert.Equal(t, []string{"READY", "STATUS", "B7", "START"}, wire.lines())
	assert.True(t, events.has("broker_up"))
	assert.True(t, events.has("serial_up"))
	assert.True(t, events.has("desired"))
}

func TestBridge_NoTicksWhileSerialDown(t *testing.T) {
	bridge, wire, events, _, ctx := startBridge(t)

	bridge.SetBrokerConnected(ctx, true)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, wire.lines(), "nothing may be written before the port opens")

	link := bridge.LinkEvents()
	link <- serialport.Event{Kind: serialport.EventConnected}
	waitFor(t, "probe", func() bool { return len(wire.lines()) == 1 })

	link <- serialport.Event{Kind: serialport.EventDisconnected}
	waitFor(t, "serial down", func() bool { return events.has("serial_down") })
}

func TestBridge_ReconnectResetsReadiness(t *testing.T) {
	bridge, wire, events, _, ctx := startBridge(t)
	link := bridge.LinkEvents()

	bridge.SetBrokerConnected(ctx, true)
	link <- serialport.Event{Kind: serialport.EventConnected}
	waitFor(t, "probe", func() bool { return wire.last() == "READY" })
	link <- serialport.Event{Kind: serialport.EventLine, Line: "READY"}
	waitFor(t, "ready", func() bool { return bridge.Snapshot().Ready })

	link <- serialport.Event{Kind: serialport.EventDisconnected}
	link <- serialport.Event{Kind: serialport.EventConnected}
	waitFor(t, "reconnect", func() bool { return events.has("serial_reconnect") })
	waitFor(t, "readiness reset", func() bool { return !bridge.Snapshot().Ready })
	waitFor(t, "fresh probe", func() bool { return wire.count("READY") == 2 })
}

func TestBridge_OverflowAndReboot(t *testing.T) {
	bridge, _, events, rebooted, ctx := startBridge(t)

	bridge.LinkEvents() <- serialport.Event{Kind: serialport.EventOverflow}
	waitFor(t, "overflow reported", func() bool { return events.has("overflow") })
	events.mu.Lock()
	assert.Equal(t, 64, events.overflow)
	events.mu.Unlock()

	require.True(t, bridge.SubmitChange(ctx, state.Change{Op: state.OpReboot}))
	waitFor(t, "reboot", rebooted.Load)
	assert.True(t, events.has("reboot"))
	assert.False(t, events.has("desired"), "reboot is not a desired state change")
}

func TestBridge_BrokerReconnectAndGating(t *testing.T) {
	bridge, wire, events, _, ctx := startBridge(t)
	link := bridge.LinkEvents()

	link <- serialport.Event{Kind: serialport.EventConnected}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, wire.lines(), "no handshake while the cloud is down")

	bridge.SetBrokerConnected(ctx, true)
	waitFor(t, "probe", func() bool { return wire.last() == "READY" })

	bridge.SetBrokerConnected(ctx, false)
	bridge.SetBrokerConnected(ctx, true)
	waitFor(t, "broker reconnect", func() bool { return events.has("broker_reconnect") })
	assert.True(t, events.has("broker_down"))
}

func TestBridge_Reject(t *testing.T) {
	bridge, _, events, _, _ := startBridge(t)
	bridge.Reject("dance", assert.AnError)
	assert.True(t, events.has("rejected"))
}

func TestBridge_SubmitChangeCancelled(t *testing.T) {
	controller := reconcile.NewController(&syncWire{}, reconcile.Config{}, nil)
	bridge := NewBridgeService(controller, time.Millisecond, 0, nil, nil)

	// Nothing drains the queue; fill it, then the next submit must give up.
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < changeQueue; i++ {
		require.True(t, bridge.SubmitChange(ctx, state.Change{Op: state.OpOn}))
	}
	cancel()
	assert.False(t, bridge.SubmitChange(ctx, state.Change{Op: state.OpOff}))
}

func TestChangeMessage(t *testing.T) {
	tests := []struct {
		change state.Change
		want   string
	}{
		{state.Change{Op: state.OpOn}, "Received light show start"},
		{state.Change{Op: state.OpOff}, "Received light show stop"},
		{state.Change{Op: state.OpBrightness, Brightness: 12}, "Received light show brightness 12"},
		{state.Change{Op: state.OpReboot}, "Reboot request received"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ChangeMessage(tt.change))
		})
	}
}
