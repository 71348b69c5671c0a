// Package metrics exposes Prometheus metrics for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/lightshowd/internal/dispatch"
	"github.com/dokzlo13/lightshowd/internal/protocol"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
	"github.com/dokzlo13/lightshowd/internal/state"
)

const namespace = "lightshowd"

// Metrics holds every bridge collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	commandsSent   *prometheus.CounterVec // by kind
	commandErrors  *prometheus.CounterVec // by kind
	acks           *prometheus.CounterVec // by outcome
	ackLatency     prometheus.Histogram
	expired        prometheus.Counter
	overflows      prometheus.Counter
	phase          *prometheus.GaugeVec // one-hot by phase
	ready          prometheus.Gauge
	serialUp       prometheus.Gauge
	brokerUp       prometheus.Gauge
	reconnects     *prometheus.CounterVec // by link
	cloudCommands  *prometheus.CounterVec // by op
	cloudRejected  prometheus.Counter
	telemetryDrops prometheus.Counter

	now func() time.Time
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "commands_sent_total",
			Help:      "Commands written to the driver board",
		}, []string{"kind"}),

		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "command_errors_total",
			Help:      "Commands that failed to write",
		}, []string{"kind"}),

		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "acks_total",
			Help:      "Reply lines from the driver board by outcome",
		}, []string{"outcome"}),

		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "ack_latency_seconds",
			Help:      "Time from command write to its reply",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "acks_expired_total",
			Help:      "Pending commands abandoned after the ack timeout",
		}),

		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "line_overflows_total",
			Help:      "Inbound lines discarded for exceeding the line buffer",
		}),

		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "phase",
			Help:      "Current reconciliation phase (1 for the active phase)",
		}, []string{"phase"}),

		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "peripheral_ready",
			Help:      "Whether the driver board has completed the handshake",
		}),

		serialUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "connected",
			Help:      "Whether the serial port is open",
		}),

		brokerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Whether the MQTT session is up",
		}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connections established after the first one",
		}, []string{"link"}),

		cloudCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "commands_total",
			Help:      "Accepted cloud commands by operation",
		}, []string{"op"}),

		cloudRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "commands_rejected_total",
			Help:      "Cloud payloads that did not parse",
		}),

		telemetryDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "dropped_total",
			Help:      "Status messages dropped by the rate limit",
		}),

		now: time.Now,
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commandsSent,
		m.commandErrors,
		m.acks,
		m.ackLatency,
		m.expired,
		m.overflows,
		m.phase,
		m.ready,
		m.serialUp,
		m.brokerUp,
		m.reconnects,
		m.cloudCommands,
		m.cloudRejected,
		m.telemetryDrops,
	)

	m.setPhase(reconcile.PhaseAwaitingHandshake)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

var phases = []reconcile.Phase{
	reconcile.PhaseAwaitingHandshake,
	reconcile.PhaseReady,
	reconcile.PhaseSyncing,
	reconcile.PhaseConverged,
}

func (m *Metrics) setPhase(current reconcile.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		m.phase.WithLabelValues(p.String()).Set(v)
	}
	if current == reconcile.PhaseAwaitingHandshake {
		m.ready.Set(0)
	} else {
		m.ready.Set(1)
	}
}

// CommandSent implements reconcile.Observer.
func (m *Metrics) CommandSent(p dispatch.Pending) {
	m.commandsSent.WithLabelValues(p.Command.Kind.String()).Inc()
}

// CommandFailed implements reconcile.Observer.
func (m *Metrics) CommandFailed(cmd protocol.Command, _ error) {
	m.commandErrors.WithLabelValues(cmd.Kind.String()).Inc()
}

// Acknowledged implements reconcile.Observer.
func (m *Metrics) Acknowledged(ack dispatch.Ack) {
	m.acks.WithLabelValues(ack.Outcome.String()).Inc()
	if !ack.Pending.IssuedAt.IsZero() {
		m.ackLatency.Observe(m.now().Sub(ack.Pending.IssuedAt).Seconds())
	}
}

// Expired implements reconcile.Observer.
func (m *Metrics) Expired(dispatch.Pending) {
	m.expired.Inc()
}

// PhaseChanged implements reconcile.Observer.
func (m *Metrics) PhaseChanged(_, to reconcile.Phase) {
	m.setPhase(to)
}

// Overflow counts a discarded inbound line.
func (m *Metrics) Overflow() {
	m.overflows.Inc()
}

// SerialConnected tracks the serial port state.
func (m *Metrics) SerialConnected(up bool) {
	m.serialUp.Set(boolGauge(up))
}

// BrokerConnected tracks the MQTT session state.
func (m *Metrics) BrokerConnected(up bool) {
	m.brokerUp.Set(boolGauge(up))
}

// Reconnect counts a re-established link ("serial" or "mqtt").
func (m *Metrics) Reconnect(link string) {
	m.reconnects.WithLabelValues(link).Inc()
}

// CloudCommand counts an accepted cloud command.
func (m *Metrics) CloudCommand(op state.Op) {
	m.cloudCommands.WithLabelValues(op.String()).Inc()
}

// CloudRejected counts a payload that failed to parse.
func (m *Metrics) CloudRejected() {
	m.cloudRejected.Inc()
}

// TelemetryDropped counts a rate-limited status message.
func (m *Metrics) TelemetryDropped() {
	m.telemetryDrops.Inc()
}

// WatchLedger exports the ledger writer's drop and failure counts.
func (m *Metrics) WatchLedger(dropped, failed func() int64) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "dropped_total",
			Help:      "Ledger entries dropped on a full queue",
		}, func() float64 { return float64(dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "write_errors_total",
			Help:      "Ledger entries the database rejected",
		}, func() float64 { return float64(failed()) }),
	)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
