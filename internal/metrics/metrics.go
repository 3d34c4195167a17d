// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "osrelay"

// Gauges are sampled at scrape time.
type Gauges struct {
	Instances   func() int
	Subscribers func() int
}

// Relay is nil-safe: every method on a nil *Relay is a no-op, so engines
// built without metrics need no guards.
type Relay struct {
	broadcasts      *prometheus.CounterVec
	dropped         prometheus.Counter
	commands        *prometheus.CounterVec
	persistFailures prometheus.Counter
	evictions       prometheus.Counter
	rejected        *prometheus.CounterVec
}

func New(reg prometheus.Registerer, gauges Gauges) *Relay {
	m := &Relay{
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to browser subscribers, by message type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Browser subscriptions removed after a failed send.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received from browsers, by outcome.",
		}, []string{"result"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Failed durable writes of instance snapshots or offline marks.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Browser subscriptions closed by membership revocation.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "WebSocket connections closed during authentication, by channel and close code.",
		}, []string{"channel", "code"}),
	}
	reg.MustRegister(m.broadcasts, m.dropped, m.commands, m.persistFailures, m.evictions, m.rejected)
	if gauges.Instances != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_connected",
			Help:      "Live instance connections.",
		}, func() float64 { return float64(gauges.Instances()) }))
	}
	if gauges.Subscribers != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browsers_subscribed",
			Help:      "Live browser subscriptions across all instances.",
		}, func() float64 { return float64(gauges.Subscribers()) }))
	}
	return m
}

func (m *Relay) Broadcast(kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
}

func (m *Relay) SubscriberDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Command records a browser command outcome: delivered, undelivered or
// rejected.
func (m *Relay) Command(result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result).Inc()
}

func (m *Relay) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Relay) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Relay) Rejected(channel, code string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(channel, code).Inc()
}
