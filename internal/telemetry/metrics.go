package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PageMetrics implements client.Metrics using Prometheus.
type PageMetrics struct {
	sent          *prometheus.CounterVec
	received      *prometheus.CounterVec
	parseFailures prometheus.Counter
	scriptErrors  prometheus.Counter
	state         prometheus.Gauge
}

// NewPageMetrics creates and registers the page session metrics.
// If registry is nil, it uses the global default registry.
func NewPageMetrics(registry prometheus.Registerer, labels map[string]string) *PageMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &PageMetrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pages",
			Subsystem:   "session",
			Name:        "envelopes_sent_total",
			Help:        "Envelopes sent to the peer, by envelope name.",
			ConstLabels: labels,
		}, []string{"name"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pages",
			Subsystem:   "session",
			Name:        "instructions_received_total",
			Help:        "Instructions received from the peer, by instruction type.",
			ConstLabels: labels,
		}, []string{"type"}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pages",
			Subsystem:   "session",
			Name:        "parse_failures_total",
			Help:        "Inbound frames dropped because they were not valid instructions.",
			ConstLabels: labels,
		}),
		scriptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pages",
			Subsystem:   "session",
			Name:        "dispatch_errors_total",
			Help:        "Instructions whose execution failed locally.",
			ConstLabels: labels,
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pages",
			Subsystem:   "session",
			Name:        "state",
			Help:        "Current session state (0 = connecting, 1 = open, 2 = closed).",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(m.sent, m.received, m.parseFailures, m.scriptErrors, m.state)
	return m
}

func (m *PageMetrics) IncSent(name string) {
	m.sent.WithLabelValues(name).Inc()
}

func (m *PageMetrics) IncReceived(typ string) {
	m.received.WithLabelValues(typ).Inc()
}

func (m *PageMetrics) IncParseFailures() {
	m.parseFailures.Inc()
}

func (m *PageMetrics) IncDispatchErrors() {
	m.scriptErrors.Inc()
}

func (m *PageMetrics) SetState(state float64) {
	m.state.Set(state)
}

// PeerMetrics implements peer.Metrics using Prometheus.
type PeerMetrics struct {
	envelopes *prometheus.CounterVec
	pages     prometheus.Gauge
	pushes    *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewPeerMetrics creates and registers the peer metrics.
// If registry is nil, it uses the global default registry.
func NewPeerMetrics(registry prometheus.Registerer) *PeerMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &PeerMetrics{
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pages",
			Subsystem: "peer",
			Name:      "envelopes_received_total",
			Help:      "Envelopes received from pages, by envelope name.",
		}, []string{"name"}),
		pages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pages",
			Subsystem: "peer",
			Name:      "connected_pages",
			Help:      "Number of pages currently connected.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pages",
			Subsystem: "peer",
			Name:      "instructions_pushed_total",
			Help:      "Instructions pushed to pages, by instruction type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pages",
			Subsystem: "peer",
			Name:      "slow_pages_dropped_total",
			Help:      "Pages disconnected because their send buffer was full.",
		}),
	}

	registry.MustRegister(m.envelopes, m.pages, m.pushes, m.dropped)
	return m
}

func (m *PeerMetrics) IncEnvelopes(name string) {
	m.envelopes.WithLabelValues(name).Inc()
}

func (m *PeerMetrics) SetConnectedPages(n int) {
	m.pages.Set(float64(n))
}

func (m *PeerMetrics) IncPushes(typ string) {
	m.pushes.WithLabelValues(typ).Inc()
}

func (m *PeerMetrics) IncDropped() {
	m.dropped.Inc()
}

// Handler returns the Prometheus metrics handler for the given gatherer,
// or the default one when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
