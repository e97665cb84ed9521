package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mempool_relay"

// Metrics holds the relay's collectors on a private registry. Every method is
// safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	hashesReceived    prometheus.Counter
	hashesDropped     *prometheus.CounterVec
	fetches           *prometheus.CounterVec
	monitored         prometheus.Counter
	decodedCalls      *prometheus.CounterVec
	broadcasts        *prometheus.CounterVec
	broadcastDrops    prometheus.Counter
	reconnectAttempts prometheus.Counter
	sinkDrops         prometheus.Counter
	upstreamConnected prometheus.Gauge
	subscribers       prometheus.Gauge
	inflight          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		hashesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashes_received_total",
			Help:      "Valid pending transaction hashes received from upstream.",
		}),
		hashesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashes_dropped_total",
			Help:      "Pending transaction hashes dropped before processing.",
		}, []string{"reason"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Transaction detail lookups by outcome.",
		}, []string{"outcome"}),
		monitored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitored_transactions_total",
			Help:      "Transactions addressed to a monitored contract.",
		}),
		decodedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoded_calls_total",
			Help:      "Decoded contract calls by function name.",
		}, []string{"function"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Envelopes broadcast to subscribers by kind.",
		}, []string{"kind"}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Envelopes not delivered to a subscriber with a full buffer.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled upstream reconnect attempts.",
		}),
		sinkDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_drops_total",
			Help:      "Envelopes dropped by the archive sink.",
		}),
		upstreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_connected",
			Help:      "1 while the upstream subscription is live.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected downstream subscribers.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_invocations",
			Help:      "Per-hash pipeline invocations currently running.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.hashesReceived,
		m.hashesDropped,
		m.fetches,
		m.monitored,
		m.decodedCalls,
		m.broadcasts,
		m.broadcastDrops,
		m.reconnectAttempts,
		m.sinkDrops,
		m.upstreamConnected,
		m.subscribers,
		m.inflight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HashReceived() {
	if m == nil {
		return
	}
	m.hashesReceived.Inc()
}

func (m *Metrics) HashDropped(reason string) {
	if m == nil {
		return
	}
	m.hashesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FetchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TransactionMonitored() {
	if m == nil {
		return
	}
	m.monitored.Inc()
}

func (m *Metrics) CallDecoded(function string) {
	if m == nil {
		return
	}
	m.decodedCalls.WithLabelValues(function).Inc()
}

func (m *Metrics) Broadcast(kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) SinkDropped() {
	if m == nil {
		return
	}
	m.sinkDrops.Inc()
}

func (m *Metrics) SetUpstreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.upstreamConnected.Set(1)
		return
	}
	m.upstreamConnected.Set(0)
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) InflightInc() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) InflightDec() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}
