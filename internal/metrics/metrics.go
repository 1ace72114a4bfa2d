// Package metrics provides Prometheus metrics for node-discovery.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "node_discovery"
)

// Metrics contains all Prometheus metrics for the client and server.
type Metrics struct {
	// Registry metrics (server)
	ClientsConnected prometheus.Gauge
	ConnectsTotal    prometheus.Counter
	EvictionsTotal   *prometheus.CounterVec
	SweepsTotal      prometheus.Counter

	// Request metrics (server)
	DiscoverRequests  prometheus.Counter
	KeepalivesHandled prometheus.Counter
	ProtocolErrors    *prometheus.CounterVec

	// Frame metrics (both sides)
	MalformedFrames prometheus.Counter
	StaleResponses  prometheus.Counter
	PassThroughs    prometheus.Counter

	// Session metrics (client)
	ClientState     prometheus.Gauge
	ClientResets    prometheus.Counter
	KeepalivesSent  prometheus.Counter
	DiscoverRetries prometheus.Counter
	RequestRTT      prometheus.Histogram
}

// Eviction reasons for EvictionsTotal.
const (
	ReasonTimeout   = "timeout"
	ReasonReconnect = "reconnect"
	ReasonError     = "error"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Registry metrics
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_connected",
			Help:      "Number of clients currently in the registry",
		}),
		ConnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total client registrations accepted",
		}),
		EvictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total registry evictions by reason",
		}, []string{"reason"}),
		SweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Total liveness sweeps run",
		}),

		// Request metrics
		DiscoverRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discover_requests_total",
			Help:      "Total DISCOVER_REQ frames answered",
		}),
		KeepalivesHandled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_handled_total",
			Help:      "Total KEEPALIVE_REQ frames from registered clients",
		}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total ERROR frames sent by offending request type",
		}, []string{"offender"}),

		// Frame metrics
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Total datagrams that failed protocol decoding",
		}),
		StaleResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Total responses discarded for sequence mismatch",
		}),
		PassThroughs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_throughs_total",
			Help:      "Total non-protocol datagrams forwarded to the host",
		}),

		// Session metrics
		ClientState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_state",
			Help:      "Current client session state (0=disconnected, 1=discovering, 2=connecting, 3=connected)",
		}),
		ClientResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_resets_total",
			Help:      "Total client session resets (watchdog expiry or ERROR frame)",
		}),
		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total KEEPALIVE_REQ frames sent",
		}),
		DiscoverRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discover_retries_total",
			Help:      "Total discovery broadcasts after the first",
		}),
		RequestRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_rtt_seconds",
			Help:      "Histogram of request to acknowledgement round trip time",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
}

// RecordConnect records an accepted registration.
func (m *Metrics) RecordConnect() {
	m.ClientsConnected.Inc()
	m.ConnectsTotal.Inc()
}

// RecordEviction records a registry eviction with its reason.
func (m *Metrics) RecordEviction(reason string) {
	m.ClientsConnected.Dec()
	m.EvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordProtocolError records an ERROR frame sent for an offending type.
func (m *Metrics) RecordProtocolError(offender string) {
	m.ProtocolErrors.WithLabelValues(offender).Inc()
}

// RecordClientState records the client session state transition.
func (m *Metrics) RecordClientState(state int) {
	m.ClientState.Set(float64(state))
}
