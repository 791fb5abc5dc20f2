// Package metrics provides Prometheus metrics for the proxy.
// All recording methods are safe to call on a nil *Metrics, so components
// can be built without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "gemini_sam_proxy"
)

// Request outcomes.
const (
	OutcomeStatus     = "status"
	OutcomeProxied    = "proxied"
	OutcomeRefused    = "refused"
	OutcomeFailed     = "failed"
	OutcomeBadRequest = "bad_request"
)

// Metrics contains all Prometheus metrics for the proxy.
type Metrics struct {
	// Client connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Request metrics
	Requests             *prometheus.CounterVec
	StreamConnectLatency prometheus.Histogram
	BytesProxied         prometheus.Counter

	// SAM metrics
	KeepaliveProbes *prometheus.CounterVec
	NamingLookups   *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of client connections currently being served",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total Gemini requests by outcome",
		}, []string{"outcome"}),
		StreamConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_connect_latency_seconds",
			Help:      "Histogram of SAM STREAM CONNECT latency in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		BytesProxied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_proxied_total",
			Help:      "Total response bytes copied from I2P to clients",
		}),
		KeepaliveProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_probes_total",
			Help:      "Total SAM keepalive probes by result",
		}, []string{"result"}),
		NamingLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "naming_lookups_total",
			Help:      "Total name resolutions by result",
		}, []string{"result"}),
	}
}

// ConnOpened records an accepted client connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnClosed records a closed client connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordRequest records a finished request.
func (m *Metrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

// RecordStreamConnect records how long STREAM CONNECT took.
func (m *Metrics) RecordStreamConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.StreamConnectLatency.Observe(d.Seconds())
}

// RecordBytes records proxied response bytes.
func (m *Metrics) RecordBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesProxied.Add(float64(n))
}

// KeepaliveProbe records a keepalive probe result.
func (m *Metrics) KeepaliveProbe(result string) {
	if m == nil {
		return
	}
	m.KeepaliveProbes.WithLabelValues(result).Inc()
}

// RecordLookup records a name resolution result.
func (m *Metrics) RecordLookup(result string) {
	if m == nil {
		return
	}
	m.NamingLookups.WithLabelValues(result).Inc()
}
