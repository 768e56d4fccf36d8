package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for calls to the identity authority.
type Metrics struct {
	// Upstream call latency by endpoint and outcome
	UpstreamLatency *prometheus.HistogramVec

	// Service credential exchanges by result
	CredentialRefreshes *prometheus.CounterVec

	// Encryption key loads by source and result
	KeyLoads *prometheus.CounterVec

	// 1 when the upstream circuit is open
	CircuitOpen prometheus.Gauge
}

// New creates the authority metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthid_abdm_request_duration_seconds",
			Help:    "Duration of ABDM requests by endpoint and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"endpoint", "outcome"}), // outcome: "ok", "error", "network"

		CredentialRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthid_abdm_credential_refreshes_total",
			Help: "Total service credential exchanges by result",
		}, []string{"result"}),

		KeyLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthid_abdm_key_loads_total",
			Help: "Total encryption key loads by source and result",
		}, []string{"source", "result"}), // source: "config", "file", "remote"

		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healthid_abdm_circuit_open",
			Help: "Whether the ABDM upstream circuit is open (1) or closed (0)",
		}),
	}
}

// ObserveUpstream records the duration of one authority call.
func (m *Metrics) ObserveUpstream(endpoint, outcome string, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
	}
}

// IncrementCredentialRefresh records a credential exchange.
func (m *Metrics) IncrementCredentialRefresh(result string) {
	if m != nil {
		m.CredentialRefreshes.WithLabelValues(result).Inc()
	}
}

// IncrementKeyLoad records an encryption key load attempt.
func (m *Metrics) IncrementKeyLoad(source, result string) {
	if m != nil {
		m.KeyLoads.WithLabelValues(source, result).Inc()
	}
}

// SetCircuitOpen publishes the circuit state.
func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
