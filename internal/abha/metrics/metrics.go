package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity flows.
type Metrics struct {
	// Operation outcomes by operation and outcome
	Outcomes *prometheus.CounterVec

	// Operation latency including all authority calls
	OperationLatency *prometheus.HistogramVec

	// Flows that resolved to an already existing account
	ExistingAccounts *prometheus.CounterVec
}

// New creates the flow metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthid_flow_operations_total",
			Help: "Total orchestrator operations by operation and outcome",
		}, []string{"operation", "outcome"}), // outcome: "success", "existing", "failure"

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthid_flow_operation_duration_seconds",
			Help:    "Duration of orchestrator operations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation"}),

		ExistingAccounts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthid_flow_existing_accounts_total",
			Help: "Total flows that found an existing account, by flow",
		}, []string{"flow"}),
	}
}

// RecordOperation records one operation and its duration.
func (m *Metrics) RecordOperation(operation, outcome string, d time.Duration) {
	if m != nil {
		m.Outcomes.WithLabelValues(operation, outcome).Inc()
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// IncrementExisting records a flow that resolved to an existing account.
func (m *Metrics) IncrementExisting(flow string) {
	if m != nil {
		m.ExistingAccounts.WithLabelValues(flow).Inc()
	}
}
