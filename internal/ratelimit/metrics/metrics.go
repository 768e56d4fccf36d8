package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitRejected    prometheus.Counter
	RateLimitStoreErrors prometheus.Counter
	RateLimitDegraded    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthid_ratelimit_otp_rejected_total",
			Help: "Total number of OTP requests rejected by the rate limiter",
		}),
		RateLimitStoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthid_ratelimit_store_errors_total",
			Help: "Total number of rate limit checks that failed in the primary store",
		}),
		RateLimitDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healthid_ratelimit_degraded",
			Help: "1 while the limiter serves from its in-memory fallback",
		}),
	}
}

func (m *Metrics) IncrementRejected() {
	if m != nil {
		m.RateLimitRejected.Inc()
	}
}

func (m *Metrics) IncrementStoreErrors() {
	if m != nil {
		m.RateLimitStoreErrors.Inc()
	}
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.RateLimitDegraded.Set(1)
		return
	}
	m.RateLimitDegraded.Set(0)
}
