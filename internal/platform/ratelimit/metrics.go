package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected      prometheus.Counter
	StoreFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_ratelimit_rejected_total",
			Help: "Requests rejected by the per-caller rate limit",
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_ratelimit_store_failures_total",
			Help: "Rate limit checks that failed open because the store errored",
		}),
	}
}

func (m *Metrics) IncrementRejected() {
	m.Rejected.Inc()
}

func (m *Metrics) IncrementStoreFailure() {
	m.StoreFailures.Inc()
}
