package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	Backlog         prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers the relay metrics on reg. Tests pass a
// fresh registry.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_notifications_published_total",
			Help: "SpendRecorded notifications acknowledged by the publisher",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_notification_publish_failures_total",
			Help: "Relay batches stopped by a publish failure",
		}),
		Backlog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "policyvault_notification_outbox_backlog",
			Help: "Entries left undelivered after the last relay batch",
		}),
	}
}
