package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for spend decisions and policy
// administration.
type Metrics struct {
	SpendDecisions   *prometheus.CounterVec
	SpendApproved    prometheus.Counter
	SpendDuration    prometheus.Histogram
	CustodyFailures  *prometheus.CounterVec
	ClockRegressions prometheus.Counter
	PolicyUpdates    prometheus.Counter
	RecordsReclaimed *prometheus.CounterVec
}

// New registers the vault metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the vault metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SpendDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyvault_spend_decisions_total",
			Help: "Spend intents evaluated, by reason code",
		}, []string{"reason"}),
		SpendApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_spend_approved_amount_total",
			Help: "Sum of amounts released by approved spend intents",
		}),
		SpendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyvault_spend_intent_duration_seconds",
			Help:    "Duration of SpendIntent including custody transfer",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		CustodyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyvault_custody_failures_total",
			Help: "Custody transfers that failed and rolled back the spend intent",
		}, []string{"kind"}),
		ClockRegressions: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_clock_regressions_total",
			Help: "Spend intents evaluated with a clock earlier than a stored day window",
		}),
		PolicyUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyvault_policy_updates_total",
			Help: "Successful SetPolicy calls",
		}),
		RecordsReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyvault_records_reclaimed_total",
			Help: "Audit events and recipient trackers purged by the authority",
		}, []string{"record"}),
	}
}

// ObserveDecision records one evaluated intent.
func (m *Metrics) ObserveDecision(reason string, allowed bool, amount uint64) {
	m.SpendDecisions.WithLabelValues(reason).Inc()
	if allowed {
		m.SpendApproved.Add(float64(amount))
	}
}

// ObserveSpendIntent records the duration of a SpendIntent call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSpendIntent(start time.Time) {
	m.SpendDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementCustodyFailure(kind string) {
	m.CustodyFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementClockRegression() {
	m.ClockRegressions.Inc()
}

func (m *Metrics) IncrementPolicyUpdate() {
	m.PolicyUpdates.Inc()
}

func (m *Metrics) IncrementReclaimed(record string) {
	m.RecordsReclaimed.WithLabelValues(record).Inc()
}
