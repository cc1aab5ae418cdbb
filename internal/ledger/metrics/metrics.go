package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the record ledger.
type Metrics struct {
	AppendsTotal     *prometheus.CounterVec
	AppendConflicts  prometheus.Counter
	AppendLatency    prometheus.Histogram
	VerifyFailures   prometheus.Counter
	NotifyDropped    prometheus.Counter
	NotifyDispatched *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		AppendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_ledger_appends_total",
			Help: "Records appended by category",
		}, []string{"category"}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_ledger_append_conflicts_total",
			Help: "Appends rejected because the chain head moved",
		}),
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustcert_ledger_append_duration_seconds",
			Help:    "Duration of a ledger append including head lookup",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		VerifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_ledger_verify_failures_total",
			Help: "Chain verifications that found a break",
		}),
		NotifyDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_ledger_notifications_dropped_total",
			Help: "Record-appended notifications dropped because the queue was full",
		}),
		NotifyDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_ledger_notifications_total",
			Help: "Record-appended notifications handled by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementAppend(category string) {
	if m != nil {
		m.AppendsTotal.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m != nil {
		m.AppendLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementVerifyFailure() {
	if m != nil {
		m.VerifyFailures.Inc()
	}
}

func (m *Metrics) IncrementNotifyDropped() {
	if m != nil {
		m.NotifyDropped.Inc()
	}
}

// IncrementNotifyOutcome records "ok" or "error" for a handled notification.
func (m *Metrics) IncrementNotifyOutcome(outcome string) {
	if m != nil {
		m.NotifyDispatched.WithLabelValues(outcome).Inc()
	}
}
