package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	eventsEmitted   prometheus.Counter
	persistFailures prometheus.Counter
	persistDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		eventsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_audit_compliance_events_total",
			Help: "Compliance audit events persisted",
		}),
		persistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_audit_compliance_failures_total",
			Help: "Compliance audit writes that failed and aborted the operation",
		}),
		persistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustcert_audit_compliance_persist_seconds",
			Help:    "Compliance audit write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		}),
	}
}

func (m *Metrics) IncEventsEmitted() {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.persistDuration.Observe(seconds)
}
