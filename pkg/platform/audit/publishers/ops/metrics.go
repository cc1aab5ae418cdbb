package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what happens to operational events. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	recorded     prometheus.Counter
	dropped      *prometheus.CounterVec
	breakerState prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		recorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_audit_ops_recorded_total",
			Help: "Operational audit events handed to the store",
		}),
		dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_audit_ops_dropped_total",
			Help: "Operational audit events dropped, by reason",
		}, []string{"reason"}),
		breakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trustcert_audit_ops_breaker_open",
			Help: "1 while the operational audit breaker is open",
		}),
	}
}

func (m *Metrics) IncRecorded() {
	if m == nil {
		return
	}
	m.recorded.Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerState.Set(1)
		return
	}
	m.breakerState.Set(0)
}
