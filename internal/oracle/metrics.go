package oracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Reads        *prometheus.CounterVec
	ReadLatency  prometheus.Histogram
	BreakerState prometheus.Gauge
	CacheHits    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Reads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_oracle_reads_total",
			Help: "Oracle reads by outcome",
		}, []string{"outcome"}),
		ReadLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustcert_oracle_read_duration_seconds",
			Help:    "Duration of oracle reads that reached the chain",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trustcert_oracle_breaker_open",
			Help: "1 when the oracle circuit breaker is open",
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_oracle_cache_total",
			Help: "Oracle cache lookups by result",
		}, []string{"result"}),
	}
}

// IncrementRead records "unlocked", "locked", "error", "breaker_open" or
// "rate_limited".
func (m *Metrics) IncrementRead(outcome string) {
	if m != nil {
		m.Reads.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveReadLatency(d time.Duration) {
	if m != nil {
		m.ReadLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}

// IncrementCache records "hit", "miss" or "error".
func (m *Metrics) IncrementCache(result string) {
	if m != nil {
		m.CacheHits.WithLabelValues(result).Inc()
	}
}
