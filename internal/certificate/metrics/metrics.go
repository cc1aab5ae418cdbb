package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers issuance, re-evaluation and release of certificates.
type Metrics struct {
	Issued              prometheus.Counter
	Deleted             prometheus.Counter
	Unlocked            *prometheus.CounterVec
	Reevaluations       *prometheus.CounterVec
	ReevaluationLatency prometheus.Histogram
	Approvals           prometheus.Counter
	KeyReleases         prometheus.Counter
	SweepCertificates   prometheus.Counter
	SweepDuration       prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_certificates_issued_total",
			Help: "Certificates issued",
		}),
		Deleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_certificates_deleted_total",
			Help: "Certificates deleted by an administrator",
		}),
		Unlocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_certificates_unlocked_total",
			Help: "LOCKED to UNLOCKED transitions by trigger",
		}, []string{"trigger"}),
		Reevaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_certificate_reevaluations_total",
			Help: "Certificate re-evaluations by result",
		}, []string{"result"}),
		ReevaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustcert_certificate_reevaluation_duration_seconds",
			Help:    "Duration of one certificate re-evaluation including ledger reads",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Approvals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_certificate_approvals_total",
			Help: "Approval conditions satisfied",
		}),
		KeyReleases: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_certificate_key_releases_total",
			Help: "Payload keys released for unlocked certificates",
		}),
		SweepCertificates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_certificate_sweep_certificates_total",
			Help: "LOCKED certificates visited by the periodic sweep",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustcert_certificate_sweep_duration_seconds",
			Help:    "Duration of one periodic sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

func (m *Metrics) IncrementDeleted() {
	if m != nil {
		m.Deleted.Inc()
	}
}

// IncrementUnlocked records the operation that completed the condition set:
// "reevaluate" or "approve".
func (m *Metrics) IncrementUnlocked(trigger string) {
	if m != nil {
		m.Unlocked.WithLabelValues(trigger).Inc()
	}
}

// IncrementReevaluation records "changed", "unchanged" or "error".
func (m *Metrics) IncrementReevaluation(result string) {
	if m != nil {
		m.Reevaluations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveReevaluationLatency(d time.Duration) {
	if m != nil {
		m.ReevaluationLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementApproval() {
	if m != nil {
		m.Approvals.Inc()
	}
}

func (m *Metrics) IncrementKeyRelease() {
	if m != nil {
		m.KeyReleases.Inc()
	}
}

func (m *Metrics) ObserveSweep(visited int, d time.Duration) {
	if m != nil {
		m.SweepCertificates.Add(float64(visited))
		m.SweepDuration.Observe(d.Seconds())
	}
}
