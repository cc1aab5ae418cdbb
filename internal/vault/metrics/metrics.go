package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Stored   prometheus.Counter
	Released *prometheus.CounterVec
	Refused  prometheus.Counter
	Deleted  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Stored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_vaults_stored_total",
			Help: "Total number of vault keys escrowed",
		}),
		Released: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcert_vault_releases_total",
			Help: "Vault keys released, by what decided the release",
		}, []string{"decided_by"}),
		Refused: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_vault_release_refusals_total",
			Help: "Release attempts refused because the vault is still locked",
		}),
		Deleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustcert_vaults_deleted_total",
			Help: "Total number of vaults deleted by their owner",
		}),
	}
}

func (m *Metrics) IncrementStored() {
	if m != nil {
		m.Stored.Inc()
	}
}

// IncrementReleased records "chain", "clock" or "recorded".
func (m *Metrics) IncrementReleased(decidedBy string) {
	if m != nil {
		m.Released.WithLabelValues(decidedBy).Inc()
	}
}

func (m *Metrics) IncrementRefused() {
	if m != nil {
		m.Refused.Inc()
	}
}

func (m *Metrics) IncrementDeleted() {
	if m != nil {
		m.Deleted.Inc()
	}
}
