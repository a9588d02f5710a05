package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_ratelimit_decisions_total",
			Help: "Rate limit checks by scope and outcome (allowed, limited, error)",
		}, []string{"scope", "outcome"}),
	}
}

func (m *Metrics) IncDecision(scope, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(scope, outcome).Inc()
}
