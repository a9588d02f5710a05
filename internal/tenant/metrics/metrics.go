package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the tenant directory.
type Metrics struct {
	ResolveDuration  prometheus.Histogram
	MembershipChecks *prometheus.CounterVec
}

// New registers tenant metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_tenant_resolve_duration_seconds",
			Help:    "Duration of tenant directory lookups",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		MembershipChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tenant_membership_checks_total",
			Help: "Membership checks by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveResolve records the duration of a Resolve operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolve(start time.Time) {
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

// IncMembershipCheck counts a membership check with outcome "member", "denied" or "error".
func (m *Metrics) IncMembershipCheck(outcome string) {
	m.MembershipChecks.WithLabelValues(outcome).Inc()
}
