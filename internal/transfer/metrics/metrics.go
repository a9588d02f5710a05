package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the transfer workflow.
type Metrics struct {
	RequestsCreated    *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	ClaimOutcomes      *prometheus.CounterVec
	ApproveDuration    prometheus.Histogram
	ItemsTransferred   *prometheus.CounterVec
	NotificationErrors prometheus.Counter
}

// New registers transfer metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_transfer_requests_created_total",
			Help: "Transfer requests created, by data type",
		}, []string{"data_type"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_transfer_transitions_total",
			Help: "Terminal transition attempts by action and outcome",
		}, []string{"action", "outcome"}),
		ClaimOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_transfer_claims_total",
			Help: "Reviewer claim attempts by outcome (claimed, noop)",
		}, []string{"outcome"}),
		ApproveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_transfer_approve_duration_seconds",
			Help:    "Duration of the atomic approve transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ItemsTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_transfer_items_transferred_total",
			Help: "Records re-parented by accepted transfers, by data type",
		}, []string{"data_type"}),
		NotificationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "nexus_transfer_notification_errors_total",
			Help: "List-invalidation signals that could not be published",
		}),
	}
}

func (m *Metrics) IncCreated(dataType string) {
	m.RequestsCreated.WithLabelValues(dataType).Inc()
}

// IncTransition counts an approve or reject with outcome "committed",
// "race_lost", "partial_validation" or "error".
func (m *Metrics) IncTransition(action, outcome string) {
	m.Transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncClaim(claimed bool) {
	outcome := "noop"
	if claimed {
		outcome = "claimed"
	}
	m.ClaimOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveApprove records the duration of an approve transaction.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveApprove(start time.Time) {
	m.ApproveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddItemsTransferred(dataType string, n int) {
	m.ItemsTransferred.WithLabelValues(dataType).Add(float64(n))
}

func (m *Metrics) IncNotificationError() {
	m.NotificationErrors.Inc()
}
