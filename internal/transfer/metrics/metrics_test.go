package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncCreated("resident")
	m.IncTransition("approve", "committed")
	m.IncTransition("approve", "race_lost")
	m.IncClaim(true)
	m.IncClaim(false)
	m.IncClaim(false)
	m.AddItemsTransferred("resident", 2)
	m.IncNotificationError()
	m.ObserveApprove(time.Now().Add(-10 * time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsCreated.WithLabelValues("resident")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("approve", "race_lost")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClaimOutcomes.WithLabelValues("noop")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsTransferred.WithLabelValues("resident")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ApproveDuration))
}
