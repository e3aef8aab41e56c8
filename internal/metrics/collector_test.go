package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/hightoxicity/zkanycastd/internal/metrics"
)

func TestCollectorRecordsAnnounceAndSessionState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.AddAnnounce(3)
	c.SetSessionState(metrics.StateValueConnected)
	c.IncProbe("pass")
	c.IncRecreate("created")

	assert.Equal(t, float64(3), testutil.ToFloat64(c.AnnounceTotal))
	assert.Equal(t, float64(metrics.StateValueConnected), testutil.ToFloat64(c.SessionState))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.ProbeTotal.WithLabelValues("pass")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.RecreateTotal.WithLabelValues("created")))
}

func TestCollectorWithdrawAndReconcileDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.AddWithdraw(2)
	c.ObserveReconcile(0.05)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.WithdrawTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ReconcileDuration))
}
