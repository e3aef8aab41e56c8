// Package metrics exposes the Prometheus collectors surfaced over HTTP
// alongside the control loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "zkanycastd"

// Label names.
const (
	labelResult  = "result"
	labelOutcome = "outcome"
)

// Session state gauge values, in the order INIT/CONNECTED/SUSPENDED/LOST.
const (
	StateValueInit      = 0
	StateValueConnected = 1
	StateValueSuspended = 2
	StateValueLost      = 3
)

// -------------------------------------------------------------------------
// Collector — Prometheus zkanycastd Metrics
// -------------------------------------------------------------------------

// Collector holds all zkanycastd Prometheus metrics.
type Collector struct {
	// ProbeTotal counts health probe outcomes, labeled pass/fail/timeout.
	ProbeTotal *prometheus.CounterVec

	// SessionState reports the current ZooKeeper session state, encoded
	// 0..3 per StateValue* above.
	SessionState prometheus.Gauge

	// AnnounceTotal counts individual announce lines emitted.
	AnnounceTotal prometheus.Counter

	// WithdrawTotal counts individual withdraw lines emitted.
	WithdrawTotal prometheus.Counter

	// RecreateTotal counts ephemeral membership create attempts, labeled
	// created/soft_fail.
	RecreateTotal *prometheus.CounterVec

	// ReconcileDuration observes the wall time spent rebuilding the route
	// table on each refresh.
	ReconcileDuration prometheus.Histogram
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ProbeTotal,
		c.SessionState,
		c.AnnounceTotal,
		c.WithdrawTotal,
		c.RecreateTotal,
		c.ReconcileDuration,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		ProbeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_total",
			Help:      "Total local health probe outcomes.",
		}, []string{labelResult}),

		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current ZooKeeper session state (0=INIT,1=CONNECTED,2=SUSPENDED,3=LOST).",
		}),

		AnnounceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announce_total",
			Help:      "Total BGP announce lines emitted.",
		}),

		WithdrawTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdraw_total",
			Help:      "Total BGP withdraw lines emitted.",
		}),

		RecreateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recreate_total",
			Help:      "Total ephemeral membership znode create attempts.",
		}, []string{labelOutcome}),

		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent rebuilding the route table on a refresh.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// -------------------------------------------------------------------------
// Probe Outcomes
// -------------------------------------------------------------------------

// IncProbe increments the probe outcome counter for the given result
// ("pass", "fail", or "timeout").
func (c *Collector) IncProbe(result string) {
	c.ProbeTotal.WithLabelValues(result).Inc()
}

// -------------------------------------------------------------------------
// Session State
// -------------------------------------------------------------------------

// SetSessionState sets the session state gauge to value (one of the
// StateValue* constants).
func (c *Collector) SetSessionState(value float64) {
	c.SessionState.Set(value)
}

// -------------------------------------------------------------------------
// Emission Counters
// -------------------------------------------------------------------------

// AddAnnounce increments the announce counter by n.
func (c *Collector) AddAnnounce(n int) {
	c.AnnounceTotal.Add(float64(n))
}

// AddWithdraw increments the withdraw counter by n.
func (c *Collector) AddWithdraw(n int) {
	c.WithdrawTotal.Add(float64(n))
}

// -------------------------------------------------------------------------
// Membership Recreate
// -------------------------------------------------------------------------

// IncRecreate increments the recreate counter for the given outcome
// ("created" or "soft_fail").
func (c *Collector) IncRecreate(outcome string) {
	c.RecreateTotal.WithLabelValues(outcome).Inc()
}

// -------------------------------------------------------------------------
// Reconciliation Latency
// -------------------------------------------------------------------------

// ObserveReconcile records how long a refresh's table rebuild took, in
// seconds.
func (c *Collector) ObserveReconcile(seconds float64) {
	c.ReconcileDuration.Observe(seconds)
}
