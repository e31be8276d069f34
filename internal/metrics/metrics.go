package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	// JobsQueued counts jobs accepted by Submit.
	JobsQueued prometheus.Counter

	// JobsFinished counts terminal outcomes by state ("success", "failed").
	JobsFinished *prometheus.CounterVec

	// RollbacksFailed counts rollbacks that returned an error or panicked.
	RollbacksFailed prometheus.Counter

	// JobDuration is a histogram of execute (+ rollback) time per outcome state.
	JobDuration *prometheus.HistogramVec

	// JobsInFlight is the number of tier members currently dispatched.
	JobsInFlight prometheus.Gauge

	// TiersDispatched counts tiers whose members were fanned out.
	TiersDispatched prometheus.Counter

	// TierSize is a histogram of tier sizes.
	TierSize prometheus.Histogram

	// TierDuration is a histogram of the time from dispatch to barrier release.
	TierDuration prometheus.Histogram
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in tests
// to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "tiersched_jobs_queued_total",
			Help: "The total number of jobs submitted to a scheduler.",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiersched_jobs_finished_total",
			Help: "The total number of jobs that reached a terminal state.",
		}, []string{"state"}),
		RollbacksFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "tiersched_rollbacks_failed_total",
			Help: "The total number of rollbacks that did not complete cleanly.",
		}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiersched_job_duration_seconds",
			Help:    "A histogram of job execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"state"}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiersched_jobs_in_flight",
			Help: "The number of jobs currently dispatched (delayed or executing).",
		}),
		TiersDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "tiersched_tiers_dispatched_total",
			Help: "The total number of priority tiers dispatched.",
		}),
		TierSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiersched_tier_size",
			Help:    "A histogram of the number of jobs per tier.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		TierDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiersched_tier_duration_seconds",
			Help:    "A histogram of the time a tier takes to drain.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
}

func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.JobsQueued.Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobDone() {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
}

func (m *Metrics) JobFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(state).Inc()
	m.JobDuration.WithLabelValues(state).Observe(d.Seconds())
}

func (m *Metrics) RollbackFailed() {
	if m == nil {
		return
	}
	m.RollbacksFailed.Inc()
}

func (m *Metrics) TierDispatched(size int) {
	if m == nil {
		return
	}
	m.TiersDispatched.Inc()
	m.TierSize.Observe(float64(size))
}

func (m *Metrics) TierDrained(d time.Duration) {
	if m == nil {
		return
	}
	m.TierDuration.Observe(d.Seconds())
}
