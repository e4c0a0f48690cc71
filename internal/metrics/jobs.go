// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karaoke_job_outcome_total",
		Help: "Terminal job outcomes by kind and status",
	}, []string{"kind", "status"})

	jobStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "karaoke_job_step_duration_seconds",
		Help:    "Duration of individual pipeline steps",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
	}, []string{"step", "outcome"})

	jobsPendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "karaoke_jobs_pending",
		Help: "Jobs currently waiting for a worker reservation",
	})

	reservationsReopened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karaoke_job_reservations_reopened_total",
		Help: "Stale worker reservations reopened back to pending",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "karaoke_queue_depth",
		Help: "Number of queued karaoke entries",
	})
)

// IncJobOutcome records a terminal job outcome.
func IncJobOutcome(kind, status string) {
	jobOutcomeTotal.WithLabelValues(kind, status).Inc()
}

// ObserveJobStep records the wall time of one pipeline step.
func ObserveJobStep(step, outcome string, d time.Duration) {
	jobStepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

// SetJobsPending records the pending job backlog.
func SetJobsPending(n int) {
	jobsPendingGauge.Set(float64(n))
}

// IncReservationReopened records one stale reservation being reopened.
func IncReservationReopened() {
	reservationsReopened.Inc()
}

// SetQueueDepth records the current karaoke queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
