package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterflow_recomputations_total",
			Help: "Total number of per-(meter, day) recomputations by result",
		},
		[]string{"energy_type", "result"},
	)

	RecomputeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterflow_recompute_duration_seconds",
			Help:    "Recomputation duration in seconds per energy type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"energy_type"},
	)

	FormulaEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterflow_formula_evaluations_total",
			Help: "Total number of formula evaluations by result",
		},
		[]string{"result"},
	)

	AlertIntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterflow_alert_intents_total",
			Help: "Total number of alert intents dispatched per reason",
		},
		[]string{"reason"},
	)
)

var (
	JobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterflow_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	JobLastDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterflow_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	JobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterflow_job_failures_total",
			Help: "Total number of failed job runs",
		},
		[]string{"job"},
	)
)

// UpdateJobMetrics records the outcome of one background job run.
func UpdateJobMetrics(job string, started time.Time, err error) {
	JobLastRun.WithLabelValues(job).Set(float64(started.Unix()))
	JobLastDuration.WithLabelValues(job).Set(time.Since(started).Seconds())
	if err != nil {
		JobFailuresTotal.WithLabelValues(job).Inc()
	}
}
