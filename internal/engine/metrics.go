package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Step execution outcomes.
const (
	outcomeSucceeded   = "succeeded"
	outcomeCriteria    = "criteria_not_met"
	outcomeInvokeError = "error"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrkflo_runs_total",
			Help: "Total workflow runs by final status",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wrkflo_run_duration_seconds",
			Help:    "Duration of workflow runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	stepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrkflo_step_executions_total",
			Help: "Total step executions by outcome",
		},
		[]string{"outcome"},
	)

	stepRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wrkflo_step_retries_total",
		Help: "Total step retries scheduled by retry actions",
	})
)

// recordRun records the final status and duration of a run.
func recordRun(status schema.RunStatus, elapsed time.Duration) {
	runsTotal.WithLabelValues(string(status)).Inc()
	runDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}
