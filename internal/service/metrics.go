package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatif_tasks_submitted_total",
			Help: "Submissions partitioned by outcome.",
		},
		[]string{"result"}, // created, existing, rejected, error
	)
	tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatif_tasks_finished_total",
			Help: "Tasks that reached a terminal status.",
		},
		[]string{"status"},
	)
	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatif_generation_duration_seconds",
			Help:    "Time from processing to terminal status.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
	)
	persistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatif_generated_message_persist_failures_total",
			Help: "Generated messages that could not be written to the durable store after all retries.",
		},
	)
	pollResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatif_poll_results_total",
			Help: "Poll responses partitioned by status and source.",
		},
		[]string{"status", "source"},
	)
)
