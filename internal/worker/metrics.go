package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatif_worker_jobs_dispatched_total",
			Help: "Jobs offered to the worker pool, partitioned by outcome.",
		},
		[]string{"result"}, // accepted, queue_full, closed
	)
	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whatif_worker_jobs_in_flight",
			Help: "Jobs currently being processed.",
		},
	)
	jobsPanicked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatif_worker_jobs_panicked_total",
			Help: "Jobs that panicked and were recovered.",
		},
	)
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whatif_worker_queue_depth",
			Help: "Jobs waiting in the worker pool queue.",
		},
	)
)
