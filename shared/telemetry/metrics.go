package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queue

	QueueJobsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackgen",
		Subsystem: "queue",
		Name:      "jobs_added_total",
		Help:      "Total entries added to a transport queue.",
	}, []string{"queue"})

	QueueJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackgen",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Handler invocations by queue and outcome (completed, retried, failed).",
	}, []string{"queue", "outcome"})

	QueueJobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trackgen",
		Subsystem: "queue",
		Name:      "jobs_inflight",
		Help:      "Handlers currently running.",
	}, []string{"queue"})

	QueueJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trackgen",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Handler execution time in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180},
	}, []string{"queue"})

	QueueStalledRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackgen",
		Subsystem: "queue",
		Name:      "stalled_recovered_total",
		Help:      "Active entries moved back to waiting after their lock expired.",
	}, []string{"queue"})

	// scheduler

	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackgen",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Scheduled task runs by outcome (ok, error, skipped).",
	}, []string{"task", "outcome"})

	// api

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackgen",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trackgen",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	TracksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trackgen",
		Subsystem: "api",
		Name:      "tracks_created_total",
		Help:      "Tracks accepted for generation.",
	})
)
