package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rhizome_jobs_processed_total",
		Help: "Jobs picked up by the worker, by job type.",
	}, []string{"job_type"})

	jobsSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rhizome_jobs_succeeded_total",
		Help: "Jobs completed successfully, by job type.",
	}, []string{"job_type"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rhizome_jobs_failed_total",
		Help: "Jobs that ended in failure, by job type and error kind.",
	}, []string{"job_type", "kind"})

	jobsPaused = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rhizome_jobs_paused_total",
		Help: "Jobs parked by a pause request, by job type.",
	}, []string{"job_type"})

	heartbeatsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rhizome_job_heartbeats_total",
		Help: "Heartbeat writes performed while jobs were processing.",
	})

	heartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rhizome_job_heartbeat_failures_total",
		Help: "Heartbeat writes that failed (logged, non-fatal).",
	})

	checkpointFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rhizome_checkpoint_fallbacks_total",
		Help: "Resumes that fell back to fresh execution because a checkpoint was missing or its hash mismatched.",
	})

	staleJobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rhizome_stale_jobs_recovered_total",
		Help: "Processing jobs reset to pending after their heartbeat went silent.",
	})

	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rhizome_jobs_retried_total",
		Help: "Failed jobs requeued by the retry pass.",
	})
)
