package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	// ReceiptAttempts counts attempts by outcome and the step that decided it.
	ReceiptAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_request_attempts_total",
			Help: "Receipt credential request attempts by disposition",
		},
		[]string{"disposition", "step"},
	)

	ReceiptVerificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_zk_verification_failures_total",
			Help: "Zero-knowledge verification failures that discarded the request context",
		},
		[]string{"step"},
	)

	ReceiptValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_credential_validation_failures_total",
			Help: "Failed receipt credential checks, one increment per failing check",
		},
		[]string{"check"},
	)

	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_lock_wait_seconds",
			Help:    "Time spent waiting for a workflow lock",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 60},
		},
		[]string{"lock"},
	)
)
