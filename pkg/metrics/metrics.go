package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for duraq's queue, distributor, worker and stale-checker
// components. Using promauto for automatic registration with the
// default registry.
var (
	// --- Producer / enqueue metrics ---

	// JobsEnqueued counts successful enqueues by tenant/queue.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "producer",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"tenant", "queue"},
	)

	// EnqueueFailures counts enqueue calls that returned an error.
	EnqueueFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "producer",
			Name:      "enqueue_failures_total",
			Help:      "Total number of failed enqueue attempts",
		},
		[]string{"tenant", "queue"},
	)

	// JobsDeleted counts jobs force-removed via Producer.Delete.
	JobsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "producer",
			Name:      "jobs_deleted_total",
			Help:      "Total number of jobs force-deleted",
		},
		[]string{"tenant", "queue"},
	)

	// --- Distributor metrics ---

	// DistributorOutcomes counts each fetch outcome kind the
	// JobDistributor produces (success/empty/wait/retry), per tenant.
	DistributorOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "distributor",
			Name:      "outcomes_total",
			Help:      "Total number of JobDistributor fetch outcomes by kind",
		},
		[]string{"tenant", "outcome"},
	)

	// InFlightJobs tracks jobs currently claimed and being processed by
	// this worker process.
	InFlightJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duraq",
			Subsystem: "distributor",
			Name:      "in_flight_jobs",
			Help:      "Number of jobs currently claimed by this worker process",
		},
	)

	// BackingOffGauge reports whether the distributor is currently
	// backing off (1) or actively polling (0).
	BackingOffGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duraq",
			Subsystem: "distributor",
			Name:      "backing_off",
			Help:      "1 if the distributor is currently in a backoff wait, 0 otherwise",
		},
	)

	// --- Worker / acknowledge metrics ---

	// JobsClaimed counts successful claims by tenant/queue.
	JobsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "worker",
			Name:      "jobs_claimed_total",
			Help:      "Total number of jobs claimed",
		},
		[]string{"tenant", "queue"},
	)

	// JobsAcknowledged counts successful acknowledges by outcome
	// (terminated vs rescheduled).
	JobsAcknowledged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "worker",
			Name:      "jobs_acknowledged_total",
			Help:      "Total number of jobs acknowledged",
		},
		[]string{"tenant", "queue", "outcome"},
	)

	// ProcessorErrors counts processor function failures
	// (ProcessorException), per tenant/queue.
	ProcessorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "worker",
			Name:      "processor_errors_total",
			Help:      "Total number of processor function errors",
		},
		[]string{"tenant", "queue"},
	)

	// JobDuration tracks processor execution time.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "duraq",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Duration of job processor execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"tenant", "queue"},
	)

	// --- Stale-checker metrics ---

	// StaleReclaimed counts jobs reclaimed by StaleChecker, split by
	// whether the job was retried or removed outright.
	StaleReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duraq",
			Subsystem: "stalechecker",
			Name:      "reclaimed_total",
			Help:      "Total number of stale jobs reclaimed",
		},
		[]string{"outcome"},
	)

	// StaleCheckDuration tracks how long a single check() sweep took.
	StaleCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "duraq",
			Subsystem: "stalechecker",
			Name:      "check_duration_seconds",
			Help:      "Duration of a single stale-checker sweep",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	// --- Worker resource gauges (gopsutil-backed) ---

	WorkerCPUCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duraq",
			Subsystem: "worker",
			Name:      "cpu_count",
			Help:      "Number of logical CPUs available to this worker process",
		},
	)

	WorkerMemoryTotalBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duraq",
			Subsystem: "worker",
			Name:      "memory_total_bytes",
			Help:      "Total system memory visible to this worker process",
		},
	)
)

// RecordJob records metrics for a completed processor invocation.
func RecordJob(tenant, queueName string, durationSeconds float64, err error) {
	JobDuration.WithLabelValues(tenant, queueName).Observe(durationSeconds)
	if err != nil {
		ProcessorErrors.WithLabelValues(tenant, queueName).Inc()
	}
}

// RecordClaim records a successful claim.
func RecordClaim(tenant, queueName string) {
	JobsClaimed.WithLabelValues(tenant, queueName).Inc()
}

// RecordAcknowledge records a successful acknowledge with its outcome
// ("terminated" or "rescheduled").
func RecordAcknowledge(tenant, queueName, outcome string) {
	JobsAcknowledged.WithLabelValues(tenant, queueName, outcome).Inc()
}
