package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "testlogger"

var (
	ResultsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_enqueued_total",
			Help:      "Total number of test results accepted from the host, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	ResultsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_dropped_total",
			Help:      "Total number of test results that were never submitted, labeled by reason.",
		},
		[]string{"reason"},
	)

	BatchesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Total number of batches taken from the queue, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of results per processed batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	ParentsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parents_created_total",
			Help:      "Total number of parent records created on the backend.",
		},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of backend submissions, labeled by HTTP method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	SubmissionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_latency_seconds",
			Help:      "Latency of backend submissions (seconds).",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	FlushPhaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_phase_seconds",
			Help:      "Time spent in each shutdown phase (seconds).",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)

	FlushTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_timeouts_total",
			Help:      "Total number of shutdown phases that exceeded their time budget.",
		},
		[]string{"phase"},
	)

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of requests handled by the fake tracking backend.",
		},
		[]string{"route", "status"},
	)

	BackendRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_rate_limited_total",
			Help:      "Total number of backend requests rejected by the token bucket.",
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		ResultsEnqueuedTotal,
		ResultsDroppedTotal,
		BatchesProcessedTotal,
		BatchSize,
		ParentsCreatedTotal,
		SubmissionsTotal,
		SubmissionLatencySeconds,
		FlushPhaseSeconds,
		FlushTimeoutsTotal,
		BackendRequestsTotal,
		BackendRateLimitedTotal,
	)
}
