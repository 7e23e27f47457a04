package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	sheetFilter = "sheet_filter"

	// Chunk metrics
	chunksDispatchedTotal = "chunks_dispatched_total"
	chunkAttemptsTotal    = "chunk_attempts_total"
	chunkRetriesTotal     = "chunk_retries_total"
	chunksInFlight        = "chunks_in_flight"

	// Job metrics
	jobsTotal          = "jobs_total"
	jobDurationSeconds = "job_duration_seconds"

	// Labels
	attemptResultLabel = "result"
	jobStatusLabel     = "status"

	AttemptSucceeded = "success"
	AttemptFailed    = "failure"
)

var chunkAttemptsTotalLabels = []string{
	attemptResultLabel,
}

var jobsTotalLabels = []string{
	jobStatusLabel,
}

/**
* Metrics definition
**/
var chunksDispatchedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: sheetFilter,
		Name:      chunksDispatchedTotal,
		Help:      "number of chunks handed to the worker pool",
	},
)

var chunkAttemptsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: sheetFilter,
		Name:      chunkAttemptsTotal,
		Help:      "number of workflow attempts by result",
	},
	chunkAttemptsTotalLabels,
)

var chunkRetriesTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: sheetFilter,
		Name:      chunkRetriesTotal,
		Help:      "number of chunk retries",
	},
)

var chunksInFlightMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: sheetFilter,
		Name:      chunksInFlight,
		Help:      "number of chunks currently calling the workflow service",
	},
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: sheetFilter,
		Name:      jobsTotal,
		Help:      "number of processed jobs by completion status",
	},
	jobsTotalLabels,
)

var jobDurationSecondsMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: sheetFilter,
		Name:      jobDurationSeconds,
		Help:      "wall time of a job from partitioning to final file",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	},
)

func IncreaseChunksDispatchedMetric(count int) {
	chunksDispatchedTotalMetric.Add(float64(count))
}

func IncreaseChunkAttemptsMetric(result string) {
	labels := prometheus.Labels{
		attemptResultLabel: result,
	}
	chunkAttemptsTotalMetric.With(labels).Inc()
}

func IncreaseChunkRetriesMetric() {
	chunkRetriesTotalMetric.Inc()
}

func ChunkStarted() {
	chunksInFlightMetric.Inc()
}

func ChunkFinished() {
	chunksInFlightMetric.Dec()
}

func ObserveJob(status string, elapsed time.Duration) {
	jobsTotalMetric.With(prometheus.Labels{jobStatusLabel: status}).Inc()
	jobDurationSecondsMetric.Observe(elapsed.Seconds())
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(chunksDispatchedTotalMetric)
	prometheus.MustRegister(chunkAttemptsTotalMetric)
	prometheus.MustRegister(chunkRetriesTotalMetric)
	prometheus.MustRegister(chunksInFlightMetric)
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobDurationSecondsMetric)
}
