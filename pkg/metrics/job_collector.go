package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// JobStats is a point-in-time view of one running job.
type JobStats struct {
	JobID   string
	Chunks  map[string]int // chunk count by state
	Retries int
}

// JobSource lists the jobs currently running.
type JobSource interface {
	ActiveJobs() []JobStats
}

type jobStatsCollector struct {
	source        JobSource
	activeJobs    *prometheus.Desc
	chunksByState *prometheus.Desc
	jobRetries    *prometheus.Desc // WARN: one series per running job
}

func NewJobStatsCollector(source JobSource) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_jobs_%s", sheetFilter, name)
	}

	return &jobStatsCollector{
		source: source,
		activeJobs: prometheus.NewDesc(
			fqName("active"),
			"Number of jobs being dispatched.",
			nil,
			prometheus.Labels{},
		),
		chunksByState: prometheus.NewDesc(
			fqName("chunks_by_state"),
			"Chunks of running jobs by state.",
			[]string{"state"},
			prometheus.Labels{},
		),
		jobRetries: prometheus.NewDesc(
			fqName("retries"),
			"Retries accumulated by a running job.",
			[]string{"job_id"},
			prometheus.Labels{},
		),
	}
}

func (c *jobStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeJobs
	ch <- c.chunksByState
	ch <- c.jobRetries
}

// Collect implements Collector.
func (c *jobStatsCollector) Collect(ch chan<- prometheus.Metric) {
	jobs := c.source.ActiveJobs()
	ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(len(jobs)))

	byState := map[string]int{}
	for _, job := range jobs {
		for state, count := range job.Chunks {
			byState[state] += count
		}
		ch <- prometheus.MustNewConstMetric(c.jobRetries, prometheus.GaugeValue, float64(job.Retries), job.JobID)
	}

	for state, total := range byState {
		ch <- prometheus.MustNewConstMetric(c.chunksByState, prometheus.GaugeValue, float64(total), state)
	}
}
