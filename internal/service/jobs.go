package service

import (
	"sort"
	"sync"
	"time"

	"github.com/kubev2v/sheet-filter/internal/dispatcher"
	"github.com/kubev2v/sheet-filter/pkg/metrics"
)

type JobInfo struct {
	JobID     string              `json:"job_id"`
	Filename  string              `json:"filename"`
	StartedAt time.Time           `json:"started_at"`
	Chunks    dispatcher.Statuses `json:"chunks"`
}

type activeJob struct {
	filename   string
	startedAt  time.Time
	dispatcher *dispatcher.Dispatcher
}

// JobRegistry tracks the jobs currently being dispatched. Nothing outlives the
// request that started the job.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*activeJob
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: map[string]*activeJob{}}
}

func (r *JobRegistry) add(id, filename string, d *dispatcher.Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = &activeJob{filename: filename, startedAt: time.Now(), dispatcher: d}
}

func (r *JobRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// List returns the running jobs, oldest first.
func (r *JobRegistry) List() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]JobInfo, 0, len(r.jobs))
	for id, j := range r.jobs {
		out = append(out, JobInfo{
			JobID:     id,
			Filename:  j.filename,
			StartedAt: j.startedAt,
			Chunks:    j.dispatcher.Snapshot(),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

// ActiveJobs implements metrics.JobSource.
func (r *JobRegistry) ActiveJobs() []metrics.JobStats {
	jobs := r.List()
	out := make([]metrics.JobStats, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, metrics.JobStats{
			JobID:   j.JobID,
			Chunks:  j.Chunks.ByState(),
			Retries: j.Chunks.TotalRetries(),
		})
	}
	return out
}
