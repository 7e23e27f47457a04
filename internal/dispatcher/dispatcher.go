package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/workflow"
	"github.com/kubev2v/sheet-filter/pkg/metrics"
)

const (
	defaultWorkers          = 6
	defaultRetryDelay       = time.Second
	defaultProgressInterval = 10 * time.Second
)

// ChunkProcessor runs one attempt for a chunk.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, chunk dataset.Chunk) (*workflow.ServiceResult, error)
}

// Sink receives the result of every chunk that succeeded. It is called
// concurrently from the workers.
type Sink interface {
	OnChunkSuccess(ctx context.Context, result *workflow.ServiceResult)
}

type Option func(d *Dispatcher)

func WithWorkers(workers int) Option {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workers = workers
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

func WithProgressInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.progressInterval = interval
	}
}

// Dispatcher runs one task per chunk on a pool of bounded width. A task loops
// until its chunk succeeds, unless the retry policy is bounded.
type Dispatcher struct {
	processor        ChunkProcessor
	sink             Sink
	workers          int
	policy           RetryPolicy
	progressInterval time.Duration

	mu       sync.Mutex
	statuses map[int]*ChunkStatus
}

func New(processor ChunkProcessor, sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		processor:        processor,
		sink:             sink,
		workers:          defaultWorkers,
		policy:           UnboundedRetry(defaultRetryDelay),
		progressInterval: defaultProgressInterval,
		statuses:         map[int]*ChunkStatus{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Policy() RetryPolicy {
	return d.policy
}

// Run blocks until every chunk task has settled and returns their statuses.
// Cancelling ctx stops retrying; chunks that have not succeeded by then are
// reported as Abandoned.
func (d *Dispatcher) Run(ctx context.Context, chunks []dataset.Chunk) Statuses {
	d.mu.Lock()
	for _, c := range chunks {
		d.statuses[c.ID] = &ChunkStatus{ChunkID: c.ID, State: Pending}
	}
	d.mu.Unlock()

	logger := zap.S().Named("dispatcher")
	logger.Infow("dispatching chunks", "chunks", len(chunks), "workers", d.workers, "retry_mode", d.policy.Mode(), "retry_delay", d.policy.Delay)
	metrics.IncreaseChunksDispatchedMetric(len(chunks))

	stopProgress := d.reportProgress(ctx)
	defer stopProgress()

	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, c := range chunks {
		g.Go(func() error {
			d.runChunk(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	statuses := d.Snapshot()
	logger.Infow("dispatch finished", "succeeded", statuses.Count(Succeeded), "abandoned", statuses.Count(Abandoned), "retries", statuses.TotalRetries())
	return statuses
}

// Snapshot returns the current status of every chunk ordered by chunk id.
func (d *Dispatcher) Snapshot() Statuses {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(Statuses, 0, len(d.statuses))
	for _, st := range d.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}

func (d *Dispatcher) runChunk(ctx context.Context, chunk dataset.Chunk) {
	logger := zap.S().Named("dispatcher").With("chunk_id", chunk.ID, "rows", chunk.Len())

	for attempt := 1; ; attempt++ {
		d.update(chunk.ID, func(st *ChunkStatus) { st.State = Running })

		result, err := d.attempt(ctx, chunk)
		if err == nil {
			metrics.IncreaseChunkAttemptsMetric(metrics.AttemptSucceeded)
			d.sink.OnChunkSuccess(ctx, result)
			d.update(chunk.ID, func(st *ChunkStatus) {
				st.State = Succeeded
				st.LastError = ""
			})
			logger.Infow("chunk succeeded", "attempt", attempt, "matched", len(result.Matched))
			return
		}

		metrics.IncreaseChunkAttemptsMetric(metrics.AttemptFailed)
		// the chunk stays Running through the retry delay
		d.update(chunk.ID, func(st *ChunkStatus) {
			st.Retries++
			st.LastError = err.Error()
		})

		if !d.policy.allows(attempt) {
			logger.Warnw("chunk abandoned, retry policy exhausted", "attempts", attempt, "error", err)
			d.abandon(chunk.ID)
			return
		}

		logger.Warnw("chunk attempt failed, retrying", "attempt", attempt, "delay", d.policy.Delay, "error", err)
		metrics.IncreaseChunkRetriesMetric()
		if !sleep(ctx, d.policy.Delay) {
			logger.Warnw("chunk abandoned, job deadline reached", "attempts", attempt)
			d.abandon(chunk.ID)
			return
		}
	}
}

// attempt turns a panic in the processor into an ordinary failure.
func (d *Dispatcher) attempt(ctx context.Context, chunk dataset.Chunk) (result *workflow.ServiceResult, err error) {
	metrics.ChunkStarted()
	defer metrics.ChunkFinished()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk %d processing panicked: %v", chunk.ID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err = d.processor.ProcessChunk(ctx, chunk)
	if err == nil && result == nil {
		err = errors.New("processor returned no result")
	}
	return result, err
}

func (d *Dispatcher) update(chunkID int, fn func(st *ChunkStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.statuses[chunkID]; ok {
		fn(st)
	}
}

func (d *Dispatcher) abandon(chunkID int) {
	d.update(chunkID, func(st *ChunkStatus) { st.State = Abandoned })
}

func sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
