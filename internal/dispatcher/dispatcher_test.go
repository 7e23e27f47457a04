package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/dispatcher"
	"github.com/kubev2v/sheet-filter/internal/workflow"
)

// flakyProcessor fails each chunk a configured number of times before succeeding.
type flakyProcessor struct {
	mu       sync.Mutex
	failures map[int]int
	calls    map[int]int
	panics   map[int]bool

	running    atomic.Int32
	maxRunning atomic.Int32
	hold       time.Duration
}

func newFlakyProcessor(failures map[int]int) *flakyProcessor {
	return &flakyProcessor{failures: failures, calls: map[int]int{}, panics: map[int]bool{}}
}

func (p *flakyProcessor) ProcessChunk(ctx context.Context, chunk dataset.Chunk) (*workflow.ServiceResult, error) {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		m := p.maxRunning.Load()
		if n <= m || p.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	if p.hold > 0 {
		time.Sleep(p.hold)
	}

	p.mu.Lock()
	p.calls[chunk.ID]++
	call := p.calls[chunk.ID]
	shouldPanic := p.panics[chunk.ID] && call == 1
	fail := call <= p.failures[chunk.ID]
	p.mu.Unlock()

	if shouldPanic {
		panic("boom")
	}
	if fail {
		return nil, errors.New("service unavailable")
	}
	return &workflow.ServiceResult{ChunkID: chunk.ID, Matched: []dataset.RowID{dataset.RowID(chunk.ID)}}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	results []*workflow.ServiceResult
}

func (s *recordingSink) OnChunkSuccess(_ context.Context, result *workflow.ServiceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func chunks(n int) []dataset.Chunk {
	out := make([]dataset.Chunk, n)
	for i := range out {
		out[i] = dataset.Chunk{ID: i}
	}
	return out
}

var _ = Describe("dispatcher", func() {
	var (
		ctx  context.Context
		sink *recordingSink
	)

	BeforeEach(func() {
		ctx = context.Background()
		sink = &recordingSink{}
	})

	It("retries a failing chunk until it succeeds", func() {
		processor := newFlakyProcessor(map[int]int{0: 5})
		d := dispatcher.New(processor, sink, dispatcher.WithRetryPolicy(dispatcher.UnboundedRetry(time.Millisecond)))

		statuses := d.Run(ctx, chunks(1))

		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].State).To(Equal(dispatcher.Succeeded))
		Expect(statuses[0].Retries).To(Equal(5))
		Expect(processor.calls[0]).To(Equal(6))
		Expect(sink.results).To(HaveLen(1))
	})

	It("keeps a chunk running while it waits to retry", func() {
		processor := newFlakyProcessor(map[int]int{0: 1})
		d := dispatcher.New(processor, sink, dispatcher.WithRetryPolicy(dispatcher.UnboundedRetry(300*time.Millisecond)))

		done := make(chan dispatcher.Statuses)
		go func() { done <- d.Run(ctx, chunks(1)) }()

		Eventually(func() int {
			snapshot := d.Snapshot()
			if len(snapshot) == 0 {
				return 0
			}
			return snapshot[0].Retries
		}).Should(Equal(1))
		snapshot := d.Snapshot()
		Expect(snapshot[0].State).To(Equal(dispatcher.Running))
		Expect(snapshot.Count(dispatcher.Pending)).To(Equal(0))

		Eventually(done, time.Second).Should(Receive(HaveEach(HaveField("State", dispatcher.Succeeded))))
	})

	It("delivers every chunk exactly once", func() {
		processor := newFlakyProcessor(map[int]int{1: 2, 3: 1})
		d := dispatcher.New(processor, sink, dispatcher.WithWorkers(3), dispatcher.WithRetryPolicy(dispatcher.UnboundedRetry(0)))

		statuses := d.Run(ctx, chunks(5))

		Expect(statuses.Count(dispatcher.Succeeded)).To(Equal(5))
		Expect(statuses.TotalRetries()).To(Equal(3))
		Expect(statuses.Retries()).To(Equal(map[int]int{0: 0, 1: 2, 2: 0, 3: 1, 4: 0}))

		ids := []int{}
		for _, r := range sink.results {
			ids = append(ids, r.ChunkID)
		}
		Expect(ids).To(ConsistOf(0, 1, 2, 3, 4))
	})

	It("bounds concurrency to the worker count", func() {
		processor := newFlakyProcessor(nil)
		processor.hold = 20 * time.Millisecond
		d := dispatcher.New(processor, sink, dispatcher.WithWorkers(2))

		d.Run(ctx, chunks(6))

		Expect(processor.maxRunning.Load()).To(BeNumerically("<=", 2))
		Expect(sink.results).To(HaveLen(6))
	})

	It("treats a panic as a failed attempt", func() {
		processor := newFlakyProcessor(nil)
		processor.panics[0] = true
		d := dispatcher.New(processor, sink, dispatcher.WithRetryPolicy(dispatcher.UnboundedRetry(0)))

		statuses := d.Run(ctx, chunks(1))

		Expect(statuses[0].State).To(Equal(dispatcher.Succeeded))
		Expect(statuses[0].Retries).To(Equal(1))
	})

	It("abandons a chunk once a bounded policy is exhausted", func() {
		processor := newFlakyProcessor(map[int]int{0: 10})
		d := dispatcher.New(processor, sink, dispatcher.WithRetryPolicy(dispatcher.BoundedRetry(0, 3)))

		statuses := d.Run(ctx, chunks(2))

		Expect(statuses[0].State).To(Equal(dispatcher.Abandoned))
		Expect(statuses[0].Retries).To(Equal(3))
		Expect(statuses[0].LastError).To(Equal("service unavailable"))
		Expect(statuses[1].State).To(Equal(dispatcher.Succeeded))
		Expect(processor.calls[0]).To(Equal(3))
		Expect(sink.results).To(HaveLen(1))
	})

	It("stops retrying when the job deadline expires", func() {
		processor := newFlakyProcessor(map[int]int{0: 1 << 30})
		d := dispatcher.New(processor, sink, dispatcher.WithRetryPolicy(dispatcher.UnboundedRetry(5*time.Millisecond)))

		deadline, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		statuses := d.Run(deadline, chunks(2))

		Expect(statuses[0].State).To(Equal(dispatcher.Abandoned))
		Expect(statuses[1].State).To(Equal(dispatcher.Succeeded))
	})

	It("reports progress without interfering", func() {
		processor := newFlakyProcessor(nil)
		processor.hold = 5 * time.Millisecond
		d := dispatcher.New(processor, sink, dispatcher.WithProgressInterval(time.Millisecond))

		statuses := d.Run(ctx, chunks(4))
		Expect(statuses.Count(dispatcher.Succeeded)).To(Equal(4))
	})
})

var _ = Describe("retry policy", func() {
	It("is unbounded by default", func() {
		d := dispatcher.New(newFlakyProcessor(nil), &recordingSink{})
		Expect(d.Policy().Bounded()).To(BeFalse())
		Expect(d.Policy().Mode()).To(Equal(dispatcher.RetryModeInfinite))
		Expect(d.Policy().Delay).To(Equal(time.Second))
	})

	It("treats a positive attempt limit as bounded", func() {
		Expect(dispatcher.BoundedRetry(0, 2).Mode()).To(Equal(dispatcher.RetryModeBounded))
		Expect(dispatcher.BoundedRetry(0, -1).Bounded()).To(BeFalse())
	})
})

var _ = Describe("chunk state", func() {
	It("marshals as its name", func() {
		text, err := dispatcher.Succeeded.MarshalText()
		Expect(err).To(BeNil())
		Expect(string(text)).To(Equal("succeeded"))
		Expect(dispatcher.Statuses{{State: dispatcher.Pending}, {State: dispatcher.Pending}, {State: dispatcher.Running}}.ByState()).
			To(Equal(map[string]int{"pending": 2, "running": 1}))
	})

	It("parses its name back", func() {
		var state dispatcher.ChunkState
		Expect(state.UnmarshalText([]byte("abandoned"))).To(Succeed())
		Expect(state).To(Equal(dispatcher.Abandoned))
		Expect(state.UnmarshalText([]byte("lost"))).ToNot(Succeed())
	})
})
