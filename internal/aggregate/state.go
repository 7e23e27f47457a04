package aggregate

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/workflow"
)

// Fetcher resolves a result reference into the identifiers it contains.
type Fetcher interface {
	FetchIdentifiers(ctx context.Context, url string) ([]dataset.RowID, error)
}

type Options struct {
	PrimaryColumn  string
	CategoryColumn string
	TimeColumn     string
	DenyList       []string
}

// State accumulates the rows matched by the chunks of one job. OnChunkSuccess
// may be called concurrently; every other method runs after dispatch.
type State struct {
	fetcher Fetcher
	opts    Options

	// read-only after construction
	position map[dataset.RowID]int
	source   []dataset.Row
	columns  []string

	mu         sync.Mutex
	seen       map[dataset.RowID]struct{}
	rows       []dataset.Row
	references map[int]string
}

// NewState prepares the join index over an identified dataset.
func NewState(identified *dataset.Dataset, fetcher Fetcher, opts Options) *State {
	position := make(map[dataset.RowID]int, identified.Len())
	for i, row := range identified.Rows {
		if id, ok := dataset.RowIDOf(row); ok {
			position[id] = i
		}
	}

	return &State{
		fetcher:    fetcher,
		opts:       opts,
		position:   position,
		source:     identified.Rows,
		columns:    dataset.MoveToFront(dataset.Without(identified.Columns, dataset.IDColumn), opts.PrimaryColumn),
		seen:       map[dataset.RowID]struct{}{},
		rows:       []dataset.Row{},
		references: map[int]string{},
	}
}

// OnChunkSuccess joins the identifiers of one successful chunk. A result that
// only carries a reference is resolved first, outside the lock; if that fails
// the chunk contributes nothing now and the reference is kept for Recover.
func (s *State) OnChunkSuccess(ctx context.Context, result *workflow.ServiceResult) {
	ids := result.Matched
	if ids == nil && result.Reference != "" && s.fetcher != nil {
		fetched, err := s.fetcher.FetchIdentifiers(ctx, result.Reference)
		if err != nil {
			zap.S().Named("aggregate").Warnw("skipping chunk contribution", "chunk_id", result.ChunkID, "reference", result.Reference, "error", err)
		}
		ids = fetched
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if result.Reference != "" {
		s.references[result.ChunkID] = result.Reference
	}
	added := s.join(ids)

	zap.S().Named("aggregate").Debugw("chunk joined", "chunk_id", result.ChunkID, "matched", len(ids), "added", added, "total", len(s.rows))
}

// join appends the rows of ids not seen before, in original row order.
// Callers hold mu.
func (s *State) join(ids []dataset.RowID) int {
	fresh := make([]dataset.RowID, 0, len(ids))
	for _, id := range ids {
		if _, found := s.seen[id]; found {
			continue
		}
		if _, known := s.position[id]; !known {
			zap.S().Named("aggregate").Debugw("ignoring unknown identifier", "id", id)
			continue
		}
		s.seen[id] = struct{}{}
		fresh = append(fresh, id)
	}

	sort.Slice(fresh, func(i, j int) bool { return s.position[fresh[i]] < s.position[fresh[j]] })
	for _, id := range fresh {
		s.rows = append(s.rows, dataset.Project(s.source[s.position[id]], s.columns))
	}
	return len(fresh)
}

// Rows returns a copy of the rows accumulated so far.
func (s *State) Rows() []dataset.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dataset.Row(nil), s.rows...)
}

// References returns the recorded result references by chunk id.
func (s *State) References() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.references))
	for k, v := range s.references {
		out[k] = v
	}
	return out
}

// Recover re-fetches every recorded reference when nothing was joined so far.
// It returns the number of rows recovered. Fetches run without the lock held.
func (s *State) Recover(ctx context.Context) int {
	s.mu.Lock()
	if len(s.rows) > 0 || len(s.references) == 0 || s.fetcher == nil {
		s.mu.Unlock()
		return 0
	}
	references := make(map[int]string, len(s.references))
	for id, ref := range s.references {
		references[id] = ref
	}
	s.mu.Unlock()

	chunkIDs := make([]int, 0, len(references))
	for id := range references {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Ints(chunkIDs)

	logger := zap.S().Named("aggregate")
	logger.Infow("no rows joined, sweeping recorded references", "references", len(chunkIDs))

	recovered := 0
	for _, chunkID := range chunkIDs {
		ids, err := s.fetcher.FetchIdentifiers(ctx, references[chunkID])
		if err != nil {
			logger.Warnw("recovery fetch failed", "chunk_id", chunkID, "reference", references[chunkID], "error", err)
			continue
		}
		s.mu.Lock()
		recovered += s.join(ids)
		s.mu.Unlock()
	}
	return recovered
}
