package aggregate

import (
	"context"
	"regexp"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/dispatcher"
)

var numericColumn = regexp.MustCompile(`^[0-9]+$`)

// DefaultDenyList names internal columns never exported.
var DefaultDenyList = []string{dataset.IDColumn, "ID"}

var indexColumns = []string{"index", "Unnamed: 0"}

type Summary struct {
	TotalChunks      int           `json:"total_chunks"`
	SuccessfulChunks int           `json:"successful_chunks"`
	ChunkSize        int           `json:"chunk_size"`
	TotalRetries     int           `json:"total_retries"`
	ChunkRetries     map[int]int   `json:"chunk_retries"`
	RetryMode        string        `json:"retry_mode"`
	SortSkipped      bool          `json:"sort_skipped"`
	Elapsed          time.Duration `json:"-"`
}

type Result struct {
	Dataset *dataset.Dataset
	Summary Summary
}

// Outcome is what the dispatcher reports once every task has settled.
type Outcome struct {
	Statuses  dispatcher.Statuses
	ChunkSize int
	RetryMode string
	Started   time.Time
}

// Finalize recovers, deduplicates, sorts and strips the accumulated rows.
func (s *State) Finalize(ctx context.Context, outcome Outcome) *Result {
	logger := zap.S().Named("aggregate")

	if n := s.Recover(ctx); n > 0 {
		logger.Infow("recovered rows from references", "rows", n)
	}

	s.mu.Lock()
	joined := len(s.rows)
	rows := dataset.Dedup(s.rows, s.columns)
	s.mu.Unlock()

	sortSkipped := !s.sortable()
	if !sortSkipped {
		dataset.SortStable(rows, s.opts.CategoryColumn, s.opts.TimeColumn)
	}

	columns := s.exportColumns()
	final := make([]dataset.Row, 0, len(rows))
	for _, row := range rows {
		final = append(final, dataset.Project(row, columns))
	}

	summary := Summary{
		TotalChunks:      len(outcome.Statuses),
		SuccessfulChunks: outcome.Statuses.Count(dispatcher.Succeeded),
		ChunkSize:        outcome.ChunkSize,
		TotalRetries:     outcome.Statuses.TotalRetries(),
		ChunkRetries:     outcome.Statuses.Retries(),
		RetryMode:        outcome.RetryMode,
		SortSkipped:      sortSkipped,
		Elapsed:          time.Since(outcome.Started),
	}

	logger.Infow("job finalized",
		"rows", len(final),
		"duplicates", joined-len(rows),
		"successful_chunks", summary.SuccessfulChunks,
		"total_chunks", summary.TotalChunks,
		"sort_skipped", sortSkipped,
	)

	return &Result{
		Dataset: &dataset.Dataset{Columns: columns, Rows: final},
		Summary: summary,
	}
}

func (s *State) sortable() bool {
	if s.opts.CategoryColumn == "" || s.opts.TimeColumn == "" {
		return false
	}
	return funk.ContainsString(s.columns, s.opts.CategoryColumn) && funk.ContainsString(s.columns, s.opts.TimeColumn)
}

// exportColumns drops deny-listed names and a leading index-like column.
func (s *State) exportColumns() []string {
	deny := s.opts.DenyList
	if len(deny) == 0 {
		deny = DefaultDenyList
	}

	columns := funk.Filter(s.columns, func(c string) bool {
		return !funk.ContainsString(deny, c)
	}).([]string)

	if len(columns) > 0 && columns[0] != s.opts.PrimaryColumn && isIndexColumn(columns[0]) {
		columns = columns[1:]
	}
	return columns
}

func isIndexColumn(name string) bool {
	return numericColumn.MatchString(name) || funk.ContainsString(indexColumns, name)
}
