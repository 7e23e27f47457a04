package service

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/aggregate"
	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/dispatcher"
	"github.com/kubev2v/sheet-filter/internal/events"
	"github.com/kubev2v/sheet-filter/internal/store"
	"github.com/kubev2v/sheet-filter/internal/workflow"
	"github.com/kubev2v/sheet-filter/pkg/metrics"
)

const (
	jobStatusComplete = "complete"
	jobStatusPartial  = "partial"
	jobStatusEmpty    = "empty"
)

// DefaultAllowedExtensions are accepted by the upload proxy, which forwards
// files untouched.
var DefaultAllowedExtensions = []string{"xlsx", "xls"}

// ReadableExtensions are the workbook formats a job can decode. Legacy .xls
// files can be forwarded through the proxy but not filtered.
var ReadableExtensions = []string{"xlsx", "xlsm"}

type Config struct {
	ChunkSize        int
	Workers          int
	Retry            dispatcher.RetryPolicy
	JobDeadline      time.Duration
	ProgressInterval time.Duration
	Aggregate        aggregate.Options
	DefaultCriteria  string
	CleanupChunks    bool
	// Events receives job lifecycle events. Optional.
	Events EventPublisher
}

type EventPublisher interface {
	Publish(ctx context.Context, kind string, v any) error
}

type ProcessRequest struct {
	Filename string
	Content  []byte
	Criteria string
}

type ProcessResult struct {
	JobID       string
	Result      *aggregate.Result
	DownloadURL string
}

// FilterService runs an uploaded spreadsheet through the workflow chunk by chunk.
type FilterService struct {
	client *workflow.Client
	store  store.Store
	cfg    Config
	jobs   *JobRegistry
}

func NewFilterService(client *workflow.Client, st store.Store, cfg Config) *FilterService {
	return &FilterService{client: client, store: st, cfg: cfg, jobs: NewJobRegistry()}
}

func (s *FilterService) Jobs() *JobRegistry {
	return s.jobs
}

func (s *FilterService) RetryMode() string {
	return s.cfg.Retry.Mode()
}

// ProcessDataset blocks until every chunk has settled. Only request-level
// problems are returned as errors; chunk failures are retried.
func (s *FilterService) ProcessDataset(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	started := time.Now()

	if len(req.Content) == 0 {
		return nil, NewErrMissingFile()
	}
	if err := CheckExtension(req.Filename, ReadableExtensions); err != nil {
		return nil, err
	}

	source, err := dataset.Decode(req.Content)
	if err != nil {
		return nil, NewErrSheetFileCorrupted(err)
	}
	identified, err := dataset.AssignIdentifiers(source)
	if err != nil {
		return nil, NewErrSheetFileCorrupted(err)
	}

	jobID := uuid.NewString()
	logger := zap.S().Named("filter_service").With("job_id", jobID, "filename", req.Filename)

	chunks, err := dataset.Partition(identified, s.cfg.ChunkSize)
	if dataset.IsPartitionError(err) {
		logger.Infow("dataset has no rows, nothing to dispatch")
		metrics.ObserveJob(jobStatusEmpty, time.Since(started))
		return &ProcessResult{JobID: jobID, Result: s.emptyResult(source, started)}, nil
	}
	if err != nil {
		return nil, err
	}

	criteria := req.Criteria
	if strings.TrimSpace(criteria) == "" {
		criteria = s.cfg.DefaultCriteria
	}

	// the job outlives a disconnected caller; only the optional deadline stops it
	jobCtx := context.WithoutCancel(ctx)
	dispatchCtx := jobCtx
	if s.cfg.JobDeadline > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(jobCtx, s.cfg.JobDeadline)
		defer cancel()
	}

	runner := workflow.NewChunkRunner(s.client, s.store, criteria)
	state := aggregate.NewState(identified, s.client, s.cfg.Aggregate)
	d := dispatcher.New(runner, state,
		dispatcher.WithWorkers(s.cfg.Workers),
		dispatcher.WithRetryPolicy(s.cfg.Retry),
		dispatcher.WithProgressInterval(s.cfg.ProgressInterval),
	)

	logger.Infow("job started", "rows", identified.Len(), "chunks", len(chunks), "chunk_size", s.cfg.ChunkSize)
	s.publishEvent(jobCtx, events.JobStartedKind, events.JobStartedEvent{
		JobID:     jobID,
		Filename:  req.Filename,
		Rows:      identified.Len(),
		Chunks:    len(chunks),
		ChunkSize: s.cfg.ChunkSize,
		RetryMode: s.cfg.Retry.Mode(),
	})
	s.jobs.add(jobID, req.Filename, d)
	statuses := d.Run(dispatchCtx, chunks)
	s.jobs.remove(jobID)

	result := state.Finalize(jobCtx, aggregate.Outcome{
		Statuses:  statuses,
		ChunkSize: s.cfg.ChunkSize,
		RetryMode: s.cfg.Retry.Mode(),
		Started:   started,
	})

	out := &ProcessResult{JobID: jobID, Result: result}
	if url, err := s.publish(jobCtx, "final_filtered", result.Dataset); err != nil {
		logger.Errorw("failed to publish final file", "error", err)
	} else {
		out.DownloadURL = url
	}

	if s.cfg.CleanupChunks {
		s.cleanup(jobCtx, runner.Published())
	}

	status := jobStatusComplete
	if result.Summary.SuccessfulChunks < result.Summary.TotalChunks {
		status = jobStatusPartial
	}
	metrics.ObserveJob(status, result.Summary.Elapsed)
	s.publishEvent(jobCtx, events.JobFinishedKind, events.JobFinishedEvent{
		JobID:            jobID,
		Status:           status,
		Rows:             result.Dataset.Len(),
		TotalChunks:      result.Summary.TotalChunks,
		SuccessfulChunks: result.Summary.SuccessfulChunks,
		TotalRetries:     result.Summary.TotalRetries,
		ElapsedSeconds:   result.Summary.Elapsed.Seconds(),
		DownloadURL:      out.DownloadURL,
	})
	logger.Infow("job finished", "status", status, "rows", result.Dataset.Len(), "elapsed", result.Summary.Elapsed, "retries", result.Summary.TotalRetries)

	return out, nil
}

// GenerateExcel writes records to a spreadsheet and returns where it can be
// downloaded. The workflow calls back into this to publish a filtered chunk.
func (s *FilterService) GenerateExcel(ctx context.Context, records []map[string]any) (string, error) {
	if len(records) == 0 {
		return "", NewErrInvalidRecords("data must be a non-empty list")
	}
	return s.publish(ctx, "output", dataset.FromRecords(records, dataset.IDColumn))
}

func (s *FilterService) publish(ctx context.Context, prefix string, d *dataset.Dataset) (string, error) {
	content, err := dataset.Encode(d)
	if err != nil {
		return "", err
	}
	return s.store.Put(ctx, store.UniqueName(prefix, "xlsx"), content)
}

func (s *FilterService) publishEvent(ctx context.Context, kind string, v any) {
	if s.cfg.Events == nil {
		return
	}
	if err := s.cfg.Events.Publish(ctx, kind, v); err != nil {
		zap.S().Named("filter_service").Warnw("failed to publish event", "kind", kind, "error", err)
	}
}

func (s *FilterService) cleanup(ctx context.Context, names []string) {
	var result *multierror.Error
	for _, name := range names {
		if err := s.store.Delete(ctx, name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		zap.S().Named("filter_service").Warnw("chunk cleanup incomplete", "failed", result.Len(), "error", err)
	}
}

func (s *FilterService) emptyResult(source *dataset.Dataset, started time.Time) *aggregate.Result {
	return &aggregate.Result{
		Dataset: &dataset.Dataset{Columns: source.Columns, Rows: []dataset.Row{}},
		Summary: aggregate.Summary{
			ChunkSize:    s.cfg.ChunkSize,
			ChunkRetries: map[int]int{},
			RetryMode:    s.cfg.Retry.Mode(),
			SortSkipped:  true,
			Elapsed:      time.Since(started),
		},
	}
}

// CheckExtension accepts filenames ending in one of allowed. An empty
// filename is accepted since multipart clients may omit it.
func CheckExtension(filename string, allowed []string) error {
	if filename == "" {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return nil
		}
	}
	return NewErrUnsupportedFileType(filename, allowed)
}
