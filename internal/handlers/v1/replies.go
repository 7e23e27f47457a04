package v1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/kubev2v/sheet-filter/internal/service"
)

type HealthReply struct {
	Status string `json:"status"`
}

type ErrorReply struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CodedErrorReply mirrors the error shape of the workflow service.
type CodedErrorReply struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status"`
}

type SummaryReply struct {
	TotalChunks      int         `json:"total_chunks"`
	SuccessfulChunks int         `json:"successful_chunks"`
	ChunkSize        int         `json:"chunk_size"`
	RetryMode        string      `json:"retry_mode"`
	TotalRetries     int         `json:"total_retries"`
	ChunkRetries     map[int]int `json:"chunk_retries,omitempty"`
	SortSkipped      bool        `json:"sort_skipped"`
}

type ProcessReply struct {
	Message            string           `json:"message"`
	JobID              string           `json:"job_id"`
	Summary            SummaryReply     `json:"summary"`
	ProcessingTime     string           `json:"processing_time"`
	TotalFilteredCount int              `json:"total_filtered_count"`
	FilteredData       []map[string]any `json:"filtered_data"`
	FinalDownloadURL   string           `json:"final_download_url,omitempty"`
}

type DownloadReply struct {
	DownloadURL string `json:"download_url"`
}

type JobsReply struct {
	Jobs []service.JobInfo `json:"jobs"`
}

func (h HealthReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (e ErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (e CodedErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func (p ProcessReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (d DownloadReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (j JobsReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func newProcessReply(out *service.ProcessResult) ProcessReply {
	result := out.Result
	records := result.Dataset.Records()
	return ProcessReply{
		Message: "processing complete",
		JobID:   out.JobID,
		Summary: SummaryReply{
			TotalChunks:      result.Summary.TotalChunks,
			SuccessfulChunks: result.Summary.SuccessfulChunks,
			ChunkSize:        result.Summary.ChunkSize,
			RetryMode:        result.Summary.RetryMode,
			TotalRetries:     result.Summary.TotalRetries,
			ChunkRetries:     result.Summary.ChunkRetries,
			SortSkipped:      result.Summary.SortSkipped,
		},
		ProcessingTime:     fmt.Sprintf("%.2fs", result.Summary.Elapsed.Seconds()),
		TotalFilteredCount: len(records),
		FilteredData:       records,
		FinalDownloadURL:   out.DownloadURL,
	}
}
