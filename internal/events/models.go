package events

const (
	JobStartedKind  string = "sheetfilter.events.job.started"
	JobFinishedKind string = "sheetfilter.events.job.finished"
)

type JobStartedEvent struct {
	JobID     string `json:"job_id"`
	Filename  string `json:"filename"`
	Rows      int    `json:"rows"`
	Chunks    int    `json:"chunks"`
	ChunkSize int    `json:"chunk_size"`
	RetryMode string `json:"retry_mode"`
}

type JobFinishedEvent struct {
	JobID            string  `json:"job_id"`
	Status           string  `json:"status"`
	Rows             int     `json:"rows"`
	TotalChunks      int     `json:"total_chunks"`
	SuccessfulChunks int     `json:"successful_chunks"`
	TotalRetries     int     `json:"total_retries"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	DownloadURL      string  `json:"download_url,omitempty"`
}
