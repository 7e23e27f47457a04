package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/dataset"
)

const (
	ResponseModeStreaming = "streaming"
	ResponseModeBlocking  = "blocking"

	runPath        = "/workflows/run"
	fileUploadPath = "/files/upload"

	defaultRequestTimeout  = 180 * time.Second
	defaultDownloadTimeout = 60 * time.Second
)

// Config describes how to reach the workflow service and how its inputs and
// outputs are named.
type Config struct {
	BaseURL          string
	APIKey           string
	InputVariable    string
	OutputVariable   string
	CriteriaVariable string
	ResponseMode     string
	User             string
	RequestTimeout   time.Duration
	DownloadTimeout  time.Duration
	DebugLimit       int
}

// ServiceResult is produced once per successful attempt.
type ServiceResult struct {
	ChunkID   int
	Matched   []dataset.RowID
	Reference string
}

// Client drives one chunk through the workflow service. It never retries.
type Client struct {
	cfg            Config
	httpClient     *http.Client
	downloadClient *http.Client
	decoders       []Decoder
}

func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.ResponseMode == "" {
		cfg.ResponseMode = ResponseModeStreaming
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
		downloadClient: &http.Client{Timeout: cfg.DownloadTimeout},
		decoders:       DefaultDecoders(cfg.OutputVariable),
	}
}

type fileInput struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

type runRequest struct {
	Inputs       map[string]any `json:"inputs"`
	ResponseMode string         `json:"response_mode"`
	User         string         `json:"user"`
}

// Run submits the file reachable at fileURL together with the criteria and
// resolves the expected output into a ServiceResult.
func (c *Client) Run(ctx context.Context, chunkID int, fileURL, criteria string) (*ServiceResult, error) {
	logger := zap.S().Named("workflow").With("chunk_id", chunkID)

	inputs := map[string]any{
		c.cfg.InputVariable: fileInput{Type: "document", TransferMethod: "remote_url", URL: fileURL},
	}
	if c.cfg.CriteriaVariable != "" {
		inputs[c.cfg.CriteriaVariable] = criteria
	}
	body, err := json.Marshal(runRequest{Inputs: inputs, ResponseMode: c.cfg.ResponseMode, User: c.cfg.User})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+runPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	logger.Debugw("running workflow", "url", fileURL, "response_mode", c.cfg.ResponseMode)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call workflow service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode == http.StatusBadRequest {
			return nil, NewErrBusiness(resp.StatusCode, string(text))
		}
		return nil, NewErrServiceUnavailable(resp.StatusCode, string(text))
	}

	var payload []byte
	if c.isStream(resp) {
		payload, err = ParseStream(resp.Body)
	} else {
		payload, err = ParseDocument(resp.Body)
	}
	if err != nil {
		return nil, err
	}
	logger.Debugw("captured workflow payload", "payload", truncate(string(payload), c.cfg.DebugLimit))

	doc, err := DecodePayload(payload, c.decoders...)
	if err != nil {
		return nil, err
	}

	result := &ServiceResult{ChunkID: chunkID}
	switch out := ResolveOutput(doc, c.cfg.OutputVariable).(type) {
	case Reference:
		result.Reference = out.URL
		ids, err := c.FetchIdentifiers(ctx, out.URL)
		switch {
		case dataset.IsSchemaError(err):
			// the chunk succeeded but its result cannot be joined; Matched stays nil
			logger.Warnw("referenced result is not joinable", "reference", out.URL, "error", err)
		case err != nil:
			return nil, err
		default:
			result.Matched = ids
		}
	case InlineIDs:
		result.Matched = out.IDs
	case Unrecognized:
		logger.Warnw("workflow output has an unexpected shape, counting zero matches", "output", c.cfg.OutputVariable, "value", truncate(fmt.Sprint(out.Value), c.cfg.DebugLimit))
		result.Matched = []dataset.RowID{}
	}

	logger.Infow("workflow run succeeded", "matched", len(result.Matched), "reference", result.Reference)
	return result, nil
}

// FetchIdentifiers downloads a tabular result and reads its identifier column.
func (c *Client) FetchIdentifiers(ctx context.Context, url string) ([]dataset.RowID, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.downloadClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, NewErrDownload(url, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}

	return dataset.ReadIdentifiers(content)
}

// Forward sends body to path on the workflow service with the service
// credentials and returns the raw response. The caller closes the body.
func (c *Client) Forward(ctx context.Context, path string, body io.Reader, contentType string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call workflow service: %w", err)
	}
	return resp, nil
}

func (c *Client) UploadPath() string { return fileUploadPath }

func (c *Client) RunPath() string { return runPath }

func (c *Client) authorize(r *http.Request) {
	if c.cfg.APIKey == "" {
		return
	}
	key := c.cfg.APIKey
	if !strings.HasPrefix(key, "Bearer ") {
		key = "Bearer " + key
	}
	r.Header.Set("Authorization", key)
}

func (c *Client) isStream(resp *http.Response) bool {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		return true
	case "application/json":
		return false
	default:
		return c.cfg.ResponseMode == ResponseModeStreaming
	}
}
