package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/handlers/validator"
	"github.com/kubev2v/sheet-filter/internal/service"
	"github.com/kubev2v/sheet-filter/internal/store"
	"github.com/kubev2v/sheet-filter/pkg/middleware"
)

const (
	maxMemory           = 32 << 20
	defaultMaxUploadLen = 100 << 20
)

// FileSource serves files previously stored for download.
type FileSource interface {
	PathFor(name string) string
}

type GenerateExcelForm struct {
	Data []map[string]any `json:"data" validate:"records"`
}

type Handler struct {
	filter         *service.FilterService
	proxy          *service.ProxyService
	files          FileSource
	maxUploadBytes int64
	validator      *validator.Validator
}

// NewHandler builds the API handler. files may be nil when downloads are
// served by the storage backend itself.
func NewHandler(filter *service.FilterService, proxy *service.ProxyService, files FileSource, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadLen
	}
	return &Handler{
		filter:         filter,
		proxy:          proxy,
		files:          files,
		maxUploadBytes: maxUploadBytes,
		validator:      validator.NewValidator().Register(validator.NewRecordsValidationRules()...),
	}
}

func (h *Handler) Register(router chi.Router) {
	router.Get("/health", h.Health)
	router.Get("/jobs", h.ListJobs)
	router.Post("/process-large-excel", h.ProcessLargeExcel)
	router.Post("/generate-excel", h.GenerateExcel)
	router.Get(store.DownloadsPath+"/{filename}", h.Download)
	router.Post("/v1/files/upload", h.UploadFile)
	router.Post("/v1/workflows/run", h.RunWorkflow)
}

// (GET /health)
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, HealthReply{Status: "ok"})
}

// (GET /jobs)
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, JobsReply{Jobs: h.filter.Jobs().List()})
}

// (POST /process-large-excel)
func (h *Handler) ProcessLargeExcel(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("handler").With("request_id", middleware.RequestIDFrom(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		renderError(w, r, service.NewErrFileCorrupted(err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		renderError(w, r, service.NewErrMissingFile())
		return
	}
	defer file.Close()
	if header.Filename == "" {
		renderError(w, r, service.NewErrMissingFile())
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		renderError(w, r, service.NewErrFileCorrupted(err.Error()))
		return
	}

	logger.Infow("processing upload", "filename", header.Filename, "bytes", len(content))
	out, err := h.filter.ProcessDataset(r.Context(), service.ProcessRequest{
		Filename: header.Filename,
		Content:  content,
		Criteria: r.FormValue("which_aspects"),
	})
	if err != nil {
		logger.Warnw("upload rejected", "filename", header.Filename, "error", err)
		renderError(w, r, err)
		return
	}

	logger.Infow("upload processed", "job_id", out.JobID, "rows", out.Result.Dataset.Len())
	_ = render.Render(w, r, newProcessReply(out))
}

// (POST /generate-excel)
func (h *Handler) GenerateExcel(w http.ResponseWriter, r *http.Request) {
	form := GenerateExcelForm{}
	if err := render.DecodeJSON(r.Body, &form); err != nil {
		renderError(w, r, validator.NewErrInvalidInput("request body is not valid JSON: %s", err))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		renderError(w, r, err)
		return
	}

	url, err := h.filter.GenerateExcel(r.Context(), form.Data)
	if err != nil {
		renderError(w, r, err)
		return
	}
	_ = render.Render(w, r, DownloadReply{DownloadURL: url})
}

// (GET /downloads/{filename})
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		http.NotFound(w, r)
		return
	}
	name := filepath.Base(chi.URLParam(r, "filename"))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", dataset.ContentType)
	http.ServeFile(w, r, h.files.PathFor(name))
}

// (POST /v1/files/upload)
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		renderError(w, r, service.NewErrMissingFile())
		return
	}
	defer file.Close()

	resp, err := h.proxy.UploadFile(r.Context(), header.Filename, file, r.FormValue("user"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if !json.Valid(body) {
		_ = render.Render(w, r, CodedErrorReply{Code: "workflow_api_error", Message: string(body), StatusCode: resp.StatusCode})
		return
	}
	writeRaw(w, resp.StatusCode, "application/json", body)
}

// (POST /v1/workflows/run)
func (h *Handler) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		renderError(w, r, validator.NewErrInvalidInput("request body is not valid JSON"))
		return
	}

	resp, err := h.proxy.RunWorkflow(r.Context(), bytes.NewReader(body))
	if err != nil {
		renderError(w, r, err)
		return
	}
	defer resp.Body.Close()

	upstream, err := io.ReadAll(resp.Body)
	if err != nil {
		renderError(w, r, err)
		return
	}
	contentType := "application/json"
	if !json.Valid(upstream) {
		contentType = resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}
	}
	writeRaw(w, resp.StatusCode, contentType, upstream)
}

func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch err.(type) {
	case *service.ErrUnsupportedFileType:
		_ = render.Render(w, r, CodedErrorReply{Code: "unsupported_file_type", Message: err.Error(), StatusCode: http.StatusUnsupportedMediaType})
		return
	case *service.ErrMissingFile, *service.ErrFileCorrupted, *service.ErrInvalidRecords, *validator.ErrInvalidInput:
		render.Status(r, http.StatusBadRequest)
	default:
		zap.S().Named("handler").Errorw("request failed", "request_id", middleware.RequestIDFrom(r.Context()), "error", err)
		render.Status(r, http.StatusInternalServerError)
		_ = render.Render(w, r, ErrorReply{Error: "internal server error", Details: err.Error()})
		return
	}
	_ = render.Render(w, r, ErrorReply{Error: err.Error()})
}
