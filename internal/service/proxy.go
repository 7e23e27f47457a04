package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/workflow"
)

// ProxyService forwards requests to the workflow service with its credentials.
type ProxyService struct {
	client  *workflow.Client
	allowed []string
}

func NewProxyService(client *workflow.Client, allowedExtensions []string) *ProxyService {
	if len(allowedExtensions) == 0 {
		allowedExtensions = DefaultAllowedExtensions
	}
	return &ProxyService{client: client, allowed: allowedExtensions}
}

// UploadFile re-encodes the file as a multipart form and forwards it to the
// workflow file endpoint. The caller closes the response body.
func (p *ProxyService) UploadFile(ctx context.Context, filename string, file io.Reader, user string) (*http.Response, error) {
	if filename == "" {
		return nil, NewErrMissingFile()
	}
	if err := CheckExtension(filename, p.allowed); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	size, err := io.Copy(part, file)
	if err != nil {
		return nil, fmt.Errorf("failed to copy upload: %w", err)
	}
	if user != "" {
		if err := form.WriteField("user", user); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	zap.S().Named("proxy").Infow("forwarding file upload", "filename", filename, "bytes", size)
	return p.client.Forward(ctx, p.client.UploadPath(), &body, form.FormDataContentType())
}

// RunWorkflow forwards a JSON run request. The caller closes the response body.
func (p *ProxyService) RunWorkflow(ctx context.Context, body io.Reader) (*http.Response, error) {
	zap.S().Named("proxy").Infow("forwarding workflow run")
	return p.client.Forward(ctx, p.client.RunPath(), body, "application/json")
}
