package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Store hosts files so that they are reachable by URL.
type Store interface {
	// Put stores content under name and returns a URL dereferenceable by
	// external collaborators.
	Put(ctx context.Context, name string, content []byte) (string, error)
	Delete(ctx context.Context, name string) error
	Type() string
}

// UniqueName returns prefix_<8 hex chars>.ext.
func UniqueName(prefix, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s.%s", prefix, suffix, strings.TrimPrefix(ext, "."))
}
