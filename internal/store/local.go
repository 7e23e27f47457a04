package store

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DownloadsPath is the route prefix under which local files are served.
const DownloadsPath = "/downloads"

// Local writes files into a directory served by the API under DownloadsPath.
type Local struct {
	rootDir string
	baseURL string
}

func NewLocal(rootDir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create download directory %s", rootDir)
	}
	return &Local{rootDir: rootDir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// PathFor returns the full path for the provided file name.
func (l *Local) PathFor(name string) string {
	return filepath.Join(l.rootDir, filepath.Base(name))
}

func (l *Local) Put(_ context.Context, name string, content []byte) (string, error) {
	if err := os.WriteFile(l.PathFor(name), content, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", name)
	}
	zap.S().Named("store").Debugw("file stored", "name", name, "bytes", len(content))
	return l.baseURL + path.Join(DownloadsPath, url.PathEscape(filepath.Base(name))), nil
}

func (l *Local) Delete(_ context.Context, name string) error {
	if err := os.Remove(l.PathFor(name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete %s", name)
	}
	return nil
}

// Open returns the stored file for serving.
func (l *Local) Open(name string) (*os.File, error) {
	f, err := os.Open(l.PathFor(name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", name)
	}
	return f, nil
}

func (l *Local) Type() string {
	return TypeLocal
}
