package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	handlers "github.com/kubev2v/sheet-filter/internal/handlers/v1"
	"github.com/kubev2v/sheet-filter/internal/store"
)

// DownloadServer only serves stored files. The process command runs it so the
// workflow service can fetch chunk files while a local job is in flight.
type DownloadServer struct {
	httpServer *http.Server
	listener   net.Listener
}

func NewDownloadServer(files handlers.FileSource, listener net.Listener) *DownloadServer {
	h := handlers.NewHandler(nil, nil, files, 0)

	router := chi.NewRouter()
	router.Get(store.DownloadsPath+"/{filename}", h.Download)

	return &DownloadServer{
		listener:   listener,
		httpServer: &http.Server{Handler: router},
	}
}

func (d *DownloadServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		_ = d.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("download_server").Info("download server terminated")
	}()

	zap.S().Named("download_server").Infof("serving downloads on %s", d.listener.Addr().String())
	if err := d.httpServer.Serve(d.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
