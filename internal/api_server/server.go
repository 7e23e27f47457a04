package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/config"
	handlers "github.com/kubev2v/sheet-filter/internal/handlers/v1"
	"github.com/kubev2v/sheet-filter/internal/service"
	"github.com/kubev2v/sheet-filter/pkg/metrics"
	"github.com/kubev2v/sheet-filter/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	filter   *service.FilterService
	proxy    *service.ProxyService
	files    handlers.FileSource
	listener net.Listener
}

// New returns a new instance of the sheet filter server. files serves
// /downloads and may be nil when results live in object storage.
func New(
	cfg *config.Config,
	filter *service.FilterService,
	proxy *service.ProxyService,
	files handlers.FileSource,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		filter:   filter,
		proxy:    proxy,
		files:    files,
		listener: listener,
	}
}

// Router builds the HTTP handler with the full middleware chain.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	for _, c := range metricMiddleware.Collectors() {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				zap.S().Named("api_server").Warnw("http metrics not registered", "error", err)
			}
		}
	}

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Service.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	handlers.NewHandler(s.filter, s.proxy, s.files, s.cfg.Service.MaxUploadBytes).Register(router)
	return router
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: s.Router()}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
