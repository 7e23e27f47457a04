package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/pkg/metrics"
)

type MetricServer struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
}

// NewMetricServer serves the default registry on /metrics. The job source
// feeds the per-job collector; it may be nil.
func NewMetricServer(bindAddress string, listener net.Listener, jobs metrics.JobSource) *MetricServer {
	if jobs != nil {
		if err := prometheus.Register(metrics.NewJobStatsCollector(jobs)); err != nil {
			zap.S().Named("metrics_server").Warnw("job collector not registered", "error", err)
		}
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	return &MetricServer{
		bindAddress: bindAddress,
		listener:    listener,
		httpServer: &http.Server{
			Addr:    bindAddress,
			Handler: router,
		},
	}
}

func (m *MetricServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.httpServer.SetKeepAlivesEnabled(false)
		_ = m.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("metrics_server").Info("metrics server terminated")
	}()

	zap.S().Named("metrics_server").Infof("serving metrics: %s", m.bindAddress)
	if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
