package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/aggregate"
	"github.com/kubev2v/sheet-filter/internal/config"
	"github.com/kubev2v/sheet-filter/internal/dispatcher"
	"github.com/kubev2v/sheet-filter/internal/events"
	"github.com/kubev2v/sheet-filter/internal/service"
	"github.com/kubev2v/sheet-filter/internal/store"
	"github.com/kubev2v/sheet-filter/internal/workflow"
	"github.com/kubev2v/sheet-filter/pkg/log"
)

// Components holds everything built from the configuration. Files is nil
// when results are published to object storage.
type Components struct {
	Config *config.Config
	Files  *store.Local
	Filter *service.FilterService
	Proxy  *service.ProxyService
}

// NewComponents loads the configuration, installs the process logger and
// builds the services. The returned func flushes and restores the logger.
func NewComponents(configFile string) (*Components, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading configuration: %w", err)
	}

	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
	undo := zap.ReplaceGlobals(logger)
	cleanup := func() {
		_ = logger.Sync()
		undo()
	}

	local, err := store.NewLocal(cfg.Service.DownloadDir, cfg.Service.BaseUrl)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initializing download directory: %w", err)
	}

	var st store.Store = local
	if cfg.Storage.Type == store.TypeS3 {
		st, err = store.NewS3(
			store.WithEndpoint(cfg.Storage.Endpoint),
			store.WithBucket(cfg.Storage.Bucket),
			store.WithAccessKey(cfg.Storage.AccessKey),
			store.WithSecretKey(cfg.Storage.SecretKey),
			store.WithSSL(cfg.Storage.UseSSL),
			store.WithURLExpiry(cfg.Storage.URLExpiry),
		)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("initializing object storage: %w", err)
		}
		local = nil
	}
	zap.S().Named("cli").Infow("storage ready", "type", st.Type())

	client := workflow.NewClient(workflow.Config{
		BaseURL:          cfg.Workflow.BaseUrl,
		APIKey:           cfg.Workflow.APIKey,
		InputVariable:    cfg.Workflow.InputVariable,
		OutputVariable:   cfg.Workflow.OutputVariable,
		CriteriaVariable: cfg.Workflow.CriteriaVariable,
		ResponseMode:     cfg.Workflow.ResponseMode,
		User:             cfg.Workflow.User,
		RequestTimeout:   cfg.Workflow.RequestTimeout,
		DownloadTimeout:  cfg.Workflow.DownloadTimeout,
		DebugLimit:       cfg.Service.DebugOutputLimit,
	})

	filterCfg := FilterConfig(cfg)
	if cfg.Events.Enabled {
		producer := events.NewEventProducer(&events.StdoutWriter{}, events.WithOutputTopic(cfg.Events.Topic))
		filterCfg.Events = producer
		flushLogger := cleanup
		cleanup = func() {
			_ = producer.Close()
			flushLogger()
		}
	}

	return &Components{
		Config: cfg,
		Files:  local,
		Filter: service.NewFilterService(client, st, filterCfg),
		Proxy:  service.NewProxyService(client, cfg.Service.AllowedExtensions),
	}, cleanup, nil
}

// FilterConfig maps the loaded configuration onto the filter service settings.
func FilterConfig(cfg *config.Config) service.Config {
	retry := dispatcher.UnboundedRetry(cfg.Dispatch.RetryDelay)
	if cfg.Dispatch.MaxAttempts > 0 {
		retry = dispatcher.BoundedRetry(cfg.Dispatch.RetryDelay, cfg.Dispatch.MaxAttempts)
	}

	return service.Config{
		ChunkSize:        cfg.Dispatch.ChunkSize,
		Workers:          cfg.Dispatch.Workers,
		Retry:            retry,
		JobDeadline:      cfg.Dispatch.JobDeadline,
		ProgressInterval: cfg.Dispatch.ProgressInterval,
		Aggregate: aggregate.Options{
			PrimaryColumn:  cfg.Dataset.PrimaryColumn,
			CategoryColumn: cfg.Dataset.CategoryColumn,
			TimeColumn:     cfg.Dataset.TimeColumn,
			DenyList:       cfg.Dataset.DenyList,
		},
		DefaultCriteria: cfg.Workflow.DefaultCriteria,
		CleanupChunks:   cfg.Dispatch.CleanupChunks,
	}
}
