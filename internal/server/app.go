// Package server assembles and runs the conversion service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/api"
	"github.com/JakeFAU/article2md/internal/app"
	"github.com/JakeFAU/article2md/internal/clock/system"
	"github.com/JakeFAU/article2md/internal/config"
	"github.com/JakeFAU/article2md/internal/dispatcher"
	"github.com/JakeFAU/article2md/internal/id/uuid"
	"github.com/JakeFAU/article2md/internal/metrics"
	"github.com/JakeFAU/article2md/internal/progress"
	progresssinks "github.com/JakeFAU/article2md/internal/progress/sinks"
	queueMemory "github.com/JakeFAU/article2md/internal/queue/memory"
	"github.com/JakeFAU/article2md/internal/storage/memory"
	"github.com/JakeFAU/article2md/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// App contains the service's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	conv        *app.App
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	progressHub *progress.Hub
	queue       *queueMemory.Queue
}

// Build creates the service dependencies: the conversion stack, an in-memory
// job store and queue, the worker pool, the progress hub and the HTTP API.
func Build(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	type sanitizedConfig struct {
		Port       int    `json:"port"`
		Workers    int    `json:"workers"`
		QueueDepth int    `json:"queue_depth"`
		OutputDir  string `json:"output_dir"`
		Auth       bool   `json:"auth"`
	}
	logger.Info("building service", zap.Any("config", sanitizedConfig{
		Port:       cfg.Server.Port,
		Workers:    cfg.Server.Workers,
		QueueDepth: cfg.Server.QueueDepth,
		OutputDir:  cfg.Output.Dir,
		Auth:       cfg.Auth.Enabled,
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	conv, err := app.New(cfg, logger.Named("convert"))
	if err != nil {
		return nil, fmt.Errorf("conversion stack init failed: %w", err)
	}

	jobStore := memory.NewJobStore(memory.Config{TTL: cfg.Server.JobTTL, MaxEvents: cfg.Server.MaxEvents})
	hub, err := setupProgress(cfg, logger, reg, jobStore)
	if err != nil {
		conv.Close()
		return nil, err
	}

	a := &App{
		cfg:         cfg,
		logger:      logger,
		conv:        conv,
		progressHub: hub,
		queue:       queueMemory.NewQueue(cfg.Server.QueueDepth),
	}

	workers := make([]*worker.Worker, 0, cfg.Server.Workers)
	for i := 0; i < cfg.Server.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			jobStore,
			conv.Runner(),
			hub,
			m,
			worker.Config{OutDir: cfg.Output.Dir},
			logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers, m)

	a.apiServer = api.NewServer(
		jobStore,
		a.dispatch,
		uuid.NewUUIDGenerator(),
		system.New(),
		cfg,
		logger.Named("api"),
		api.WithMetrics(m, reg),
	)
	return a, nil
}

func setupProgress(
	cfg config.Config,
	logger *zap.Logger,
	reg prometheus.Registerer,
	recorder progresssinks.EventRecorder,
) (*progress.Hub, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := cfg.Progress
	hubCfg.Logger = logger.Named("progress_hub")
	hub := progress.NewHub(hubCfg,
		progresssinks.NewStoreSink(recorder, logger.Named("progress_store")),
		progresssinks.NewLogSink(logger.Named("progress_log")),
		promSink,
	)
	logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return hub, nil
}

// Handler exposes the API router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers and the HTTP server and blocks until ctx is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Server.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	return a.Close(shutdownCtx)
}

// Close releases the browser and drains the progress hub.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.conv.Close()
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}
