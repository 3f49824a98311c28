// Package app builds and holds the long-lived conversion services shared by
// the convert and serve commands.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/browser"
	"github.com/JakeFAU/article2md/internal/clean"
	"github.com/JakeFAU/article2md/internal/config"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/handler"
	"github.com/JakeFAU/article2md/internal/images"
	"github.com/JakeFAU/article2md/internal/markdown"
	"github.com/JakeFAU/article2md/internal/quality"
)

// App holds the conversion stack. It is built once at startup and shared by
// every batch; Close releases the browser.
type App struct {
	logger     *zap.Logger
	browser    *browser.Manager
	dispatcher *handler.Dispatcher
	runner     *batch.Runner
}

// Option customizes New.
type Option func(*options)

type options struct {
	registry *handler.Registry
}

// WithRegistry replaces the default site handler registry.
func WithRegistry(r *handler.Registry) Option {
	return func(o *options) { o.registry = r }
}

// New wires the fetch engine, browser manager, cleaner, assembler and image
// pipeline from cfg. It fails fast on settings that cannot be used, such as
// an unparsable proxy.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = handler.DefaultRegistry()
	}

	httpCfg := cfg.HTTPOptions()
	if _, err := fetch.NewTransport(httpCfg); err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}

	var pipeline *images.Pipeline
	if cfg.Images.Enabled {
		var err error
		pipeline, err = images.New(cfg.Images, httpCfg, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("image pipeline: %w", err)
		}
	} else {
		logger.Info("image downloads disabled")
	}

	manager := browser.NewManager(cfg.BrowserOptions(), logger)
	deps := &handler.Deps{
		Engine:    fetch.NewEngine(cfg.Fetch, quality.New(cfg.Quality), logger),
		Browser:   manager,
		Cleaner:   clean.New(cfg.Rules),
		Assembler: markdown.NewAssembler(),
		Images:    pipeline,
		HTTP:      httpCfg,
		Quality:   cfg.Quality,
		Logger:    logger,
	}
	dispatcher := handler.NewDispatcher(deps, o.registry)

	logger.Info("conversion stack ready",
		zap.Bool("browser_enabled", cfg.Browser.Enabled),
		zap.Bool("browser_shared", cfg.Browser.Shared),
		zap.Bool("images_enabled", cfg.Images.Enabled),
		zap.Int("handlers", len(o.registry.Descriptors())),
		zap.Int("fetch_max_retries", cfg.Fetch.MaxRetries),
	)
	return &App{
		logger:     logger,
		browser:    manager,
		dispatcher: dispatcher,
		runner:     batch.NewRunner(dispatcher, logger),
	}, nil
}

// Dispatcher returns the request dispatcher.
func (a *App) Dispatcher() *handler.Dispatcher {
	return a.dispatcher
}

// Runner returns the batch runner built on the dispatcher.
func (a *App) Runner() *batch.Runner {
	return a.runner
}

// Close shuts down any browser the stack launched. It is safe to call more
// than once.
func (a *App) Close() {
	a.browser.Close()
	a.logger.Debug("conversion stack closed")
}
