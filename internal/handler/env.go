package handler

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/browser"
	"github.com/JakeFAU/article2md/internal/clean"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/images"
	"github.com/JakeFAU/article2md/internal/markdown"
	"github.com/JakeFAU/article2md/internal/progress"
	"github.com/JakeFAU/article2md/internal/quality"
)

// Deps are the long-lived collaborators shared by every handler.
type Deps struct {
	Engine *fetch.Engine
	// Browser may be nil, in which case headless strategies are skipped.
	Browser   *browser.Manager
	Cleaner   *clean.Cleaner
	Assembler *markdown.Assembler
	// Images may be nil to never download images.
	Images *images.Pipeline
	HTTP   fetch.HTTPConfig
	// Quality is the base validator config that site handlers refine.
	Quality quality.Config
	Logger  *zap.Logger
	Now     func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	cp := *d
	if cp.Logger == nil {
		cp.Logger = zap.NewNop()
	}
	if cp.Now == nil {
		cp.Now = time.Now
	}
	if cp.Cleaner == nil {
		cp.Cleaner = clean.New(clean.DefaultRules())
	}
	if cp.Assembler == nil {
		cp.Assembler = markdown.NewAssembler()
	}
	if cp.Engine == nil {
		cp.Engine = fetch.NewEngine(fetch.DefaultConfig(), quality.New(cp.Quality), cp.Logger)
	}
	return &cp
}

// Env is what a RunFunc sees for one request.
type Env struct {
	*Deps
	Options  article.ConversionOptions
	Stop     article.StopFunc
	Progress progress.Logger
	// PrefersShared is the descriptor's browser preference.
	PrefersShared bool
	Logger        *zap.Logger
}

// SharedBrowser reports whether headless strategies may use the shared
// browser: both the caller and the handler must allow it.
func (e *Env) SharedBrowser() bool {
	return e.PrefersShared && e.Options.UseSharedBrowser
}

// HTTPConfig returns the base HTTP settings with the per-batch overrides.
func (e *Env) HTTPConfig() fetch.HTTPConfig {
	cfg := e.HTTP
	if e.Options.IgnoreSSL {
		cfg.IgnoreSSL = true
	}
	if e.Options.Proxy != "" {
		cfg.Proxy = e.Options.Proxy
	}
	return cfg
}

// Lightweight is the colly strategy with extra request headers.
func (e *Env) Lightweight(headers http.Header) (fetch.Strategy, error) {
	return fetch.NewCollyStrategy(e.HTTPConfig(), headers)
}

// Filtered fetches like Lightweight and strips non-content elements before
// validation, so boilerplate does not count towards the length threshold.
func (e *Env) Filtered(headers http.Header) (fetch.Strategy, error) {
	base, err := e.Lightweight(headers)
	if err != nil {
		return nil, err
	}
	return fetch.Transform(fetch.StrategyFiltered, base, func(res article.FetchResult) (article.FetchResult, error) {
		pageURL, _ := url.Parse(res.FinalURL)
		filtered, removed, err := e.Cleaner.FilterHTML(res.HTML, pageURL)
		if err != nil {
			return article.FetchResult{}, err
		}
		e.Logger.Debug("filtered page", zap.String("url", res.FinalURL), zap.Int("removed", removed))
		res.HTML = filtered
		return res, nil
	}), nil
}

// Headless renders with the browser manager; ok is false without a browser.
// The per-batch proxy and certificate overrides apply to the browser too.
func (e *Env) Headless(opts browser.RenderOptions) (fetch.Strategy, bool) {
	if e.Browser == nil || !e.Browser.Config().Enabled {
		return nil, false
	}
	opts.Network = browser.Network{Proxy: e.Options.Proxy, IgnoreSSL: e.Options.IgnoreSSL}
	return e.Browser.Strategy(e.SharedBrowser(), opts), true
}

// Direct is the readability fallback.
func (e *Env) Direct() (fetch.Strategy, error) {
	return fetch.NewDirectStrategy(e.HTTPConfig())
}

// Validator builds a validator from the base config after mutate.
func (e *Env) Validator(mutate func(*quality.Config)) *quality.Validator {
	cfg := e.Quality
	cfg.Keywords = append([]string(nil), cfg.Keywords...)
	if mutate != nil {
		mutate(&cfg)
	}
	return quality.New(cfg)
}
