package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/progress"
	"github.com/JakeFAU/article2md/internal/quality"
)

// Config controls retry and pacing behavior of the Engine.
type Config struct {
	// MaxRetries is the number of attempts made with each strategy.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoffMin and RetryBackoffMax bound the jittered wait between
	// attempts of the same strategy.
	RetryBackoffMin time.Duration `mapstructure:"retry_backoff_min"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	// StrategyPauseMin and StrategyPauseMax bound the pause before moving to
	// the next strategy.
	StrategyPauseMin time.Duration `mapstructure:"strategy_pause_min"`
	StrategyPauseMax time.Duration `mapstructure:"strategy_pause_max"`
	// AttemptTimeout caps a single strategy attempt.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// HTTP configures the lightweight and direct strategies.
	HTTP HTTPConfig `mapstructure:"http"`
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		RetryBackoffMin:  time.Second,
		RetryBackoffMax:  4 * time.Second,
		StrategyPauseMin: time.Second,
		StrategyPauseMax: 3 * time.Second,
		AttemptTimeout:   90 * time.Second,
		HTTP:             DefaultHTTPConfig(),
	}
}

// Request describes one FetchWithStrategies call.
type Request struct {
	URL        string
	Strategies []Strategy
	// Validator overrides the engine's default validator for this request.
	Validator *quality.Validator
	Stop      article.StopFunc
	Progress  progress.Logger
}

// Engine executes strategies in order until one yields content that passes
// validation.
type Engine struct {
	cfg       Config
	validator *quality.Validator
	pauser    Pauser
	jitter    func(lo, hi time.Duration) time.Duration
	logger    *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPauser replaces the stop-aware timer used between attempts.
func WithPauser(p Pauser) Option {
	return func(e *Engine) {
		if p != nil {
			e.pauser = p
		}
	}
}

// NewEngine constructs an Engine. validator may be nil to accept any content.
func NewEngine(cfg Config, validator *quality.Validator, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		validator: validator,
		pauser:    timerPauser{},
		jitter:    Jitter,
		logger:    logger.Named("fetch"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchWithStrategies tries each strategy in order. The returned result has
// Success set on the first validated page; otherwise Err wraps
// article.ErrFetchExhausted, article.ErrStopRequested or a context error.
func (e *Engine) FetchWithStrategies(ctx context.Context, req Request) article.FetchResult {
	log := req.Progress
	if log == nil {
		log = progress.Nop()
	}
	validator := req.Validator
	if validator == nil {
		validator = e.validator
	}
	if len(req.Strategies) == 0 {
		return failed(fmt.Errorf("%w: no strategies for %s", article.ErrFetchExhausted, req.URL))
	}

	var lastErr error
	for i, strategy := range req.Strategies {
		if i > 0 {
			delay := e.jitter(e.cfg.StrategyPauseMin, e.cfg.StrategyPauseMax)
			if err := e.pauser.Pause(ctx, delay, req.Stop); err != nil {
				return failed(err)
			}
		}
		res, err := e.runStrategy(ctx, req, strategy, validator, log)
		if err == nil {
			return res
		}
		if aborted(ctx, err) {
			return failed(err)
		}
		lastErr = err
	}
	return failed(fmt.Errorf("%w for %s: %w", article.ErrFetchExhausted, req.URL, lastErr))
}

func (e *Engine) runStrategy(
	ctx context.Context,
	req Request,
	strategy Strategy,
	validator *quality.Validator,
	log progress.Logger,
) (article.FetchResult, error) {
	name := strategy.Name()
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if req.Stop.Stopped() {
			return article.FetchResult{}, article.ErrStopRequested
		}
		if err := ctx.Err(); err != nil {
			return article.FetchResult{}, fmt.Errorf("fetch canceled: %w", err)
		}
		if attempt > 1 {
			log.FetchRetry(name, attempt, e.cfg.MaxRetries)
			delay := e.jitter(e.cfg.RetryBackoffMin, e.cfg.RetryBackoffMax)
			if err := e.pauser.Pause(ctx, delay, req.Stop); err != nil {
				return article.FetchResult{}, err
			}
		}
		log.FetchStart(name)
		res, err := e.attempt(ctx, strategy, req.URL)
		if err == nil && validator != nil {
			err = validator.ValidatePage(res.HTML, res.Title).Err()
		}
		if err == nil {
			res.Success = true
			res.Strategy = name
			if res.FinalURL == "" {
				res.FinalURL = req.URL
			}
			log.FetchSuccess(name)
			e.logger.Debug("strategy succeeded",
				zap.String("url", req.URL), zap.String("strategy", name), zap.Int("attempt", attempt))
			return res, nil
		}
		log.FetchFailed(name, err)
		e.logger.Debug("strategy attempt failed",
			zap.String("url", req.URL), zap.String("strategy", name), zap.Int("attempt", attempt), zap.Error(err))
		lastErr = fmt.Errorf("%s attempt %d: %w", name, attempt, err)
		if aborted(ctx, err) || IsPermanent(err) {
			break
		}
	}
	return article.FetchResult{}, lastErr
}

func (e *Engine) attempt(ctx context.Context, strategy Strategy, url string) (res article.FetchResult, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: strategy panic: %v", article.ErrFetchFailure, rec)
		}
	}()
	res, err = strategy.Fetch(attemptCtx, url)
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("%w: %w", article.ErrFetchFailure, err)
	}
	return res, nil
}

func aborted(ctx context.Context, err error) bool {
	return errors.Is(err, article.ErrStopRequested) || ctx.Err() != nil
}

func failed(err error) article.FetchResult {
	return article.FetchResult{Success: false, Err: err}
}
