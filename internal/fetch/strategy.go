// Package fetch runs ordered fetch strategies with retries, jittered backoff
// and content-quality validation.
package fetch

import (
	"context"
	"errors"

	"github.com/JakeFAU/article2md/internal/article"
)

// Strategy names used across handlers and metrics.
const (
	StrategyFiltered    = "filtered"
	StrategyLightweight = "lightweight"
	StrategyHeadless    = "headless"
	StrategyDirect      = "direct"
)

// Strategy is one way of obtaining a page. Fetch returns the raw page HTML and
// its title; the engine decides whether the result is acceptable.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, url string) (article.FetchResult, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	name string
	fn   func(ctx context.Context, url string) (article.FetchResult, error)
}

// NewStrategy names fn as a Strategy.
func NewStrategy(name string, fn func(ctx context.Context, url string) (article.FetchResult, error)) StrategyFunc {
	return StrategyFunc{name: name, fn: fn}
}

// Name implements Strategy.
func (s StrategyFunc) Name() string { return s.name }

// Fetch implements Strategy.
func (s StrategyFunc) Fetch(ctx context.Context, url string) (article.FetchResult, error) {
	return s.fn(ctx, url)
}

// Transform wraps base so its successful result passes through fn before
// validation. The wrapped strategy is reported under name.
func Transform(name string, base Strategy, fn func(article.FetchResult) (article.FetchResult, error)) Strategy {
	return NewStrategy(name, func(ctx context.Context, url string) (article.FetchResult, error) {
		res, err := base.Fetch(ctx, url)
		if err != nil {
			return article.FetchResult{}, err
		}
		return fn(res)
	})
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying with the same strategy. The engine
// still moves on to the next strategy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
