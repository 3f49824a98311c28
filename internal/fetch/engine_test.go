package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/quality"
)

type scriptedStrategy struct {
	name    string
	mu      sync.Mutex
	calls   int
	results []func() (article.FetchResult, error)
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Fetch(context.Context, string) (article.FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]()
}

func ok(html string) func() (article.FetchResult, error) {
	return func() (article.FetchResult, error) {
		return article.FetchResult{Title: "t", HTML: html}, nil
	}
}

func fail(err error) func() (article.FetchResult, error) {
	return func() (article.FetchResult, error) { return article.FetchResult{}, err }
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
	stop   bool
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration, stop article.StopFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
	if p.stop || stop.Stopped() {
		return article.ErrStopRequested
	}
	return nil
}

func newTestEngine(p Pauser, v *quality.Validator) *Engine {
	return NewEngine(DefaultConfig(), v, nil, WithPauser(p))
}

func longPage() string {
	return "<html><body><p>" + strings.Repeat("article ", 200) + "</p></body></html>"
}

func TestEngineFallsThroughStrategies(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	first := &scriptedStrategy{name: "a", results: []func() (article.FetchResult, error){fail(errors.New("boom"))}}
	second := &scriptedStrategy{name: "b", results: []func() (article.FetchResult, error){ok(longPage())}}
	e := newTestEngine(pauser, quality.New(quality.Config{MinLength: 1000}))

	res := e.FetchWithStrategies(context.Background(), Request{URL: "https://x", Strategies: []Strategy{first, second}})
	require.True(t, res.Success)
	require.Equal(t, "b", res.Strategy)
	require.Equal(t, "https://x", res.FinalURL)
	require.Equal(t, 2, first.calls, "each strategy gets MaxRetries attempts")
	require.Equal(t, 1, second.calls)

	require.Len(t, pauser.delays, 2, "one retry backoff and one strategy pause")
	require.GreaterOrEqual(t, pauser.delays[0], time.Second)
	require.LessOrEqual(t, pauser.delays[0], 4*time.Second)
	require.GreaterOrEqual(t, pauser.delays[1], time.Second)
	require.LessOrEqual(t, pauser.delays[1], 3*time.Second)
}

func TestEngineValidatorRejectionIsFailure(t *testing.T) {
	t.Parallel()

	short := &scriptedStrategy{name: "short", results: []func() (article.FetchResult, error){ok("<p>tiny</p>")}}
	e := newTestEngine(&recordingPauser{}, quality.New(quality.Config{MinLength: 1000}))

	res := e.FetchWithStrategies(context.Background(), Request{URL: "https://x", Strategies: []Strategy{short}})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, article.ErrFetchExhausted)
	require.ErrorIs(t, res.Err, article.ErrFetchFailure)
	require.Equal(t, 2, short.calls)
}

func TestEngineRequestValidatorOverridesDefault(t *testing.T) {
	t.Parallel()

	short := &scriptedStrategy{name: "short", results: []func() (article.FetchResult, error){ok("<p>tiny</p>")}}
	e := newTestEngine(&recordingPauser{}, quality.New(quality.Config{MinLength: 1000}))

	res := e.FetchWithStrategies(context.Background(), Request{
		URL:        "https://x",
		Strategies: []Strategy{short},
		Validator:  quality.New(quality.Config{MinLength: 1}),
	})
	require.True(t, res.Success)
}

func TestEnginePermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	gone := &scriptedStrategy{name: "gone", results: []func() (article.FetchResult, error){fail(Permanent(errors.New("404")))}}
	next := &scriptedStrategy{name: "next", results: []func() (article.FetchResult, error){ok(longPage())}}
	e := newTestEngine(&recordingPauser{}, nil)

	res := e.FetchWithStrategies(context.Background(), Request{URL: "u", Strategies: []Strategy{gone, next}})
	require.True(t, res.Success)
	require.Equal(t, 1, gone.calls)
}

func TestEngineStopBetweenAttempts(t *testing.T) {
	t.Parallel()

	var stop bool
	s := &scriptedStrategy{name: "s", results: []func() (article.FetchResult, error){func() (article.FetchResult, error) {
		stop = true
		return article.FetchResult{}, errors.New("flaky")
	}}}
	other := &scriptedStrategy{name: "other", results: []func() (article.FetchResult, error){ok(longPage())}}
	e := newTestEngine(&recordingPauser{}, nil)

	res := e.FetchWithStrategies(context.Background(), Request{
		URL:        "u",
		Strategies: []Strategy{s, other},
		Stop:       func() bool { return stop },
	})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, article.ErrStopRequested)
	require.Equal(t, 1, s.calls)
	require.Zero(t, other.calls)
}

func TestEngineRecoversStrategyPanic(t *testing.T) {
	t.Parallel()

	boom := &scriptedStrategy{name: "boom", results: []func() (article.FetchResult, error){func() (article.FetchResult, error) {
		panic("kaboom")
	}}}
	e := newTestEngine(&recordingPauser{}, nil)

	res := e.FetchWithStrategies(context.Background(), Request{URL: "u", Strategies: []Strategy{boom}})
	require.False(t, res.Success)
	require.Contains(t, res.Err.Error(), "kaboom")
}

func TestEngineCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scriptedStrategy{name: "s", results: []func() (article.FetchResult, error){ok(longPage())}}
	res := newTestEngine(&recordingPauser{}, nil).FetchWithStrategies(ctx, Request{URL: "u", Strategies: []Strategy{s}})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Zero(t, s.calls)
}

func TestTimerPauserStopsPromptly(t *testing.T) {
	t.Parallel()

	start := time.Now()
	calls := 0
	err := timerPauser{}.Pause(context.Background(), 5*time.Second, func() bool {
		calls++
		return calls > 2
	})
	require.ErrorIs(t, err, article.ErrStopRequested)
	require.Less(t, time.Since(start), 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, timerPauser{}.Pause(ctx, time.Second, nil), context.Canceled)
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	for range 50 {
		d := Jitter(time.Second, 4*time.Second)
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 4*time.Second)
	}
	require.Equal(t, time.Second, Jitter(time.Second, time.Second))
}
