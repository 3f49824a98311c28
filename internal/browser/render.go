package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/fetch"
)

// ErrNotStable is returned when the awaited element never settles.
var ErrNotStable = errors.New("page content did not stabilize")

// RenderOptions tune one page render.
type RenderOptions struct {
	// WaitSelector is polled until its text length stops changing. Empty
	// means "body".
	WaitSelector string
	// Click lists selectors clicked once the page is ready, e.g. "read more"
	// buttons.
	Click []string
	// Scroll scrolls to the bottom to trigger lazy-loaded media.
	Scroll  bool
	Headers http.Header
	// Network overrides the configured proxy and certificate policy.
	Network Network
}

// Render navigates the session's tab to url and returns the rendered DOM.
func (m *Manager) Render(ctx context.Context, s *Session, url string, opts RenderOptions) (article.FetchResult, error) {
	tabCtx, cancel := context.WithTimeout(s.Context(), m.cfg.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	waitSel := opts.WaitSelector
	if waitSel == "" {
		waitSel = "body"
	}
	var html, finalURL, docTitle string
	actions := []chromedp.Action{
		stealthAction(m.cfg, opts.Headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitStable(waitSel, m.cfg.StablePoll, m.cfg.StableTimeout),
	}
	for _, sel := range opts.Click {
		actions = append(actions, clickAll(sel))
	}
	if opts.Scroll {
		actions = append(actions, scrollToBottom(m.cfg.StablePoll))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.Title(&docTitle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return article.FetchResult{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return article.FetchResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status == http.StatusNotFound || status == http.StatusGone {
		return article.FetchResult{}, fetch.Permanent(fmt.Errorf("status %d", status))
	}
	if status >= http.StatusBadRequest {
		return article.FetchResult{}, fmt.Errorf("status %d", status)
	}
	title := docTitle
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		if t := article.PageTitle(doc); t != "" {
			title = t
		}
	}
	return article.FetchResult{Title: title, HTML: html, FinalURL: responseURL}, nil
}

// Strategy returns a fetch strategy that renders pages in a session acquired
// per attempt.
func (m *Manager) Strategy(prefersShared bool, opts RenderOptions) fetch.Strategy {
	return fetch.NewStrategy(fetch.StrategyHeadless, func(ctx context.Context, url string) (article.FetchResult, error) {
		s, err := m.AcquireWith(ctx, prefersShared, opts.Network)
		if err != nil {
			if errors.Is(err, ErrDisabled) {
				return article.FetchResult{}, fetch.Permanent(err)
			}
			return article.FetchResult{}, err
		}
		defer m.Release(s)
		return m.Render(ctx, s, url, opts)
	})
}

// stableTracker reports stability once two consecutive non-empty readings
// are equal.
type stableTracker struct {
	prev int
}

func newStableTracker() *stableTracker { return &stableTracker{prev: -1} }

func (t *stableTracker) observe(n int) bool {
	stable := n > 0 && n == t.prev
	t.prev = n
	return stable
}

func textLengthScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.innerText.length : -1; })()`, quoted)
}

func waitStable(selector string, poll, timeout time.Duration) chromedp.Action {
	script := textLengthScript(selector)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(timeout)
		tracker := newStableTracker()
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			var n int
			if err := chromedp.Evaluate(script, &n).Do(ctx); err != nil {
				return fmt.Errorf("measure %s: %w", selector, err)
			}
			if tracker.observe(n) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: %s", ErrNotStable, selector)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

func clickAll(selector string) chromedp.Action {
	quoted, _ := json.Marshal(selector)
	script := fmt.Sprintf(`document.querySelectorAll(%s).forEach(el => el.click())`, quoted)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ignored any
		if err := chromedp.Evaluate(script, &ignored).Do(ctx); err != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
		return nil
	})
}

func scrollToBottom(settle time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ignored any
		if err := chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, &ignored).Do(ctx); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		return chromedp.Sleep(settle).Do(ctx)
	})
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response is the navigation target.
	if m.url != "" {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
