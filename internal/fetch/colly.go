package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/article2md/internal/article"
)

// CollyStrategy performs a single lightweight GET through a colly collector.
type CollyStrategy struct {
	cfg           HTTPConfig
	headers       http.Header
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyStrategy builds the lightweight strategy. headers are added to every
// request.
func NewCollyStrategy(cfg HTTPConfig, headers http.Header) (*CollyStrategy, error) {
	cfg = cfg.withDefaults()
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	c := colly.NewCollector(colly.Async(false), colly.IgnoreRobotsTxt(), colly.AllowURLRevisit())
	c.WithTransport(transport)
	return &CollyStrategy{cfg: cfg, headers: headers.Clone(), baseCollector: c}, nil
}

// Name implements Strategy.
func (s *CollyStrategy) Name() string { return StrategyLightweight }

// Fetch implements Strategy.
func (s *CollyStrategy) Fetch(ctx context.Context, url string) (article.FetchResult, error) {
	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	collector := s.baseCollector.Clone()
	collector.UserAgent = s.cfg.UserAgent
	collector.SetRequestTimeout(s.cfg.Timeout)
	s.configureHooks(collector, &body, &finalURL, &fetchErr)

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return article.FetchResult{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("%w: %w", article.ErrParseFailure, err)
	}
	html, err := doc.Html()
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("%w: render html: %w", article.ErrParseFailure, err)
	}
	return article.FetchResult{
		Title:    article.PageTitle(doc),
		HTML:     html,
		FinalURL: finalURL,
	}, nil
}

func (s *CollyStrategy) configureHooks(hooks collectorHooks, body *[]byte, finalURL *string, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", s.cfg.AcceptLanguage)
		for key, values := range s.headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
		*finalURL = r.Request.URL.String()
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone) {
			*fetchErr = Permanent(fmt.Errorf("status %d: %w", r.StatusCode, err))
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}
