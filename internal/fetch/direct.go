package fetch

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/article2md/internal/article"
)

const maxDirectBody = 16 << 20

// DirectStrategy is the last-resort fetch: a plain GET with a different client
// fingerprint, followed by readability extraction of the main article.
type DirectStrategy struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewDirectStrategy builds the fallback strategy.
func NewDirectStrategy(cfg HTTPConfig) (*DirectStrategy, error) {
	cfg = cfg.withDefaults()
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &DirectStrategy{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

// Name implements Strategy.
func (s *DirectStrategy) Name() string { return StrategyDirect }

// Fetch implements Strategy.
func (s *DirectStrategy) Fetch(ctx context.Context, rawURL string) (article.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return article.FetchResult{}, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("direct get: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("direct get: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return article.FetchResult{}, Permanent(err)
		}
		return article.FetchResult{}, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectBody))
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("read body: %w", err)
	}
	return Readable(string(body), resp.Request.URL.String())
}

// Readable extracts the main article from a full page with readability. The
// returned HTML wraps the article content in a minimal document.
func Readable(pageHTML, pageURL string) (article.FetchResult, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("parse page url: %w", err)
	}
	art, err := readability.FromReader(strings.NewReader(pageHTML), parsedURL)
	if err != nil {
		return article.FetchResult{}, fmt.Errorf("%w: readability: %w", article.ErrParseFailure, err)
	}
	content := strings.TrimSpace(art.Content)
	if content == "" {
		return article.FetchResult{}, fmt.Errorf("%w: readability found no article", article.ErrParseFailure)
	}
	title := strings.TrimSpace(art.Title)
	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body><article>")
	b.WriteString(content)
	b.WriteString("</article></body></html>")
	return article.FetchResult{Title: title, HTML: b.String(), FinalURL: pageURL}, nil
}
