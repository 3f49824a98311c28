package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/browser"
	"github.com/JakeFAU/article2md/internal/clean"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/markdown"
	"github.com/JakeFAU/article2md/internal/quality"
)

// field locates one header value. Matches of meta elements contribute their
// content attribute and time elements their datetime attribute.
type field struct {
	label     string
	selectors []string
	// all joins every match instead of taking the first.
	all bool
}

// siteProfile describes a site handler as data.
type siteProfile struct {
	name          string
	match         func(u *url.URL) bool
	sharedBrowser bool

	// lightweight and headless select the strategies, in that order.
	lightweight bool
	headless    bool
	headers     http.Header
	render      func(u *url.URL) browser.RenderOptions
	quality     func(*quality.Config)

	title   []string
	meta    []field
	content []string
	remove  []string
	prepare func(content *goquery.Selection, u *url.URL)
	// minRunes rejects documents whose Markdown is shorter.
	minRunes int
}

func (s siteProfile) descriptor() Descriptor {
	return Descriptor{
		Name:                 s.name,
		Matcher:              s.match,
		Run:                  s.run,
		PrefersSharedBrowser: s.sharedBrowser,
	}
}

func (s siteProfile) strategies(env *Env, u *url.URL) ([]fetch.Strategy, error) {
	var out []fetch.Strategy
	if s.lightweight {
		light, err := env.Lightweight(s.headers)
		if err != nil {
			return nil, err
		}
		out = append(out, light)
	}
	if s.headless {
		opts := browser.RenderOptions{Scroll: true, Headers: s.headers}
		if s.render != nil {
			opts = s.render(u)
			if opts.Headers == nil {
				opts.Headers = s.headers
			}
		}
		if headless, ok := env.Headless(opts); ok {
			out = append(out, headless)
		}
	}
	return out, nil
}

func (s siteProfile) run(ctx context.Context, env *Env, u *url.URL) Outcome {
	strategies, err := s.strategies(env, u)
	if err != nil {
		return Fail(err)
	}
	if len(strategies) == 0 {
		return Skip()
	}
	res := env.Engine.FetchWithStrategies(ctx, fetch.Request{
		URL:        u.String(),
		Strategies: strategies,
		Validator:  env.Validator(s.quality),
		Stop:       env.Stop,
		Progress:   env.Progress,
	})
	if !res.Success {
		return Fail(res.Err)
	}
	out, err := s.convert(ctx, env, res, u)
	if err != nil {
		return Fail(err)
	}
	return Done(out)
}

func (s siteProfile) convert(ctx context.Context, env *Env, res article.FetchResult, u *url.URL) (article.ConvertResult, error) {
	doc, err := parse(env, res.HTML)
	if err != nil {
		return article.ConvertResult{}, err
	}
	pageURL := finalURL(res, u)
	content := firstMatch(doc.Selection, s.content...)
	if content == nil {
		return article.ConvertResult{}, fmt.Errorf("%w: %s content container not found", article.ErrParseFailure, s.name)
	}

	title := fieldText(doc.Selection, field{selectors: s.title})
	if title == "" {
		title = res.Title
	}
	meta := make([]string, 0, len(s.meta))
	for _, f := range s.meta {
		if v := fieldText(doc.Selection, f); v != "" {
			meta = append(meta, f.label+v)
		}
	}

	clean.Remove(content, s.remove)
	if s.prepare != nil {
		s.prepare(content, pageURL)
	}
	dropTitleHeading(content, title)
	cleanContent(env, content, pageURL)

	return finish(ctx, env, article.ContentDocument{
		Title:       title,
		HeaderParts: markdown.HeaderParts(title, u.String(), meta...),
		Content:     content,
		PageURL:     pageURL,
	}, s.minRunes)
}

// fieldText resolves f against root.
func fieldText(root *goquery.Selection, f field) string {
	if !f.all {
		for _, sel := range f.selectors {
			if v := nodeText(root.Find(sel).First()); v != "" {
				return v
			}
		}
		return ""
	}
	var values []string
	seen := make(map[string]bool)
	for _, sel := range f.selectors {
		root.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if v := nodeText(s); v != "" && !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		})
		if len(values) > 0 {
			break
		}
	}
	return strings.Join(values, ", ")
}

func nodeText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	switch goquery.NodeName(s) {
	case "meta":
		return article.CleanText(s.AttrOr("content", ""))
	case "time":
		if v := strings.TrimSpace(s.AttrOr("datetime", "")); v != "" {
			return v
		}
	}
	return article.CleanText(s.Text())
}

// hostMatcher matches hosts against patterns and, when set, a path prefix.
func hostMatcher(pathPrefix string, patterns ...string) func(*url.URL) bool {
	hosts := article.NewHostPatterns(patterns)
	return func(u *url.URL) bool {
		return hosts.Match(u.Hostname()) && strings.HasPrefix(u.Path, pathPrefix)
	}
}

// unwrapLinks replaces anchors matched by selector with their text and drops
// empty ones.
func unwrapLinks(content *goquery.Selection, selector string) {
	content.Find(selector).Each(func(_ int, a *goquery.Selection) {
		if text := strings.TrimSpace(a.Text()); text != "" {
			a.ReplaceWithHtml(escapeText(text))
			return
		}
		a.Remove()
	})
}

// cutFrom removes the first element matched by selector and everything after
// it within content.
func cutFrom(content *goquery.Selection, selector string) {
	first := content.Find(selector).First()
	if first.Length() == 0 {
		return
	}
	node := first
	for node.Length() > 0 && node.Parent().Length() > 0 && !node.Parent().IsSelection(content) {
		node = node.Parent()
	}
	node.NextAll().Remove()
	node.Remove()
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string { return textEscaper.Replace(s) }
