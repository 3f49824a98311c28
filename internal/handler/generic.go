package handler

import (
	"context"
	"fmt"
	"net/url"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/browser"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/markdown"
)

// GenericName names the fallback handler.
const GenericName = "generic"

var genericContent = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".post-content",
	".entry-content",
}

// GenericDescriptor matches every URL and runs last.
func GenericDescriptor() Descriptor {
	return Descriptor{
		Name:                 GenericName,
		Matcher:              func(*url.URL) bool { return true },
		Run:                  runGeneric,
		PrefersSharedBrowser: true,
	}
}

func runGeneric(ctx context.Context, env *Env, u *url.URL) Outcome {
	strategies, err := genericStrategies(env)
	if err != nil {
		return Fail(err)
	}
	res := env.Engine.FetchWithStrategies(ctx, fetch.Request{
		URL:        u.String(),
		Strategies: strategies,
		Stop:       env.Stop,
		Progress:   env.Progress,
	})
	if !res.Success {
		return Fail(res.Err)
	}
	out, err := convertPage(ctx, env, res.HTML, res.Title, finalURL(res, u), u.String())
	if err != nil {
		return Fail(err)
	}
	return Done(out)
}

// genericStrategies orders the fallbacks from cheapest to most robust.
func genericStrategies(env *Env) ([]fetch.Strategy, error) {
	var out []fetch.Strategy
	if env.Options.FilterNonContent {
		filtered, err := env.Filtered(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, filtered)
	}
	light, err := env.Lightweight(nil)
	if err != nil {
		return nil, err
	}
	out = append(out, light)
	if headless, ok := env.Headless(browser.RenderOptions{Scroll: true}); ok {
		out = append(out, headless)
	}
	direct, err := env.Direct()
	if err != nil {
		return nil, err
	}
	return append(out, direct), nil
}

// convertPage extracts the main content of a whole page and converts it.
func convertPage(
	ctx context.Context,
	env *Env,
	html, title string,
	pageURL *url.URL,
	source string,
) (article.ConvertResult, error) {
	doc, err := parse(env, html)
	if err != nil {
		return article.ConvertResult{}, err
	}
	if title == "" {
		title = article.PageTitle(doc)
	}
	content := firstMatch(doc.Selection, genericContent...)
	if content == nil {
		content = doc.Find("body")
	}
	if content.Length() == 0 {
		content = doc.Selection
	}
	dropTitleHeading(content, title)
	cleanContent(env, content, pageURL)
	if content.Text() == "" && content.Find("img").Length() == 0 {
		return article.ConvertResult{}, fmt.Errorf("%w: no content left after cleaning", article.ErrParseFailure)
	}
	return finish(ctx, env, article.ContentDocument{
		Title:       title,
		HeaderParts: markdown.HeaderParts(title, source),
		Content:     content,
		PageURL:     pageURL,
	}, 0)
}

func finalURL(res article.FetchResult, fallback *url.URL) *url.URL {
	if res.FinalURL != "" {
		if u, err := url.Parse(res.FinalURL); err == nil && u.Host != "" {
			return u
		}
	}
	return fallback
}
