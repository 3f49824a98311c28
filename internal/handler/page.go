package handler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/images"
	"github.com/JakeFAU/article2md/internal/progress"
)

// parse loads fetched HTML into a document.
func parse(env *Env, html string) (*goquery.Document, error) {
	env.Progress.PhaseStart(progress.PhaseParse)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		err = fmt.Errorf("%w: %w", article.ErrParseFailure, err)
		env.Progress.PhaseFailed(progress.PhaseParse, err)
		return nil, err
	}
	env.Progress.PhaseDone(progress.PhaseParse, "")
	return doc, nil
}

// cleanContent runs the configured cleaner over content after the handler's own
// removals.
func cleanContent(env *Env, content *goquery.Selection, pageURL *url.URL) {
	env.Progress.PhaseStart(progress.PhaseClean)
	stats := env.Cleaner.Clean(content, pageURL)
	env.Logger.Debug("cleaned content", zap.Int("removed", stats.Removed), zap.Any("normalized", stats.Normalized))
	env.Progress.PhaseDone(progress.PhaseClean, fmt.Sprintf("removed %d elements", stats.Removed))
}

// finish assembles doc, rejects documents shorter than minRunes before any
// file is written, then localizes images and names the result.
func finish(ctx context.Context, env *Env, doc article.ContentDocument, minRunes int) (article.ConvertResult, error) {
	log := env.Progress
	log.PhaseStart(progress.PhaseConvert)
	md, err := env.Assembler.Assemble(doc)
	if err != nil {
		log.PhaseFailed(progress.PhaseConvert, err)
		return article.ConvertResult{}, err
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(md)); minRunes > 0 && n < minRunes {
		err := fmt.Errorf("%w: markdown has %d runes, want at least %d", article.ErrParseFailure, n, minRunes)
		log.PhaseFailed(progress.PhaseConvert, err)
		return article.ConvertResult{}, err
	}
	log.PhaseDone(progress.PhaseConvert, fmt.Sprintf("%d bytes", len(md)))

	pageURL := ""
	if doc.PageURL != nil {
		pageURL = doc.PageURL.String()
	}
	stamp := article.Stamp(env.Now())
	res := article.ConvertResult{
		Title:             doc.Title,
		Markdown:          md,
		SuggestedFilename: article.SuggestFilename(stamp, doc.Title, pageURL),
	}
	if !env.Options.DownloadImages || env.Images == nil {
		return res, nil
	}

	outDir := env.Options.OutDir
	if outDir == "" {
		outDir = "."
	}
	log.PhaseStart(progress.PhaseImages)
	out, err := env.Images.DownloadAndRewrite(ctx, images.Request{
		Markdown:      md,
		PageURL:       pageURL,
		OutDir:        outDir,
		Stamp:         stamp,
		CompactRename: env.Options.CompactImageNames,
		Proxy:         env.Options.Proxy,
		IgnoreSSL:     env.Options.IgnoreSSL,
		Stop:          env.Stop,
		Progress:      log,
	})
	if err != nil {
		if ctx.Err() != nil {
			return article.ConvertResult{}, err
		}
		// Images are best effort; the document keeps its remote references.
		log.PhaseFailed(progress.PhaseImages, err)
		env.Logger.Warn("image pipeline failed", zap.String("url", pageURL), zap.Error(err))
		return res, nil
	}
	res.Markdown = out.Markdown
	res.Images = out.Summary
	log.PhaseDone(progress.PhaseImages, fmt.Sprintf("%d/%d downloaded", out.Summary.Downloaded, out.Summary.Found))
	return res, nil
}

// dropTitleHeading removes the first h1 of content when it repeats title,
// since the header already carries it.
func dropTitleHeading(content *goquery.Selection, title string) {
	if title == "" {
		return
	}
	h1 := content.Find("h1").First()
	if h1.Length() > 0 && article.CleanText(h1.Text()) == article.CleanText(title) {
		h1.Remove()
	}
}

// firstMatch returns the first selector match with visible text.
func firstMatch(root *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		found := root.Find(sel).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.TrimSpace(s.Text()) != "" || s.Find("img").Length() > 0
		}).First()
		if found.Length() > 0 {
			return found
		}
	}
	return nil
}

// convertOffline handles inline HTML and local files. They never hit the
// network except for their images.
func convertOffline(ctx context.Context, env *Env, req article.SourceRequest) (article.ConvertResult, error) {
	html := req.Value
	source := req.BaseURL
	if req.Kind == article.KindFile {
		data, err := os.ReadFile(req.Value)
		if err != nil {
			return article.ConvertResult{}, fmt.Errorf("%w: read %s: %w", article.ErrParseFailure, req.Value, err)
		}
		html = string(data)
		if source == "" {
			source = req.Value
		}
	}
	var base *url.URL
	if req.BaseURL != "" {
		u, err := url.Parse(req.BaseURL)
		if err != nil {
			return article.ConvertResult{}, fmt.Errorf("%w: base url: %w", article.ErrParseFailure, err)
		}
		base = u
	}
	return convertPage(ctx, env, html, "", base, source)
}
