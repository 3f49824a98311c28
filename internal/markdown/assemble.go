// Package markdown turns cleaned article DOMs into Markdown documents.
package markdown

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article2md/internal/article"
)

// Assembler converts a ContentDocument into a Markdown document.
type Assembler struct {
	conv *converter.Converter
}

// NewAssembler builds an Assembler with CommonMark output and GFM tables.
func NewAssembler() *Assembler {
	return &Assembler{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Assemble renders doc.Content to Markdown, normalizes its headings and puts
// the header parts on top. When the header carries a title heading the body
// is demoted one level so the document keeps a single top-level heading.
// Without one the document title is used to recognize an unmarked title line.
func (a *Assembler) Assemble(doc article.ContentDocument) (string, error) {
	body, err := a.Convert(doc.Content, doc.PageURL)
	if err != nil {
		return "", err
	}
	if hasTitleHeading(doc.HeaderParts) {
		body = Demote(NormalizeHeadings(body, ""), 1)
	} else {
		body = NormalizeHeadings(body, doc.Title)
	}

	header := strings.TrimSpace(strings.Join(doc.HeaderParts, "\n"))
	switch {
	case header == "":
		return body, nil
	case strings.TrimSpace(body) == "":
		return header + "\n", nil
	default:
		return header + "\n\n" + body, nil
	}
}

// Convert renders a selection to Markdown. Relative links resolve against
// pageURL when it is set.
func (a *Assembler) Convert(content *goquery.Selection, pageURL *url.URL) (string, error) {
	if content == nil || content.Length() == 0 {
		return "", fmt.Errorf("%w: empty content", article.ErrConversionFailure)
	}
	fragment, err := goquery.OuterHtml(content)
	if err != nil {
		return "", fmt.Errorf("%w: render content: %w", article.ErrConversionFailure, err)
	}
	var opts []converter.ConvertOptionFunc
	if pageURL != nil && pageURL.Host != "" {
		opts = append(opts, converter.WithDomain(pageURL.Scheme+"://"+pageURL.Host))
	}
	md, err := a.conv.ConvertString(fragment, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", article.ErrConversionFailure, err)
	}
	return md, nil
}

// HeaderParts builds the conventional document header: a title line, a
// source line and a metadata line joining the non-empty meta values.
func HeaderParts(title, source string, meta ...string) []string {
	var parts []string
	if title = article.CleanText(title); title != "" {
		parts = append(parts, "# "+title)
	}
	if source != "" {
		parts = append(parts, "* 来源："+source)
	}
	var kept []string
	for _, m := range meta {
		if m = strings.TrimSpace(m); m != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) > 0 {
		parts = append(parts, "* "+strings.Join(kept, "  "))
	}
	return parts
}

func hasTitleHeading(parts []string) bool {
	for _, p := range parts {
		if strings.HasPrefix(p, "# ") {
			return true
		}
	}
	return false
}
