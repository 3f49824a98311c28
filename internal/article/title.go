package article

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var headlineSelectors = []string{
	"h1.article-title",
	"[itemprop=headline]",
	"article h1",
	"main h1",
	"h1",
}

var titleSeparators = []string{" - ", " | ", " – "}

// PageTitle returns the most specific headline of doc, falling back to the
// <title> element with a trailing site name removed. It returns "" when
// nothing usable exists.
func PageTitle(doc *goquery.Document) string {
	for _, sel := range headlineSelectors {
		if t := CleanText(doc.Find(sel).First().Text()); t != "" {
			return stripSiteSuffix(t)
		}
	}
	return stripSiteSuffix(CleanText(doc.Find("title").First().Text()))
}

// FirstText returns the cleaned text of the first selector that matches
// something non-empty inside root.
func FirstText(root *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := CleanText(root.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// CleanText collapses whitespace runs to single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripSiteSuffix(title string) string {
	for _, sep := range titleSeparators {
		if idx := strings.LastIndex(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}
