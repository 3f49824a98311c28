package article

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestPageTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{name: "article title class", html: `<h1>Site</h1><h1 class="article-title">  Real   Title </h1>`, want: "Real Title"},
		{name: "itemprop headline", html: `<div itemprop="headline">Headline - Blog</div>`, want: "Headline"},
		{name: "title fallback strips site", html: `<html><head><title>Post | Example</title></head><body></body></html>`, want: "Post"},
		{name: "nothing", html: `<p>no title</p>`, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tc.html))
			require.NoError(t, err)
			require.Equal(t, tc.want, PageTitle(doc))
		})
	}
}

func TestFirstText(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<span class="a"> </span><em id="t">2024-01-02</em>`))
	require.NoError(t, err)
	require.Equal(t, "2024-01-02", FirstText(doc.Selection, "span.a", "#missing", "em#t"))
	require.Empty(t, FirstText(doc.Selection, "#missing"))
}
