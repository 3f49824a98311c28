package clean

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Normalizer is one bounded rewrite applied after rule removal. Apply returns
// how many nodes it touched. Normalizers change attributes or text, or delete
// nodes; they never move nodes.
type Normalizer struct {
	Name  string
	Apply func(root *goquery.Selection, pageURL *url.URL) int
}

// DefaultNormalizers returns the standard pipeline in application order.
func DefaultNormalizers() []Normalizer {
	return []Normalizer{
		{Name: "strip_scripts", Apply: StripScripts},
		{Name: "lazy_images", Apply: PromoteLazyImages},
		{Name: "redirects", Apply: RestoreRedirects},
		{Name: "relative_links", Apply: ResolveRelativeLinks},
		{Name: "invisible_chars", Apply: StripInvisible},
	}
}

// StripScripts removes script, style, noscript and template elements.
func StripScripts(root *goquery.Selection, _ *url.URL) int {
	return Remove(root, []string{"script", "style", "noscript", "template"})
}

var lazyAttrs = []string{"data-src", "data-original", "data-lazy-src", "data-actualsrc"}

// PromoteLazyImages copies the first lazy-load attribute of each image into
// src and drops the lazy attributes.
func PromoteLazyImages(root *goquery.Selection, _ *url.URL) int {
	touched := 0
	root.Find("img").Each(func(_ int, img *goquery.Selection) {
		promoted := false
		for _, attr := range lazyAttrs {
			v, ok := img.Attr(attr)
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			if !promoted && v != "" {
				img.SetAttr("src", v)
				promoted = true
			}
			img.RemoveAttr(attr)
		}
		if promoted {
			touched++
		}
	})
	return touched
}

// RestoreRedirects rewrites outbound redirect links such as
// https://link.zhihu.com/?target=... to their target. A redirect without a
// target loses its href and renders as plain text.
func RestoreRedirects(root *goquery.Selection, _ *url.URL) int {
	touched := 0
	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, err := url.Parse(href)
		if err != nil || !isRedirector(u) {
			return
		}
		target := u.Query().Get("target")
		if target == "" {
			a.RemoveAttr("href")
		} else {
			a.SetAttr("href", target)
		}
		touched++
	})
	return touched
}

func isRedirector(u *url.URL) bool {
	if u.Host == "" || !u.Query().Has("target") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasPrefix(host, "link.") || strings.TrimSuffix(u.Path, "/") == "/link"
}

// ResolveRelativeLinks makes link and image URLs absolute against pageURL.
// Fragment-only, mailto:, javascript: and data: references are left alone.
func ResolveRelativeLinks(root *goquery.Selection, pageURL *url.URL) int {
	if pageURL == nil {
		return 0
	}
	touched := 0
	fix := func(sel *goquery.Selection, attr string) {
		raw, ok := sel.Attr(attr)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil || ref.IsAbs() {
			return
		}
		sel.SetAttr(attr, pageURL.ResolveReference(ref).String())
		touched++
	}
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) { fix(s, "href") })
	root.Find("img[src]").Each(func(_ int, s *goquery.Selection) { fix(s, "src") })
	return touched
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

// StripInvisible removes zero-width and soft-hyphen characters from text
// nodes below root.
func StripInvisible(root *goquery.Selection, _ *url.URL) int {
	touched := 0
	for _, n := range root.Nodes {
		touched += stripText(n)
	}
	return touched
}

func stripText(n *html.Node) int {
	touched := 0
	if n.Type == html.TextNode && strings.IndexFunc(n.Data, isInvisible) >= 0 {
		n.Data = strings.Map(func(r rune) rune {
			if isInvisible(r) {
				return -1
			}
			return r
		}, n.Data)
		touched++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		touched += stripText(c)
	}
	return touched
}
