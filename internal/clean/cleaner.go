package clean

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article2md/internal/article"
)

// Stats reports what a Clean call changed.
type Stats struct {
	Removed    int
	Normalized map[string]int
}

// Cleaner applies removal rules and then normalizers to a content subtree.
type Cleaner struct {
	common      []string
	domains     []compiledRule
	normalizers []Normalizer
}

// New builds a Cleaner. With no normalizers the default set is used.
func New(rules Rules, normalizers ...Normalizer) *Cleaner {
	if len(normalizers) == 0 {
		normalizers = DefaultNormalizers()
	}
	return &Cleaner{
		common:      append([]string(nil), rules.Common...),
		domains:     compile(rules),
		normalizers: normalizers,
	}
}

// Selectors returns the removal selectors that apply to host.
func (c *Cleaner) Selectors(host string) []string {
	out := append([]string(nil), c.common...)
	for _, rule := range c.domains {
		if rule.hosts.Match(host) {
			out = append(out, rule.selectors...)
		}
	}
	return out
}

// Clean removes rule matches below root, then runs every normalizer in order.
// pageURL may be nil, in which case domain rules and link repair are skipped.
func (c *Cleaner) Clean(root *goquery.Selection, pageURL *url.URL) Stats {
	host := ""
	if pageURL != nil {
		host = pageURL.Hostname()
	}
	stats := Stats{
		Removed:    Remove(root, c.Selectors(host)),
		Normalized: make(map[string]int, len(c.normalizers)),
	}
	for _, n := range c.normalizers {
		stats.Normalized[n.Name] = n.Apply(root, pageURL)
	}
	return stats
}

// FilterHTML parses a full page, drops elements matched by the rules for the
// page's host and returns the remaining document with the removal count.
func (c *Cleaner) FilterHTML(pageHTML string, pageURL *url.URL) (string, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", article.ErrParseFailure, err)
	}
	host := ""
	if pageURL != nil {
		host = pageURL.Hostname()
	}
	// head holds the title that the validator and handlers still need.
	selectors := make([]string, 0, len(c.common))
	for _, sel := range c.Selectors(host) {
		if sel != "head" {
			selectors = append(selectors, sel)
		}
	}
	removed := Remove(doc.Find("body"), selectors)
	out, err := doc.Html()
	if err != nil {
		return "", 0, fmt.Errorf("%w: render filtered html: %w", article.ErrParseFailure, err)
	}
	return out, removed, nil
}

// Remove deletes every element under root matched by selectors and returns
// how many were removed. Selectors that fail to compile match nothing.
func Remove(root *goquery.Selection, selectors []string) int {
	removed := 0
	for _, sel := range selectors {
		matched := root.Find(sel)
		removed += matched.Length()
		matched.Remove()
	}
	return removed
}
