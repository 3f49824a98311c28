// Package clean strips site chrome from article DOMs and normalizes what
// remains so the Markdown converter sees only content.
package clean

import "github.com/JakeFAU/article2md/internal/article"

// DomainRule adds removal selectors for a set of hosts. Hosts accept exact
// names and "*.suffix" or ".suffix" wildcards.
type DomainRule struct {
	Hosts     []string `mapstructure:"hosts"`
	Selectors []string `mapstructure:"selectors"`
}

// Rules is the removal rule set: selectors applied everywhere plus per-domain
// additions.
type Rules struct {
	Common  []string     `mapstructure:"common"`
	Domains []DomainRule `mapstructure:"domains"`
}

// DefaultRules returns the built-in conservative filters. They target page
// shell only (navigation, sidebars, comments, share widgets and ads).
func DefaultRules() Rules {
	return Rules{
		Common: []string{
			"head",
			"nav", ".nav", "header", ".header", "#header",
			"footer", ".footer", ".site-footer",
			"aside", ".sidebar", ".toc", "#toc", ".table-of-contents", ".on-this-page",
			".toc-container", ".toc-sidebar", ".floating", ".suspension", ".suspended", ".float",
			"#comment", "#comments", ".comments", ".comment-list", ".comment-form",
			".share", ".share-buttons", ".social", ".social-links",
			".advertisement", ".ads", ".ad", ".ad-container", ".ad-banner",
			".breadcrumb", ".breadcrumbs",
		},
		Domains: []DomainRule{
			{
				Hosts: []string{"juejin.cn"},
				Selectors: []string{
					".article-suspended-panel.dynamic-data-ready",
					"#sidebar-container",
					".article-end",
					"#comment-box",
					".main-area.recommended-area.entry-list-container.shadow",
				},
			},
		},
	}
}

// Merge returns r extended with the selectors and domain rules of other.
func (r Rules) Merge(other Rules) Rules {
	out := Rules{
		Common:  append(append([]string(nil), r.Common...), other.Common...),
		Domains: append(append([]DomainRule(nil), r.Domains...), other.Domains...),
	}
	return out
}

type compiledRule struct {
	hosts     *article.HostPatterns
	selectors []string
}

func compile(rules Rules) []compiledRule {
	out := make([]compiledRule, 0, len(rules.Domains))
	for _, d := range rules.Domains {
		hosts := article.NewHostPatterns(d.Hosts)
		if hosts == nil || len(d.Selectors) == 0 {
			continue
		}
		out = append(out, compiledRule{hosts: hosts, selectors: d.Selectors})
	}
	return out
}
