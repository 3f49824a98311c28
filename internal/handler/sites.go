package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article2md/internal/browser"
	"github.com/JakeFAU/article2md/internal/quality"
)

// DefaultDescriptors returns the built-in site handlers in dispatch order.
func DefaultDescriptors() []Descriptor {
	profiles := []siteProfile{weixin(), zhihu(), wordpress(), nextjs(), sspai(), appinn()}
	out := make([]Descriptor, 0, len(profiles))
	for _, s := range profiles {
		out = append(out, s.descriptor())
	}
	return out
}

// DefaultRegistry is a registry holding DefaultDescriptors.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDescriptors()...)
	if err != nil {
		panic(err)
	}
	return r
}

// antiBot tightens the validator for sites that serve verification pages
// with a 200 status. Long pages are trusted even when they mention the words.
func antiBot(extra ...string) func(*quality.Config) {
	return func(c *quality.Config) {
		c.MinLength = 200
		c.TrustLength = 1000
		c.Keywords = append(c.Keywords, extra...)
	}
}

func shortArticles(c *quality.Config) {
	c.MinLength = 200
}

// commonNoise is removed from blog content containers on top of the global rules.
var commonNoise = []string{
	".social", ".social-links", ".share", ".share-buttons", ".social-share",
	".related-posts", ".more-posts", ".related", ".similar-posts",
	".post-navigation", ".nav-links", ".page-links",
	".comments", "#comments", ".comment-list", ".comment-form", "#respond",
	".entry-meta", ".post-meta",
	".screen-reader-text", ".sr-only", ".skip-link",
	".advertisement", ".ads", ".ad",
	".author-bio", ".author-info",
	".entry-footer", ".post-footer",
	".qr-code", ".qrcode", ".subscribe",
}

func weixin() siteProfile {
	headers := http.Header{}
	headers.Set("Referer", "https://mp.weixin.qq.com/")
	headers.Set("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	headers.Set("sec-ch-ua-mobile", "?0")
	headers.Set("sec-ch-ua-platform", `"Windows"`)
	return siteProfile{
		name:  "weixin",
		match: hostMatcher("", "mp.weixin.qq.com"),
		// WeChat flags reused browser profiles; every article gets its own.
		sharedBrowser: false,
		lightweight:   true,
		headless:      true,
		headers:       headers,
		render: func(*url.URL) browser.RenderOptions {
			return browser.RenderOptions{WaitSelector: "#js_content", Scroll: true}
		},
		quality: func(c *quality.Config) {
			antiBot("验证")(c)
			c.RequiredSelectors = append(c.RequiredSelectors, "#js_content, .rich_media_content")
		},
		title: []string{
			`meta[property="twitter:title"]`,
			`meta[property="og:title"]`,
			"h1.rich_media_title",
			"h1#activity-name",
			"h1",
			"title",
		},
		meta: []field{
			{label: "作者：", selectors: []string{`meta[name="author"]`, `meta[property="article:author"]`}},
			{label: "公众号：", selectors: []string{
				"strong.rich_media_meta_nickname", "span.rich_media_meta_nickname",
				"a#js_name", "span#js_name", "div#js_name",
			}},
			{label: "发布时间：", selectors: []string{
				"em#publish_time", "span#publish_time",
				`meta[property="article:published_time"]`, `meta[name="publish_time"]`,
			}},
		},
		content: []string{"div.rich_media_content", "div#js_content"},
		remove:  []string{".qr_code_pc", ".qr_code_pc_inner", "#js_pc_qr_code", ".rich_media_tool"},
		prepare: func(content *goquery.Selection, _ *url.URL) {
			// The body is hidden until its scripts run.
			content.RemoveAttr("style")
		},
	}
}

func zhihu() siteProfile {
	return siteProfile{
		name:          "zhihu",
		match:         hostMatcher("", "zhihu.com", "*.zhihu.com"),
		sharedBrowser: true,
		// Zhihu answers anonymous plain requests with a login wall.
		headless: true,
		render: func(u *url.URL) browser.RenderOptions {
			wait := "div.RichContent-inner"
			if strings.HasPrefix(u.Hostname(), "zhuanlan.") {
				wait = "div.Post-RichTextContainer"
			}
			return browser.RenderOptions{
				WaitSelector: wait,
				Click:        []string{".Modal-closeButton", "button.ContentItem-expandButton"},
				Scroll:       true,
			}
		},
		quality: antiBot("验证", "登录", "页面不存在"),
		title: []string{
			"h1.QuestionHeader-title",
			"h1.Post-Title",
			`meta[property="og:title"]`,
			"title",
		},
		meta: []field{
			{selectors: []string{
				"div.ContentItem-meta a.UserLink-link",
				"a.AuthorInfo-name",
				"span.AuthorInfo-name a",
				"div.Post-Author a.UserLink-link",
				`meta[name="author"]`,
			}},
			{selectors: []string{"div.ContentItem-time", `meta[property="article:published_time"]`}},
		},
		content: []string{"div.Post-RichTextContainer", "div.RichContent-inner"},
		remove: []string{
			".ContentItem-actions", ".RichContent-actions", ".Reward",
			".Post-topicsAndReviewer", "button",
		},
		prepare: func(content *goquery.Selection, _ *url.URL) {
			unwrapLinks(content, `a[href^="https://zhida.zhihu.com/search"]`)
			unwrapLinks(content, `a[href^="https://www.zhihu.com/question/"], `+
				`a[href^="https://www.zhihu.com/answer/"], a[href^="https://www.zhihu.com/p/"]`)
		},
	}
}

func wordpress() siteProfile {
	skywind := hostMatcher("/blog", "skywind.me", "www.skywind.me")
	return siteProfile{
		name: "wordpress",
		match: func(u *url.URL) bool {
			if skywind(u) {
				return true
			}
			lower := strings.ToLower(u.String())
			for _, indicator := range []string{"wordpress.com", "wp-content", "/wp-", "wp-includes"} {
				if strings.Contains(lower, indicator) {
					return true
				}
			}
			return false
		},
		sharedBrowser: true,
		lightweight:   true,
		headless:      true,
		quality:       shortArticles,
		title: []string{
			`div#content[role="main"] h1.entry-title`,
			`div#content[role="main"] h1.post-title`,
			`div#content[role="main"] h1`,
			"h1.entry-title",
			"h1.post-title",
			"h1",
		},
		meta: []field{
			{selectors: []string{".author.vcard a", ".entry-author a", ".post-author a", ".byline a", ".author-name a"}},
			{selectors: []string{"time.entry-date", ".entry-date", ".post-date", ".published", "time[datetime]"}},
			{all: true, selectors: []string{
				".entry-categories a", ".post-categories a", ".cat-links a", `a[rel="category tag"]`,
			}},
			{all: true, selectors: []string{".entry-tags a", ".post-tags a", ".tag-links a", `a[rel="tag"]`}},
		},
		content: []string{
			`div#content[role="main"] div.entry-content`,
			"div.entry-content",
			"div.post-content",
			"div.entry-body",
			"div.article-content",
			"article .entry-content",
		},
		remove: append([]string{
			".entry-utility", "#entry-author-info", ".pvc_stats", ".sharedaddy", ".jp-relatedposts",
			".promo", ".sponsored", ".affiliate",
		}, commonNoise...),
	}
}

func nextjs() siteProfile {
	return siteProfile{
		name:          "nextjs",
		match:         hostMatcher("/blog", "guangzhengli.com", "www.guangzhengli.com"),
		sharedBrowser: true,
		lightweight:   true,
		headless:      true,
		render: func(*url.URL) browser.RenderOptions {
			return browser.RenderOptions{WaitSelector: "article", Scroll: true}
		},
		quality: shortArticles,
		title:   []string{"article h1", "h1", "title"},
		content: []string{"article", "main"},
		remove: []string{
			"aside", ".sidebar", ".toc", "#toc", ".table-of-contents", ".on-this-page",
			".toc-container", ".toc-sidebar", `.hidden.text-sm.xl\:block`,
			".comments", "#comments", ".social", ".share", ".breadcrumb", ".ads",
		},
	}
}

func sspai() siteProfile {
	return siteProfile{
		name:          "sspai",
		match:         hostMatcher("", "sspai.com", "*.sspai.com"),
		sharedBrowser: true,
		lightweight:   true,
		headless:      true,
		render: func(*url.URL) browser.RenderOptions {
			return browser.RenderOptions{WaitSelector: "div.article__main__content", Scroll: true}
		},
		quality: shortArticles,
		title:   []string{"div#article-title", "h1.entry-title", "article h1", "h1"},
		meta: []field{
			{selectors: []string{
				"div.article-author > div.author-box > div > span > span > div > span",
				"div.article-author > div.author-box > div > span > span > div > a > div > span",
				"div.article-author .author-box a",
			}},
			{selectors: []string{".timer", "time[datetime]"}},
			{all: true, selectors: []string{".series-title a"}},
			{all: true, selectors: []string{".entry-tags a", ".tags a", `a[rel="tag"]`}},
		},
		content: []string{
			"article div.article-body div.article__main__content.wangEditor-txt",
			"div.article__main__content",
			"article .article-body",
		},
		remove: commonNoise,
		prepare: func(content *goquery.Selection, _ *url.URL) {
			// Footnote markers are links into a list the page renders
			// separately; keep the marker text only.
			unwrapLinks(content, "sup a")
			// Everything from the first h4 on is the author's sign-off and
			// related reading.
			cutFrom(content, "h4")
		},
		minRunes: 200,
	}
}

func appinn() siteProfile {
	return siteProfile{
		name:          "appinn",
		match:         hostMatcher("", "appinn.com", "*.appinn.com"),
		sharedBrowser: true,
		lightweight:   true,
		headless:      true,
		quality:       shortArticles,
		title: []string{
			"div.single_post header h1.title.single-title.entry-title",
			"h1.entry-title",
			"h1",
		},
		meta: []field{
			{selectors: []string{"div.single_post > header > div > span.theauthor > span > a", "span.theauthor a"}},
			{selectors: []string{"div.single_post > header > div > span.thetime.updated > span", "span.thetime"}},
			{all: true, selectors: []string{"div.single_post header div.post-info span.thecategory a"}},
		},
		content: []string{
			"div.entry-content",
			"div.post-content",
			"article .entry-content",
			"article",
		},
		remove: append([]string{
			".entry-header", ".post-header", ".sidebar", ".widget", ".widget-area",
			".entry-tags", ".post-tags", ".entry-categories", ".post-categories",
		}, commonNoise...),
		minRunes: 200,
	}
}
