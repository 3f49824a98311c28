package handler

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/progress"
)

func testEnv() *Env {
	return &Env{
		Deps:     testDeps().withDefaults(),
		Progress: progress.Nop(),
		Logger:   zap.NewNop(),
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestDefaultDescriptorsRouteBySite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{url: "https://mp.weixin.qq.com/s/abc", want: "weixin"},
		{url: "https://zhuanlan.zhihu.com/p/123", want: "zhihu"},
		{url: "https://www.zhihu.com/question/1/answer/2", want: "zhihu"},
		{url: "https://skywind.me/blog/archives/1", want: "wordpress"},
		{url: "https://example.com/wp-content/post", want: "wordpress"},
		{url: "https://guangzhengli.com/blog/zh/rag", want: "nextjs"},
		{url: "https://sspai.com/post/1", want: "sspai"},
		{url: "https://www.appinn.com/some-app/", want: "appinn"},
		{url: "https://skywind.me/about", want: ""},
		{url: "https://example.com/post", want: ""},
	}
	descs := DefaultDescriptors()
	for _, tc := range tests {
		u := mustURL(t, tc.url)
		got := ""
		for _, d := range descs {
			if d.Matcher(u) {
				got = d.Name
				break
			}
		}
		require.Equal(t, tc.want, got, tc.url)
	}
}

func TestWeixinDescriptorUsesIndependentBrowser(t *testing.T) {
	t.Parallel()

	for _, d := range DefaultDescriptors() {
		require.Equal(t, d.Name != "weixin", d.PrefersSharedBrowser, d.Name)
	}
}

func TestWeixinConvertBuildsHeader(t *testing.T) {
	t.Parallel()

	page := `<html><head><meta property="og:title" content="公众号文章"></head><body>
<h1 class="rich_media_title" id="activity-name">公众号文章</h1>
<a id="js_name">某公众号</a><em id="publish_time">2024-01-02</em>
<div class="rich_media_content" id="js_content" style="visibility: hidden;">
<p>正文第一段。</p><img data-src="https://mmbiz.qpic.cn/a.png">
<div class="qr_code_pc">扫码</div>
</div></body></html>`
	u := mustURL(t, "https://mp.weixin.qq.com/s/abc")
	res, err := weixin().convert(context.Background(), testEnv(), article.FetchResult{HTML: page}, u)
	require.NoError(t, err)
	require.Equal(t, "公众号文章", res.Title)
	require.True(t, strings.HasPrefix(res.Markdown,
		"# 公众号文章\n* 来源：https://mp.weixin.qq.com/s/abc\n* 公众号：某公众号  发布时间：2024-01-02\n\n"), res.Markdown)
	require.Contains(t, res.Markdown, "正文第一段。")
	require.Contains(t, res.Markdown, "![](https://mmbiz.qpic.cn/a.png)")
	require.NotContains(t, res.Markdown, "扫码")
}

func TestZhihuUnwrapsSearchAndInternalLinks(t *testing.T) {
	t.Parallel()

	page := `<html><body><h1 class="Post-Title">标题</h1>
<div class="Post-RichTextContainer"><p>见 <a href="https://zhida.zhihu.com/search?q=go">Go</a> 与
<a href="https://www.zhihu.com/question/42">这个问题</a>，参考
<a href="https://link.zhihu.com/?target=https%3A%2F%2Fgo.dev">官网</a>。</p>
<button>赞同</button></div></body></html>`
	u := mustURL(t, "https://zhuanlan.zhihu.com/p/1")
	res, err := zhihu().convert(context.Background(), testEnv(), article.FetchResult{HTML: page}, u)
	require.NoError(t, err)
	require.Contains(t, res.Markdown, "见 Go 与")
	require.NotContains(t, res.Markdown, "[这个问题]")
	require.Contains(t, res.Markdown, "[官网](https://go.dev)")
	require.NotContains(t, res.Markdown, "zhida")
	require.NotContains(t, res.Markdown, "赞同")
}

func TestSspaiCutsSignOffAndEnforcesLength(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("少数派的正文内容。", 40)
	page := `<html><body><article><div class="article-body">
<div class="article__main__content wangEditor-txt">
<p>` + body + `<sup><a href="#fn1">1</a></sup></p>
<h4>关联阅读</h4><p>推荐文章</p></div></div></article></body></html>`
	u := mustURL(t, "https://sspai.com/post/1")

	res, err := sspai().convert(context.Background(), testEnv(), article.FetchResult{HTML: page, Title: "T"}, u)
	require.NoError(t, err)
	require.NotContains(t, res.Markdown, "关联阅读")
	require.NotContains(t, res.Markdown, "推荐文章")
	require.NotContains(t, res.Markdown, "#fn1")

	short := strings.Replace(page, body, "短", 1)
	_, err = sspai().convert(context.Background(), testEnv(), article.FetchResult{HTML: short, Title: "T"}, u)
	require.ErrorIs(t, err, article.ErrParseFailure)
}

func TestSiteConvertNeedsContentContainer(t *testing.T) {
	t.Parallel()

	u := mustURL(t, "https://www.appinn.com/x/")
	_, err := appinn().convert(context.Background(), testEnv(),
		article.FetchResult{HTML: "<html><body><p>nothing here</p></body></html>"}, u)
	require.ErrorIs(t, err, article.ErrParseFailure)
}

func TestFieldTextJoinsAllMatches(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><head>
<meta name="author" content=" Ann "></head><body>
<time datetime="2024-05-01">May 1</time>
<a rel="tag">go</a><a rel="tag">web</a><a rel="tag">go</a></body></html>`))
	require.NoError(t, err)

	require.Equal(t, "Ann", fieldText(doc.Selection, field{selectors: []string{".missing", `meta[name="author"]`}}))
	require.Equal(t, "2024-05-01", fieldText(doc.Selection, field{selectors: []string{"time"}}))
	require.Equal(t, "go, web", fieldText(doc.Selection, field{all: true, selectors: []string{`a[rel="tag"]`}}))
}

func TestCutFromRemovesTrailingSiblings(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div id="c"><p>keep</p><section><h4>cut</h4></section><p>gone</p></div>`))
	require.NoError(t, err)
	content := doc.Find("#c")
	cutFrom(content, "h4")
	require.Equal(t, "keep", content.Text())
}
