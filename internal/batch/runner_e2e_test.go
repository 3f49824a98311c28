package batch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/handler"
	"github.com/JakeFAU/article2md/internal/images"
	"github.com/JakeFAU/article2md/internal/quality"
)

func pagePNG(tag string) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), []byte(tag)...)
}

func articleHTML(title string, imgs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s - Test Site</title></head><body>", title)
	b.WriteString(`<nav><a href="/">Home</a></nav><article>`)
	fmt.Fprintf(&b, "<h1>%s</h1>", title)
	b.WriteString("<h2>Background</h2><p>" + strings.Repeat("Plenty of article text for the validator. ", 5) + "</p>")
	for _, src := range imgs {
		fmt.Fprintf(&b, `<p><img src="%s" alt="figure"></p>`, src)
	}
	b.WriteString("<h3>Details</h3><p>Closing words.</p></article><footer>footer links</footer></body></html>")
	return b.String()
}

// steppingClock advances one second per call so documents get distinct stamps.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestRunnerConvertsTwoPagesWithImages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/posts/one", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articleHTML("First Post", "/img/a.png", "/img/b.png", "/img/a.png")))
	})
	mux.HandleFunc("/posts/two", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articleHTML("Second Post", "/img/c.png")))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pagePNG(r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	pipeline, err := images.New(images.DefaultConfig(), fetch.HTTPConfig{}, nil, nil)
	require.NoError(t, err)
	clock := &steppingClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	dispatcher := handler.NewDispatcher(&handler.Deps{
		Engine: fetch.NewEngine(fetch.Config{MaxRetries: 1}, quality.New(quality.Config{MinLength: 100}), nil),
		Images: pipeline,
		Now:    clock.Now,
	}, nil)

	out := t.TempDir()
	sum, err := batch.NewRunner(dispatcher, nil).Run(context.Background(), batch.Batch{
		Requests: []article.SourceRequest{
			article.URLRequest(srv.URL + "/posts/one"),
			article.URLRequest(srv.URL + "/posts/two"),
		},
		Options: article.ConversionOptions{DownloadImages: true, OutDir: out},
	})
	require.NoError(t, err)
	require.Equal(t, batch.StatusCompleted, sum.Status)
	require.Equal(t, 2, sum.Succeeded, "%+v", sum.Items)
	require.Equal(t, article.ImageSummary{Found: 2, Downloaded: 2}, sum.Items[0].Images)
	require.Equal(t, article.ImageSummary{Found: 1, Downloaded: 1}, sum.Items[1].Images)

	h1 := regexp.MustCompile(`(?m)^# `)
	localRef := regexp.MustCompile(`!\[figure\]\((img/\d{8}_\d{6}_\d{3}\.png)\)`)
	for _, item := range sum.Items {
		require.Equal(t, handler.GenericName, item.Handler)
		data, err := os.ReadFile(item.Path)
		require.NoError(t, err)
		md := string(data)
		require.Len(t, h1.FindAllString(md, -1), 1, md)
		require.True(t, strings.HasPrefix(md, "# "+item.Title+"\n"), md)
		require.Contains(t, md, "## Background")
		require.Contains(t, md, "### Details")
		require.NotContains(t, md, "footer links")
		require.NotContains(t, md, srv.URL+"/img/")

		refs := localRef.FindAllStringSubmatch(md, -1)
		require.NotEmpty(t, refs)
		for _, ref := range refs {
			_, err := os.Stat(filepath.Join(out, filepath.FromSlash(ref[1])))
			require.NoError(t, err, ref[1])
		}
	}

	files, err := os.ReadDir(filepath.Join(out, "img"))
	require.NoError(t, err)
	require.Len(t, files, 3)
}
