package app_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/app"
	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/config"
	"github.com/JakeFAU/article2md/internal/handler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadWith(viper.New(), "")
	require.NoError(t, err)
	cfg.Browser.Enabled = false
	cfg.Quality.MinLength = 20
	return cfg
}

func TestNewConvertsInlineHTML(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	out := t.TempDir()
	html := `<html><head><title>Inline Post</title></head><body>
		<nav>menu</nav>
		<article><h1>Inline Post</h1><p>` + strings.Repeat("Body text worth keeping. ", 6) + `</p></article>
		</body></html>`
	sum, err := a.Runner().Run(context.Background(), batch.Batch{
		Requests: []article.SourceRequest{{Kind: article.KindHTML, Value: html, BaseURL: "https://example.com/p/1"}},
		Options:  article.ConversionOptions{OutDir: out, FilterNonContent: true},
	})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded, "%+v", sum.Items)
	assert.Equal(t, handler.GenericName, sum.Items[0].Handler)

	data, err := os.ReadFile(sum.Items[0].Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Inline Post"), string(data))
	assert.NotContains(t, string(data), "menu")
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Options.Proxy = "://nope"
	_, err := app.New(cfg, nil)
	require.ErrorContains(t, err, "http transport")
}

func TestNewWithRegistryAndImagesDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Images.Enabled = false
	reg, err := handler.NewRegistry()
	require.NoError(t, err)

	a, err := app.New(cfg, zap.NewNop(), app.WithRegistry(reg))
	require.NoError(t, err)
	require.NotNil(t, a.Dispatcher())
	a.Close()
	a.Close()
}
