package quality

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article2md/internal/article"
)

func TestValidatorThreshold(t *testing.T) {
	t.Parallel()

	v := New(Config{MinLength: DefaultMinLength})

	require.Equal(t, ReasonTooShort, v.Validate(strings.Repeat("a", 999), "t").Reason)
	require.True(t, v.Validate(strings.Repeat("a", 1000), "t").OK())
	// Runes, not bytes.
	require.True(t, v.Validate(strings.Repeat("文", 1000), "t").OK())
	require.Equal(t, ReasonTooShort, v.Validate("  "+strings.Repeat("b", 999)+"\n\n", "t").Reason)
}

func TestValidatorRules(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 1200)
	tests := []struct {
		name   string
		cfg    Config
		text   string
		title  string
		reason Reason
	}{
		{name: "keyword in text", cfg: Config{Keywords: []string{"Captcha"}}, text: "please solve the CAPTCHA", reason: ReasonBlocked},
		{name: "keyword in title", cfg: Config{Keywords: []string{"环境异常"}}, text: "ok", title: "环境异常", reason: ReasonBlocked},
		{name: "trusted length skips keywords", cfg: Config{Keywords: []string{"x"}, TrustLength: 1000}, text: long, reason: ReasonOK},
		{name: "short text still checks keywords", cfg: Config{Keywords: []string{"验证"}, TrustLength: 1000}, text: "完成验证", reason: ReasonBlocked},
		{name: "missing title", cfg: Config{RequireTitle: true}, text: long, title: " ", reason: ReasonMissingTitle},
		{name: "blank keywords ignored", cfg: Config{Keywords: []string{" ", ""}}, text: "anything", reason: ReasonOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := New(tc.cfg).Validate(tc.text, tc.title)
			require.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestValidatePage(t *testing.T) {
	t.Parallel()

	v := New(Config{MinLength: 10, RequiredSelectors: []string{"#js_content"}})

	missing := v.ValidatePage(`<html><body><p>plenty of visible text here</p></body></html>`, "t")
	require.Equal(t, ReasonMissingSelector, missing.Reason)

	scripts := v.ValidatePage(`<html><body><div id="js_content">hi</div><script>`+strings.Repeat("var a;", 50)+`</script></body></html>`, "t")
	require.Equal(t, ReasonTooShort, scripts.Reason)

	ok := v.ValidatePage(`<html><body><div id="js_content">long enough article text</div></body></html>`, "t")
	require.True(t, ok.OK())
}

func TestVerdictErr(t *testing.T) {
	t.Parallel()

	require.NoError(t, Verdict{Reason: ReasonOK}.Err())
	err := Verdict{Reason: ReasonBlocked, Keyword: "登录"}.Err()
	require.True(t, errors.Is(err, article.ErrFetchFailure))
	require.Contains(t, err.Error(), "登录")
}
