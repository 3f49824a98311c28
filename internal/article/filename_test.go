package article

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSuggestFilename(t *testing.T) {
	t.Parallel()

	stamp := Stamp(time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC))
	require.Equal(t, "20240309_070501", stamp)

	tests := []struct {
		name  string
		title string
		url   string
		want  string
	}{
		{name: "title wins", title: "Hello: World?", url: "https://a.com/x", want: "20240309_070501_Hello_ World_.md"},
		{name: "path segment", title: "  ", url: "https://a.com/posts/intro", want: "20240309_070501_intro.md"},
		{name: "host when path empty", url: "https://a.com/", want: "20240309_070501_a.com.md"},
		{name: "page when nothing", url: "", want: "20240309_070501_page.md"},
		{name: "sanitized to empty", title: "", url: "https://a.com/%7C", want: "20240309_070501__.md"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SuggestFilename(stamp, tc.title, tc.url))
		})
	}
}

func TestSanitizeFilenameFallback(t *testing.T) {
	t.Parallel()

	require.Equal(t, "untitled", SanitizeFilename("   ", "untitled"))
	require.Equal(t, "a_b_c", SanitizeFilename(`a/b\c`, "untitled"))
}

func TestStopFuncNilNeverStops(t *testing.T) {
	t.Parallel()

	var fn StopFunc
	require.False(t, fn.Stopped())
	fn = func() bool { return true }
	require.True(t, fn.Stopped())
}
