package article

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostPatterns(t *testing.T) {
	t.Parallel()

	t.Run("exact match", func(t *testing.T) {
		t.Parallel()
		m := NewHostPatterns([]string{"qpic.cn"})
		require.NotNil(t, m)
		require.True(t, m.Match("qpic.cn"))
		require.True(t, m.Match("QPIC.cn:443"))
		require.False(t, m.Match("mmbiz.qpic.cn"))
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		t.Parallel()
		m := NewHostPatterns([]string{"*.zhimg.com", ".juejin.cn"})
		cases := map[string]bool{
			"pic1.zhimg.com": true,
			"zhimg.com":      true,
			"a.b.juejin.cn":  true,
			"notzhimg.com":   false,
			"example.com":    false,
		}
		for host, want := range cases {
			require.Equal(t, want, m.Match(host), host)
		}
	})

	t.Run("nil never matches", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, NewHostPatterns([]string{" ", ""}))
		var m *HostPatterns
		require.False(t, m.Match("anything"))
	})
}
