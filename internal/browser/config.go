// Package browser manages headless Chrome sessions for page rendering. It
// keeps one shared browser alive across requests or launches a dedicated
// browser per request, and exposes rendering as a fetch strategy.
package browser

import (
	"time"

	"github.com/JakeFAU/article2md/internal/fetch"
)

// Config controls browser lifecycle and the fingerprint presented to sites.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Shared allows handlers that prefer it to reuse one browser process.
	Shared         bool          `mapstructure:"shared"`
	ExecPath       string        `mapstructure:"exec_path"`
	Headless       bool          `mapstructure:"headless"`
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	Locale         string        `mapstructure:"locale"`
	Timezone       string        `mapstructure:"timezone"`
	WindowWidth    int           `mapstructure:"window_width"`
	WindowHeight   int           `mapstructure:"window_height"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	StableTimeout  time.Duration `mapstructure:"stable_timeout"`
	StablePoll     time.Duration `mapstructure:"stable_poll"`
	// IdleTimeout and MaxRequests bound the life of the shared browser.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MaxRequests int           `mapstructure:"max_requests"`
	Proxy       string        `mapstructure:"proxy"`
	IgnoreSSL   bool          `mapstructure:"ignore_ssl"`
}

// Network is the proxy and certificate policy a browser is launched with.
type Network struct {
	Proxy     string
	IgnoreSSL bool
}

// network returns the configured policy with override applied: a non-empty
// proxy replaces the configured one and IgnoreSSL can only be turned on.
func (c Config) network(override Network) Network {
	n := Network{Proxy: c.Proxy, IgnoreSSL: c.IgnoreSSL || override.IgnoreSSL}
	if override.Proxy != "" {
		n.Proxy = override.Proxy
	}
	return n
}

// DefaultConfig returns the stock browser settings.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Shared:         true,
		Headless:       true,
		UserAgent:      fetch.DefaultUserAgent,
		AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
		Locale:         "zh-CN",
		Timezone:       "Asia/Shanghai",
		WindowWidth:    1920,
		WindowHeight:   1080,
		NavTimeout:     45 * time.Second,
		StableTimeout:  10 * time.Second,
		StablePoll:     250 * time.Millisecond,
		IdleTimeout:    5 * time.Minute,
		MaxRequests:    50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = d.AcceptLanguage
	}
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = d.WindowWidth, d.WindowHeight
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = d.NavTimeout
	}
	if c.StableTimeout <= 0 {
		c.StableTimeout = d.StableTimeout
	}
	if c.StablePoll <= 0 {
		c.StablePoll = d.StablePoll
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = d.MaxRequests
	}
	return c
}
