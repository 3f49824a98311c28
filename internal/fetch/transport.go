package fetch

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultUserAgent mimics a desktop Chrome so sites serve their full article markup.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// HTTPConfig controls the plain HTTP strategies.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	// Proxy overrides the environment proxy when set.
	Proxy     string `mapstructure:"proxy"`
	IgnoreSSL bool   `mapstructure:"ignore_ssl"`
}

// DefaultHTTPConfig returns the stock HTTP settings.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		UserAgent:      DefaultUserAgent,
		Timeout:        20 * time.Second,
		AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
	}
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	def := DefaultHTTPConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = def.AcceptLanguage
	}
	return c
}

// NewTransport builds the pooled transport shared by HTTP strategies and the
// image downloader.
func NewTransport(cfg HTTPConfig) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}
	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.IgnoreSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via ignore_ssl
	}
	return transport, nil
}
