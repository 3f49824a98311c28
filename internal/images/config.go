// Package images downloads the images referenced by a Markdown document,
// deduplicates them by content hash and rewrites the references to local
// files.
package images

import (
	"time"

	"github.com/JakeFAU/article2md/internal/fetch"
)

// Config controls the image pipeline.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Dir is the images directory relative to the output directory. It is
	// also the prefix written into rewritten references.
	Dir string `mapstructure:"dir"`
	// MaxConcurrent bounds downloads in flight; PerHost bounds them per host.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	PerHost       int `mapstructure:"per_host"`
	// HostQPS optionally paces requests per host. Zero disables pacing.
	HostQPS   float64       `mapstructure:"host_qps"`
	HostBurst int           `mapstructure:"host_burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxBytes  int64         `mapstructure:"max_bytes"`
	// CompactRename renumbers successful downloads contiguously.
	CompactRename bool `mapstructure:"compact_rename"`
	// FormatDetectionDomains are hosts whose image URLs carry unreliable
	// extensions; their files are named from the downloaded bytes.
	FormatDetectionDomains []string `mapstructure:"format_detection_domains"`
	// RefererDomains receive Referer and browser-like headers.
	RefererDomains []string `mapstructure:"referer_domains"`
	UserAgent      string   `mapstructure:"user_agent"`
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Dir:                    "img",
		MaxConcurrent:          5,
		PerHost:                2,
		HostBurst:              1,
		Timeout:                30 * time.Second,
		MaxBytes:               50 << 20,
		FormatDetectionDomains: []string{"*.zhimg.com", "qpic.cn", "mmbiz.qpic.cn"},
		RefererDomains:         []string{"mp.weixin.qq.com", "*.qpic.cn", "*.weixin.qq.com"},
		UserAgent:              fetch.DefaultUserAgent,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.PerHost <= 0 {
		c.PerHost = d.PerHost
	}
	if c.PerHost > c.MaxConcurrent {
		c.PerHost = c.MaxConcurrent
	}
	if c.HostBurst <= 0 {
		c.HostBurst = d.HostBurst
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}
