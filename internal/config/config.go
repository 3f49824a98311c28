// Package config loads and validates article2md configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/browser"
	"github.com/JakeFAU/article2md/internal/clean"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/images"
	"github.com/JakeFAU/article2md/internal/logging"
	"github.com/JakeFAU/article2md/internal/progress"
	"github.com/JakeFAU/article2md/internal/quality"
)

// EnvPrefix namespaces environment overrides, e.g. ARTICLE2MD_FETCH_HTTP_PROXY.
const EnvPrefix = "ARTICLE2MD"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  logging.Config            `mapstructure:"logging"`
	Fetch    fetch.Config              `mapstructure:"fetch"`
	Browser  browser.Config            `mapstructure:"browser"`
	Quality  quality.Config            `mapstructure:"quality"`
	Images   images.Config             `mapstructure:"images"`
	Rules    clean.Rules               `mapstructure:"rules"`
	Options  article.ConversionOptions `mapstructure:"options"`
	Output   OutputConfig              `mapstructure:"output"`
	Progress progress.HubConfig        `mapstructure:"progress"`
	Server   ServerConfig              `mapstructure:"server"`
	Auth     AuthConfig                `mapstructure:"auth"`
}

// OutputConfig sets where documents land when a request names no directory.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the serve subcommand.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Workers         int           `mapstructure:"workers"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	JobTTL          time.Duration `mapstructure:"job_ttl"`
	MaxEvents       int           `mapstructure:"max_events"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from disk and environment. An empty path skips the
// file and uses defaults plus environment overrides.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied Viper instance, so command flags
// bound to v take part in resolution.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Rules = clean.DefaultRules().Merge(cfg.Rules)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	fd := fetch.DefaultConfig()
	v.SetDefault("fetch.max_retries", fd.MaxRetries)
	v.SetDefault("fetch.retry_backoff_min", fd.RetryBackoffMin)
	v.SetDefault("fetch.retry_backoff_max", fd.RetryBackoffMax)
	v.SetDefault("fetch.strategy_pause_min", fd.StrategyPauseMin)
	v.SetDefault("fetch.strategy_pause_max", fd.StrategyPauseMax)
	v.SetDefault("fetch.attempt_timeout", fd.AttemptTimeout)
	v.SetDefault("fetch.http.user_agent", fd.HTTP.UserAgent)
	v.SetDefault("fetch.http.timeout", fd.HTTP.Timeout)
	v.SetDefault("fetch.http.accept_language", fd.HTTP.AcceptLanguage)
	v.SetDefault("fetch.http.proxy", "")
	v.SetDefault("fetch.http.ignore_ssl", false)

	bd := browser.DefaultConfig()
	v.SetDefault("browser.enabled", bd.Enabled)
	v.SetDefault("browser.shared", bd.Shared)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", bd.Headless)
	v.SetDefault("browser.user_agent", bd.UserAgent)
	v.SetDefault("browser.accept_language", bd.AcceptLanguage)
	v.SetDefault("browser.locale", bd.Locale)
	v.SetDefault("browser.timezone", bd.Timezone)
	v.SetDefault("browser.window_width", bd.WindowWidth)
	v.SetDefault("browser.window_height", bd.WindowHeight)
	v.SetDefault("browser.nav_timeout", bd.NavTimeout)
	v.SetDefault("browser.stable_timeout", bd.StableTimeout)
	v.SetDefault("browser.stable_poll", bd.StablePoll)
	v.SetDefault("browser.idle_timeout", bd.IdleTimeout)
	v.SetDefault("browser.max_requests", bd.MaxRequests)

	qd := quality.DefaultConfig()
	v.SetDefault("quality.min_length", qd.MinLength)
	v.SetDefault("quality.keywords", qd.Keywords)
	v.SetDefault("quality.require_title", qd.RequireTitle)
	v.SetDefault("quality.trust_length", qd.TrustLength)

	id := images.DefaultConfig()
	v.SetDefault("images.enabled", id.Enabled)
	v.SetDefault("images.dir", id.Dir)
	v.SetDefault("images.max_concurrent", id.MaxConcurrent)
	v.SetDefault("images.per_host", id.PerHost)
	v.SetDefault("images.host_qps", id.HostQPS)
	v.SetDefault("images.host_burst", id.HostBurst)
	v.SetDefault("images.timeout", id.Timeout)
	v.SetDefault("images.max_bytes", id.MaxBytes)
	v.SetDefault("images.compact_rename", id.CompactRename)
	v.SetDefault("images.format_detection_domains", id.FormatDetectionDomains)
	v.SetDefault("images.referer_domains", id.RefererDomains)
	v.SetDefault("images.user_agent", id.UserAgent)

	od := article.DefaultOptions()
	v.SetDefault("options.download_images", od.DownloadImages)
	v.SetDefault("options.filter_non_content", od.FilterNonContent)
	v.SetDefault("options.use_shared_browser", od.UseSharedBrowser)
	v.SetDefault("options.ignore_ssl", od.IgnoreSSL)
	v.SetDefault("options.proxy", od.Proxy)
	v.SetDefault("options.compact_image_names", od.CompactImageNames)

	v.SetDefault("output.dir", ".")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.queue_depth", 64)
	v.SetDefault("server.job_ttl", time.Hour)
	v.SetDefault("server.max_events", 500)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Fetch.MaxRetries <= 0 {
		return errors.New("fetch.max_retries must be > 0")
	}
	if c.Fetch.RetryBackoffMax < c.Fetch.RetryBackoffMin {
		return errors.New("fetch.retry_backoff_max must be >= fetch.retry_backoff_min")
	}
	if c.Fetch.StrategyPauseMax < c.Fetch.StrategyPauseMin {
		return errors.New("fetch.strategy_pause_max must be >= fetch.strategy_pause_min")
	}
	if c.Fetch.HTTP.Timeout <= 0 {
		return errors.New("fetch.http.timeout must be > 0")
	}
	if c.Browser.Enabled && c.Browser.NavTimeout <= 0 {
		return errors.New("browser.nav_timeout must be > 0 when the browser is enabled")
	}
	if c.Quality.MinLength < 0 {
		return errors.New("quality.min_length must be >= 0")
	}
	if c.Images.MaxConcurrent <= 0 || c.Images.PerHost <= 0 {
		return errors.New("images.max_concurrent and images.per_host must be > 0")
	}
	if c.Images.HostQPS < 0 {
		return errors.New("images.host_qps must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir is required")
	}
	for i, rule := range c.Rules.Domains {
		if len(rule.Hosts) == 0 || len(rule.Selectors) == 0 {
			return fmt.Errorf("rules.domains[%d] needs hosts and selectors", i)
		}
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return errors.New("server.workers must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return errors.New("server.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HTTPOptions returns the fetch transport settings with the conversion
// option overrides applied.
func (c Config) HTTPOptions() fetch.HTTPConfig {
	cfg := c.Fetch.HTTP
	if c.Options.Proxy != "" {
		cfg.Proxy = c.Options.Proxy
	}
	cfg.IgnoreSSL = cfg.IgnoreSSL || c.Options.IgnoreSSL
	return cfg
}

// BrowserOptions returns the browser settings with the conversion option
// overrides applied, so --proxy and --ignore-ssl reach rendered pages too.
func (c Config) BrowserOptions() browser.Config {
	cfg := c.Browser
	if c.Options.Proxy != "" {
		cfg.Proxy = c.Options.Proxy
	}
	cfg.IgnoreSSL = cfg.IgnoreSSL || c.Options.IgnoreSSL
	return cfg
}
