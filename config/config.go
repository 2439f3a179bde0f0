package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Wait strategies accepted by WAIT_UNTIL
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
)

// Config represents the application configuration
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"APP_ENVIRONMENT" default:"development"`
	AllowOrigin string `envconfig:"ALLOW_ORIGIN" default:"*"`
	RatePerMin  int    `envconfig:"RATE_PER_MIN" default:"60"`

	// Render cache
	CacheTTLMs int `envconfig:"CACHE_TTL_MS" default:"300000"`
	CacheMax   int `envconfig:"CACHE_MAX" default:"200"`

	// Extraction
	ExtractCacheTTLMs int `envconfig:"EXTRACT_CACHE_TTL_MS" default:"120000"`
	ExtractMaxItems   int `envconfig:"EXTRACT_MAX_ITEMS" default:"500"`

	// Renderer
	ChromeURL       string `envconfig:"CHROME_URL"`
	NavTimeoutMs    int    `envconfig:"NAV_TIMEOUT_MS" default:"25000"`
	RenderTimeoutMs int    `envconfig:"RENDER_TIMEOUT_MS" default:"45000"`
	SettleMs        int    `envconfig:"SETTLE_MS" default:"1000"`
	WaitUntil       string `envconfig:"WAIT_UNTIL" default:"domcontentloaded"`
	Evasion         bool   `envconfig:"RENDER_EVASION" default:"false"`
	Humanize        bool   `envconfig:"RENDER_HUMANIZE" default:"true"`
	Locale          string `envconfig:"RENDER_LOCALE" default:"nl-NL"`

	// Retry policy
	RetryCount int `envconfig:"RETRY_COUNT" default:"2"`
	RetryMinMs int `envconfig:"RETRY_MIN_MS" default:"500"`
	RetryMaxMs int `envconfig:"RETRY_MAX_MS" default:"1500"`

	// Batch
	CronSecret       string `envconfig:"CRON_SECRET"`
	CronSchedule     string `envconfig:"CRON_SCHEDULE"`
	BatchConcurrency int    `envconfig:"BATCH_CONCURRENCY" default:"2"`

	// Site registry
	SupabaseURL        string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey    string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `envconfig:"SUPABASE_SERVICE_KEY"`
	SupabaseTable      string `envconfig:"SUPABASE_TABLE" default:"sites"`
	RegistryDSN        string `envconfig:"REGISTRY_DSN"`
	SitesFile          string `envconfig:"SITES_FILE" default:"configs/sites.json"`

	// Build events
	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`
	RedisStream       string `envconfig:"REDIS_STREAM" default:"feeds:built"`
	RedisStreamMaxLen int64  `envconfig:"REDIS_STREAM_MAX_LEN" default:"1000"`

	FeedTitlePrefix string `envconfig:"FEED_TITLE_PREFIX"`
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.WaitUntil {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
	default:
		return fmt.Errorf("WAIT_UNTIL must be one of load, domcontentloaded, networkidle; got %q", c.WaitUntil)
	}

	positive := map[string]int{
		"CACHE_TTL_MS":         c.CacheTTLMs,
		"CACHE_MAX":            c.CacheMax,
		"EXTRACT_CACHE_TTL_MS": c.ExtractCacheTTLMs,
		"EXTRACT_MAX_ITEMS":    c.ExtractMaxItems,
		"NAV_TIMEOUT_MS":       c.NavTimeoutMs,
		"RENDER_TIMEOUT_MS":    c.RenderTimeoutMs,
		"RATE_PER_MIN":         c.RatePerMin,
		"BATCH_CONCURRENCY":    c.BatchConcurrency,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.RetryCount < 0 {
		return fmt.Errorf("RETRY_COUNT must not be negative, got %d", c.RetryCount)
	}
	if c.RetryMinMs < 0 || c.RetryMaxMs < c.RetryMinMs {
		return fmt.Errorf("retry bounds invalid: min %dms, max %dms", c.RetryMinMs, c.RetryMaxMs)
	}
	if c.RenderTimeoutMs < c.NavTimeoutMs {
		return fmt.Errorf("RENDER_TIMEOUT_MS (%d) must not be shorter than NAV_TIMEOUT_MS (%d)", c.RenderTimeoutMs, c.NavTimeoutMs)
	}
	if c.SupabaseURL != "" && c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required when SUPABASE_URL is set")
	}

	return nil
}

// CacheTTL returns the render cache TTL
func (c *Config) CacheTTL() time.Duration { return ms(c.CacheTTLMs) }

// ExtractCacheTTL returns the extraction cache TTL
func (c *Config) ExtractCacheTTL() time.Duration { return ms(c.ExtractCacheTTLMs) }

// NavTimeout returns the navigation timeout
func (c *Config) NavTimeout() time.Duration { return ms(c.NavTimeoutMs) }

// RenderTimeout returns the overall render timeout
func (c *Config) RenderTimeout() time.Duration { return ms(c.RenderTimeoutMs) }

// Settle returns the post-navigation settle delay
func (c *Config) Settle() time.Duration { return ms(c.SettleMs) }

// RetryMin returns the minimum backoff between render attempts
func (c *Config) RetryMin() time.Duration { return ms(c.RetryMinMs) }

// RetryMax returns the maximum backoff between render attempts
func (c *Config) RetryMax() time.Duration { return ms(c.RetryMaxMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
