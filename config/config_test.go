package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 200, cfg.CacheMax)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 2*time.Minute, cfg.ExtractCacheTTL())
	assert.Equal(t, 25*time.Second, cfg.NavTimeout())
	assert.Equal(t, WaitDOMContentLoaded, cfg.WaitUntil)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryMin())
	assert.Equal(t, 1500*time.Millisecond, cfg.RetryMax())
	assert.Equal(t, 60, cfg.RatePerMin)
	assert.NoError(t, cfg.Validate())

	// Test with environment variables
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL_MS", "1000")
	t.Setenv("CACHE_MAX", "10")
	t.Setenv("WAIT_UNTIL", "networkidle")
	t.Setenv("RENDER_EVASION", "true")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, time.Second, cfg.CacheTTL())
	assert.Equal(t, 10, cfg.CacheMax)
	assert.Equal(t, WaitNetworkIdle, cfg.WaitUntil)
	assert.True(t, cfg.Evasion)
	assert.Equal(t, "s3cret", cfg.CronSecret)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigInvalidNumber(t *testing.T) {
	t.Setenv("CACHE_MAX", "lots")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Helper()
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.WaitUntil = "networkidle2"
	assert.ErrorContains(t, cfg.Validate(), "WAIT_UNTIL")

	cfg = base()
	cfg.CacheMax = 0
	assert.ErrorContains(t, cfg.Validate(), "CACHE_MAX")

	cfg = base()
	cfg.RetryMinMs, cfg.RetryMaxMs = 2000, 1000
	assert.ErrorContains(t, cfg.Validate(), "retry bounds")

	cfg = base()
	cfg.RenderTimeoutMs = 1000
	assert.ErrorContains(t, cfg.Validate(), "RENDER_TIMEOUT_MS")

	cfg = base()
	cfg.SupabaseURL = "https://project.supabase.co"
	assert.ErrorContains(t, cfg.Validate(), "SUPABASE_ANON_KEY")
}
