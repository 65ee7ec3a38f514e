package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Scraper.Headless)
	assert.Equal(t, 10*time.Second, cfg.Scraper.ContentTimeout)
	assert.Equal(t, 3*time.Second, cfg.Scraper.FetchDelay)
	assert.Equal(t, 15*time.Second, cfg.Scraper.ItemDelay)
	assert.Equal(t, 2*time.Minute, cfg.Scraper.RateLimitPause)
	assert.Equal(t, 3, cfg.Scraper.RateLimitLimit)
	assert.Equal(t, 10, cfg.Scraper.MaxBatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Scraper.CacheTTL)
	assert.Equal(t, "https://www.fragrantica.com", cfg.Scraper.SiteOrigin)
	assert.Equal(t, DefaultBlockSignatures, cfg.Scraper.BlockSignatures)
	assert.Empty(t, cfg.Auth.APIKeys)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SCRAPER_CONTENT_TIMEOUT", "4s")
	t.Setenv("SCRAPE_ITEM_DELAY", "1s")
	t.Setenv("SCRAPE_BLOCK_SIGNATURES", "verboten, gesperrt")
	t.Setenv("API_KEYS", "key-one,key-two")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 4*time.Second, cfg.Scraper.ContentTimeout)
	assert.Equal(t, time.Second, cfg.Scraper.ItemDelay)
	assert.Equal(t, []string{"verboten", "gesperrt"}, cfg.Scraper.BlockSignatures)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Server.Port = 8080
		cfg.Scraper.RateLimitLimit = 3
		cfg.Scraper.MaxBatchSize = 10
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, false},
		{"negative delay", func(c *Config) { c.Scraper.ItemDelay = -time.Second }, false},
		{"zero rate limit retries", func(c *Config) { c.Scraper.RateLimitLimit = 0 }, false},
		{"zero batch size", func(c *Config) { c.Scraper.MaxBatchSize = 0 }, false},
		{"db host without name", func(c *Config) { c.Database.Host = "h"; c.Database.Name = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
