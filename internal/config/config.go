package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Scraper  ScraperConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

// Enabled reports whether a database was configured at all. Without one
// the server falls back to the in-memory store.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type ScraperConfig struct {
	Headless        bool
	Timeout         time.Duration
	ContentTimeout  time.Duration // wait for the content element after navigation
	FetchDelay      time.Duration // minimum delay before every page fetch
	ItemDelay       time.Duration // extra spacing between queue items
	RateLimitPause  time.Duration // pause after a rate-limit detection
	RateLimitLimit  int           // consecutive rate limits before the queue stops
	MaxBatchSize    int           // cap on synchronous batch scrapes
	CacheTTL        time.Duration
	SiteOrigin      string   // origin used to absolutize relative image URLs
	BlockSignatures []string // phrases that identify rate-limit/block pages
}

type AuthConfig struct {
	APIKeys []string
}

// DefaultBlockSignatures are the phrases the source site serves on
// rate-limit and block pages. Kept as data so a wording change is a
// config change, not a code change.
var DefaultBlockSignatures = []string{
	"too many requests",
	"rate limit",
	"blocked",
	"access denied",
	"error page",
	"captcha",
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "perfume_catalog"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Scraper: ScraperConfig{
			Headless:        getEnvBool("SCRAPER_HEADLESS", true),
			Timeout:         getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second),
			ContentTimeout:  getEnvDuration("SCRAPER_CONTENT_TIMEOUT", 10*time.Second),
			FetchDelay:      getEnvDuration("SCRAPE_FETCH_DELAY", 3*time.Second),
			ItemDelay:       getEnvDuration("SCRAPE_ITEM_DELAY", 15*time.Second),
			RateLimitPause:  getEnvDuration("SCRAPE_RATE_LIMIT_PAUSE", 2*time.Minute),
			RateLimitLimit:  getEnvInt("SCRAPE_RATE_LIMIT_RETRIES", 3),
			MaxBatchSize:    getEnvInt("SCRAPE_MAX_BATCH", 10),
			CacheTTL:        getEnvDuration("SCRAPE_CACHE_TTL", 24*time.Hour),
			SiteOrigin:      getEnv("SCRAPE_SITE_ORIGIN", "https://www.fragrantica.com"),
			BlockSignatures: getEnvList("SCRAPE_BLOCK_SIGNATURES", DefaultBlockSignatures),
		},
		Auth: AuthConfig{
			APIKeys: getEnvList("API_KEYS", nil),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled() && c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Scraper.FetchDelay < 0 || c.Scraper.ItemDelay < 0 {
		return fmt.Errorf("scrape delays must not be negative")
	}

	if c.Scraper.RateLimitLimit < 1 {
		return fmt.Errorf("at least 1 rate-limit retry is required")
	}

	if c.Scraper.MaxBatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
