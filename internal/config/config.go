package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no database DSN is configured.
var ErrMissingDatabaseURL = errors.New("database_url is required (set DATABASE_URL or use --config)")

// Config holds pipeline configuration (DB, optional Redis, fetcher and sync
// settings). Retry and backoff values are tunable defaults, not contracts.
type Config struct {
	DatabaseURL  string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL     string        `yaml:"redis_url" env:"REDIS_URL"`
	UserAgent    string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout      time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	FetchRetries int           `yaml:"fetch_retries" env:"SYNC_FETCH_RETRIES"`
	FetchBackoff time.Duration `yaml:"fetch_backoff" env:"SYNC_FETCH_BACKOFF"`
	MaxBackoff   time.Duration `yaml:"max_backoff" env:"SYNC_MAX_BACKOFF"`
	BatchSize    int           `yaml:"batch_size" env:"SYNC_BATCH_SIZE"`
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env from the
// current directory. DATABASE_URL is required; everything else is optional.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := defaults()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	if ua := os.Getenv("FETCHER_USER_AGENT"); ua != "" {
		c.UserAgent = ua
	}
	if s := os.Getenv("FETCHER_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.Timeout = d
		}
	}
	if s := os.Getenv("SYNC_FETCH_RETRIES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			c.FetchRetries = n
		}
	}
	if s := os.Getenv("SYNC_FETCH_BACKOFF"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.FetchBackoff = d
		}
	}
	if s := os.Getenv("SYNC_MAX_BACKOFF"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.MaxBackoff = d
		}
	}
	if s := os.Getenv("SYNC_BATCH_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

func defaults() *Config {
	return &Config{
		UserAgent:    "KPTVSync/1.0",
		Timeout:      30 * time.Second,
		FetchRetries: 3,
		FetchBackoff: 2 * time.Second,
		MaxBackoff:   60 * time.Second,
		BatchSize:    1000,
	}
}
