package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`
	UserAgent    string `yaml:"user_agent"`
	Timeout      string `yaml:"timeout"`
	FetchRetries string `yaml:"fetch_retries"`
	FetchBackoff string `yaml:"fetch_backoff"`
	MaxBackoff   string `yaml:"max_backoff"`
	BatchSize    string `yaml:"batch_size"`
}

// LoadFromFile loads config from a YAML file. database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := defaults()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			c.Timeout = d
		}
	}
	if f.FetchRetries != "" {
		if n, err := strconv.Atoi(f.FetchRetries); err == nil && n >= 0 {
			c.FetchRetries = n
		}
	}
	if f.FetchBackoff != "" {
		if d, err := time.ParseDuration(f.FetchBackoff); err == nil {
			c.FetchBackoff = d
		}
	}
	if f.MaxBackoff != "" {
		if d, err := time.ParseDuration(f.MaxBackoff); err == nil {
			c.MaxBackoff = d
		}
	}
	if f.BatchSize != "" {
		if n, err := strconv.Atoi(f.BatchSize); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	return c, nil
}
