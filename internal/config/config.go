package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is read from YAML, then overridden by QUIZ_* environment variables.
// CLI flags win over both.
type Config struct {
	Server struct {
		Port string `yaml:"port" env:"QUIZ_PORT"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr" env:"QUIZ_REDIS_ADDR"`
		Password string `yaml:"password" env:"QUIZ_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"QUIZ_REDIS_DB"`
		TTL      string `yaml:"ttl" env:"QUIZ_REDIS_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"QUIZ_POSTGRES_URL"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path" env:"QUIZ_SQLITE_PATH"`
	} `yaml:"sqlite"`
	Snapshot struct {
		File string `yaml:"file" env:"QUIZ_SNAPSHOT_FILE"`
		TTL  string `yaml:"ttl" env:"QUIZ_SNAPSHOT_TTL"`
	} `yaml:"snapshot"`
	Log struct {
		Level  string `yaml:"level" env:"QUIZ_LOG_LEVEL"`
		Format string `yaml:"format" env:"QUIZ_LOG_FORMAT"`
	} `yaml:"log"`
	Random struct {
		// Seed 0 seeds from the clock.
		Seed int64 `yaml:"seed" env:"QUIZ_RANDOM_SEED"`
	} `yaml:"random"`
}

// Load reads YAML config from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
