// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"REGISTRIQ_ADDR" envDefault:":8080"`

	// DatabasePath is the SQLite data source name.
	DatabasePath string `env:"REGISTRIQ_DB_PATH" envDefault:"registriq.db"`

	// IndexCacheTTL bounds how stale a cached availability answer may be.
	IndexCacheTTL time.Duration `env:"REGISTRIQ_INDEX_CACHE_TTL" envDefault:"1m"`

	// MaxCommitRetries bounds how often a command is replayed after losing
	// an optimistic-concurrency race.
	MaxCommitRetries int `env:"REGISTRIQ_MAX_COMMIT_RETRIES" envDefault:"3"`

	// ShutdownTimeout is the grace period for in-flight requests on exit.
	ShutdownTimeout time.Duration `env:"REGISTRIQ_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
