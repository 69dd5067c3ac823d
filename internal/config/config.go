// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Chat transport
	BotToken string  `env:"BOT_TOKEN,required"`
	Admins   []int64 `env:"ADMINS,required" envSeparator:","`

	// Database
	DatabaseURL  string `env:"DATABASE_URL,required"`
	PGSSLMode    string `env:"PGSSLMODE" envDefault:"require"`
	AllowDBReset bool   `env:"ALLOW_DB_RESET" envDefault:"false"`

	// Redis — optional shared conversation store. Empty means "use the
	// in-process map" (single-worker deployments only).
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Ops HTTP (health + metrics only — no booking data is ever served here)
	MetricsHost string `env:"METRICS_HOST" envDefault:"0.0.0.0"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`

	// Sweeper
	SweepInterval string `env:"SWEEP_INTERVAL" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}

	// Some hosting providers only ever emit the postgres:// scheme; pgx
	// accepts both, but normalize for consistency with the tooling that
	// reads DATABASE_URL outside this process.
	cfg.DatabaseURL = normalizeDatabaseURL(cfg.DatabaseURL)

	return cfg, nil
}

func normalizeDatabaseURL(url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(url, "postgres://")
	}
	return url
}

// MetricsListenAddr returns the address the ops HTTP server should listen on.
func (c *Config) MetricsListenAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// RequireSSL reports whether the Postgres connection should require SSL.
func (c *Config) RequireSSL() bool {
	return strings.ToLower(strings.TrimSpace(c.PGSSLMode)) != "disable"
}

// IsAdmin reports whether the given chat id is a configured admin.
func (c *Config) IsAdmin(chatID int64) bool {
	for _, a := range c.Admins {
		if a == chatID {
			return true
		}
	}
	return false
}
