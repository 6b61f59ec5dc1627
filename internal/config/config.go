// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds every tunable of the trading service. Defaults mirror the
// reference behavior: 1.5s tick cadence, ±3% price drift, 10000.00 starting
// cash.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	JWTSecret   string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`

	TickInterval   time.Duration `env:"TICK_INTERVAL" envDefault:"1500ms"`
	PriceDriftPct  float64       `env:"PRICE_DRIFT_PCT" envDefault:"0.03"`
	InitialBalance string        `env:"INITIAL_BALANCE" envDefault:"10000.00"`

	CacheTTL   time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CORSOrigin string        `env:"CORS_ORIGIN" envDefault:"*"`
}

// Load parses the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	return cfg, env.Parse(&cfg)
}
