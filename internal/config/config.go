package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all settings for the relay process, read from the environment.
type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	Env       string `envconfig:"ENV" default:"development"`
	DSN       string `envconfig:"DB_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	JWTSecret string `envconfig:"JWT_SECRET"`

	// RingTimeout bounds how long a call may stay unanswered.
	RingTimeout time.Duration `envconfig:"RING_TIMEOUT" default:"30s"`

	// StoreFailureThreshold is the number of consecutive persistence failures
	// after which the relay refuses new sends until the store recovers.
	StoreFailureThreshold int           `envconfig:"STORE_FAILURE_THRESHOLD" default:"3"`
	StoreProbeInterval    time.Duration `envconfig:"STORE_PROBE_INTERVAL" default:"5s"`

	// PresenceTTL is the lifetime of a user's redis presence key; it is
	// refreshed at half this interval while the user has live connections.
	PresenceTTL time.Duration `envconfig:"PRESENCE_TTL" default:"30s"`
}

// Load reads configuration from the environment. In development a .env file is
// honoured if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("config: DB_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	return &cfg, nil
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
