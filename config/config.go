package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process configuration, populated from the environment.
type Config struct {
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	AnchorEndpoint   string        `env:"ANCHOR_ENDPOINT"`
	AnchorInterval   time.Duration `env:"ANCHOR_INTERVAL" envDefault:"1m"`
	AnchorTimeout    time.Duration `env:"ANCHOR_TIMEOUT" envDefault:"10s"`
	SchedulerPoll    time.Duration `env:"SCHEDULER_POLL" envDefault:"1s"`
	NotifyBufferSize int           `env:"NOTIFY_BUFFER_SIZE" envDefault:"64"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
