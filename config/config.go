// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	PaymentProviderURL     string        `env:"PAYMENT_PROVIDER_URL" envDefault:"http://localhost:9100"`
	PaymentProviderTimeout time.Duration `env:"PAYMENT_PROVIDER_TIMEOUT" envDefault:"10s"`

	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	OutboxPollEvery   time.Duration `env:"OUTBOX_POLL_EVERY" envDefault:"500ms"`
	OutboxBatchSize   int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	OutboxMaxAttempts int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads .env when present (local development) and then parses the
// environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
