// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is the server configuration.
type Config struct {
	Env         string `envconfig:"ENV" default:"local"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"betting-engine"`
	Port        int    `envconfig:"PORT" default:"8080"`

	// Empty DatabaseURL selects the in-memory store.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMigrate   bool   `envconfig:"DB_MIGRATE" default:"true"`

	// Empty RedisURL disables the cache and the Redis event channel.
	RedisURL           string        `envconfig:"REDIS_URL"`
	CacheTTL           time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	RedisEventsChannel string        `envconfig:"REDIS_EVENTS_CHANNEL" default:"betania_events"`

	// Empty KafkaBrokers disables the Kafka sink.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"betania.events"`

	StartingBalance   decimal.Decimal `envconfig:"STARTING_BALANCE" default:"100"`
	RechargeAmount    decimal.Decimal `envconfig:"RECHARGE_AMOUNT" default:"100"`
	RechargeThreshold decimal.Decimal `envconfig:"RECHARGE_THRESHOLD" default:"10"`
	LeaderboardSize   int             `envconfig:"LEADERBOARD_SIZE" default:"5"`
}

// Load reads envFile (default ".env") when present, then the environment.
// Variables already set in the environment win over the file.
func Load(envFile ...string) (*Config, error) {
	if err := godotenv.Load(envFile...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	for name, v := range map[string]decimal.Decimal{
		"STARTING_BALANCE":   c.StartingBalance,
		"RECHARGE_AMOUNT":    c.RechargeAmount,
		"RECHARGE_THRESHOLD": c.RechargeThreshold,
	} {
		if !v.IsPositive() {
			return fmt.Errorf("config: %s must be positive, got %s", name, v)
		}
	}
	if c.LeaderboardSize <= 0 {
		return fmt.Errorf("config: LEADERBOARD_SIZE must be positive, got %d", c.LeaderboardSize)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Brokers returns the configured Kafka brokers without blanks.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// MaskedDatabaseURL hides the password in DatabaseURL for logging.
func (c *Config) MaskedDatabaseURL() string {
	return maskPassword(c.DatabaseURL)
}

func maskPassword(url string) string {
	scheme := strings.Index(url, "://")
	at := strings.LastIndex(url, "@")
	if scheme < 0 || at < scheme {
		return url
	}
	creds := url[scheme+3 : at]
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return url
	}
	return url[:scheme+3] + creds[:colon] + ":****" + url[at:]
}
