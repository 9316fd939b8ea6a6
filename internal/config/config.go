package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	APIAddr     string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	ClaimLease    time.Duration
	SweepInterval time.Duration

	MaxBodyBytes      int64
	RateLimitCapacity int
	RateLimitRefill   float64
	APIAllowlist      []string
}

const (
	defaultAPIAddr       = ":8080"
	defaultClaimLease    = 10 * time.Minute
	defaultSweepInterval = time.Minute
	defaultMaxBodyBytes  = 1 << 20
	defaultKafkaTopic    = "console-events"
)

// Load loads configuration from environment variables. REDIS_ADDR and
// KAFKA_BROKERS are optional; without them the change feed falls back
// to a no-op publisher.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   os.Getenv("APP_ENV"),
		APIAddr:       envDefault("API_ADDR", defaultAPIAddr),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    envDefault("KAFKA_TOPIC", defaultKafkaTopic),
		ClaimLease:    defaultClaimLease,
		SweepInterval: defaultSweepInterval,
		MaxBodyBytes:  defaultMaxBodyBytes,
		APIAllowlist:  splitList(os.Getenv("API_ALLOWLIST")),
	}

	var err error
	if cfg.ClaimLease, err = envDuration("CLAIM_LEASE", defaultClaimLease); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return nil, err
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("MAX_BODY_BYTES must be an integer")
		}
		cfg.MaxBodyBytes = n
	}
	if v := os.Getenv("RATE_LIMIT_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("RATE_LIMIT_CAPACITY must be an integer")
		}
		cfg.RateLimitCapacity = n
	}
	if v := os.Getenv("RATE_LIMIT_REFILL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("RATE_LIMIT_REFILL must be a number")
		}
		cfg.RateLimitRefill = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.ClaimLease <= 0 {
		return errors.New("CLAIM_LEASE must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}

	// Production deployments publish the change feed; local runs may
	// skip Redis and Kafka entirely.
	if c.Environment == "production" || c.Environment == "staging" {
		if c.RedisAddr == "" {
			return errors.New("missing required environment variables for " + c.Environment + ": REDIS_ADDR")
		}
	}

	return nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New(key + " must be a duration such as 5m or 90s")
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
