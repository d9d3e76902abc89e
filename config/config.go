package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL string

	// NATS configuration for the risk and settlement feeds
	NATSUrl string

	// Reconciliation configuration
	VarianceReviewThreshold int64         // absolute variance at or under this goes to review instead of opening a discrepancy
	SettlementLagWindow     time.Duration // how far back a settled distribution can explain an external surplus

	// Payout rail configuration
	PayoutMaxRetries uint64
	PayoutRetryBase  time.Duration
	ExecutionTimeout time.Duration // per rail attempt

	// Sweeper configuration
	StaleExecutionAge time.Duration // executing requests older than this get failed

	// Risk gate configuration
	RiskGateTTL time.Duration

	// Environment
	Environment string // "development" or "production"
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		NATSUrl:     os.Getenv("NATS_URL"),

		// Defaults
		VarianceReviewThreshold: 10000,
		SettlementLagWindow:     72 * time.Hour,
		PayoutMaxRetries:        3,
		PayoutRetryBase:         500 * time.Millisecond,
		ExecutionTimeout:        30 * time.Second,
		StaleExecutionAge:       15 * time.Minute,
		RiskGateTTL:             500 * time.Millisecond,

		Environment: os.Getenv("ENVIRONMENT"),
	}

	if threshold := os.Getenv("VARIANCE_REVIEW_THRESHOLD"); threshold != "" {
		parsed, err := strconv.ParseInt(threshold, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VARIANCE_REVIEW_THRESHOLD: %w", err)
		}
		config.VarianceReviewThreshold = parsed
	}
	if hours := os.Getenv("SETTLEMENT_LAG_WINDOW_HOURS"); hours != "" {
		parsed, err := strconv.Atoi(hours)
		if err != nil {
			return nil, fmt.Errorf("invalid SETTLEMENT_LAG_WINDOW_HOURS: %w", err)
		}
		config.SettlementLagWindow = time.Duration(parsed) * time.Hour
	}
	if retries := os.Getenv("PAYOUT_MAX_RETRIES"); retries != "" {
		parsed, err := strconv.ParseUint(retries, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYOUT_MAX_RETRIES: %w", err)
		}
		config.PayoutMaxRetries = parsed
	}
	if base := os.Getenv("PAYOUT_RETRY_BASE_MS"); base != "" {
		parsed, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYOUT_RETRY_BASE_MS: %w", err)
		}
		config.PayoutRetryBase = time.Duration(parsed) * time.Millisecond
	}
	if timeout := os.Getenv("EXECUTION_TIMEOUT_MS"); timeout != "" {
		parsed, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid EXECUTION_TIMEOUT_MS: %w", err)
		}
		config.ExecutionTimeout = time.Duration(parsed) * time.Millisecond
	}
	if age := os.Getenv("STALE_EXECUTION_AGE_MINUTES"); age != "" {
		parsed, err := strconv.Atoi(age)
		if err != nil {
			return nil, fmt.Errorf("invalid STALE_EXECUTION_AGE_MINUTES: %w", err)
		}
		config.StaleExecutionAge = time.Duration(parsed) * time.Minute
	}
	if ttl := os.Getenv("RISK_GATE_TTL_MS"); ttl != "" {
		parsed, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_GATE_TTL_MS: %w", err)
		}
		config.RiskGateTTL = time.Duration(parsed) * time.Millisecond
	}

	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if config.NATSUrl == "" {
			return nil, fmt.Errorf("NATS_URL is required")
		}
	}

	return config, nil
}
