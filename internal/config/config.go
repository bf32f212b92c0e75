// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Optional, in-process reputation cache if not set

	// Chain settings
	RPCURL          string
	ChainID         int64
	TreasuryKey     string // Hex-encoded treasury signer key, with or without 0x prefix
	TokenContract   string // SKILL ERC-20 contract address
	ConfirmAttempts int    // Receipt polls per broadcast-and-confirm submit

	// Payout policy
	DailyPayoutCap    string // Per-recipient daily cap in SKILL (e.g. "150000")
	TreasuryFloor     string // Breaker trips when treasury balance falls below this
	BurstTripCount    int    // Breaker trips at this many confirmed payouts per minute
	SubmitMaxAttempts int

	// Fraud settings
	IPReputationURL string // External reputation endpoint; lookups disabled if empty
	IPReputationKey string
	FraudScoreBlock int // Fraud score at or above this blocks the claim

	// Security
	AdminSecret   string // Admin API secret
	ReceiptSecret string // HMAC key for settlement receipts; receipts disabled if empty
	RateLimitRPM  int

	// Observability
	OTLPEndpoint string
}

// Chain defaults (Base Sepolia)
const (
	DefaultRPCURL        = "https://sepolia.base.org"
	DefaultChainID       = 84532
	DefaultTokenContract = "0x41C3DdE96a8871Dcf458A275b95E73A53057f1A3"
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultDailyCap      = "150000"
	DefaultTreasuryFloor = "1000"
	DefaultBurstTrip     = 20
	DefaultRateLimit     = 60
	DefaultFraudScore    = 85
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:          os.Getenv("REDIS_URL"),
		RPCURL:            getEnv("RPC_URL", DefaultRPCURL),
		ChainID:           getEnvInt64("CHAIN_ID", DefaultChainID),
		TreasuryKey:       os.Getenv("TREASURY_KEY"), // Required, no default
		TokenContract:     getEnv("TOKEN_CONTRACT", DefaultTokenContract),
		ConfirmAttempts:   int(getEnvInt64("CONFIRM_ATTEMPTS", 30)),
		DailyPayoutCap:    getEnv("DAILY_PAYOUT_CAP", DefaultDailyCap),
		TreasuryFloor:     getEnv("TREASURY_FLOOR", DefaultTreasuryFloor),
		BurstTripCount:    int(getEnvInt64("BURST_TRIP_COUNT", DefaultBurstTrip)),
		SubmitMaxAttempts: int(getEnvInt64("SUBMIT_MAX_ATTEMPTS", 3)),
		IPReputationURL:   os.Getenv("IP_REPUTATION_URL"),
		IPReputationKey:   os.Getenv("IP_REPUTATION_KEY"),
		FraudScoreBlock:   int(getEnvInt64("FRAUD_SCORE_BLOCK", DefaultFraudScore)),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		ReceiptSecret:     os.Getenv("RECEIPT_SECRET"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TreasuryKey == "" {
		return fmt.Errorf("TREASURY_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.TreasuryKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("TREASURY_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.BurstTripCount <= 0 {
		return fmt.Errorf("BURST_TRIP_COUNT must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
