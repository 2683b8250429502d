package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/walletgraph/service/helius"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Helius configuration
	HeliusAPIKey  string
	HeliusBaseURL string

	// Solana configuration
	SolanaRPCURL string

	// Database configuration. Empty disables the account info store and the
	// query log.
	DatabaseURL string

	// NATS configuration. Empty disables graph events.
	NATSURL string

	// Neo4j configuration. Empty URI disables graph export.
	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Pipeline configuration
	DefaultWindowDays int
	MinValueUSD       decimal.Decimal
	NativeUSDRate     decimal.Decimal
	DustThreshold     decimal.Decimal
	MaxRenderNodes    int
	MaxTransactions   int

	// Account resolution configuration
	AccountBatchSize  int
	AccountBatchDelay time.Duration
	AccountCacheTTL   time.Duration

	// Extraction switches
	IncludeTokenTransfers bool
	AdmitExchanges        bool

	// KnownWalletsFile overrides or extends the embedded classification tables.
	KnownWalletsFile string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Helius configuration
	cfg.HeliusAPIKey = os.Getenv("HELIUS_API_KEY")
	if err := helius.ValidateAPIKey(cfg.HeliusAPIKey); err != nil {
		errs = append(errs, fmt.Errorf("HELIUS_API_KEY: %w", err))
	}
	cfg.HeliusBaseURL = getEnvOrDefault("HELIUS_BASE_URL", helius.DefaultBaseURL)

	// Solana configuration
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")

	// Optional sinks
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.Neo4jURI = os.Getenv("NEO4J_URI")
	cfg.Neo4jUsername = getEnvOrDefault("NEO4J_USERNAME", "neo4j")
	cfg.Neo4jPassword = os.Getenv("NEO4J_PASSWORD")
	cfg.Neo4jDatabase = getEnvOrDefault("NEO4J_DATABASE", "neo4j")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "walletgraph")

	// Pipeline configuration
	var err error
	if cfg.DefaultWindowDays, err = parseInt("DEFAULT_WINDOW_DAYS", 30); err != nil {
		errs = append(errs, err)
	}
	if cfg.MinValueUSD, err = parseDecimal("MIN_VALUE_USD", "2"); err != nil {
		errs = append(errs, err)
	}
	if cfg.NativeUSDRate, err = parseDecimal("NATIVE_USD_RATE", "200"); err != nil {
		errs = append(errs, err)
	}
	if cfg.DustThreshold, err = parseDecimal("DUST_THRESHOLD", "0.001"); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxRenderNodes, err = parseInt("MAX_RENDER_NODES", 50); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxTransactions, err = parseInt("MAX_TRANSACTIONS", 10000); err != nil {
		errs = append(errs, err)
	}

	// Account resolution configuration
	if cfg.AccountBatchSize, err = parseInt("ACCOUNT_BATCH_SIZE", 100); err != nil {
		errs = append(errs, err)
	}
	if cfg.AccountBatchDelay, err = parseDuration("ACCOUNT_BATCH_DELAY", "100ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.AccountCacheTTL, err = parseDuration("ACCOUNT_CACHE_TTL", "24h"); err != nil {
		errs = append(errs, err)
	}

	// Extraction switches
	if cfg.IncludeTokenTransfers, err = parseBool("INCLUDE_TOKEN_TRANSFERS", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.AdmitExchanges, err = parseBool("ADMIT_EXCHANGES", false); err != nil {
		errs = append(errs, err)
	}

	cfg.KnownWalletsFile = os.Getenv("KNOWN_WALLETS_FILE")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if err := helius.ValidateAPIKey(c.HeliusAPIKey); err != nil {
		errs = append(errs, err)
	}

	if c.HeliusBaseURL == "" {
		errs = append(errs, fmt.Errorf("HeliusBaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.DefaultWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("DefaultWindowDays must be positive"))
	}

	if c.MinValueUSD.IsNegative() {
		errs = append(errs, fmt.Errorf("MinValueUSD cannot be negative"))
	}

	if c.NativeUSDRate.IsNegative() {
		errs = append(errs, fmt.Errorf("NativeUSDRate cannot be negative"))
	}

	if !c.DustThreshold.IsPositive() {
		errs = append(errs, fmt.Errorf("DustThreshold must be positive"))
	}

	if c.MaxRenderNodes < 1 {
		errs = append(errs, fmt.Errorf("MaxRenderNodes must be at least 1"))
	}

	if c.MaxTransactions < 1 {
		errs = append(errs, fmt.Errorf("MaxTransactions must be at least 1"))
	}

	if c.AccountBatchSize < 1 || c.AccountBatchSize > 100 {
		errs = append(errs, fmt.Errorf("AccountBatchSize must be between 1 and 100"))
	}

	if c.AccountBatchDelay < 0 {
		errs = append(errs, fmt.Errorf("AccountBatchDelay cannot be negative"))
	}

	if c.Neo4jURI != "" && c.Neo4jPassword == "" {
		errs = append(errs, fmt.Errorf("Neo4jPassword is required when Neo4jURI is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseDecimal parses a decimal from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	result, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
