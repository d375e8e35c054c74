package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/dispenser/service/validator"
	solanago "github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration (optional, enables /amount_and_proof)
	DatabaseURL string

	// NATS configuration (optional, enables funding events)
	NATSURL string

	// Claim program and, optionally, the mint whose token accounts a funded
	// claim may create
	ClaimProgramID solanago.PublicKey
	MintAddress    solanago.PublicKey

	// Key material: base58 secrets or solana-keygen file paths
	FunderKeys       []string
	DiscordSignerKey string
	DiscordAPIURL    string
	DiscordCacheTTL  time.Duration

	// Per-client limit on /fund_transaction; a zero rate disables it
	FundRateLimit float64
	FundRateBurst int

	// Transaction policy
	WhitelistExtraPrograms []solanago.PublicKey
	MaxComputeUnitPrice    uint64
	MaxSignatures          int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error listing every missing or invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	var err error
	if cfg.ClaimProgramID, err = parsePublicKey("CLAIM_PROGRAM_ID", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.MintAddress, err = parsePublicKey("MINT_ADDRESS", false); err != nil {
		errs = append(errs, err)
	}

	// Keys
	cfg.FunderKeys = splitList(os.Getenv("FUNDER_KEYS"))
	if len(cfg.FunderKeys) == 0 {
		errs = append(errs, fmt.Errorf("FUNDER_KEYS is required"))
	}
	cfg.DiscordSignerKey = os.Getenv("DISCORD_SIGNER_KEY")
	cfg.DiscordAPIURL = getEnvOrDefault("DISCORD_API_URL", "https://discord.com/api/v10")
	if cfg.DiscordCacheTTL, err = parseDuration("DISCORD_CACHE_TTL", "5m"); err != nil {
		errs = append(errs, err)
	}

	if cfg.FundRateLimit, err = parseFloat("FUND_RATE_LIMIT", 2); err != nil {
		errs = append(errs, err)
	}
	if cfg.FundRateBurst, err = parseInt("FUND_RATE_BURST", 10); err != nil {
		errs = append(errs, err)
	}

	// Transaction policy
	for _, s := range splitList(os.Getenv("WHITELIST_EXTRA_PROGRAMS")) {
		pk, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("WHITELIST_EXTRA_PROGRAMS: invalid public key %q: %w", s, err))
			continue
		}
		cfg.WhitelistExtraPrograms = append(cfg.WhitelistExtraPrograms, pk)
	}

	if cfg.MaxComputeUnitPrice, err = parseUint64("MAX_COMPUTE_UNIT_PRICE", 1_000_000); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxSignatures, err = parseInt("MAX_SIGNATURES", 3); err != nil {
		errs = append(errs, err)
	}

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

	if c.ClaimProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ClaimProgramID is required"))
	}

	if len(c.FunderKeys) == 0 {
		errs = append(errs, fmt.Errorf("FunderKeys is required"))
	}

	if c.MaxSignatures < 1 {
		errs = append(errs, fmt.Errorf("MaxSignatures must be at least 1"))
	}

	if c.MaxComputeUnitPrice == 0 {
		errs = append(errs, fmt.Errorf("MaxComputeUnitPrice must be positive"))
	}

	if c.FundRateLimit < 0 || c.FundRateBurst < 0 {
		errs = append(errs, fmt.Errorf("FundRateLimit and FundRateBurst cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Policy returns the transaction policy the funding endpoint enforces.
func (c *Config) Policy() validator.Policy {
	p := validator.DefaultPolicy(c.ClaimProgramID)
	p.Mint = c.MintAddress
	p.Whitelist = p.Whitelist.Union(validator.NewWhitelist(c.WhitelistExtraPrograms...))
	p.MaxComputeUnitPrice = c.MaxComputeUnitPrice
	p.MaxSignatures = c.MaxSignatures
	return p
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePublicKey parses a base58 public key from an environment variable.
func parsePublicKey(key string, required bool) (solanago.PublicKey, error) {
	value := os.Getenv(key)
	if value == "" {
		if required {
			return solanago.PublicKey{}, fmt.Errorf("%s is required", key)
		}
		return solanago.PublicKey{}, nil
	}
	pk, err := solanago.PublicKeyFromBase58(value)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("%s: invalid public key %q: %w", key, value, err)
	}
	return pk, nil
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

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

// parseUint64 parses an unsigned integer from an environment variable or uses a default.
func parseUint64(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}
