package app

import (
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethereum/go-ethereum/common"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Database configuration (required)
	DSN *string
	// Redis configuration (required)
	RedisAddr *string
	// Private key of the off-chain signing authority (required)
	PrivateKey *string
	// Deployed paymaster address bound into every hash (required)
	PaymasterAddress *common.Address
	// API secret guarding deposit and withdraw (required)
	APISecret *string

	// =========================== OPTIONAL ===========================

	// Logging configuration
	LogLevel *string

	// Deployment environment ("dev", "staging", "prod") and public host
	Environment *string
	Host        *string

	// HTTP server configuration
	Port *string

	// CORS configuration
	AllowOrigins *[]string

	// Migration configuration
	MigrationPath *string

	// Chain configuration. When RPCURL is set the chain id is read from the
	// node and CHAIN_ID must agree with it.
	ChainID    *big.Int
	RPCURL     *string
	EntryPoint *common.Address

	// Sponsorship configuration
	DefaultValidity *time.Duration
	SponsorshipTTL  *time.Duration
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load required configuration
	loadRequiredConfig(config)

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	// Database URL (required)
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatalf("REQUIRED: DB_URL not set in environment")
	}
	config.DSN = &dsn

	// Redis URL (required)
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		log.Fatalf("REQUIRED: REDIS_URL not set in environment")
	}
	config.RedisAddr = &redisAddr

	// Private key of the signing authority (required)
	privateKey := os.Getenv("PRIVATE_KEY")
	if privateKey == "" {
		log.Fatalf("REQUIRED: PRIVATE_KEY not set in environment")
	}
	// Remove 0x prefix if it exists
	privateKey = strings.TrimPrefix(privateKey, "0x")
	config.PrivateKey = &privateKey

	// Paymaster address (required)
	paymasterAddress := os.Getenv("PAYMASTER_ADDRESS")
	if !common.IsHexAddress(paymasterAddress) {
		log.Fatalf("REQUIRED: PAYMASTER_ADDRESS not set to a valid address in environment")
	}
	paymaster := common.HexToAddress(paymasterAddress)
	config.PaymasterAddress = &paymaster

	// API secret for deposit and withdraw (required)
	apiSecret := os.Getenv("API_SECRET")
	if apiSecret == "" {
		log.Fatalf("REQUIRED: API_SECRET not set in environment")
	}
	config.APISecret = &apiSecret

	// CORS origins (required in production, optional in development)
	loadCORSConfig(config)
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	// Environment (default: prod)
	environment := getEnvWithDefault("ENVIRONMENT", "prod")
	config.Environment = &environment

	// Public host used in swagger docs (default: localhost:<port>)
	host := getEnvWithDefault("HOST", "localhost:"+port)
	config.Host = &host

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	loadChainConfig(config)

	// Validity window length when a request names none (default: 10m)
	defaultValidity := getDurationWithDefault("DEFAULT_VALIDITY", 10*time.Minute)
	config.DefaultValidity = &defaultValidity

	// Cache lifetime of sponsorships that never expire (default: 24h)
	sponsorshipTTL := getDurationWithDefault("SPONSORSHIP_TTL", 24*time.Hour)
	config.SponsorshipTTL = &sponsorshipTTL
}

// loadChainConfig reads the chain binding. CHAIN_ID may be omitted only when
// RPC_URL is set.
func loadChainConfig(config *AppConfig) {
	rpcURL := os.Getenv("RPC_URL")
	config.RPCURL = &rpcURL

	if chainIDStr := os.Getenv("CHAIN_ID"); chainIDStr != "" {
		chainID, ok := new(big.Int).SetString(chainIDStr, 0)
		if !ok || chainID.Sign() <= 0 {
			log.Fatalf("invalid CHAIN_ID value '%s'", chainIDStr)
		}
		config.ChainID = chainID
	} else if rpcURL == "" {
		log.Fatalf("REQUIRED: CHAIN_ID or RPC_URL must be set in environment")
	}

	entryPoint := erc4337.EntryPointV07
	if entryPointStr := os.Getenv("ENTRY_POINT"); entryPointStr != "" {
		if !common.IsHexAddress(entryPointStr) {
			log.Fatalf("invalid ENTRY_POINT value '%s'", entryPointStr)
		}
		entryPoint = common.HexToAddress(entryPointStr)
	}
	config.EntryPoint = &entryPoint
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOriginsStr := os.Getenv("ALLOW_ORIGINS")
	var allowOrigins []string

	if allowOriginsStr != "" {
		// Parse comma-separated origins
		origins := strings.Split(allowOriginsStr, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowOrigins = append(allowOrigins, origin)
			}
		}
	} else {
		// Handle missing ALLOW_ORIGINS based on environment
		environment := os.Getenv("ENVIRONMENT")
		if environment == "development" || environment == "dev" {
			// Default to localhost in development
			allowOrigins = []string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = &allowOrigins
}

// getDurationWithDefault parses a Go duration such as "15m" with default fallback
func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}

	log.Printf("Warning: Invalid %s value '%s', using default %s", key, value, defaultValue)
	return defaultValue
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
