// Package config provides configuration management for unlockd.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment

	// Payment holds the chain and pricing settings for issued challenges.
	Payment PaymentConfig

	// SigningKeyHex is the hex-encoded Ed25519 seed used to sign access tokens.
	SigningKeyHex string

	// LicensingURL is the base URL of the external licensing service;
	// empty disables license minting.
	LicensingURL string

	// RedisURL enables the Redis-backed rate limit store when set, so
	// limits are shared across replicas.
	RedisURL string
}

// PaymentConfig holds the settings that shape every issued challenge.
type PaymentConfig struct {
	// RPCURL is the chain RPC endpoint used to verify transfers.
	RPCURL string
	// Network names the chain the token contract lives on (see networks.yaml).
	Network string
	// TokenAddress is the ERC-20 contract payments must use.
	TokenAddress string
	// TokenDecimals is the token's decimal precision; amounts are integer
	// minor units at this scale.
	TokenDecimals int
	// PlatformWallet receives the platform fee share.
	PlatformWallet string
	// PlatformFeeBps is the platform fee in basis points of the price.
	PlatformFeeBps int64
	// ChallengeTTL is how long issued challenges stay valid.
	ChallengeTTL time.Duration
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() (ServerConfig, error) {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	feeBps := int64(getEnvInt("PLATFORM_FEE_BPS", 1000))
	if feeBps < 0 || feeBps > 10000 {
		return ServerConfig{}, fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000, got %d", feeBps)
	}

	decimals := getEnvInt("TOKEN_DECIMALS", 6)
	if decimals < 0 || decimals > 18 {
		return ServerConfig{}, fmt.Errorf("TOKEN_DECIMALS must be between 0 and 18, got %d", decimals)
	}

	ttl := time.Duration(getEnvInt("CHALLENGE_TTL_SECONDS", 300)) * time.Second
	if ttl <= 0 {
		ttl = 300 * time.Second
	}

	cfg := ServerConfig{
		Environment: env,
		Payment: PaymentConfig{
			RPCURL:         os.Getenv("RPC_URL"),
			Network:        getEnvString("CHAIN_NETWORK", "base-sepolia"),
			TokenAddress:   strings.ToLower(os.Getenv("TOKEN_ADDRESS")),
			TokenDecimals:  decimals,
			PlatformWallet: strings.ToLower(os.Getenv("PLATFORM_WALLET")),
			PlatformFeeBps: feeBps,
			ChallengeTTL:   ttl,
		},
		SigningKeyHex: os.Getenv("TOKEN_SIGNING_KEY"),
		LicensingURL:  os.Getenv("LICENSING_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}

	return cfg, nil
}

// getEnvString reads a string from an environment variable, returning the default if unset.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
