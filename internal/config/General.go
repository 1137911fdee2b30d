package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// NodeRPC is the JSON-RPC endpoint of the target EVM node.
	NodeRPC string

	// ChainID is the chain ID of the target network.
	ChainID int64

	// ExecutorKeyHex is the hex-encoded private key used to sign execution
	// transactions toward owner smart accounts. Loaded without the 0x prefix.
	ExecutorKeyHex string

	// WebPort is the port the HTTP API and dashboard listen on.
	WebPort string

	// SnapshotCron is the cron expression for the periodic snapshot pass.
	SnapshotCron string

	// GasLimitCeiling caps the gas limit used for dispatched batches when
	// estimation fails or comes back above it.
	GasLimitCeiling uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables without a documented default are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	NodeRPC, err = getEnv("NODE_RPC_URL")
	if err != nil {
		return err
	}

	ChainID, err = getEnvAsInt64("CHAIN_ID")
	if err != nil {
		return err
	}

	ExecutorKeyHex, err = getEnv("EXECUTOR_PRIVATE_KEY")
	if err != nil {
		return err
	}
	ExecutorKeyHex = strings.TrimPrefix(ExecutorKeyHex, "0x")

	GasLimitCeiling, err = getEnvAsUint64("GAS_LIMIT_CEILING")
	if err != nil {
		return err
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	SnapshotCron = os.Getenv("SNAPSHOT_CRON")
	if SnapshotCron == "" {
		// Matches the engine's minimum snapshot spacing.
		SnapshotCron = "5 */6 * * *"
	}

	log.Debug().
		Str("NodeRPC", NodeRPC).
		Int64("ChainID", ChainID).
		Str("WebPort", WebPort).
		Str("SnapshotCron", SnapshotCron).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64 retrieves an environment variable as an int64. Returns error if not set or invalid.
func getEnvAsInt64(key string) (int64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}
