// Package config loads ingester configuration from environment variables
// and an optional .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/baseingest/ingester/internal/ingesterrors"
)

// Config holds all ingester configuration (§6).
type Config struct {
	RPCURL                   string
	PollInterval             time.Duration
	SafetyBufferBlocks       uint64
	ReorgRewindDepth         uint64
	StatsWindowBlocks        uint64
	ConcurrencyLimit         int
	DBPath                   string
	CatchupThresholdBlocks   uint64
	RetryMaxAttempts         int
	CircuitBreakerTimeout    time.Duration
	HealthAddr               string
	LogLevel                 string
	LogFormat                string
}

// Load reads configuration from a .env file (if present) and the process
// environment. RPC_URL is the only required setting; its absence is a
// FatalConfig error (§7).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, ingesterrors.FatalConfig("config.Load", "error loading .env file: "+err.Error())
	}

	rpcURL := getEnv("RPC_URL", "")
	if rpcURL == "" {
		return nil, ingesterrors.FatalConfig("config.Load", "RPC_URL is required")
	}

	cfg := &Config{
		RPCURL:                 rpcURL,
		PollInterval:           getEnvAsDuration("POLL_INTERVAL_MS", 2000*time.Millisecond, time.Millisecond),
		SafetyBufferBlocks:     getEnvAsUint64("SAFETY_BUFFER_BLOCKS", 3),
		ReorgRewindDepth:       getEnvAsUint64("REORG_REWIND_DEPTH", 10),
		StatsWindowBlocks:      getEnvAsUint64("STATS_WINDOW_BLOCKS", 100),
		ConcurrencyLimit:       getEnvAsInt("CONCURRENCY_LIMIT", 5),
		DBPath:                 getEnv("DB_PATH", "./data/base.db"),
		CatchupThresholdBlocks: getEnvAsUint64("CATCHUP_THRESHOLD_BLOCKS", 5),
		RetryMaxAttempts:       getEnvAsInt("RETRY_MAX_ATTEMPTS", 8),
		CircuitBreakerTimeout:  getEnvAsDuration("CIRCUIT_BREAKER_TIMEOUT_MS", 30000*time.Millisecond, time.Millisecond),
		HealthAddr:             getEnv("HEALTH_ADDR", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
	}

	if cfg.ConcurrencyLimit <= 0 {
		return nil, ingesterrors.FatalConfig("config.Load", "CONCURRENCY_LIMIT must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an integer count of unit from the environment
// (e.g. POLL_INTERVAL_MS is a millisecond count, not a Go duration
// literal, matching §6's table).
func getEnvAsDuration(key string, defaultValue time.Duration, unit time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return time.Duration(value) * unit
}
