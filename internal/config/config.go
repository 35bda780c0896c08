// Package config provides configuration for the broker.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the broker configuration.
type Config struct {
	// Server settings
	RPCPort  int
	HTTPPort int

	// Database
	DatabaseURL string

	// Resilience
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	RetryAttempts           int
	RetryBaseDelay          time.Duration
	ToolTimeout             time.Duration

	// Failure injection
	ChaosDelay       time.Duration
	ChaosFail        bool
	ChaosFailureRate float64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		RPCPort:                 getEnvInt("RPC_PORT", 3457),
		HTTPPort:                getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:             getEnv("DATABASE_URL", "file:agentmesh.db?cache=shared&mode=rwc"),
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  time.Duration(getEnvInt("BREAKER_RECOVERY_TIMEOUT_MS", 30000)) * time.Millisecond,
		RetryAttempts:           getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:          time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		ToolTimeout:             time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 60000)) * time.Millisecond,
		ChaosDelay:              time.Duration(getEnvInt("CHAOS_DELAY_MS", 0)) * time.Millisecond,
		ChaosFail:               getEnvBool("CHAOS_FAIL", false),
		ChaosFailureRate:        getEnvFloat("CHAOS_FAILURE_RATE", 0),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
