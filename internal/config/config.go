// Package config provides environment-driven configuration for the client.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// Backend endpoints
	APIBaseURL string // REST base URL
	WSURL      string // WebSocket endpoint

	// Request settings
	RequestTimeout time.Duration

	// Realtime settings
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// Credential store
	CredPath       string // override for the credential file location
	CredPassphrase string // non-empty enables at-rest sealing

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		APIBaseURL:     getEnv("SANGAM_API_URL", "https://api.sangamlink.example"),
		WSURL:          getEnv("SANGAM_WS_URL", "wss://api.sangamlink.example/ws"),
		RequestTimeout: time.Duration(getEnvInt("SANGAM_REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
		PingInterval:   time.Duration(getEnvInt("SANGAM_WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("SANGAM_WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("SANGAM_WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		CredPath:       getEnv("SANGAM_CRED_PATH", ""),
		CredPassphrase: getEnv("SANGAM_CRED_PASSPHRASE", ""),
		LogLevel:       getEnv("SANGAM_LOG_LEVEL", "info"),
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
