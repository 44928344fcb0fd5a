package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the server configuration, loaded from the environment.
type Config struct {
	// Server
	Port string `json:"port"`

	// Registry database
	RegistryDatabasePath string `json:"registry_database_path"`

	// Connection pooling
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`

	// Logging
	LogLevel string `json:"log_level"`

	// Matching
	AbbreviationTablePath string  `json:"abbreviation_table_path"`
	HighThreshold         float64 `json:"high_threshold"`
	MediumThreshold       float64 `json:"medium_threshold"`
	LowThreshold          float64 `json:"low_threshold"`

	// Lot processing
	Workers          int `json:"workers"`
	EventsBufferSize int `json:"events_buffer_size"`

	// Request throttling
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`
}

// LoadConfig reads the configuration from environment variables,
// falling back to defaults for anything unset.
func LoadConfig() (*Config, error) {
	config := &Config{
		Port: getEnv("SERVER_PORT", "9999"),

		RegistryDatabasePath: getEnv("REGISTRY_DATABASE_PATH", "registry.db"),

		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 3),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		AbbreviationTablePath: os.Getenv("ABBREVIATION_TABLE_PATH"),
		HighThreshold:         getEnvFloat("MATCH_HIGH_THRESHOLD", 0.8),
		MediumThreshold:       getEnvFloat("MATCH_MEDIUM_THRESHOLD", 0.6),
		LowThreshold:          getEnvFloat("MATCH_LOW_THRESHOLD", 0.5),

		Workers:          getEnvInt("LOT_WORKERS", 4),
		EventsBufferSize: getEnvInt("EVENTS_BUFFER_SIZE", 100),

		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 50),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
