package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks the configuration for values that would break the
// server at runtime.
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "port is required")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("invalid port: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("port must be between 1 and 65535, got %d", port))
		}
	}

	if c.RegistryDatabasePath == "" {
		errors = append(errors, "registry database path is required")
	}

	if c.MaxOpenConns < 1 {
		errors = append(errors, "max open connections must be at least 1")
	}
	if c.MaxIdleConns < 1 {
		errors = append(errors, "max idle connections must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		errors = append(errors, "max idle connections cannot be greater than max open connections")
	}
	if c.ConnMaxLifetime < time.Second {
		errors = append(errors, "connection max lifetime must be at least 1 second")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if c.LogLevel != "" {
		valid := false
		logLevelUpper := strings.ToUpper(c.LogLevel)
		for _, level := range validLogLevels {
			if logLevelUpper == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level: %s (valid: %s)",
				c.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	// Thresholds partition the score range; they must stay ordered.
	if c.HighThreshold <= 0 || c.HighThreshold > 1 {
		errors = append(errors, "high threshold must be in (0, 1]")
	}
	if c.MediumThreshold <= 0 || c.MediumThreshold >= c.HighThreshold {
		errors = append(errors, "medium threshold must be positive and below high threshold")
	}
	if c.LowThreshold <= 0 || c.LowThreshold >= c.MediumThreshold {
		errors = append(errors, "low threshold must be positive and below medium threshold")
	}

	if c.Workers < 1 {
		errors = append(errors, "workers must be at least 1")
	}
	if c.EventsBufferSize < 1 {
		errors = append(errors, "events buffer size must be at least 1")
	}

	if c.RateLimitPerSecond <= 0 {
		errors = append(errors, "rate limit per second must be positive")
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, "rate limit burst must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// GetDefaults returns a configuration with default values.
func GetDefaults() *Config {
	return &Config{
		Port:                 "9999",
		RegistryDatabasePath: "registry.db",
		MaxOpenConns:         10,
		MaxIdleConns:         3,
		ConnMaxLifetime:      5 * time.Minute,
		LogLevel:             "INFO",
		HighThreshold:        0.8,
		MediumThreshold:      0.6,
		LowThreshold:         0.5,
		Workers:              4,
		EventsBufferSize:     100,
		RateLimitPerSecond:   50,
		RateLimitBurst:       100,
	}
}
