package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Databases
	ServerDBPath string
	AgentDBPath  string

	// Auth
	APIToken string
	UserID   string

	// Agent → server connection
	APIBaseURL string

	// Sync engine
	RefreshInterval time.Duration
	ProbeInterval   time.Duration

	// AMQP event publishing (optional: empty URL disables it)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Balance reconciliation
	ReconcileSchedule string

	// Rate limiting
	RateLimitPerMinute int

	// Logging
	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		ServerDBPath: getEnv("SERVER_DB_PATH", "./data/expenser.db"),
		AgentDBPath:  getEnv("AGENT_DB_PATH", "./data/agent.db"),

		APIToken:   getEnv("API_TOKEN", ""),
		UserID:     getEnv("USER_ID", "default"),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8081"),

		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 30*time.Second),
		ProbeInterval:   getEnvDuration("PROBE_INTERVAL", 10*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expenser"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expenser_events"),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1h"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 300),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate database paths
	for name, path := range map[string]string{"server": c.ServerDBPath, "agent": c.AgentDBPath} {
		if path == "" {
			errors = append(errors, fmt.Sprintf("%s database path cannot be empty", name))
			continue
		}
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create %s database directory '%s': %v", name, dir, err))
				}
			}
		}
	}

	// Validate API base URL
	if parsedURL, err := url.Parse(c.APIBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate sync intervals
	if c.RefreshInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at least 1 second", c.RefreshInterval))
	} else if c.RefreshInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at most 24 hours", c.RefreshInterval))
	}

	if c.ProbeInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid probe interval %v: must be at least 1 second", c.ProbeInterval))
	} else if c.ProbeInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid probe interval %v: must be at most 1 hour", c.ProbeInterval))
	}

	// Validate reconcile schedule (cron spec or @every duration)
	if c.ReconcileSchedule == "" {
		errors = append(errors, "reconcile schedule cannot be empty")
	}

	// Validate rate limit
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	// Validate log level
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
