package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"weeklytotals/internal/log"
)

// Replica backends.
const (
	BackendMemory = "memory"
	BackendSheets = "sheets"
)

var validBackends = []string{BackendMemory, BackendSheets}

type Config struct {
	// HTTP Server
	Port           string
	RateLimitRPS   float64
	RateLimitBurst int

	// Database
	SQLiteDBPath string

	// Replica
	ReplicaBackend     string
	PushTimeout        time.Duration
	SheetsPollInterval time.Duration
	DeviceID           string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// AMQP change notices; an empty URL disables them
	AMQPURL      string
	AMQPExchange string

	// Rollover
	RolloverCheckInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/weeklytotals.db"),

		ReplicaBackend:     getEnv("REPLICA_BACKEND", BackendMemory),
		PushTimeout:        getEnvDuration("PUSH_TIMEOUT", 10*time.Second),
		SheetsPollInterval: getEnvDuration("SHEETS_POLL_INTERVAL", 15*time.Second),
		DeviceID:           getEnv("DEVICE_ID", defaultDeviceID()),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "weeklytotals"),

		RolloverCheckInterval: getEnvDuration("ROLLOVER_CHECK_INTERVAL", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// defaultDeviceID is the host name, or a random id when it is unavailable.
func defaultDeviceID() string {
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		return host
	}
	return uuid.NewString()
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitRPS <= 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: must be positive", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if !slices.Contains(validBackends, c.ReplicaBackend) {
		errors = append(errors, fmt.Sprintf("invalid replica backend '%s': must be one of %v", c.ReplicaBackend, validBackends))
	}

	if c.ReplicaBackend == BackendSheets {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
		if c.SheetsPollInterval < time.Second {
			errors = append(errors, fmt.Sprintf("invalid sheets poll interval %v: must be at least 1 second", c.SheetsPollInterval))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if strings.TrimSpace(c.DeviceID) == "" {
		errors = append(errors, "device id cannot be empty")
	}

	if c.PushTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid push timeout %v: must be positive", c.PushTimeout))
	} else if c.PushTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid push timeout %v: must be at most 5 minutes", c.PushTimeout))
	}

	if c.RolloverCheckInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rollover check interval %v: must be at least 1 second", c.RolloverCheckInterval))
	} else if c.RolloverCheckInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rollover check interval %v: must be at most 1 hour", c.RolloverCheckInterval))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
