/*
config.go - Environment-driven configuration for the settlement engine

SOURCES (later wins):
  1. Built-in defaults
  2. .env / .env.dev in the working directory (godotenv)
  3. Process environment
  4. Command-line flags in cmd/server
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the runtime configuration of the server.
type Config struct {
	Port     int
	DBPath   string
	LogLevel string

	// RedisAddr selects the distributed worker lock. Empty means in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	CommitMaxRetries int
	CommitRetryDelay time.Duration
	CalcConcurrency  int

	CORSOrigins []string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port:             GetEnvInt("PORT", 8080),
		DBPath:           GetEnv("DB_PATH", ":memory:"),
		LogLevel:         GetEnv("LOG_LEVEL", "info"),
		RedisAddr:        GetEnv("REDIS_ADDR", ""),
		RedisPassword:    GetEnv("REDIS_PASSWORD", ""),
		RedisDB:          GetEnvInt("REDIS_DB", 0),
		LockTTL:          GetEnvDuration("LOCK_TTL", 30*time.Second),
		CommitMaxRetries: GetEnvInt("COMMIT_MAX_RETRIES", 3),
		CommitRetryDelay: GetEnvDuration("COMMIT_RETRY_DELAY", 20*time.Millisecond),
		CalcConcurrency:  GetEnvInt("CALC_CONCURRENCY", 8),
		CORSOrigins:      GetEnvList("CORS_ORIGINS", []string{"*"}),
	}
}

// LoadEnv loads environment variables from .env files when present.
func LoadEnv(logger logrus.FieldLogger) {
	files := []string{".env", ".env.dev"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No local env files loaded; relying on process environment")
	} else {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable with a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDuration parses values such as "250ms" or "30s".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvList splits a comma-separated variable, dropping empty items.
func GetEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// ParseLogLevel maps a level name onto logrus, defaulting to info.
func ParseLogLevel(name string) logrus.Level {
	switch strings.ToLower(name) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
