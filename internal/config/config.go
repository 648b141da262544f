// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the worker process's configuration.
type Config struct {
	ForumAppID       string
	ForumAppSecret   string
	ForumUserAgent   string
	DatabasePath     string
	LogLevel         string
	WebhookURLPattern string
	PollIntervalMinutes int
	RetentionDays       int
	MetricsAddr         string
	HTTPTimeout         time.Duration
}

// Load reads configuration from environment variables, applying a
// documented default for every value that has one.
func Load() (*Config, error) {
	appID := os.Getenv("FORUM_APP_ID")
	if appID == "" {
		return nil, fmt.Errorf("FORUM_APP_ID is required")
	}
	appSecret := os.Getenv("FORUM_APP_SECRET")
	if appSecret == "" {
		return nil, fmt.Errorf("FORUM_APP_SECRET is required")
	}

	userAgent := os.Getenv("FORUM_USER_AGENT")
	if userAgent == "" {
		userAgent = "reddalert/1.0"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/reddalert.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	urlPattern := os.Getenv("WEBHOOK_URL_PATTERN")
	if urlPattern == "" {
		urlPattern = `^https://discord\.com/api/webhooks/\d+/[\w-]+$`
	}

	pollInterval, err := intEnvOrDefault("POLL_INTERVAL_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	if pollInterval < 5 || pollInterval > 1440 {
		return nil, fmt.Errorf("POLL_INTERVAL_MINUTES must be between 5 and 1440, got %d", pollInterval)
	}

	retentionDays, err := intEnvOrDefault("RETENTION_DAYS", 90)
	if err != nil {
		return nil, err
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}

	return &Config{
		ForumAppID:          appID,
		ForumAppSecret:      appSecret,
		ForumUserAgent:      userAgent,
		DatabasePath:        dbPath,
		LogLevel:            logLevel,
		WebhookURLPattern:   urlPattern,
		PollIntervalMinutes: pollInterval,
		RetentionDays:       retentionDays,
		MetricsAddr:         metricsAddr,
		HTTPTimeout:         15 * time.Second,
	}, nil
}

func intEnvOrDefault(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
