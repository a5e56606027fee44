package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port                int
	LogLevel            string
	AuditJournalPath    string
	EventBuffer         int
	ExpirationInterval  time.Duration
	SettlementTimeout   time.Duration
	SettlementQueueSize int
	WebhookTimeout      time.Duration
	WebhookMaxElapsed   time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	ShutdownTimeout     time.Duration
}

// Load reads configuration from environment variables, applies
// defaults, and validates values. It returns an error for any invalid
// value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	// Empty path disables the on-disk audit journal.
	journalPath := getStr("AUDIT_JOURNAL_PATH", "data/audit")

	eventBuffer, err := getInt("EVENT_BUFFER", 1024)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_BUFFER: %w", err)
	}
	if eventBuffer < 1 {
		return nil, fmt.Errorf("invalid EVENT_BUFFER: must be at least 1")
	}

	expirationInterval, err := getDuration("EXPIRATION_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRATION_INTERVAL: %w", err)
	}

	settlementTimeout, err := getDuration("SETTLEMENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_TIMEOUT: %w", err)
	}

	settlementQueueSize, err := getInt("SETTLEMENT_QUEUE_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_QUEUE_SIZE: %w", err)
	}
	if settlementQueueSize < 1 {
		return nil, fmt.Errorf("invalid SETTLEMENT_QUEUE_SIZE: must be at least 1")
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	webhookMaxElapsed, err := getDuration("WEBHOOK_MAX_ELAPSED", 1*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_MAX_ELAPSED: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:                port,
		LogLevel:            logLevel,
		AuditJournalPath:    journalPath,
		EventBuffer:         eventBuffer,
		ExpirationInterval:  expirationInterval,
		SettlementTimeout:   settlementTimeout,
		SettlementQueueSize: settlementQueueSize,
		WebhookTimeout:      webhookTimeout,
		WebhookMaxElapsed:   webhookMaxElapsed,
		ReadTimeout:         readTimeout,
		WriteTimeout:        writeTimeout,
		IdleTimeout:         idleTimeout,
		ShutdownTimeout:     shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
