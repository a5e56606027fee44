package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "AUDIT_JOURNAL_PATH", "EVENT_BUFFER",
		"EXPIRATION_INTERVAL", "SETTLEMENT_TIMEOUT", "SETTLEMENT_QUEUE_SIZE",
		"WEBHOOK_TIMEOUT", "WEBHOOK_MAX_ELAPSED", "READ_TIMEOUT",
		"WRITE_TIMEOUT", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.AuditJournalPath != "data/audit" {
		t.Errorf("AuditJournalPath = %q, want %q", cfg.AuditJournalPath, "data/audit")
	}
	if cfg.EventBuffer != 1024 {
		t.Errorf("EventBuffer = %d, want 1024", cfg.EventBuffer)
	}
	if cfg.ExpirationInterval != 1*time.Second {
		t.Errorf("ExpirationInterval = %v, want 1s", cfg.ExpirationInterval)
	}
	if cfg.SettlementTimeout != 10*time.Second {
		t.Errorf("SettlementTimeout = %v, want 10s", cfg.SettlementTimeout)
	}
	if cfg.SettlementQueueSize != 4096 {
		t.Errorf("SettlementQueueSize = %d, want 4096", cfg.SettlementQueueSize)
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Errorf("WebhookTimeout = %v, want 5s", cfg.WebhookTimeout)
	}
	if cfg.WebhookMaxElapsed != 1*time.Minute {
		t.Errorf("WebhookMaxElapsed = %v, want 1m", cfg.WebhookMaxElapsed)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("AUDIT_JOURNAL_PATH", "/var/lib/tokex/audit")
	t.Setenv("EVENT_BUFFER", "256")
	t.Setenv("EXPIRATION_INTERVAL", "500ms")
	t.Setenv("SETTLEMENT_TIMEOUT", "3s")
	t.Setenv("SETTLEMENT_QUEUE_SIZE", "128")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("WEBHOOK_MAX_ELAPSED", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.AuditJournalPath != "/var/lib/tokex/audit" {
		t.Errorf("AuditJournalPath = %q, want %q", cfg.AuditJournalPath, "/var/lib/tokex/audit")
	}
	if cfg.EventBuffer != 256 {
		t.Errorf("EventBuffer = %d, want 256", cfg.EventBuffer)
	}
	if cfg.ExpirationInterval != 500*time.Millisecond {
		t.Errorf("ExpirationInterval = %v, want 500ms", cfg.ExpirationInterval)
	}
	if cfg.SettlementTimeout != 3*time.Second {
		t.Errorf("SettlementTimeout = %v, want 3s", cfg.SettlementTimeout)
	}
	if cfg.SettlementQueueSize != 128 {
		t.Errorf("SettlementQueueSize = %d, want 128", cfg.SettlementQueueSize)
	}
	if cfg.WebhookMaxElapsed != 30*time.Second {
		t.Errorf("WebhookMaxElapsed = %v, want 30s", cfg.WebhookMaxElapsed)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL")
	}
}

func TestLoad_InvalidBufferSizes(t *testing.T) {
	for _, key := range []string{"EVENT_BUFFER", "SETTLEMENT_QUEUE_SIZE"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "0")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s = 0", key)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	keys := []string{
		"EXPIRATION_INTERVAL", "SETTLEMENT_TIMEOUT", "WEBHOOK_TIMEOUT",
		"WEBHOOK_MAX_ELAPSED", "READ_TIMEOUT", "WRITE_TIMEOUT",
		"IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}
