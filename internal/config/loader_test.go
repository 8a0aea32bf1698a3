package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		name := EnvPrefix + "_" + key
		t.Setenv(name, "")
		if err := os.Unsetenv(name); err != nil {
			t.Fatalf("failed to unset %s: %v", name, err)
		}
	}
	t.Setenv(ConfigFileEnv, "")
	if err := os.Unsetenv(ConfigFileEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", ConfigFileEnv, err)
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StoreMemory {
			t.Fatalf("expected memory store, got %q", cfg.Store)
		}
		if cfg.SQLiteDSN != "file:scheduler.db?_pragma=foreign_keys(1)" {
			t.Fatalf("unexpected default DSN: %q", cfg.SQLiteDSN)
		}
		if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
			t.Fatalf("unexpected logging defaults: %v %q", cfg.LogLevel, cfg.LogFormat)
		}
		if cfg.Timezone != time.UTC {
			t.Fatalf("expected UTC, got %v", cfg.Timezone)
		}

		policy := cfg.Policy()
		if policy.BookingHorizon != 720*time.Hour || policy.SlotStep != 15*time.Minute || policy.SlotHorizon != 168*time.Hour {
			t.Fatalf("unexpected policy defaults: %+v", policy)
		}
		if policy.MaxSuggestions != 5 || policy.LockTimeout != 2*time.Second || policy.MinNotice != 0 {
			t.Fatalf("unexpected policy defaults: %+v", policy)
		}
		if cfg.EventBuffer != 256 || cfg.EventWorkers != 2 || cfg.RateLimitRPS != 50 || cfg.RateLimitBurst != 100 {
			t.Fatalf("unexpected sizing defaults: %+v", cfg)
		}
		if cfg.AMQPQueue != "booking.events" || cfg.LockTTL != 30*time.Second || cfg.ResourceCacheTTL != 30*time.Second {
			t.Fatalf("unexpected integration defaults: %+v", cfg)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_STORE", "postgres")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "missing required configuration values: SCHEDULER_DATABASE_URL"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("reports every invalid value together", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "-1")
		t.Setenv("SCHEDULER_STORE", "mongo")
		t.Setenv("SCHEDULER_SLOT_STEP", "often")
		t.Setenv("SCHEDULER_TIMEZONE", "Mars/Olympus")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "invalid configuration values: SCHEDULER_HTTP_PORT, SCHEDULER_STORE, SCHEDULER_TIMEZONE, SCHEDULER_SLOT_STEP"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "9090")
		t.Setenv("SCHEDULER_STORE", "SQLite")
		t.Setenv("SCHEDULER_SQLITE_DSN", "file:/tmp/scheduler.db")
		t.Setenv("SCHEDULER_MIN_NOTICE", "2h")
		t.Setenv("SCHEDULER_MAX_SUGGESTIONS", "3")
		t.Setenv("SCHEDULER_LOG_LEVEL", "debug")
		t.Setenv("SCHEDULER_RATE_LIMIT_RPS", "2.5")
		t.Setenv("SCHEDULER_TIMEZONE", "Europe/London")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 || cfg.Addr() != ":9090" {
			t.Fatalf("expected HTTP port 9090, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StoreSQLite || cfg.SQLiteDSN != "file:/tmp/scheduler.db" {
			t.Fatalf("unexpected store settings: %q %q", cfg.Store, cfg.SQLiteDSN)
		}
		if cfg.MinNotice != 2*time.Hour || cfg.MaxSuggestions != 3 {
			t.Fatalf("unexpected policy values: %v %d", cfg.MinNotice, cfg.MaxSuggestions)
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("expected debug level, got %v", cfg.LogLevel)
		}
		if cfg.RateLimitRPS != 2.5 {
			t.Fatalf("expected 2.5 rps, got %v", cfg.RateLimitRPS)
		}
		if cfg.Timezone.String() != "Europe/London" {
			t.Fatalf("unexpected timezone %v", cfg.Timezone)
		}
	})

	t.Run("reads a config file and lets the environment win", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "scheduler.yaml")
		content := "http_port: 7070\nslot_step: 30m\nredis_addr: localhost:6379\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config file: %v", err)
		}
		t.Setenv(ConfigFileEnv, path)
		t.Setenv("SCHEDULER_SLOT_STEP", "5m")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 7070 {
			t.Fatalf("expected port from file, got %d", cfg.HTTPPort)
		}
		if cfg.SlotStep != 5*time.Minute {
			t.Fatalf("expected environment to override file, got %v", cfg.SlotStep)
		}
		if cfg.RedisAddr != "localhost:6379" {
			t.Fatalf("unexpected redis addr %q", cfg.RedisAddr)
		}
	})

	t.Run("missing config file is an error", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}
