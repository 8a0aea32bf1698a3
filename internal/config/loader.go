package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// EnvPrefix is prepended to every configuration key read from the environment.
const EnvPrefix = "SCHEDULER"

// ConfigFileEnv names an optional YAML/TOML/JSON file read before the environment.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config captures the configuration values for the scheduler service.
type Config struct {
	HTTPPort  int
	LogLevel  slog.Level
	LogFormat string

	Store       string
	SQLiteDSN   string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr string
	LockTTL   time.Duration
	AMQPURL   string
	AMQPQueue string

	Timezone         *time.Location
	BookingHorizon   time.Duration
	MinNotice        time.Duration
	SlotStep         time.Duration
	SlotHorizon      time.Duration
	MaxSuggestions   int
	LockTimeout      time.Duration
	ResourceCacheTTL time.Duration

	EventBuffer  int
	EventWorkers int

	RateLimitRPS   float64
	RateLimitBurst int
}

var defaults = map[string]any{
	"HTTP_PORT":          8080,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "json",
	"STORE":              StoreMemory,
	"SQLITE_DSN":         "file:scheduler.db?_pragma=foreign_keys(1)",
	"DATABASE_URL":       "",
	"DB_MAX_CONNS":       10,
	"DB_MIN_CONNS":       2,
	"REDIS_ADDR":         "",
	"LOCK_TTL":           "30s",
	"AMQP_URL":           "",
	"AMQP_QUEUE":         "booking.events",
	"TIMEZONE":           "UTC",
	"BOOKING_HORIZON":    "720h",
	"MIN_NOTICE":         "0s",
	"SLOT_STEP":          "15m",
	"SLOT_HORIZON":       "168h",
	"MAX_SUGGESTIONS":    5,
	"LOCK_TIMEOUT":       "2s",
	"RESOURCE_CACHE_TTL": "30s",
	"EVENT_BUFFER":       256,
	"EVENT_WORKERS":      2,
	"RATE_LIMIT_RPS":     50,
	"RATE_LIMIT_BURST":   100,
}

// Load reads configuration from an optional file named by
// SCHEDULER_CONFIG_FILE and then from SCHEDULER_* environment variables,
// which take precedence.
//
// Every invalid value is reported in one error so operators can fix the
// environment in a single pass.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file := strings.TrimSpace(os.Getenv(ConfigFileEnv)); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	p := parser{v: v}
	cfg := Config{
		HTTPPort:         p.positiveInt("HTTP_PORT"),
		LogLevel:         p.level("LOG_LEVEL"),
		LogFormat:        p.oneOf("LOG_FORMAT", "json", "text"),
		Store:            p.oneOf("STORE", StoreMemory, StoreSQLite, StorePostgres),
		SQLiteDSN:        p.str("SQLITE_DSN"),
		DatabaseURL:      p.str("DATABASE_URL"),
		DBMaxConns:       int32(p.positiveInt("DB_MAX_CONNS")),
		DBMinConns:       int32(p.nonNegativeInt("DB_MIN_CONNS")),
		RedisAddr:        p.str("REDIS_ADDR"),
		LockTTL:          p.positiveDuration("LOCK_TTL"),
		AMQPURL:          p.str("AMQP_URL"),
		AMQPQueue:        p.str("AMQP_QUEUE"),
		Timezone:         p.location("TIMEZONE"),
		BookingHorizon:   p.nonNegativeDuration("BOOKING_HORIZON"),
		MinNotice:        p.nonNegativeDuration("MIN_NOTICE"),
		SlotStep:         p.positiveDuration("SLOT_STEP"),
		SlotHorizon:      p.positiveDuration("SLOT_HORIZON"),
		MaxSuggestions:   p.nonNegativeInt("MAX_SUGGESTIONS"),
		LockTimeout:      p.positiveDuration("LOCK_TIMEOUT"),
		ResourceCacheTTL: p.nonNegativeDuration("RESOURCE_CACHE_TTL"),
		EventBuffer:      p.positiveInt("EVENT_BUFFER"),
		EventWorkers:     p.positiveInt("EVENT_WORKERS"),
		RateLimitRPS:     p.nonNegativeFloat("RATE_LIMIT_RPS"),
		RateLimitBurst:   p.nonNegativeInt("RATE_LIMIT_BURST"),
	}

	var missing []string
	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		missing = append(missing, EnvPrefix+"_DATABASE_URL")
	}
	if cfg.Store == StoreSQLite && cfg.SQLiteDSN == "" {
		missing = append(missing, EnvPrefix+"_SQLITE_DSN")
	}
	if cfg.DBMinConns > cfg.DBMaxConns && cfg.DBMaxConns > 0 {
		p.invalid = append(p.invalid, EnvPrefix+"_DB_MIN_CONNS")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configuration values: %s", strings.Join(missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

// Policy returns the admission policy described by the configuration.
func (c Config) Policy() scheduler.Policy {
	return scheduler.Policy{
		BookingHorizon: c.BookingHorizon,
		MinNotice:      c.MinNotice,
		SlotStep:       c.SlotStep,
		SlotHorizon:    c.SlotHorizon,
		MaxSuggestions: c.MaxSuggestions,
		LockTimeout:    c.LockTimeout,
	}
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// parser reads typed values and records the names of the invalid ones.
type parser struct {
	v       *viper.Viper
	invalid []string
}

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) fail(key string) {
	p.invalid = append(p.invalid, EnvPrefix+"_"+key)
}

func (p *parser) integer(key string, ok func(int) bool) int {
	n, err := strconv.Atoi(p.str(key))
	if err != nil || !ok(n) {
		p.fail(key)
		return 0
	}
	return n
}

func (p *parser) positiveInt(key string) int {
	return p.integer(key, func(n int) bool { return n > 0 })
}

func (p *parser) nonNegativeInt(key string) int {
	return p.integer(key, func(n int) bool { return n >= 0 })
}

func (p *parser) nonNegativeFloat(key string) float64 {
	f, err := strconv.ParseFloat(p.str(key), 64)
	if err != nil || f < 0 {
		p.fail(key)
		return 0
	}
	return f
}

func (p *parser) duration(key string, ok func(time.Duration) bool) time.Duration {
	d, err := time.ParseDuration(p.str(key))
	if err != nil || !ok(d) {
		p.fail(key)
		return 0
	}
	return d
}

func (p *parser) positiveDuration(key string) time.Duration {
	return p.duration(key, func(d time.Duration) bool { return d > 0 })
}

func (p *parser) nonNegativeDuration(key string) time.Duration {
	return p.duration(key, func(d time.Duration) bool { return d >= 0 })
}

func (p *parser) oneOf(key string, allowed ...string) string {
	value := strings.ToLower(p.str(key))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	p.fail(key)
	return ""
}

func (p *parser) level(key string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(p.str(key))); err != nil {
		p.fail(key)
		return slog.LevelInfo
	}
	return level
}

func (p *parser) location(key string) *time.Location {
	loc, err := time.LoadLocation(p.str(key))
	if err != nil {
		p.fail(key)
		return time.UTC
	}
	return loc
}
