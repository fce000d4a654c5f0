// Package config loads the application configuration and the dictionary
// seed files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/schedule"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// AppConfig holds all application configuration.
type AppConfig struct {
	Store     StoreConfig     `yaml:"store"`
	Matching  MatchingConfig  `yaml:"matching"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Retention RetentionConfig `yaml:"retention"`
	NATS      NATSConfig      `yaml:"nats"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
}

// StoreConfig selects and configures the persistence layer.
type StoreConfig struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	DSN         string        `yaml:"dsn"`
	MaxConns    int32         `yaml:"max_conns"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// MatchingConfig configures the tagger.
type MatchingConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	RematchWindow time.Duration `yaml:"rematch_window"`
	GenericTerms  []string      `yaml:"generic_terms"`
}

// AnalyticsConfig configures aggregation and reads.
type AnalyticsConfig struct {
	Timezone       string        `yaml:"timezone"`
	TopK           int           `yaml:"top_k"`
	LiveWindow     time.Duration `yaml:"live_window"`
	Concurrency    int           `yaml:"concurrency"`
	HourlyLookback int           `yaml:"hourly_lookback"`
}

// ScheduleConfig holds cron specs of the default tasks. Empty disables
// the cron entry.
type ScheduleConfig struct {
	Match           string `yaml:"match"`
	AggregateHourly string `yaml:"aggregate_hourly"`
	AggregateDaily  string `yaml:"aggregate_daily"`
	Retention       string `yaml:"retention"`
}

// RetentionConfig configures message cleanup.
type RetentionConfig struct {
	HistoryDays int `yaml:"history_days"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CorsOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults returns the configuration used for every field a file or the
// environment leaves unset.
func Defaults() AppConfig {
	return AppConfig{
		Store: StoreConfig{
			Driver:      DriverSQLite,
			Path:        "./tagstream.db",
			MaxConns:    10,
			MaxLifetime: 5 * time.Minute,
		},
		Matching: MatchingConfig{
			Concurrency:   4,
			RematchWindow: 2 * time.Hour,
		},
		Analytics: AnalyticsConfig{
			Timezone:       "UTC",
			TopK:           10,
			LiveWindow:     time.Hour,
			Concurrency:    4,
			HourlyLookback: 1,
		},
		Schedule: ScheduleConfig{
			Match:           "*/5 * * * *",
			AggregateHourly: "2 * * * *",
			AggregateDaily:  "10 0 * * *",
			Retention:       "30 3 * * *",
		},
		Retention: RetentionConfig{HistoryDays: 15},
		NATS: NATSConfig{
			SubjectPrefix: "tagstream",
			MaxReconnects: 10,
			ReconnectWait: time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			CorsOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads a .env file when present, then the YAML file at path over
// Defaults, then TAGSTREAM_* environment overrides, and validates the
// result. An empty path skips the YAML step.
func Load(path string) (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Path returns the config file path from TAGSTREAM_CONFIG, or def.
func Path(def string) string {
	if p := os.Getenv("TAGSTREAM_CONFIG"); p != "" {
		return p
	}
	return def
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from TAGSTREAM_* variables.
func applyEnv(cfg *AppConfig, lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.str("TAGSTREAM_STORE_DRIVER", &cfg.Store.Driver)
	e.str("TAGSTREAM_STORE_PATH", &cfg.Store.Path)
	e.str("TAGSTREAM_STORE_DSN", &cfg.Store.DSN)
	e.int32("TAGSTREAM_STORE_MAX_CONNS", &cfg.Store.MaxConns)
	e.int("TAGSTREAM_MATCHING_CONCURRENCY", &cfg.Matching.Concurrency)
	e.duration("TAGSTREAM_MATCHING_REMATCH_WINDOW", &cfg.Matching.RematchWindow)
	e.list("TAGSTREAM_MATCHING_GENERIC_TERMS", &cfg.Matching.GenericTerms)
	e.str("TAGSTREAM_ANALYTICS_TIMEZONE", &cfg.Analytics.Timezone)
	e.int("TAGSTREAM_ANALYTICS_TOP_K", &cfg.Analytics.TopK)
	e.duration("TAGSTREAM_ANALYTICS_LIVE_WINDOW", &cfg.Analytics.LiveWindow)
	e.int("TAGSTREAM_ANALYTICS_CONCURRENCY", &cfg.Analytics.Concurrency)
	e.str("TAGSTREAM_SCHEDULE_MATCH", &cfg.Schedule.Match)
	e.str("TAGSTREAM_SCHEDULE_AGGREGATE_HOURLY", &cfg.Schedule.AggregateHourly)
	e.str("TAGSTREAM_SCHEDULE_AGGREGATE_DAILY", &cfg.Schedule.AggregateDaily)
	e.str("TAGSTREAM_SCHEDULE_RETENTION", &cfg.Schedule.Retention)
	e.int("TAGSTREAM_RETENTION_HISTORY_DAYS", &cfg.Retention.HistoryDays)
	e.str("TAGSTREAM_NATS_URL", &cfg.NATS.URL)
	e.str("TAGSTREAM_NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix)
	e.str("TAGSTREAM_SERVER_ADDR", &cfg.Server.Addr)
	e.list("TAGSTREAM_SERVER_CORS_ORIGINS", &cfg.Server.CorsOrigins)
	e.str("TAGSTREAM_LOG_LEVEL", &cfg.LogLevel)
	return e.err
}

type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("%s=%q: %v: %w", key, v, err, internalerr.ErrInvalidConfig)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int32(key string, dst *int32) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = int32(n)
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

// Validate checks the fields other components cannot start without.
func (c AppConfig) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return invalid("store.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn is required for postgres")
		}
	case DriverMemory:
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Analytics.TopK <= 0 {
		return invalid("analytics.top_k must be positive, got %d", c.Analytics.TopK)
	}
	if c.Retention.HistoryDays < 0 {
		return invalid("retention.history_days must not be negative")
	}

	for name, spec := range map[string]string{
		"match":            c.Schedule.Match,
		"aggregate_hourly": c.Schedule.AggregateHourly,
		"aggregate_daily":  c.Schedule.AggregateDaily,
		"retention":        c.Schedule.Retention,
	} {
		if err := schedule.ValidateSpec(spec); err != nil {
			return invalid("schedule.%s: %v", name, err)
		}
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Location resolves analytics.timezone.
func (c AppConfig) Location() (*time.Location, error) {
	tz := c.Analytics.Timezone
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, invalid("invalid timezone %q: %v", tz, err)
	}
	return loc, nil
}

// ScheduleSpecs converts the schedule section for the scheduler.
func (c AppConfig) ScheduleSpecs() schedule.Specs {
	return schedule.Specs{
		Match:           c.Schedule.Match,
		AggregateHourly: c.Schedule.AggregateHourly,
		AggregateDaily:  c.Schedule.AggregateDaily,
		Retention:       c.Schedule.Retention,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), internalerr.ErrInvalidConfig)
}
