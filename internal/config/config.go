// Package config loads server and tooling configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, a .env
// file in the working directory, process environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Cache       CacheConfig       `yaml:"cache"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics"`
}

type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	SQLitePath      string        `yaml:"sqlite_path"`
	PostgresDSN     string        `yaml:"postgres_dsn"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

type IdempotencyConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Lease         time.Duration `yaml:"lease"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type CacheConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	NearExpiry     time.Duration `yaml:"near_expiry"`
	Capacity       int           `yaml:"capacity"`
	RefreshWorkers int           `yaml:"refresh_workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			Metrics:         true,
		},
		Storage: StorageConfig{
			Driver:          DriverSQLite,
			SQLitePath:      "./data/ledger.db",
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Idempotency: IdempotencyConfig{
			TTL:           24 * time.Hour,
			Lease:         2 * time.Minute,
			PurgeInterval: 24 * time.Hour,
		},
		Cache: CacheConfig{
			TTL:            30 * time.Second,
			NearExpiry:     2 * time.Second,
			Capacity:       4096,
			RefreshWorkers: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Start with defaults, YAML overwrites only specified fields
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnvString("SPLITLEDGER_ADDR", c.Server.Addr)
	if origins := os.Getenv("SPLITLEDGER_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	c.Server.Metrics = getEnvBool("SPLITLEDGER_METRICS", c.Server.Metrics)

	c.Storage.Driver = getEnvString("SPLITLEDGER_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.SQLitePath = getEnvString("DB_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresDSN = getEnvString("DATABASE_URL", c.Storage.PostgresDSN)
	c.Storage.MaxConns = getEnvInt("DB_MAX_CONNS", c.Storage.MaxConns)
	c.Storage.MinConns = getEnvInt("DB_MIN_CONNS", c.Storage.MinConns)

	c.Auth.JWTSecret = getEnvString("JWT_SECRET", c.Auth.JWTSecret)

	c.Cache.Capacity = getEnvInt("SPLITLEDGER_CACHE_CAPACITY", c.Cache.Capacity)
	c.Cache.RefreshWorkers = getEnvInt("SPLITLEDGER_CACHE_REFRESH_WORKERS", c.Cache.RefreshWorkers)

	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvString("LOG_FORMAT", c.Log.Format)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SPLITLEDGER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"DB_CONN_MAX_LIFETIME", &c.Storage.ConnMaxLifetime},
		{"JWT_TOKEN_DURATION", &c.Auth.TokenDuration},
		{"IDEMPOTENCY_TTL", &c.Idempotency.TTL},
		{"IDEMPOTENCY_LEASE", &c.Idempotency.Lease},
		{"IDEMPOTENCY_PURGE_INTERVAL", &c.Idempotency.PurgeInterval},
		{"CACHE_TTL", &c.Cache.TTL},
		{"CACHE_NEAR_EXPIRY", &c.Cache.NearExpiry},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
		if c.Storage.MaxConns <= 0 || c.Storage.MinConns < 0 || c.Storage.MinConns > c.Storage.MaxConns {
			errs = append(errs, fmt.Errorf("invalid postgres pool size min=%d max=%d", c.Storage.MinConns, c.Storage.MaxConns))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	positive := []struct {
		name string
		v    time.Duration
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"storage.conn_max_lifetime", c.Storage.ConnMaxLifetime},
		{"auth.token_duration", c.Auth.TokenDuration},
		{"idempotency.ttl", c.Idempotency.TTL},
		{"idempotency.lease", c.Idempotency.Lease},
		{"idempotency.purge_interval", c.Idempotency.PurgeInterval},
		{"cache.ttl", c.Cache.TTL},
		{"cache.near_expiry", c.Cache.NearExpiry},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.v))
		}
	}
	if c.Cache.NearExpiry >= c.Cache.TTL {
		errs = append(errs, errors.New("cache.near_expiry must be shorter than cache.ttl"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be positive"))
	}
	if c.Cache.RefreshWorkers <= 0 {
		errs = append(errs, errors.New("cache.refresh_workers must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
