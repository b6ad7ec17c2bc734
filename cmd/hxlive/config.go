package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pthm/hxlive"
	"github.com/pthm/hxlive/lib/cache"
	"github.com/pthm/hxlive/lib/sqlstore"
	"gopkg.in/yaml.v3"
)

const secretEnv = "HXLIVE_SECRET"

// Config is the serve command's YAML configuration.
type Config struct {
	Addr     string         `yaml:"addr"`
	Secret   string         `yaml:"secret"`
	Prefix   string         `yaml:"prefix"`
	MaxBody  int64          `yaml:"max_body"`
	Cache    CacheConfig    `yaml:"cache"`
	Serial   SerialConfig   `yaml:"serial"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// CacheConfig selects the backend for component trees and queues.
type CacheConfig struct {
	Backend  string        `yaml:"backend"` // "memory" | "redis"
	Size     int           `yaml:"size,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
	NearSize int           `yaml:"near_size,omitempty"`
	Redis    RedisConfig   `yaml:"redis,omitempty"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// SerialConfig enables the per-component message queue.
type SerialConfig struct {
	Enabled bool          `yaml:"enabled"`
	Mode    string        `yaml:"mode"`  // "return" | "block"
	Merge   string        `yaml:"merge"` // "first" | "last"
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig locates the todo table.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" | "postgres"
	DSN    string `yaml:"dsn"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Addr:    ":8080",
		Prefix:  "/live/",
		MaxBody: 1 << 20,
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Serial: SerialConfig{
			Mode:    "return",
			Merge:   "first",
			Timeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:hxlive.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path yields the
// defaults. HXLIVE_SECRET overrides the configured secret.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if s := os.Getenv(secretEnv); s != "" {
		cfg.Secret = s
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, fmt.Errorf("secret is required (set it in the config or %s)", secretEnv))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if _, err := c.serialMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.mergePolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.dialect(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) serialMode() (hxlive.SerialMode, error) {
	switch c.Serial.Mode {
	case "", "return":
		return hxlive.SerialReturn, nil
	case "block":
		return hxlive.SerialBlock, nil
	}
	return 0, fmt.Errorf("unknown serial mode %q", c.Serial.Mode)
}

func (c *Config) mergePolicy() (hxlive.MergePolicy, error) {
	switch c.Serial.Merge {
	case "", "first":
		return hxlive.MergeKeepFirstData, nil
	case "last":
		return hxlive.MergeKeepLastData, nil
	}
	return 0, fmt.Errorf("unknown serial merge policy %q", c.Serial.Merge)
}

func (c *Config) dialect() (sqlstore.Dialect, error) {
	switch c.Database.Driver {
	case "sqlite":
		return sqlstore.SQLite, nil
	case "postgres":
		return sqlstore.Postgres, nil
	}
	return 0, fmt.Errorf("unknown database driver %q", c.Database.Driver)
}

// backend builds the configured cache backend.
func (c *Config) backend() cache.Backend {
	if c.Cache.Backend == "redis" {
		return cache.NewRedis(cache.RedisOptions{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
			Prefix:   c.Cache.Redis.Prefix,
		})
	}
	return cache.NewMemory(c.Cache.Size)
}

// registryOptions translates the configuration into registry options.
// The config must have passed validate.
func (c *Config) registryOptions(backend cache.Backend) []hxlive.Option {
	opts := []hxlive.Option{
		hxlive.WithBackend(backend),
		hxlive.WithTTL(c.Cache.TTL),
		hxlive.WithPrefix(c.Prefix),
		hxlive.WithMaxBodySize(c.MaxBody),
	}
	if c.Cache.NearSize > 0 {
		opts = append(opts, hxlive.WithNearCache(c.Cache.NearSize))
	}
	if c.Serial.Enabled {
		mode, _ := c.serialMode()
		merge, _ := c.mergePolicy()
		opts = append(opts, hxlive.WithSerial(hxlive.SerialOptions{
			Mode:    mode,
			Merge:   merge,
			Timeout: c.Serial.Timeout,
		}))
	}
	return opts
}
