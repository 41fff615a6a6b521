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

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one condition evaluated against every record in a
// refreshed feed snapshot.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "severity >= 80", "confidence < 75",
	// "type == Cyber", "region == Europe".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values.
const (
	DefaultPath         = "config.yaml"
	DefaultHTTPPort     = 5000
	DefaultWSInterval   = 5 * time.Second
	DefaultHTTPTimeout  = 10 * time.Second
	DefaultCapacity     = 30
	DefaultCacheTTL     = 5 * time.Minute
	DefaultPageSize     = 10
	DefaultMaxPageSize  = 100
	DefaultDetectLimit  = 10
	DefaultStorePrefix  = "threats"
	DefaultStoreTimeout = 5 * time.Second
	DefaultLogLevel     = "info"
)

// Store backends.
const (
	BackendDemo     = "demo"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the whole service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Feed   FeedConfig   `yaml:"feed"`
	Store  StoreConfig  `yaml:"store"`
	Seed   SeedConfig   `yaml:"seed"`
	Alerts AlertsConfig `yaml:"alerts"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// WSInterval is how often the WebSocket hub pushes the first feed page.
	WSInterval time.Duration `yaml:"ws_interval"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogConfig selects the slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level. Unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FeedConfig controls the read chain and the slot pool.
type FeedConfig struct {
	// Capacity is the number of rotational slots (default 30).
	Capacity int `yaml:"capacity"`

	// CacheTTL is how long a fetched snapshot counts as fresh (default 5m).
	CacheTTL time.Duration `yaml:"cache_ttl"`

	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`

	// DetectLimit is how many records a detection run returns (default 10).
	DetectLimit int `yaml:"detect_limit"`
}

// StoreConfig selects and addresses the remote store.
type StoreConfig struct {
	// Backend is one of: demo | memory | redis | sqlite | postgres.
	Backend string `yaml:"backend"`

	// URL is the redis connection URL.
	URL string `yaml:"url"`

	// DSN is the sqlite file or postgres connection string.
	DSN string `yaml:"dsn"`

	// Prefix namespaces redis keys and names the SQL table.
	Prefix string `yaml:"prefix"`

	// Timeout bounds every store call. Zero disables the bound.
	Timeout time.Duration `yaml:"timeout"`
}

// Demo reports whether the service should run on seed data only: no backend
// is selected, or the selected one lacks its connection details.
func (s StoreConfig) Demo() bool {
	switch s.Backend {
	case "", BackendDemo:
		return true
	case BackendRedis:
		return s.URL == ""
	case BackendSQLite, BackendPostgres:
		return s.DSN == ""
	default:
		return false
	}
}

// SeedConfig points at an optional YAML seed dataset.
type SeedConfig struct {
	Path string `yaml:"path"`
}

// Load reads the config file at path, applies environment overrides and
// validates the result. A missing file is tolerated only for DefaultPath or
// an empty path, so env-only deployments work without a file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse yaml: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     DefaultHTTPPort,
			WSInterval:   DefaultWSInterval,
			ReadTimeout:  DefaultHTTPTimeout,
			WriteTimeout: DefaultHTTPTimeout,
		},
		Log: LogConfig{Level: DefaultLogLevel},
		Feed: FeedConfig{
			Capacity:        DefaultCapacity,
			CacheTTL:        DefaultCacheTTL,
			DefaultPageSize: DefaultPageSize,
			MaxPageSize:     DefaultMaxPageSize,
			DetectLimit:     DefaultDetectLimit,
		},
		Store: StoreConfig{
			Backend: BackendDemo,
			Prefix:  DefaultStorePrefix,
			Timeout: DefaultStoreTimeout,
		},
	}
}

// applyEnv overrides file values with PORT, THREATWATCH_STORE_BACKEND,
// REDIS_URL, DATABASE_URL and LOG_LEVEL when they are set.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number", v)
		}
		cfg.Server.HTTPPort = port
	}
	if v := getenv("THREATWATCH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.WSInterval <= 0 {
		return fmt.Errorf("server.ws_interval must be positive")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	if cfg.Feed.Capacity < 1 {
		return fmt.Errorf("feed.capacity must be at least 1")
	}
	if cfg.Feed.CacheTTL <= 0 {
		return fmt.Errorf("feed.cache_ttl must be positive")
	}
	if cfg.Feed.DefaultPageSize < 1 || cfg.Feed.MaxPageSize < cfg.Feed.DefaultPageSize {
		return fmt.Errorf("feed page sizes: want 1 <= default_page_size (%d) <= max_page_size (%d)",
			cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize)
	}
	if cfg.Feed.DetectLimit < 1 {
		return fmt.Errorf("feed.detect_limit must be at least 1")
	}
	switch cfg.Store.Backend {
	case "", BackendDemo, BackendMemory, BackendRedis, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("store.backend %q unknown: want demo|memory|redis|sqlite|postgres", cfg.Store.Backend)
	}
	if cfg.Store.Timeout < 0 {
		return fmt.Errorf("store.timeout must not be negative")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d]: name and condition are required", i)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return nil
}
