package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Settlement SettlementConfig `yaml:"settlement"`
	Market     MarketConfig     `yaml:"market"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr                   string `yaml:"addr"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// StorageConfig selects where markets and transfers are persisted.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | badger
	DSN    string `yaml:"dsn"`    // SQLite file path, or ":memory:"
	Path   string `yaml:"path"`   // Badger directory; empty = in-memory
}

// SettlementConfig controls the transfer worker.
type SettlementConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	BatchSize       int     `yaml:"batch_size"`
	RatePerSec      float64 `yaml:"rate_per_sec"`
	WebhookURL      string  `yaml:"webhook_url"` // empty = dry run
	Token           string  `yaml:"token"`       // bearer token for the webhook
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	DryRun          bool    `yaml:"dry_run"`
}

// MarketConfig holds defaults for new markets.
type MarketConfig struct {
	DefaultLiquidity string `yaml:"default_liquidity"` // LMSR b, decimal string
}

// LogConfig controls format, level and optional file output.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // also write to this file, rotated
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML file and, if present, a .env file.
// Environment variables override YAML values for the keys they cover.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// SettlementInterval returns the worker poll interval.
func (c *Config) SettlementInterval() time.Duration {
	return time.Duration(c.Settlement.IntervalSeconds) * time.Second
}

// SettlementTimeout returns the per-attempt webhook timeout.
func (c *Config) SettlementTimeout() time.Duration {
	return time.Duration(c.Settlement.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long the HTTP server gets to drain.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// DefaultLiquidity parses market.default_liquidity.
func (c *Config) DefaultLiquidity() decimal.Decimal {
	// validated in Load
	return decimal.RequireFromString(c.Market.DefaultLiquidity)
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AMM_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AMM_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("SETTLEMENT_WEBHOOK_URL"); v != "" {
		cfg.Settlement.WebhookURL = v
	}
	if v := os.Getenv("SETTLEMENT_TOKEN"); v != "" {
		cfg.Settlement.Token = v
	}
	if v := os.Getenv("SETTLEMENT_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Settlement.DryRun = b
		}
	}
}

// setDefaults fills anything left empty.
func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 10
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "lmsrmarket.db"
	}
	if cfg.Settlement.IntervalSeconds <= 0 {
		cfg.Settlement.IntervalSeconds = 5
	}
	if cfg.Settlement.BatchSize <= 0 {
		cfg.Settlement.BatchSize = 50
	}
	if cfg.Settlement.TimeoutSeconds <= 0 {
		cfg.Settlement.TimeoutSeconds = 10
	}
	if cfg.Settlement.WebhookURL == "" {
		cfg.Settlement.DryRun = true
	}
	if cfg.Market.DefaultLiquidity == "" {
		cfg.Market.DefaultLiquidity = "50"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("storage.driver %q: want sqlite or badger", c.Storage.Driver)
	}
	b, err := decimal.NewFromString(c.Market.DefaultLiquidity)
	if err != nil {
		return fmt.Errorf("market.default_liquidity %q: %w", c.Market.DefaultLiquidity, err)
	}
	if !b.IsPositive() {
		return fmt.Errorf("market.default_liquidity %s: must be positive", b)
	}
	return nil
}
