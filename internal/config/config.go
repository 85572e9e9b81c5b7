// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default simulation parameters. These mirror the engine defaults and are
// applied when a run request leaves the corresponding field unset.
const (
	DefaultPortfolioValue = 250000.0
	DefaultYears          = 10
	DefaultSimulations    = 1000
	DefaultStartDate      = "2014-01-01"
	DefaultEndDate        = "2024-12-31"
)

// defaultTickers is the default analysis universe: three index ETFs plus
// ten large caps. Overridable via MONTESIM_TICKERS.
var defaultTickers = []string{
	"SPY", "QQQ", "AGG",
	"NVDA", "MSFT", "AAPL", "AMZN", "GOOGL", "META", "LLY", "AVGO", "TSLA", "BRK-B",
}

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Default simulation parameters, used when a run request omits them.
	Tickers        []string
	PortfolioValue float64
	Years          int
	NumSimulations int
	StartDate      string
	EndDate        string
	Workers        int // 0 means GOMAXPROCS

	// Price sync
	SyncSchedule string // cron spec for the nightly price sync

	Backup BackupConfig
}

// BackupConfig holds S3 backup configuration. Backups are disabled unless
// a bucket is configured.
type BackupConfig struct {
	Enabled       bool
	Bucket        string
	Region        string
	Endpoint      string // Optional custom endpoint (S3-compatible stores)
	AccessKey     string
	SecretKey     string
	Prefix        string
	RetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MONTESIM_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("MONTESIM_PORT", 8001),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		Tickers:        getEnvAsList("MONTESIM_TICKERS", defaultTickers),
		PortfolioValue: getEnvAsFloat("MONTESIM_PORTFOLIO_VALUE", DefaultPortfolioValue),
		Years:          getEnvAsInt("MONTESIM_YEARS", DefaultYears),
		NumSimulations: getEnvAsInt("MONTESIM_SIMULATIONS", DefaultSimulations),
		StartDate:      getEnv("MONTESIM_START_DATE", DefaultStartDate),
		EndDate:        getEnv("MONTESIM_END_DATE", DefaultEndDate),
		Workers:        getEnvAsInt("MONTESIM_WORKERS", 0),
		SyncSchedule:   getEnv("MONTESIM_SYNC_SCHEDULE", "0 30 2 * * *"), // 02:30 daily
		Backup: BackupConfig{
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:        getEnv("BACKUP_S3_PREFIX", "montesim-backups"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}
	cfg.Backup.Enabled = cfg.Backup.Bucket != ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if len(c.Tickers) == 0 {
		return fmt.Errorf("ticker list must not be empty")
	}
	if c.Years <= 0 {
		return fmt.Errorf("years must be positive, got %d", c.Years)
	}
	if c.NumSimulations <= 0 {
		return fmt.Errorf("num simulations must be positive, got %d", c.NumSimulations)
	}
	if c.PortfolioValue <= 0 {
		return fmt.Errorf("portfolio value must be positive, got %f", c.PortfolioValue)
	}
	return nil
}

// getEnv retrieves an environment variable value, returning a fallback if
// the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvAsList parses a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty entries.
func getEnvAsList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
