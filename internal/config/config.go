// Package config reads the environment surface of the platform, with .env
// support for local runs, plus the YAML-configurable upstream source chains.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantrun/quantrun/internal/domain"
)

// Config holds ingestion and storage configuration.
type Config struct {
	// storage
	MarketDataTable string
	StockDataTable  string
	CompanyTable    string
	AWSRegion       string
	RedisAddr       string

	// ingestion
	WriteExtendedFields bool
	UpstreamRPS         float64
	IndexQuoteSources   []string
	ShardTotal          int
	ShardIndex          int
	MaxConcurrency      int
	MaxSymbols          int

	// planner bounds
	FullBackfillYears int
	CatchUpMaxDays    int
	CatchUpMaxYears   int

	// AsOfDate freezes "today" for deterministic replays; zero means wall
	// clock.
	AsOfDate time.Time

	CalendarHolidaysFile string
	LogLevel             string
}

// Load reads configuration from environment variables, after loading a .env
// file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		MarketDataTable: getEnv("MARKET_DATA_TABLE", "market-data"),
		StockDataTable:  getEnv("STOCK_DATA_TABLE", "stock-data"),
		CompanyTable:    getEnv("COMPANY_TABLE", "company"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),

		WriteExtendedFields: getEnvAsBool("STOCKDATA_WRITE_EXTENDED_FIELDS", false),
		UpstreamRPS:         getEnvAsFloat("UPSTREAM_RPS", 2),
		IndexQuoteSources:   splitList(getEnv("INDEX_QUOTE_SOURCES", "")),
		ShardTotal:          getEnvAsInt("SHARD_TOTAL", 1),
		ShardIndex:          getEnvAsInt("SHARD_INDEX", 0),
		MaxConcurrency:      getEnvAsInt("MAX_CONCURRENCY", 4),
		MaxSymbols:          getEnvAsInt("MAX_SYMBOLS", 0),

		FullBackfillYears: getEnvAsInt("FULL_BACKFILL_YEARS", 5),
		CatchUpMaxDays:    getEnvAsInt("CATCH_UP_MAX_DAYS", 0),
		CatchUpMaxYears:   getEnvAsInt("CATCH_UP_MAX_YEARS", 0),

		CalendarHolidaysFile: getEnv("CALENDAR_HOLIDAYS_FILE", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if raw := getEnv("AS_OF_DATE", ""); raw != "" {
		d, err := domain.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("AS_OF_DATE: %w", err)
		}
		cfg.AsOfDate = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c *Config) Validate() error {
	if c.ShardTotal < 1 {
		return fmt.Errorf("SHARD_TOTAL must be >= 1: %w", domain.ErrInvalidInput)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardTotal {
		return fmt.Errorf("SHARD_INDEX must be in [0, %d): %w", c.ShardTotal, domain.ErrInvalidInput)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be >= 1: %w", domain.ErrInvalidInput)
	}
	if c.UpstreamRPS <= 0 {
		return fmt.Errorf("UPSTREAM_RPS must be > 0: %w", domain.ErrInvalidInput)
	}
	return nil
}

// Today resolves the working date: AS_OF_DATE when frozen, else the wall
// clock day in UTC.
func (c *Config) Today() time.Time {
	if !c.AsOfDate.IsZero() {
		return c.AsOfDate
	}
	return domain.DayOf(time.Now())
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
