package backtest

import (
	"fmt"
	"time"

	"github.com/quantrun/quantrun/internal/domain"
)

// Default price columns used when the caller does not narrow the panel load.
const (
	DefaultPriceField    = "close"
	DefaultFallbackField = "adj_close"
)

// Config parameterizes one run.
type Config struct {
	StartDate time.Time
	EndDate   time.Time

	InitialCapital float64

	// RebalanceFrequency is one of "daily", "weekly", "monthly" or "<N>d".
	RebalanceFrequency string

	MaxPositions int

	SlippageBps        float64
	TransactionCostBps float64

	// PriceField is the primary pricing column; FallbackPriceField is
	// consulted when the primary is missing or non-positive.
	PriceField         string
	FallbackPriceField string

	// MinWeight drops target weights below the floor before trimming.
	MinWeight float64

	// PriceFields / FundamentalFields narrow the provider loads; empty
	// means the provider defaults.
	PriceFields       []string
	FundamentalFields []string

	// Universe overrides the universe provider when non-empty.
	Universe []string
}

func (c *Config) applyDefaults() {
	if c.PriceField == "" {
		c.PriceField = DefaultPriceField
	}
	if c.FallbackPriceField == "" {
		c.FallbackPriceField = DefaultFallbackField
	}
	if c.RebalanceFrequency == "" {
		c.RebalanceFrequency = "daily"
	}
}

// Validate enforces the configuration preconditions.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return fmt.Errorf("start and end dates are required: %w", domain.ErrInvalidInput)
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end date %s before start date %s: %w",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"), domain.ErrInvalidInput)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive: %w", domain.ErrInvalidInput)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive: %w", domain.ErrInvalidInput)
	}
	if c.SlippageBps < 0 || c.TransactionCostBps < 0 {
		return fmt.Errorf("slippage and transaction cost must be nonnegative: %w", domain.ErrInvalidInput)
	}
	if c.MinWeight < 0 {
		return fmt.Errorf("min weight must be nonnegative: %w", domain.ErrInvalidInput)
	}
	if _, err := parseFrequency(c.RebalanceFrequency); err != nil {
		return err
	}
	return nil
}
