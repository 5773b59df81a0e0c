// Package provider pulls normalized daily bars and fundamentals from
// upstream sources and exposes the data contracts the backtest engine and
// the ingestion orchestrator consume. Each symbol resolves to an ordered
// source chain; a circuit breaker guards every source and a redis warm cache
// sits in front of the chain.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrun/quantrun/internal/frame"
)

// PriceDataProvider loads a (date, symbol) price panel. Implementations
// return an empty panel, never nil, when no data matches.
type PriceDataProvider interface {
	Load(ctx context.Context, symbols []string, start, end time.Time, fields []string) (*frame.Panel, error)
}

// FundamentalDataProvider loads flattened fundamental metrics keyed by
// symbol.
type FundamentalDataProvider interface {
	Load(ctx context.Context, symbols []string, attributes []string) (map[string]map[string]float64, error)
}

// UniverseProvider supplies candidate symbols when the caller does not pass
// an explicit universe.
type UniverseProvider func(ctx context.Context) ([]string, error)

// ProviderError reports an upstream source failure. Soft for the symbol:
// the chain advances to the next source, and the orchestrator only fails the
// symbol when every source is exhausted.
type ProviderError struct {
	Source    string
	Symbol    string
	Temporary bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: symbol %s: %v", e.Source, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
