// Package domain holds the core entities of the market-data platform:
// symbols, catalog entries, daily quotes and company snapshots.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks user-visible fatal errors: missing required columns,
// bad configuration, empty universe, unparsable frequency. Wrap it with
// fmt.Errorf("...: %w", ErrInvalidInput) so callers can errors.Is it.
var ErrInvalidInput = errors.New("invalid input")

// AssetType enumerates the tradable asset kinds in the catalog.
type AssetType string

const (
	AssetStock     AssetType = "stock"
	AssetIndex     AssetType = "index"
	AssetETF       AssetType = "etf"
	AssetCommodity AssetType = "commodity"
	AssetFX        AssetType = "fx"
)

// ListingStatus is the catalog listing state of a symbol.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusDeactive ListingStatus = "deactive"
)

// NormalizeSymbol canonicalizes a symbol: trimmed, upper-case ASCII.
// Returns the empty string when the input carries no symbol at all.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeSymbols canonicalizes a list, dropping empties and duplicates
// while preserving first-seen order.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		norm := NormalizeSymbol(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// CatalogEntry is the latest catalog snapshot for one symbol.
type CatalogEntry struct {
	Symbol    string
	Name      string
	Exchange  string
	AssetType AssetType
	Market    string
	Status    ListingStatus
}

// Validate checks the required catalog columns.
func (e CatalogEntry) Validate() error {
	missing := []string{}
	if strings.TrimSpace(e.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if strings.TrimSpace(e.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(e.Exchange) == "" {
		missing = append(missing, "exchange")
	}
	if strings.TrimSpace(string(e.AssetType)) == "" {
		missing = append(missing, "asset_type")
	}
	if strings.TrimSpace(e.Market) == "" {
		missing = append(missing, "market")
	}
	if strings.TrimSpace(string(e.Status)) == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return fmt.Errorf("catalog entry missing required columns %v: %w", missing, ErrInvalidInput)
	}
	return nil
}

// Quote is one daily OHLCV bar for a symbol. Optional fields are pointers:
// a nil pointer means the attribute is absent from the source and must stay
// absent from the persisted item (never stored as zero).
type Quote struct {
	Symbol string
	Date   time.Time

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	AdjClose       *decimal.Decimal
	Volume         *int64
	TurnoverAmount *decimal.Decimal
	TurnoverRate   *decimal.Decimal
	VWAP           *decimal.Decimal
	AdjFactor      *decimal.Decimal

	Currency   string
	Source     string
	IngestedAt string
}

// Validate checks the required quote columns.
func (q Quote) Validate() error {
	if strings.TrimSpace(q.Symbol) == "" {
		return fmt.Errorf("quote missing symbol: %w", ErrInvalidInput)
	}
	if q.Date.IsZero() {
		return fmt.Errorf("quote %s missing date: %w", q.Symbol, ErrInvalidInput)
	}
	return nil
}

// Company is the latest single-row snapshot for one company. Metrics holds
// the sparse set of flattened fundamental attributes.
type Company struct {
	Symbol  string
	Score   float64
	Name    string
	Exchange string
	Market  string
	Status  string
	Source  string
	Metrics map[string]float64
}

// DateFormat is the ISO calendar-day layout used for sort keys and wire
// dates. ISO dates collate chronologically as strings, which the key schema
// relies on.
const DateFormat = "2006-01-02"

// Date truncates t to a UTC calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf drops the clock portion of t, keeping the UTC calendar day.
func DayOf(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO YYYY-MM-DD day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, ErrInvalidInput)
	}
	return t, nil
}

// FormatDate renders a UTC calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}
