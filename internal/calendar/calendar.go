// Package calendar answers trading-day questions per market. Markets map to
// exchange calendars (CN to the Shanghai Exchange, US to the New York Stock
// Exchange); an unknown market is permissive and treats every day as open.
package calendar

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/quantrun/quantrun/internal/domain"
)

// Calendar answers whether a market trades on a date and what the most
// recent trading day on or before a date is.
type Calendar interface {
	IsTradingDay(market string, d time.Time) bool
	LastTradingDay(market string, d time.Time) time.Time
}

// Market identifiers.
const (
	MarketCN = "CN"
	MarketUS = "US"
)

// exchange calendar codes
const (
	exchangeXSHG = "XSHG"
	exchangeXNYS = "XNYS"
)

var marketExchange = map[string]string{
	MarketCN: exchangeXSHG,
	MarketUS: exchangeXNYS,
}

//go:embed holidays.yaml
var embeddedHolidays []byte

type holidayFile struct {
	Exchanges map[string][]string `yaml:"exchanges"`
}

// ExchangeCalendar is the holiday-table Calendar implementation. Weekends
// are closed for every known exchange; weekday closures come from the table.
type ExchangeCalendar struct {
	holidays map[string]map[string]struct{} // exchange -> ISO date set
}

// New loads the embedded holiday tables.
func New() (*ExchangeCalendar, error) {
	return parse(embeddedHolidays)
}

// NewFromFile loads holiday tables from a YAML override file.
func NewFromFile(path string) (*ExchangeCalendar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday file: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*ExchangeCalendar, error) {
	var file holidayFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse holiday tables: %w", err)
	}
	holidays := make(map[string]map[string]struct{}, len(file.Exchanges))
	for exchange, dates := range file.Exchanges {
		set := make(map[string]struct{}, len(dates))
		for _, d := range dates {
			if _, err := domain.ParseDate(d); err != nil {
				return nil, fmt.Errorf("holiday table %s: %w", exchange, err)
			}
			set[d] = struct{}{}
		}
		holidays[exchange] = set
	}
	return &ExchangeCalendar{holidays: holidays}, nil
}

// IsTradingDay reports whether the market is open on d. An unrecognized
// market is treated as always open.
func (c *ExchangeCalendar) IsTradingDay(market string, d time.Time) bool {
	exchange, ok := marketExchange[strings.ToUpper(market)]
	if !ok {
		return true
	}
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := c.holidays[exchange][domain.FormatDate(d)]
	return !closed
}

// LastTradingDay returns the most recent trading day on or before d.
func (c *ExchangeCalendar) LastTradingDay(market string, d time.Time) time.Time {
	d = domain.DayOf(d)
	// bounded walk; no market closes for weeks on end
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(market, d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// InferMarket derives the market from the symbol form: SH/SZ/BJ-prefixed
// numeric codes are the A-share market, US: and GLOBAL: prefixes map to the
// US calendar. ok is false when the form is unrecognized.
func InferMarket(symbol string) (string, bool) {
	symbol = domain.NormalizeSymbol(symbol)
	if strings.HasPrefix(symbol, "US:") || strings.HasPrefix(symbol, "GLOBAL:") {
		return MarketUS, true
	}
	for _, prefix := range []string{"SH", "SZ", "BJ"} {
		if code, ok := strings.CutPrefix(symbol, prefix); ok && isDigits(code) {
			return MarketCN, true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
