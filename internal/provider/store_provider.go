package provider

import (
	"context"
	"time"

	"github.com/quantrun/quantrun/internal/frame"
	"github.com/quantrun/quantrun/internal/services/company"
	"github.com/quantrun/quantrun/internal/services/quote"
)

// StorePriceProvider serves price panels from the quote store. This is the
// PriceDataProvider the backtest engine runs against.
type StorePriceProvider struct {
	quotes *quote.Service
	kind   quote.Kind
}

// NewStorePriceProvider builds a price provider over the quote service.
func NewStorePriceProvider(quotes *quote.Service, kind quote.Kind) *StorePriceProvider {
	return &StorePriceProvider{quotes: quotes, kind: kind}
}

// Load implements PriceDataProvider.
func (p *StorePriceProvider) Load(ctx context.Context, symbols []string, start, end time.Time, fields []string) (*frame.Panel, error) {
	return p.quotes.GetPricePanel(ctx, p.kind, symbols, start, end, fields)
}

// StoreFundamentalProvider serves flattened fundamentals from the company
// store.
type StoreFundamentalProvider struct {
	companies *company.Service
}

// NewStoreFundamentalProvider builds a fundamentals provider over the
// company service.
func NewStoreFundamentalProvider(companies *company.Service) *StoreFundamentalProvider {
	return &StoreFundamentalProvider{companies: companies}
}

// Load implements FundamentalDataProvider. The score rides along under the
// "score" key next to the stored metrics.
func (p *StoreFundamentalProvider) Load(ctx context.Context, symbols []string, attributes []string) (map[string]map[string]float64, error) {
	snapshots, err := p.companies.BatchGet(ctx, symbols, attributes, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]float64, len(snapshots))
	for symbol, c := range snapshots {
		metrics := make(map[string]float64, len(c.Metrics)+1)
		for name, v := range c.Metrics {
			metrics[name] = v
		}
		metrics["score"] = c.Score
		out[symbol] = metrics
	}
	return out, nil
}
