// Package strategy ships the bundled reference strategies. The engine
// depends only on the backtest.Strategy contract; these are self-contained
// implementations of it.
package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/quantrun/quantrun/internal/backtest"
	"github.com/quantrun/quantrun/internal/frame"
)

// LowPEMomentum screens the universe by a PE ceiling and ranks survivors by
// trailing price momentum, holding the top names equal-weighted.
type LowPEMomentum struct {
	// PEMax is the valuation ceiling; symbols with a known PE above it
	// (or non-positive) are excluded. Symbols without a PE pass.
	PEMax float64
	// Lookback is the momentum window in bars.
	Lookback int
	// TopN caps the holdings; zero falls back to the run's MaxPositions.
	TopN int

	priceField string
}

// Name implements backtest.Strategy.
func (s *LowPEMomentum) Name() string { return "low_pe_momentum" }

// Initialize implements backtest.Strategy.
func (s *LowPEMomentum) Initialize(rc *backtest.Context) error {
	if s.PEMax <= 0 {
		s.PEMax = 30
	}
	if s.Lookback <= 0 {
		s.Lookback = 20
	}
	if s.TopN <= 0 {
		s.TopN = rc.Config.MaxPositions
	}
	s.priceField = rc.Config.PriceField
	if !rc.Prices.HasColumn(s.priceField) {
		s.priceField = rc.Config.FallbackPriceField
	}
	if !rc.Prices.HasColumn(s.priceField) {
		return &backtest.StrategyError{Strategy: s.Name(), Reason: "no usable price column"}
	}
	return nil
}

// OnRebalance implements backtest.Strategy.
func (s *LowPEMomentum) OnRebalance(date time.Time, rc *backtest.Context, _ frame.Snapshot, _ backtest.PortfolioView) (map[string]float64, error) {
	history := rc.Prices.Slice(time.Time{}, date)

	type scored struct {
		symbol   string
		momentum float64
	}
	var ranked []scored
	for _, symbol := range rc.Universe {
		if pe, ok := rc.Fundamentals[symbol]["pe"]; ok {
			if pe <= 0 || pe > s.PEMax {
				continue
			}
		}
		m, ok := momentum(history.SymbolSeries(symbol, s.priceField), s.Lookback)
		if !ok {
			continue
		}
		ranked = append(ranked, scored{symbol: symbol, momentum: m})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].momentum != ranked[j].momentum {
			return ranked[i].momentum > ranked[j].momentum
		}
		return ranked[i].symbol < ranked[j].symbol
	})
	if len(ranked) > s.TopN {
		ranked = ranked[:s.TopN]
	}

	weights := make(map[string]float64, len(ranked))
	if len(ranked) == 0 {
		return weights, nil
	}
	w := 1.0 / float64(len(ranked))
	for _, r := range ranked {
		weights[r.symbol] = w
	}
	return weights, nil
}

// momentum is the fractional change between the latest bar and the bar
// lookback observations earlier, over the non-missing samples.
func momentum(series []float64, lookback int) (float64, bool) {
	clean := series[:0:0]
	for _, v := range series {
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
			clean = append(clean, v)
		}
	}
	if len(clean) <= lookback {
		return 0, false
	}
	last := clean[len(clean)-1]
	base := clean[len(clean)-1-lookback]
	return last/base - 1, true
}
