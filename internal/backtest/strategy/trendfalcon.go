package strategy

import (
	"math"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"github.com/quantrun/quantrun/internal/backtest"
	"github.com/quantrun/quantrun/internal/frame"
)

// TrendFalcon is a trend-following state machine. A symbol is eligible while
// its EMA ladder is stacked (fast > mid > slow) and RSI is not overbought;
// once entered, an ATR trailing stop (the "red line") ratchets up under the
// price and only an actual close below it forces the exit.
type TrendFalcon struct {
	FastEMA int
	MidEMA  int
	SlowEMA int

	RSIPeriod   int
	RSIMax      float64
	ATRPeriod   int
	ATRMultiple float64

	priceField string
	// redLine carries the trailing stop per held symbol across rebalances.
	redLine map[string]float64
}

// Name implements backtest.Strategy.
func (s *TrendFalcon) Name() string { return "trend_falcon" }

// Initialize implements backtest.Strategy.
func (s *TrendFalcon) Initialize(rc *backtest.Context) error {
	if s.FastEMA <= 0 {
		s.FastEMA = 21
	}
	if s.MidEMA <= 0 {
		s.MidEMA = 55
	}
	if s.SlowEMA <= 0 {
		s.SlowEMA = 144
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.RSIMax <= 0 {
		s.RSIMax = 75
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.ATRMultiple <= 0 {
		s.ATRMultiple = 3
	}
	s.redLine = map[string]float64{}

	s.priceField = rc.Config.PriceField
	if !rc.Prices.HasColumn(s.priceField) {
		s.priceField = rc.Config.FallbackPriceField
	}
	if !rc.Prices.HasColumn(s.priceField) {
		return &backtest.StrategyError{Strategy: s.Name(), Reason: "no usable price column"}
	}
	return nil
}

// bars is one symbol's aligned, gap-free OHLC history.
type bars struct {
	high, low, close []float64
}

func (s *TrendFalcon) history(panel *frame.Panel, symbol string) bars {
	closes := panel.SymbolSeries(symbol, s.priceField)
	highs := panel.SymbolSeries(symbol, "high")
	lows := panel.SymbolSeries(symbol, "low")

	var b bars
	for i, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			continue
		}
		h, l := c, c
		if highs != nil && !math.IsNaN(highs[i]) && highs[i] > 0 {
			h = highs[i]
		}
		if lows != nil && !math.IsNaN(lows[i]) && lows[i] > 0 {
			l = lows[i]
		}
		b.high = append(b.high, h)
		b.low = append(b.low, l)
		b.close = append(b.close, c)
	}
	return b
}

// OnRebalance implements backtest.Strategy.
func (s *TrendFalcon) OnRebalance(date time.Time, rc *backtest.Context, _ frame.Snapshot, portfolio backtest.PortfolioView) (map[string]float64, error) {
	history := rc.Prices.Slice(time.Time{}, date)

	var selected []string
	for _, symbol := range rc.Universe {
		b := s.history(history, symbol)
		if len(b.close) <= s.SlowEMA {
			delete(s.redLine, symbol)
			continue
		}

		last := len(b.close) - 1
		px := b.close[last]
		fast := talib.Ema(b.close, s.FastEMA)[last]
		mid := talib.Ema(b.close, s.MidEMA)[last]
		slow := talib.Ema(b.close, s.SlowEMA)[last]
		rsi := talib.Rsi(b.close, s.RSIPeriod)[last]
		atr := talib.Atr(b.high, b.low, b.close, s.ATRPeriod)[last]

		stacked := fast > mid && mid > slow

		_, held := portfolio.Positions[symbol]
		if held {
			// ratchet the stop up, never down
			stop := px - s.ATRMultiple*atr
			if prev, ok := s.redLine[symbol]; ok && prev > stop {
				stop = prev
			}
			if px < stop {
				delete(s.redLine, symbol)
				continue // red line broken: exit
			}
			s.redLine[symbol] = stop
			selected = append(selected, symbol)
			continue
		}

		if stacked && rsi < s.RSIMax {
			s.redLine[symbol] = px - s.ATRMultiple*atr
			selected = append(selected, symbol)
		}
	}
	sort.Strings(selected)
	if len(selected) > rc.Config.MaxPositions {
		selected = selected[:rc.Config.MaxPositions]
	}

	weights := make(map[string]float64, len(selected))
	if len(selected) == 0 {
		return weights, nil
	}
	w := 1.0 / float64(len(selected))
	for _, symbol := range selected {
		weights[symbol] = w
	}
	return weights, nil
}
