package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear annualizes daily figures.
const tradingDaysPerYear = 252

// Analytics summarizes a run's performance.
type Analytics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	Volatility       float64
	SharpeRatio      float64
	WinRate          float64
	GrossProfit      float64
	GrossLoss        float64
	NumTrades        int
}

// dailyReturns is the percentage change of the equity curve; non-finite
// entries collapse to zero.
func dailyReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		r := 0.0
		if equity[i-1] != 0 {
			r = equity[i]/equity[i-1] - 1
		}
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		out = append(out, r)
	}
	return out
}

// maxDrawdown is the most negative excursion below the running peak.
func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// computeAnalytics derives the performance summary from the equity curve and
// closed trades.
func computeAnalytics(equity []float64, returns []float64, trades []TradeRecord) Analytics {
	a := Analytics{NumTrades: len(trades)}

	if n := len(equity); n > 1 && equity[0] > 0 {
		growth := equity[n-1] / equity[0]
		a.TotalReturn = growth - 1
		a.AnnualizedReturn = math.Pow(growth, tradingDaysPerYear/float64(n)) - 1
	}
	a.MaxDrawdown = maxDrawdown(equity)

	if len(returns) > 0 {
		sigma := stat.PopStdDev(returns, nil)
		a.Volatility = sigma * math.Sqrt(tradingDaysPerYear)
		if sigma > 0 {
			a.SharpeRatio = stat.Mean(returns, nil) / sigma * math.Sqrt(tradingDaysPerYear)
		}
	}

	wins, losses := 0, 0
	for _, t := range trades {
		switch {
		case t.Profit > 0:
			wins++
			a.GrossProfit += t.Profit
		case t.Profit < 0:
			losses++
			a.GrossLoss += t.Profit
		}
	}
	if wins+losses > 0 {
		a.WinRate = float64(wins) / float64(wins+losses)
	}
	return a
}
