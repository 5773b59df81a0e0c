package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/quantrun/quantrun/internal/frame"
)

// epsQty is the quantity tolerance: deltas inside it are not traded and
// positions at or below it are considered closed.
const epsQty = 1e-8

// cashTolerance absorbs float rounding when checking buy affordability.
const cashTolerance = 1e-6

// Position is one holding.
type Position struct {
	Quantity  float64
	AvgPrice  float64
	EntryDate time.Time
}

// TradeRecord is one closed (sell) trade.
type TradeRecord struct {
	Symbol    string
	Quantity  float64
	EntryDate time.Time
	ExitDate  time.Time
	AvgPrice  float64
	ExitPrice float64
	Profit    float64
	ReturnPct float64
}

// PortfolioView is a read-only copy handed to strategies.
type PortfolioView struct {
	Cash       float64
	TotalValue float64
	Positions  map[string]Position
}

// Portfolio tracks cash and holdings through a run. Not safe for concurrent
// use; each run owns its own instance.
type Portfolio struct {
	cash       float64
	positions  map[string]Position
	totalValue float64
	lastPrice  map[string]float64

	priceField    string
	fallbackField string
	slippage      float64 // fraction, bps/10000
	fee           float64
	maxPositions  int
	minWeight     float64
}

// NewPortfolio seeds a portfolio from the run configuration.
func NewPortfolio(cfg Config) *Portfolio {
	return &Portfolio{
		cash:          cfg.InitialCapital,
		positions:     map[string]Position{},
		totalValue:    cfg.InitialCapital,
		lastPrice:     map[string]float64{},
		priceField:    cfg.PriceField,
		fallbackField: cfg.FallbackPriceField,
		slippage:      cfg.SlippageBps / 10000,
		fee:           cfg.TransactionCostBps / 10000,
		maxPositions:  cfg.MaxPositions,
		minWeight:     cfg.MinWeight,
	}
}

// Cash returns the uninvested balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// TotalValue returns the last marked equity.
func (p *Portfolio) TotalValue() float64 { return p.totalValue }

// Positions returns a copy of the holdings.
func (p *Portfolio) Positions() map[string]Position {
	out := make(map[string]Position, len(p.positions))
	for s, pos := range p.positions {
		out[s] = pos
	}
	return out
}

// View snapshots the portfolio for a strategy callback.
func (p *Portfolio) View() PortfolioView {
	return PortfolioView{Cash: p.cash, TotalValue: p.totalValue, Positions: p.Positions()}
}

// resolvePrice looks the symbol up in the snapshot, then falls back to the
// last known price. Non-positive and non-finite prices are unavailable.
func (p *Portfolio) resolvePrice(snap frame.Snapshot, symbol string) (float64, bool) {
	if v, ok := snap.Price(symbol, p.priceField, p.fallbackField); ok {
		p.lastPrice[symbol] = v
		return v, true
	}
	if v, ok := p.lastPrice[symbol]; ok && v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
		return v, true
	}
	return 0, false
}

// MarkToMarket reprices every holding and refreshes total value.
func (p *Portfolio) MarkToMarket(snap frame.Snapshot) {
	total := p.cash
	for symbol, pos := range p.positions {
		if price, ok := p.resolvePrice(snap, symbol); ok {
			total += pos.Quantity * price
		}
	}
	p.totalValue = total
}

// order pairs a symbol with its resolved trade intent.
type order struct {
	symbol string
	price  float64
	qty    float64 // positive share count to trade
}

// Rebalance reconciles holdings toward the target weights and returns the
// closed trades plus the turnover fraction of pre-trade equity.
//
// Held symbols missing from the trimmed target are zero-padded after the
// top-N cut, so a previously held symbol can stay flagged for divestment
// even when its fresh weight would rank above the cutoff. That is the exit
// semantic, not an accident of ordering.
func (p *Portfolio) Rebalance(targets map[string]float64, snap frame.Snapshot, date time.Time) ([]TradeRecord, float64) {
	preEquity := p.totalValue
	if preEquity <= 0 {
		return []TradeRecord{}, 0
	}

	weights := p.trimWeights(targets)

	var sells, buys []order
	for _, w := range weights {
		price, ok := p.resolvePrice(snap, w.symbol)
		if !ok {
			continue
		}
		desired := w.weight * preEquity / price
		delta := desired - p.positions[w.symbol].Quantity
		switch {
		case delta < -epsQty:
			sells = append(sells, order{symbol: w.symbol, price: price, qty: -delta})
		case delta > epsQty:
			buys = append(buys, order{symbol: w.symbol, price: price, qty: delta})
		}
	}

	var trades []TradeRecord
	var notional float64

	// sells first, freeing cash for the buys
	for _, o := range sells {
		trade := p.executeSell(o, date)
		trades = append(trades, trade)
		notional += o.qty * o.price
	}

	// scale buys uniformly when the estimate overruns available cash
	estimated := 0.0
	for _, o := range buys {
		estimated += p.buyCost(o)
	}
	if estimated > p.cash && estimated > 0 {
		scale := p.cash / estimated
		for i := range buys {
			buys[i].qty *= scale
		}
	}
	for _, o := range buys {
		if o.qty <= epsQty {
			continue
		}
		cost := p.buyCost(o)
		if cost > p.cash+cashTolerance {
			continue
		}
		p.executeBuy(o, cost, date)
		notional += o.qty * o.price
	}

	if trades == nil {
		trades = []TradeRecord{}
	}
	return trades, notional / preEquity
}

type rankedWeight struct {
	symbol string
	weight float64
}

// trimWeights clamps, floors, ranks and caps the targets, then zero-pads any
// currently held symbol missing from the trimmed set.
func (p *Portfolio) trimWeights(targets map[string]float64) []rankedWeight {
	ranked := make([]rankedWeight, 0, len(targets))
	for symbol, w := range targets {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		if w < 0 {
			w = 0
		}
		if w > 0 && w < p.minWeight {
			continue // below the allocation floor
		}
		ranked = append(ranked, rankedWeight{symbol: symbol, weight: w})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].symbol < ranked[j].symbol
	})
	if len(ranked) > p.maxPositions {
		ranked = ranked[:p.maxPositions]
	}

	kept := make(map[string]struct{}, len(ranked))
	sum := 0.0
	for _, w := range ranked {
		kept[w.symbol] = struct{}{}
		sum += w.weight
	}

	// held symbols absent from the target are divestment candidates
	var held []string
	for symbol := range p.positions {
		if _, ok := kept[symbol]; !ok {
			held = append(held, symbol)
		}
	}
	sort.Strings(held)
	for _, symbol := range held {
		ranked = append(ranked, rankedWeight{symbol: symbol, weight: 0})
	}

	if sum > 1 {
		for i := range ranked {
			ranked[i].weight /= sum
		}
	}
	return ranked
}

func (p *Portfolio) executeSell(o order, date time.Time) TradeRecord {
	pos := p.positions[o.symbol]
	qty := o.qty
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	effective := o.price * (1 - p.slippage)
	cost := qty * o.price * p.fee
	received := qty*effective - cost
	p.cash += received

	basis := qty * pos.AvgPrice
	profit := received - basis
	returnPct := 0.0
	if basis > 0 {
		returnPct = profit / basis
	}

	pos.Quantity -= qty
	if pos.Quantity <= epsQty {
		delete(p.positions, o.symbol)
	} else {
		p.positions[o.symbol] = pos
	}

	return TradeRecord{
		Symbol:    o.symbol,
		Quantity:  qty,
		EntryDate: pos.EntryDate,
		ExitDate:  date,
		AvgPrice:  pos.AvgPrice,
		ExitPrice: effective,
		Profit:    profit,
		ReturnPct: returnPct,
	}
}

// buyCost is the cash a buy order requires: slipped notional plus fees.
func (p *Portfolio) buyCost(o order) float64 {
	return o.qty*o.price*(1+p.slippage) + o.qty*o.price*p.fee
}

func (p *Portfolio) executeBuy(o order, cost float64, date time.Time) {
	pos := p.positions[o.symbol]
	fresh := pos.Quantity <= epsQty

	newQty := pos.Quantity + o.qty
	pos.AvgPrice = (pos.Quantity*pos.AvgPrice + cost) / newQty
	pos.Quantity = newQty
	if fresh {
		pos.EntryDate = date
	}
	p.positions[o.symbol] = pos
	p.cash -= cost
}
