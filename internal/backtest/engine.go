package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/frame"
	"github.com/quantrun/quantrun/internal/provider"
)

// State tracks the engine lifecycle.
type State string

const (
	StateConstructed State = "constructed"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Context is the strategy-visible view of a run: the resolved universe, the
// full price panel and any loaded fundamentals.
type Context struct {
	Config       Config
	Universe     []string
	Prices       *frame.Panel
	Fundamentals map[string]map[string]float64
	Log          zerolog.Logger
}

// Strategy is the contract the engine drives. Initialize is called once
// after data loading; OnRebalance is called on each schedule date and
// returns target weights by symbol.
type Strategy interface {
	Name() string
	Initialize(rc *Context) error
	OnRebalance(date time.Time, rc *Context, prices frame.Snapshot, portfolio PortfolioView) (map[string]float64, error)
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Date  time.Time
	Value float64
}

// Result is the full outcome of one run. It is only produced for runs that
// finish; failures surface an error and no partial result.
type Result struct {
	RunID    string
	Strategy string

	StartDate time.Time
	EndDate   time.Time

	InitialCapital float64
	EndingEquity   float64
	EndingCash     float64

	EquityCurve  []EquityPoint
	DailyReturns []float64

	Analytics Analytics
	Trades    []TradeRecord
	Turnover  map[time.Time]float64

	FinalPositions map[string]Position
}

// Engine wires one backtest run. Each run owns its engine; instances are not
// reusable.
type Engine struct {
	cfg          Config
	strategy     Strategy
	prices       provider.PriceDataProvider
	fundamentals provider.FundamentalDataProvider
	universe     provider.UniverseProvider
	log          zerolog.Logger
	state        State
}

// NewEngine validates the configuration and constructs an engine.
// fundamentals and universeProvider may be nil.
func NewEngine(cfg Config, strategy Strategy, prices provider.PriceDataProvider, fundamentals provider.FundamentalDataProvider, universeProvider provider.UniverseProvider, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, failf(err, "invalid configuration")
	}
	if strategy == nil {
		return nil, failf(domain.ErrInvalidInput, "strategy is required")
	}
	if prices == nil {
		return nil, failf(domain.ErrInvalidInput, "price provider is required")
	}
	return &Engine{
		cfg:          cfg,
		strategy:     strategy,
		prices:       prices,
		fundamentals: fundamentals,
		universe:     universeProvider,
		log:          log.With().Str("component", "backtest").Str("strategy", strategy.Name()).Logger(),
		state:        StateConstructed,
	}, nil
}

// State reports the engine lifecycle state.
func (e *Engine) State() State { return e.state }

func (e *Engine) fail(err *Error) (*Result, error) {
	e.state = StateFailed
	e.log.Error().Err(err).Msg("backtest failed")
	return nil, err
}

// Run executes the full simulation.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	universe, err := e.resolveUniverse(ctx)
	if err != nil {
		return e.fail(err)
	}

	panel, fundamentals, err := e.loadData(ctx, universe)
	if err != nil {
		return e.fail(err)
	}

	freq, ferr := parseFrequency(e.cfg.RebalanceFrequency)
	if ferr != nil {
		return e.fail(failf(ferr, "rebalance schedule"))
	}
	schedule := buildSchedule(panel.Dates(), freq)
	rebalanceOn := make(map[time.Time]struct{}, len(schedule))
	for _, d := range schedule {
		rebalanceOn[d] = struct{}{}
	}

	rc := &Context{
		Config:       e.cfg,
		Universe:     universe,
		Prices:       panel,
		Fundamentals: fundamentals,
		Log:          e.log,
	}
	if err := e.strategy.Initialize(rc); err != nil {
		return e.fail(failf(err, "strategy initialization"))
	}
	e.state = StateInitialized

	e.state = StateRunning
	portfolio := NewPortfolio(e.cfg)
	dates := panel.Dates()
	curve := make([]EquityPoint, 0, len(dates))
	turnover := make(map[time.Time]float64, len(schedule))
	var trades []TradeRecord

	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return e.fail(&Error{Reason: "run cancelled", Date: date, Err: err})
		}
		snap := panel.At(i)
		portfolio.MarkToMarket(snap)

		if _, ok := rebalanceOn[date]; ok {
			targets, err := e.strategy.OnRebalance(date, rc, snap, portfolio.View())
			if err != nil {
				return e.fail(&Error{Reason: "strategy rebalance", Date: date, Err: err})
			}
			closed, turned := portfolio.Rebalance(targets, snap, date)
			trades = append(trades, closed...)
			if turned > 0 {
				turnover[date] = turned
			}
			portfolio.MarkToMarket(snap)
		}
		curve = append(curve, EquityPoint{Date: date, Value: portfolio.TotalValue()})
	}

	equity := make([]float64, len(curve))
	for i, pt := range curve {
		equity[i] = pt.Value
	}
	returns := dailyReturns(equity)

	result := &Result{
		RunID:          uuid.New().String(),
		Strategy:       e.strategy.Name(),
		StartDate:      e.cfg.StartDate,
		EndDate:        e.cfg.EndDate,
		InitialCapital: e.cfg.InitialCapital,
		EndingEquity:   portfolio.TotalValue(),
		EndingCash:     portfolio.Cash(),
		EquityCurve:    curve,
		DailyReturns:   returns,
		Analytics:      computeAnalytics(equity, returns, trades),
		Trades:         trades,
		Turnover:       turnover,
		FinalPositions: portfolio.Positions(),
	}
	e.state = StateDone
	e.log.Info().Str("run_id", result.RunID).
		Float64("ending_equity", result.EndingEquity).
		Int("trades", len(trades)).Msg("backtest done")
	return result, nil
}

// resolveUniverse prefers the caller-supplied list over the provider.
func (e *Engine) resolveUniverse(ctx context.Context) ([]string, *Error) {
	symbols := e.cfg.Universe
	if len(symbols) == 0 && e.universe != nil {
		var err error
		symbols, err = e.universe(ctx)
		if err != nil {
			return nil, failf(err, "universe provider")
		}
	}
	universe := domain.NormalizeSymbols(symbols)
	if len(universe) == 0 {
		return nil, failf(domain.ErrInvalidInput, "empty universe")
	}
	return universe, nil
}

// loadData pulls the price panel (restricted to the run window) and the
// optional fundamentals table.
func (e *Engine) loadData(ctx context.Context, universe []string) (*frame.Panel, map[string]map[string]float64, *Error) {
	fields := e.cfg.PriceFields
	if len(fields) == 0 {
		fields = []string{e.cfg.PriceField, e.cfg.FallbackPriceField}
	}
	panel, err := e.prices.Load(ctx, universe, e.cfg.StartDate, e.cfg.EndDate, fields)
	if err != nil {
		return nil, nil, failf(err, "load price panel")
	}
	if panel != nil {
		panel = panel.Slice(e.cfg.StartDate, e.cfg.EndDate)
	}
	if panel == nil || panel.IsEmpty() {
		return nil, nil, failf(domain.ErrInvalidInput, "no price data in window")
	}
	if !panel.HasColumn(e.cfg.PriceField) && !panel.HasColumn(e.cfg.FallbackPriceField) {
		return nil, nil, failf(domain.ErrInvalidInput,
			"panel has neither %q nor %q", e.cfg.PriceField, e.cfg.FallbackPriceField)
	}

	var fundamentals map[string]map[string]float64
	if e.fundamentals != nil {
		fundamentals, err = e.fundamentals.Load(ctx, universe, e.cfg.FundamentalFields)
		if err != nil {
			return nil, nil, failf(err, "load fundamentals")
		}
	}
	return panel, fundamentals, nil
}
