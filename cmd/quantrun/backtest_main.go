package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantrun/quantrun/internal/backtest"
	"github.com/quantrun/quantrun/internal/backtest/strategy"
	"github.com/quantrun/quantrun/internal/provider"
	"github.com/quantrun/quantrun/internal/services/quote"
	"github.com/quantrun/quantrun/internal/universe"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run an event-driven backtest over stored quotes",
		RunE:  runBacktest,
	}
	f := cmd.Flags()
	f.String("start-date", "", "Simulation start (YYYY-MM-DD)")
	f.String("end-date", "", "Simulation end (YYYY-MM-DD)")
	f.Float64("initial-capital", 100000, "Starting cash")
	f.String("rebalance", "daily", "Rebalance frequency: daily|weekly|monthly|<N>d")
	f.Int("max-positions", 10, "Maximum concurrent holdings")
	f.Float64("slippage-bps", 0, "Per-trade slippage in basis points")
	f.Float64("fee-bps", 0, "Per-trade transaction cost in basis points")
	f.String("price-field", "close", "Primary pricing column")
	f.String("fallback-price-field", "adj_close", "Fallback pricing column")
	f.String("strategy", "low_pe_momentum", "Strategy: low_pe_momentum|trend_falcon")
	f.StringSlice("universe-list", nil, "Explicit comma-separated universe")
	f.String("universe-file", "", "File with one symbol per line")
	f.Bool("dynamic-universe", false, "Resolve the universe through the fundamental selector")
	f.Float64("filter-market-cap-min", 0, "Universe filter: minimum market cap")
	f.Float64("filter-pe-max", 0, "Universe filter: maximum PE")
	f.Float64("filter-eps-growth-min", 0, "Universe filter: minimum EPS growth")
	f.Float64("filter-roe-min", 0, "Universe filter: minimum ROE")
	f.Float64("filter-revenue-growth-min", 0, "Universe filter: minimum revenue growth")
	f.Float64("filter-beta-min", 0, "Universe filter: minimum beta")
	f.Float64("filter-beta-max", 0, "Universe filter: maximum beta")
	f.String("filter-mode", "permissive", "Universe filter mode: permissive|strict")
	f.String("output-dir", "", "Write the result JSON under this directory")
	return cmd
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	cfg, err := backtestConfig(cmd)
	if err != nil {
		return err
	}

	var universeProvider provider.UniverseProvider
	if dynamic, _ := cmd.Flags().GetBool("dynamic-universe"); dynamic && len(cfg.Universe) == 0 {
		universeProvider = a.dynamicUniverse(cmd)
	}

	strategyName, _ := cmd.Flags().GetString("strategy")
	strat, err := pickStrategy(strategyName)
	if err != nil {
		return err
	}

	prices := provider.NewStorePriceProvider(a.quotes, quote.KindStock)
	fundamentals := provider.NewStoreFundamentalProvider(a.companies)

	engine, err := backtest.NewEngine(cfg, strat, prices, fundamentals, universeProvider, a.log)
	if err != nil {
		return err
	}
	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", result.RunID).
		Float64("total_return", result.Analytics.TotalReturn).
		Float64("max_drawdown", result.Analytics.MaxDrawdown).
		Float64("sharpe", result.Analytics.SharpeRatio).
		Int("trades", result.Analytics.NumTrades).
		Msg("backtest complete")

	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		if err := writeResult(dir, result); err != nil {
			return err
		}
	}
	return nil
}

func backtestConfig(cmd *cobra.Command) (backtest.Config, error) {
	f := cmd.Flags()
	var cfg backtest.Config

	startStr, _ := f.GetString("start-date")
	endStr, _ := f.GetString("end-date")
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return cfg, fmt.Errorf("bad --start-date %q: %w", startStr, err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return cfg, fmt.Errorf("bad --end-date %q: %w", endStr, err)
	}

	cfg.StartDate = start
	cfg.EndDate = end
	cfg.InitialCapital, _ = f.GetFloat64("initial-capital")
	cfg.RebalanceFrequency, _ = f.GetString("rebalance")
	cfg.MaxPositions, _ = f.GetInt("max-positions")
	cfg.SlippageBps, _ = f.GetFloat64("slippage-bps")
	cfg.TransactionCostBps, _ = f.GetFloat64("fee-bps")
	cfg.PriceField, _ = f.GetString("price-field")
	cfg.FallbackPriceField, _ = f.GetString("fallback-price-field")

	cfg.Universe, _ = f.GetStringSlice("universe-list")
	if file, _ := f.GetString("universe-file"); file != "" {
		symbols, err := readUniverseFile(file)
		if err != nil {
			return cfg, err
		}
		cfg.Universe = append(cfg.Universe, symbols...)
	}
	return cfg, nil
}

func pickStrategy(name string) (backtest.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low_pe_momentum", "lowpe":
		return &strategy.LowPEMomentum{}, nil
	case "trend_falcon", "trendfalcon":
		return &strategy.TrendFalcon{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// dynamicUniverse adapts the fundamental selector to the engine's universe
// provider contract, applying any --filter-* overrides.
func (a *app) dynamicUniverse(cmd *cobra.Command) provider.UniverseProvider {
	opts := universeOptions(cmd)
	sel := universe.NewSelector(a.catalog, provider.NewStoreFundamentalProvider(a.companies), a.log)
	return func(ctx context.Context) ([]string, error) {
		res, err := sel.Select(ctx, opts)
		if err != nil {
			return nil, err
		}
		return res.Symbols, nil
	}
}

func universeOptions(cmd *cobra.Command) universe.Options {
	f := cmd.Flags()
	mode, _ := f.GetString("filter-mode")
	opts := universe.Options{Mode: universe.Mode(mode)}

	setIf := func(flag string, dst **float64) {
		if f.Changed(flag) {
			v, _ := f.GetFloat64(flag)
			*dst = &v
		}
	}
	setIf("filter-market-cap-min", &opts.Thresholds.MarketCapMin)
	setIf("filter-pe-max", &opts.Thresholds.PEMax)
	setIf("filter-eps-growth-min", &opts.Thresholds.EPSGrowthMin)
	setIf("filter-roe-min", &opts.Thresholds.ROEMin)
	setIf("filter-revenue-growth-min", &opts.Thresholds.RevenueGrowthMin)
	setIf("filter-beta-min", &opts.Thresholds.BetaMin)
	setIf("filter-beta-max", &opts.Thresholds.BetaMax)
	return opts
}

func readUniverseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("universe file: %w", err)
	}
	defer file.Close()

	var symbols []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	return symbols, scanner.Err()
}

func writeResult(dir string, result *backtest.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("backtest-%s.json", result.RunID))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("result written")
	return nil
}
