// Package universe derives candidate symbol lists by screening catalog
// entries against fundamental thresholds.
package universe

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/provider"
	"github.com/quantrun/quantrun/internal/services/catalog"
)

// Mode decides how a missing metric scores against its threshold.
type Mode string

const (
	// ModePermissive passes a check unless the metric is present and
	// failing.
	ModePermissive Mode = "permissive"
	// ModeStrict fails a check whose metric is absent.
	ModeStrict Mode = "strict"
)

// Thresholds is the filter bundle. Nil fields are not applied at all,
// regardless of mode.
type Thresholds struct {
	MarketCapMin     *float64
	PEMax            *float64
	EPSGrowthMin     *float64
	ROEMin           *float64
	RevenueGrowthMin *float64
	BetaMin          *float64
	BetaMax          *float64
}

// Float is a convenience for building threshold literals.
func Float(v float64) *float64 { return &v }

func (t Thresholds) empty() bool {
	return t.MarketCapMin == nil && t.PEMax == nil && t.EPSGrowthMin == nil &&
		t.ROEMin == nil && t.RevenueGrowthMin == nil && t.BetaMin == nil && t.BetaMax == nil
}

// Options configure one selection run.
type Options struct {
	// Market and Status narrow the catalog query; empty Market falls back
	// to a full catalog scan.
	Market string
	Status domain.ListingStatus
	// Limit caps the returned candidate list; zero means unlimited.
	Limit      int
	Mode       Mode
	Thresholds Thresholds
}

// Check is one threshold evaluation in the trace.
type Check struct {
	Name      string
	Threshold float64
	// Value is the metric the check ran against; nil when absent even
	// after derivation.
	Value  *float64
	Passed bool
}

// Evaluation traces one candidate's screening.
type Evaluation struct {
	Symbol string
	Passed bool
	// Missing reports the candidate had no fundamentals row at all.
	Missing bool
	Checks  []Check
}

// Result is the ordered candidate list plus the full per-candidate trace.
type Result struct {
	Symbols []string
	Trace   []Evaluation
}

// Selector screens catalog candidates through stored fundamentals.
type Selector struct {
	catalog      *catalog.Service
	fundamentals provider.FundamentalDataProvider
	log          zerolog.Logger
}

// NewSelector wires a selector over the catalog and fundamentals stores.
func NewSelector(cat *catalog.Service, fundamentals provider.FundamentalDataProvider, log zerolog.Logger) *Selector {
	return &Selector{
		catalog:      cat,
		fundamentals: fundamentals,
		log:          log.With().Str("component", "universe").Logger(),
	}
}

// Select loads candidates, evaluates the threshold bundle against each and
// returns the survivors in catalog order.
func (s *Selector) Select(ctx context.Context, opts Options) (Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModePermissive
	}
	if opts.Mode != ModePermissive && opts.Mode != ModeStrict {
		return Result{}, fmt.Errorf("unknown selector mode %q: %w", opts.Mode, domain.ErrInvalidInput)
	}

	candidates, err := s.loadCandidates(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	fundamentals, err := s.fundamentals.Load(ctx, candidates, nil)
	if err != nil {
		return Result{}, fmt.Errorf("load fundamentals: %w", err)
	}

	result := Result{Trace: make([]Evaluation, 0, len(candidates))}
	for _, symbol := range candidates {
		metrics, ok := fundamentals[symbol]
		eval := evaluate(symbol, metrics, !ok, opts.Mode, opts.Thresholds)
		result.Trace = append(result.Trace, eval)
		if !eval.Passed {
			continue
		}
		if opts.Limit > 0 && len(result.Symbols) >= opts.Limit {
			continue // keep tracing past the cap
		}
		result.Symbols = append(result.Symbols, symbol)
	}
	s.log.Info().Int("candidates", len(candidates)).Int("selected", len(result.Symbols)).
		Str("mode", string(opts.Mode)).Msg("universe selected")
	return result, nil
}

func (s *Selector) loadCandidates(ctx context.Context, opts Options) ([]string, error) {
	var (
		entries []domain.CatalogEntry
		err     error
	)
	if opts.Market != "" {
		entries, err = s.catalog.Query(ctx, domain.AssetStock, opts.Market, opts.Status, 0)
	} else {
		entries, err = s.catalog.Scan(ctx, map[string]string{"asset_type": string(domain.AssetStock)}, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog candidates: %w", err)
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	return domain.NormalizeSymbols(symbols), nil
}

// evaluate runs every configured check against the candidate's metrics.
func evaluate(symbol string, metrics map[string]float64, missingRow bool, mode Mode, t Thresholds) Evaluation {
	eval := Evaluation{Symbol: symbol, Missing: missingRow}
	if t.empty() {
		eval.Passed = true
		return eval
	}
	derived := deriveMetrics(metrics)

	run := func(name string, threshold float64, pass func(v float64) bool) {
		check := Check{Name: name, Threshold: threshold}
		if v, ok := derived[name]; ok {
			check.Value = &v
			check.Passed = pass(v)
		} else {
			check.Passed = mode == ModePermissive
		}
		eval.Checks = append(eval.Checks, check)
	}

	if t.MarketCapMin != nil {
		run("market_cap", *t.MarketCapMin, func(v float64) bool { return v >= *t.MarketCapMin })
	}
	if t.PEMax != nil {
		run("pe", *t.PEMax, func(v float64) bool { return v > 0 && v <= *t.PEMax })
	}
	if t.EPSGrowthMin != nil {
		run("eps_growth", *t.EPSGrowthMin, func(v float64) bool { return v >= *t.EPSGrowthMin })
	}
	if t.ROEMin != nil {
		run("roe", *t.ROEMin, func(v float64) bool { return v >= *t.ROEMin })
	}
	if t.RevenueGrowthMin != nil {
		run("revenue_growth", *t.RevenueGrowthMin, func(v float64) bool { return v >= *t.RevenueGrowthMin })
	}
	if t.BetaMin != nil {
		run("beta_min", *t.BetaMin, func(v float64) bool { return v >= *t.BetaMin })
	}
	if t.BetaMax != nil {
		run("beta_max", *t.BetaMax, func(v float64) bool { return v <= *t.BetaMax })
	}

	eval.Passed = true
	for _, c := range eval.Checks {
		if !c.Passed {
			eval.Passed = false
			break
		}
	}
	return eval
}

// deriveMetrics fills gaps the stored snapshot can imply:
// market_cap = price * shares_outstanding, pe = price / eps,
// roe = net_income / equity. beta_min/beta_max both read "beta".
func deriveMetrics(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics)+3)
	for k, v := range metrics {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	price, hasPrice := out["price"]

	if _, ok := out["market_cap"]; !ok {
		if shares, hasShares := out["shares_outstanding"]; hasPrice && hasShares && shares > 0 {
			out["market_cap"] = price * shares
		}
	}
	if _, ok := out["pe"]; !ok {
		if eps, hasEPS := out["eps"]; hasPrice && hasEPS && eps != 0 {
			out["pe"] = price / eps
		}
	}
	if _, ok := out["roe"]; !ok {
		ni, hasNI := out["net_income"]
		eq, hasEq := out["equity"]
		if hasNI && hasEq && eq != 0 {
			out["roe"] = ni / eq
		}
	}
	if beta, ok := out["beta"]; ok {
		out["beta_min"] = beta
		out["beta_max"] = beta
	}
	return out
}
