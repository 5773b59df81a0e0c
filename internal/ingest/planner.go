package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrun/quantrun/internal/domain"
)

// Plan is one symbol's fetch window start. The end of the window is decided
// by the orchestrator's market gating.
type Plan struct {
	Symbol string
	Start  time.Time
}

// PlannerOptions bound the computed windows.
type PlannerOptions struct {
	// FullBackfillYears sizes the window for symbols with no history;
	// zero means "from today".
	FullBackfillYears int
	// InitialOnly skips every symbol that already has any history.
	InitialOnly bool
	// CatchUpMaxDays / CatchUpMaxYears cap how far back a resume may
	// reach; zero disables the bound.
	CatchUpMaxDays  int
	CatchUpMaxYears int
}

// LatestFunc resolves a symbol's most recent stored bar date.
type LatestFunc func(ctx context.Context, symbol string) (time.Time, bool, error)

// ComputeBackfillStart decides where a symbol's window opens: the day after
// the latest stored bar, or a full-backfill horizon when nothing is stored.
func ComputeBackfillStart(today time.Time, latest *time.Time, years int) time.Time {
	if latest == nil {
		if years <= 0 {
			return today
		}
		return today.AddDate(-years, 0, 0)
	}
	return latest.AddDate(0, 0, 1)
}

// BuildPlans computes fetch plans for the given symbols. lastTradingDay
// resolves the most recent session for a symbol's market; symbols already
// at or past it are skipped.
func BuildPlans(ctx context.Context, symbols []string, latest LatestFunc, lastTradingDay func(symbol string) time.Time, today time.Time, opts PlannerOptions) ([]Plan, error) {
	today = domain.DayOf(today)
	plans := make([]Plan, 0, len(symbols))
	for _, symbol := range domain.NormalizeSymbols(symbols) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		latestDate, ok, err := latest(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", symbol, err)
		}
		if ok && opts.InitialOnly {
			continue
		}
		if ok && !latestDate.Before(domain.DayOf(lastTradingDay(symbol))) {
			continue // up to date
		}

		var latestPtr *time.Time
		if ok {
			d := domain.DayOf(latestDate)
			latestPtr = &d
		}
		start := ComputeBackfillStart(today, latestPtr, opts.FullBackfillYears)
		if opts.CatchUpMaxDays > 0 {
			if bound := today.AddDate(0, 0, -opts.CatchUpMaxDays); start.Before(bound) {
				start = bound
			}
		}
		if opts.CatchUpMaxYears > 0 {
			if bound := today.AddDate(-opts.CatchUpMaxYears, 0, 0); start.Before(bound) {
				start = bound
			}
		}
		if start.After(today) {
			continue
		}
		plans = append(plans, Plan{Symbol: symbol, Start: start})
	}
	return plans, nil
}
