package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/domain"
)

func fixedLatest(dates map[string]time.Time) LatestFunc {
	return func(_ context.Context, symbol string) (time.Time, bool, error) {
		d, ok := dates[symbol]
		return d, ok, nil
	}
}

func constDay(d time.Time) func(string) time.Time {
	return func(string) time.Time { return d }
}

func TestComputeBackfillStart(t *testing.T) {
	today := domain.Date(2025, time.September, 14)

	// no history, zero years: start today
	assert.Equal(t, today, ComputeBackfillStart(today, nil, 0))

	// no history with a horizon
	assert.Equal(t, domain.Date(2020, time.September, 14),
		ComputeBackfillStart(today, nil, 5))

	// resume the day after the latest bar
	latest := domain.Date(2025, time.September, 10)
	assert.Equal(t, domain.Date(2025, time.September, 11),
		ComputeBackfillStart(today, &latest, 5))
}

func TestBuildPlansResumeAfterPartialHistory(t *testing.T) {
	today := domain.Date(2025, time.September, 14)
	lastTrading := domain.Date(2025, time.September, 12)

	plans, err := BuildPlans(context.Background(), []string{"X"},
		fixedLatest(map[string]time.Time{"X": domain.Date(2025, time.September, 10)}),
		constDay(lastTrading), today, PlannerOptions{FullBackfillYears: 0})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "X", plans[0].Symbol)
	assert.Equal(t, domain.Date(2025, time.September, 11), plans[0].Start)
}

func TestBuildPlansSkipsUpToDateSymbols(t *testing.T) {
	today := domain.Date(2025, time.September, 14)
	lastTrading := domain.Date(2025, time.September, 12)

	plans, err := BuildPlans(context.Background(), []string{"A", "B"},
		fixedLatest(map[string]time.Time{
			"A": lastTrading,                        // exactly at last session
			"B": domain.Date(2025, time.September, 13), // past it
		}),
		constDay(lastTrading), today, PlannerOptions{})
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestBuildPlansInitialOnlySkipsSeededSymbols(t *testing.T) {
	today := domain.Date(2025, time.September, 14)

	plans, err := BuildPlans(context.Background(), []string{"OLD", "NEW"},
		fixedLatest(map[string]time.Time{"OLD": domain.Date(2024, time.January, 2)}),
		constDay(domain.Date(2025, time.September, 12)), today,
		PlannerOptions{InitialOnly: true, FullBackfillYears: 5})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "NEW", plans[0].Symbol)
	assert.Equal(t, domain.Date(2020, time.September, 14), plans[0].Start)
}

func TestBuildPlansCatchUpBounds(t *testing.T) {
	today := domain.Date(2025, time.September, 14)
	latest := domain.Date(2024, time.January, 2)

	plans, err := BuildPlans(context.Background(), []string{"X"},
		fixedLatest(map[string]time.Time{"X": latest}),
		constDay(domain.Date(2025, time.September, 12)), today,
		PlannerOptions{CatchUpMaxDays: 30})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, today.AddDate(0, 0, -30), plans[0].Start)

	plans, err = BuildPlans(context.Background(), []string{"X"},
		fixedLatest(map[string]time.Time{"X": latest}),
		constDay(domain.Date(2025, time.September, 12)), today,
		PlannerOptions{CatchUpMaxYears: 1})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, today.AddDate(-1, 0, 0), plans[0].Start)
}

func TestBuildPlansNormalizesAndDedupes(t *testing.T) {
	today := domain.Date(2025, time.September, 14)

	plans, err := BuildPlans(context.Background(), []string{" aapl ", "AAPL", "msft"},
		fixedLatest(nil), constDay(domain.Date(2025, time.September, 12)), today,
		PlannerOptions{})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "AAPL", plans[0].Symbol)
	assert.Equal(t, "MSFT", plans[1].Symbol)
}
