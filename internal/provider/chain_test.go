package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/cache"
	"github.com/quantrun/quantrun/internal/config"
	"github.com/quantrun/quantrun/internal/domain"
)

type fakeSource struct {
	name   string
	quotes []domain.Quote
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchDaily(_ context.Context, _ string, _, _ time.Time) ([]domain.Quote, error) {
	f.calls++
	return f.quotes, f.err
}

func fakeBar(symbol string, d time.Time) domain.Quote {
	return domain.Quote{
		Symbol: symbol,
		Date:   d,
		Open:   decimal.NewFromInt(9),
		High:   decimal.NewFromInt(11),
		Low:    decimal.NewFromInt(8),
		Close:  decimal.NewFromInt(10),
	}
}

func chainConfig(t *testing.T, sources ...string) *config.SourceChains {
	t.Helper()
	chains, err := config.LoadSourceChains("", sources)
	require.NoError(t, err)
	return chains
}

func TestChainFallbackOrderHonored(t *testing.T) {
	d := domain.Date(2025, time.April, 1)
	primary := &fakeSource{name: "primary"} // returns empty
	fallback := &fakeSource{name: "fallback_A", quotes: []domain.Quote{fakeBar("US:SPY", d)}}

	chain := NewChain(chainConfig(t, "primary", "fallback_A"), nil, zerolog.Nop(), primary, fallback)
	quotes, err := chain.Fetch(context.Background(), "US:SPY", d, d)
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	// rows are annotated with the winning source
	assert.Equal(t, "fallback_A", quotes[0].Source)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestChainFirstNonEmptyWins(t *testing.T) {
	d := domain.Date(2025, time.April, 1)
	primary := &fakeSource{name: "primary", quotes: []domain.Quote{fakeBar("US:SPY", d)}}
	fallback := &fakeSource{name: "fallback_A", quotes: []domain.Quote{fakeBar("US:SPY", d)}}

	chain := NewChain(chainConfig(t, "primary", "fallback_A"), nil, zerolog.Nop(), primary, fallback)
	quotes, err := chain.Fetch(context.Background(), "US:SPY", d, d)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "primary", quotes[0].Source)
	assert.Equal(t, 0, fallback.calls)
}

func TestChainSourceFaultAdvances(t *testing.T) {
	d := domain.Date(2025, time.April, 1)
	primary := &fakeSource{name: "primary", err: errors.New("connection reset")}
	fallback := &fakeSource{name: "fallback_A", quotes: []domain.Quote{fakeBar("US:SPY", d)}}

	chain := NewChain(chainConfig(t, "primary", "fallback_A"), nil, zerolog.Nop(), primary, fallback)
	quotes, err := chain.Fetch(context.Background(), "US:SPY", d, d)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "fallback_A", quotes[0].Source)
	// primary was retried before the chain advanced
	assert.Equal(t, retryAttempts, primary.calls)
}

func TestChainAllSourcesFailing(t *testing.T) {
	primary := &fakeSource{name: "primary", err: errors.New("down")}
	fallback := &fakeSource{name: "fallback_A", err: errors.New("also down")}

	chain := NewChain(chainConfig(t, "primary", "fallback_A"), nil, zerolog.Nop(), primary, fallback)
	_, err := chain.Fetch(context.Background(), "US:SPY",
		domain.Date(2025, time.April, 1), domain.Date(2025, time.April, 1))
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Temporary)
	assert.Equal(t, "US:SPY", perr.Symbol)
}

func TestChainAllSourcesEmptyIsSoft(t *testing.T) {
	primary := &fakeSource{name: "primary"}
	fallback := &fakeSource{name: "fallback_A"}

	chain := NewChain(chainConfig(t, "primary", "fallback_A"), nil, zerolog.Nop(), primary, fallback)
	quotes, err := chain.Fetch(context.Background(), "US:SPY",
		domain.Date(2025, time.April, 1), domain.Date(2025, time.April, 1))
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestChainBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	d := domain.Date(2025, time.April, 1)
	primary := &fakeSource{name: "primary", err: errors.New("down")}
	fallback := &fakeSource{name: "fallback_A", quotes: []domain.Quote{fakeBar("US:SPY", d)}}

	chain := NewChain(chainConfig(t, "primary", "fallback_A"), nil, zerolog.Nop(), primary, fallback)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := chain.Fetch(ctx, "US:SPY", d, d)
		require.NoError(t, err)
	}
	// 5 chain-level failures trip the breaker; the 6th fetch skips primary
	assert.Equal(t, 5*retryAttempts, primary.calls)
}

func TestChainServesFromWarmCache(t *testing.T) {
	d := domain.Date(2025, time.April, 1)
	db, mock := redismock.NewClientMock()
	warm := cache.New(db, time.Minute, zerolog.Nop())

	cached := []domain.Quote{fakeBar("US:SPY", d)}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet("quotes:US:SPY:2025-04-01:2025-04-01").SetVal(string(payload))

	primary := &fakeSource{name: "primary", quotes: cached}
	chain := NewChain(chainConfig(t, "primary"), warm, zerolog.Nop(), primary)
	quotes, err := chain.Fetch(context.Background(), "US:SPY", d, d)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 0, primary.calls)
}

func TestChainUsesMarketChainWithoutOverride(t *testing.T) {
	d := domain.Date(2025, time.April, 1)
	yahoo := &fakeSource{name: "yahoo"} // empty for the CN symbol
	eastmoney := &fakeSource{name: "eastmoney", quotes: []domain.Quote{fakeBar("SH600519", d)}}

	chain := NewChain(chainConfig(t), nil, zerolog.Nop(), yahoo, eastmoney)
	quotes, err := chain.Fetch(context.Background(), "SH600519", d, d)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "eastmoney", quotes[0].Source)
	assert.Equal(t, 1, yahoo.calls)
}
