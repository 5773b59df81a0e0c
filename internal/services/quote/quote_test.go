package quote

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/store"
)

func newTestService(t *testing.T, writeExtended bool) (*Service, *store.MemoryClient) {
	t.Helper()
	client := store.NewMemoryClient()
	repo := store.NewRepository(client, zerolog.Nop())
	return NewService(repo, zerolog.Nop(), writeExtended), client
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func bar(symbol string, d time.Time, close float64) domain.Quote {
	return domain.Quote{
		Symbol: symbol,
		Date:   d,
		Open:   dec(close - 1),
		High:   dec(close + 1),
		Low:    dec(close - 2),
		Close:  dec(close),
	}
}

func day(d int) time.Time { return domain.Date(2025, time.April, d) }

func TestUpsertAndGetQuotesAscending(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	quotes := []domain.Quote{
		bar("SH600519", day(3), 1702),
		bar("SH600519", day(1), 1700),
		bar("SH600519", day(2), 1701),
	}
	n, err := svc.UpsertQuotes(ctx, KindStock, quotes)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := svc.GetQuotes(ctx, KindStock, "SH600519", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Date.Before(got[i].Date), "dates out of order")
	}
	assert.True(t, got[0].Close.Equal(dec(1700)))
}

func TestGetQuotesWindowInclusive(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	var quotes []domain.Quote
	for i := 1; i <= 10; i++ {
		quotes = append(quotes, bar("AAPL", day(i), 100+float64(i)))
	}
	_, err := svc.UpsertQuotes(ctx, KindStock, quotes)
	require.NoError(t, err)

	got, err := svc.GetQuotes(ctx, KindStock, "AAPL", day(3), day(7))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, day(3), got[0].Date)
	assert.Equal(t, day(7), got[len(got)-1].Date)
}

func TestUpsertSameDateTwiceKeepsOneRow(t *testing.T) {
	svc, client := newTestService(t, false)
	ctx := context.Background()

	n, err := svc.UpsertQuotes(ctx, KindStock, []domain.Quote{
		bar("AAPL", day(1), 100),
		bar("AAPL", day(1), 101), // same (symbol, date): last wins
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, client.Len())

	got, err := svc.GetQuotes(ctx, KindStock, "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(dec(101)))
}

func TestOptionalFieldsStayAbsent(t *testing.T) {
	svc, client := newTestService(t, true)
	ctx := context.Background()

	q := bar("SH600519", day(1), 1700)
	q.AdjClose = decPtr(1690)
	// volume, turnover, vwap, adj_factor left nil
	_, err := svc.UpsertQuotes(ctx, KindStock, []domain.Quote{q})
	require.NoError(t, err)

	item, err := client.GetItem(ctx, store.Key{
		PK: store.PKStock("SH600519"), SK: store.SKQuoteDate(day(1)),
	})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Contains(t, item, "adj_close")
	assert.NotContains(t, item, "volume")
	assert.NotContains(t, item, "vwap")
	assert.NotContains(t, item, "turnover_rate")

	got, err := svc.GetQuotes(ctx, KindStock, "SH600519", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Volume)
	require.NotNil(t, got[0].AdjClose)
	assert.True(t, got[0].AdjClose.Equal(dec(1690)))
}

func TestExtendedFieldsGatedByFlag(t *testing.T) {
	ctx := context.Background()
	q := bar("SH600519", day(1), 1700)
	q.VWAP = decPtr(1698.5)
	q.TurnoverRate = decPtr(0.012)

	svc, client := newTestService(t, false)
	_, err := svc.UpsertQuotes(ctx, KindStock, []domain.Quote{q})
	require.NoError(t, err)
	item, err := client.GetItem(ctx, store.Key{PK: store.PKStock("SH600519"), SK: store.SKQuoteDate(day(1))})
	require.NoError(t, err)
	assert.NotContains(t, item, "vwap")
	assert.NotContains(t, item, "turnover_rate")

	svcExt, clientExt := newTestService(t, true)
	_, err = svcExt.UpsertQuotes(ctx, KindStock, []domain.Quote{q})
	require.NoError(t, err)
	item, err = clientExt.GetItem(ctx, store.Key{PK: store.PKStock("SH600519"), SK: store.SKQuoteDate(day(1))})
	require.NoError(t, err)
	assert.Contains(t, item, "vwap")
	assert.Contains(t, item, "turnover_rate")
}

func TestLatestQuoteDate(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	_, ok, err := svc.LatestQuoteDate(ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.UpsertQuotes(ctx, KindStock, []domain.Quote{
		bar("AAPL", day(1), 100),
		bar("AAPL", day(8), 104),
		bar("AAPL", day(4), 102),
	})
	require.NoError(t, err)

	latest, ok, err := svc.LatestQuoteDate(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day(8), latest)
}

func TestIndexKindUsesSeparatePartition(t *testing.T) {
	svc, client := newTestService(t, false)
	ctx := context.Background()

	_, err := svc.UpsertQuotes(ctx, KindIndex, []domain.Quote{bar("SH000300", day(1), 4000)})
	require.NoError(t, err)

	item, err := client.GetItem(ctx, store.Key{
		PK: store.PKIndex("SH000300"), SK: store.SKQuoteDate(day(1)),
	})
	require.NoError(t, err)
	require.NotNil(t, item)

	got, err := svc.GetQuotes(ctx, KindIndex, "SH000300", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUpsertRejectsMissingDate(t *testing.T) {
	svc, client := newTestService(t, false)
	ctx := context.Background()

	q := bar("AAPL", day(1), 100)
	q.Date = time.Time{}
	_, err := svc.UpsertQuotes(ctx, KindStock, []domain.Quote{q})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, client.Len())
}

func TestGetPricePanel(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	for _, sym := range []string{"AAA", "BBB"} {
		var quotes []domain.Quote
		for i := 1; i <= 5; i++ {
			quotes = append(quotes, bar(sym, day(i), 10*float64(i)))
		}
		_, err := svc.UpsertQuotes(ctx, KindStock, quotes)
		require.NoError(t, err)
	}

	panel, err := svc.GetPricePanel(ctx, KindStock, []string{"aaa", "BBB", "AAA"}, day(2), day(4), []string{"close"})
	require.NoError(t, err)
	require.NotNil(t, panel)
	assert.Equal(t, []string{"AAA", "BBB"}, panel.Symbols())
	assert.Len(t, panel.Dates(), 3)
	v, ok := panel.Value(day(3), "BBB", "close")
	require.True(t, ok)
	assert.Equal(t, 30.0, v)
}

func TestGetPricePanelEmptyNotNil(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	panel, err := svc.GetPricePanel(ctx, KindStock, []string{"NONE"}, time.Time{}, time.Time{}, nil)
	require.NoError(t, err)
	require.NotNil(t, panel)
	assert.True(t, panel.IsEmpty())
}
