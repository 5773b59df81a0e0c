package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/domain"
)

func newTestRepo(t *testing.T) (*Repository, *MemoryClient) {
	t.Helper()
	client := NewMemoryClient()
	repo := NewRepository(client, zerolog.Nop())
	repo.backoffBase = time.Millisecond
	return repo, client
}

func quoteItem(symbol string, d time.Time, close float64) Item {
	return Item{
		"pk":     PKStock(symbol),
		"sk":     SKQuoteDate(d),
		"gsi1pk": GSI1PKSymbol(symbol),
		"gsi1sk": GSI1SKEntity("QUOTE", domain.FormatDate(d)),
		"symbol": symbol,
		"date":   domain.FormatDate(d),
		"close":  decimal.NewFromFloat(close),
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	item := quoteItem("AAPL", domain.Date(2025, time.March, 3), 187.5)
	require.NoError(t, repo.PutItem(ctx, item))

	key := Key{PK: item["pk"].(string), SK: item["sk"].(string)}
	got, err := repo.GetItem(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got["symbol"])
	assert.True(t, got["close"].(decimal.Decimal).Equal(decimal.NewFromFloat(187.5)))

	require.NoError(t, repo.DeleteItem(ctx, key))
	got, err = repo.GetItem(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBatchPutIdempotent(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()

	d := domain.Date(2025, time.June, 2)
	items := []Item{
		quoteItem("SH600519", d, 1700),
		quoteItem("SH600519", d, 1701), // same (pk, sk): last writer wins
		quoteItem("SZ000001", d, 10.5),
	}
	require.NoError(t, repo.BatchPut(ctx, items))
	assert.Equal(t, 2, client.Len())

	got, err := repo.GetItem(ctx, Key{PK: PKStock("SH600519"), SK: SKQuoteDate(d)})
	require.NoError(t, err)
	assert.True(t, got["close"].(decimal.Decimal).Equal(decimal.NewFromInt(1701)))

	// re-ingesting the identical batch stays a no-op on row count
	require.NoError(t, repo.BatchPut(ctx, items))
	assert.Equal(t, 2, client.Len())
}

func TestBatchPutChunksLargeBatches(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()

	var calls int
	client.SetBatchWriteHook(func(items []Item) ([]Item, error) {
		calls++
		assert.LessOrEqual(t, len(items), MaxBatchWrite)
		return nil, nil
	})

	items := make([]Item, 0, 60)
	base := domain.Date(2025, time.January, 2)
	for i := 0; i < 60; i++ {
		items = append(items, quoteItem(fmt.Sprintf("SYM%03d", i), base, float64(i)))
	}
	require.NoError(t, repo.BatchPut(ctx, items))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 60, client.Len())
}

func TestBatchPutRetriesUnprocessed(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()

	var calls int
	client.SetBatchWriteHook(func(items []Item) ([]Item, error) {
		calls++
		if calls == 1 {
			return items[:2], nil // first call leaves two items unprocessed
		}
		return nil, nil
	})

	d := domain.Date(2025, time.July, 7)
	items := []Item{
		quoteItem("AAA", d, 1),
		quoteItem("BBB", d, 2),
		quoteItem("CCC", d, 3),
	}
	require.NoError(t, repo.BatchPut(ctx, items))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, client.Len())
}

func TestBatchPutGivesUpAfterMaxAttempts(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()

	client.SetBatchWriteHook(func(items []Item) ([]Item, error) {
		return items, nil // never makes progress
	})

	err := repo.BatchPut(ctx, []Item{quoteItem("AAA", domain.Date(2025, time.July, 7), 1)})
	require.Error(t, err)
	var rerr *RepositoryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindThrottled, rerr.Kind)
	assert.True(t, rerr.Retryable())
}

func TestBatchPutValidationNotRetried(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()

	var calls int
	client.SetBatchWriteHook(func(items []Item) ([]Item, error) {
		calls++
		return nil, repoErr("batch write", KindValidation, errors.New("malformed item"))
	})

	err := repo.BatchPut(ctx, []Item{quoteItem("AAA", domain.Date(2025, time.July, 7), 1)})
	require.Error(t, err)
	var rerr *RepositoryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindValidation, rerr.Kind)
	assert.Equal(t, 1, calls)
}

func TestQueryByIndexFollowsPagination(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()
	client.PageSize = 3

	base := domain.Date(2025, time.February, 3)
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.PutItem(ctx, quoteItem("AAPL", base.AddDate(0, 0, i), 100+float64(i))))
	}

	items, err := repo.QueryByIndex(ctx, QueryInput{
		Partition: PKStock("AAPL"),
		Prefix:    "QUOTE#",
	})
	require.NoError(t, err)
	require.Len(t, items, 10)
	// chronological by sort key across page boundaries
	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1]["sk"].(string), items[i]["sk"].(string))
	}

	limited, err := repo.QueryByIndex(ctx, QueryInput{
		Partition: PKStock("AAPL"),
		Prefix:    "QUOTE#",
		Limit:     4,
	})
	require.NoError(t, err)
	assert.Len(t, limited, 4)
}

func TestQueryDescendingLatestFirst(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()
	client.PageSize = 2

	base := domain.Date(2025, time.February, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.PutItem(ctx, quoteItem("MSFT", base.AddDate(0, 0, i), 400)))
	}

	items, err := repo.QueryByIndex(ctx, QueryInput{
		Partition:  PKStock("MSFT"),
		Prefix:     "QUOTE#",
		Descending: true,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "QUOTE#2025-02-07", items[0]["sk"])
}

func TestQueryByScoreIndex(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	put := func(symbol string, score float64) {
		require.NoError(t, repo.PutItem(ctx, Item{
			"pk":     concat("COMPANY", symbol),
			"gsi1pk": ScorePartition,
			"gsi1sk": ScoreSortKey(score, symbol),
			"symbol": symbol,
			"score":  decimal.NewFromFloat(score),
		}))
	}
	put("LOW", 5)
	put("MID", 50)
	put("HIGH", 95)

	items, err := repo.QueryByIndex(ctx, QueryInput{
		Index:     IndexByScore,
		Partition: ScorePartition,
		SortGTE:   PadScore(40),
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "MID", items[0]["symbol"])
	assert.Equal(t, "HIGH", items[1]["symbol"])
}

func TestBatchGetDedupesAndRetries(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()

	d := domain.Date(2025, time.May, 5)
	require.NoError(t, repo.PutItem(ctx, quoteItem("AAA", d, 1)))
	require.NoError(t, repo.PutItem(ctx, quoteItem("BBB", d, 2)))

	var calls int
	client.SetBatchGetHook(func(keys []Key) ([]Key, error) {
		calls++
		if calls == 1 {
			return keys[len(keys)-1:], nil
		}
		return nil, nil
	})

	keyA := Key{PK: PKStock("AAA"), SK: SKQuoteDate(d)}
	keyB := Key{PK: PKStock("BBB"), SK: SKQuoteDate(d)}
	items, err := repo.BatchGet(ctx, BatchGetInput{Keys: []Key{keyA, keyA, keyB}})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, calls)
}

func TestScanWithFilterAndProjection(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx := context.Background()
	client.PageSize = 2

	for i := 0; i < 5; i++ {
		status := "active"
		if i%2 == 1 {
			status = "deactive"
		}
		require.NoError(t, repo.PutItem(ctx, Item{
			"pk":     PKStock(fmt.Sprintf("SYM%d", i)),
			"sk":     SKMeta("CATALOG"),
			"status": status,
			"name":   fmt.Sprintf("Company %d", i),
		}))
	}

	items, err := repo.Scan(ctx, ScanInput{
		Filter:     map[string]string{"status": "active"},
		Projection: []string{"status"},
	})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, "active", item["status"])
		assert.NotContains(t, item, "name")
	}
}

func TestBatchPutCancelledContext(t *testing.T) {
	repo, client := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client.SetBatchWriteHook(func(items []Item) ([]Item, error) {
		return items, nil
	})
	err := repo.BatchPut(ctx, []Item{quoteItem("AAA", domain.Date(2025, time.July, 7), 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
