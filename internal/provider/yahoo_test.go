package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/domain"
)

func TestYahooTicker(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"US:SPY", "SPY"},
		{"GLOBAL:VIX", "^VIX"},
		{"SH600519", "600519.SS"},
		{"SZ000001", "000001.SZ"},
		{"BJ430047", "430047.BJ"},
		{"AAPL", "AAPL"},
	}
	for _, tc := range tests {
		got, err := yahooTicker(tc.symbol)
		require.NoError(t, err, "symbol %q", tc.symbol)
		assert.Equal(t, tc.want, got)
	}

	_, err := yahooTicker("  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func yahooChartPayload(timestamps []int64, closes []*float64, adj []*float64) map[string]any {
	n := len(timestamps)
	opens := make([]*float64, n)
	highs := make([]*float64, n)
	lows := make([]*float64, n)
	volumes := make([]*int64, n)
	for i := range timestamps {
		if closes[i] != nil {
			o := *closes[i] - 1
			h := *closes[i] + 1
			l := *closes[i] - 2
			v := int64(1000)
			opens[i], highs[i], lows[i], volumes[i] = &o, &h, &l, &v
		}
	}
	return map[string]any{
		"chart": map[string]any{
			"result": []any{map[string]any{
				"meta":      map[string]any{"currency": "USD"},
				"timestamp": timestamps,
				"indicators": map[string]any{
					"quote": []any{map[string]any{
						"open": opens, "high": highs, "low": lows,
						"close": closes, "volume": volumes,
					}},
					"adjclose": []any{map[string]any{"adjclose": adj}},
				},
			}},
		},
	}
}

func fp(v float64) *float64 { return &v }

func TestYahooFetchDaily(t *testing.T) {
	day1 := domain.Date(2025, time.April, 1)
	day2 := domain.Date(2025, time.April, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/SPY", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		payload := yahooChartPayload(
			[]int64{day1.Unix(), day2.Unix()},
			[]*float64{fp(500), fp(505)},
			[]*float64{fp(498), fp(503)},
		)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	c := NewYahooClient(server.URL, zerolog.Nop())
	quotes, err := c.FetchDaily(context.Background(), "US:SPY", day1, day2)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	q := quotes[0]
	assert.Equal(t, "US:SPY", q.Symbol)
	assert.Equal(t, day1, q.Date)
	assert.True(t, q.Close.Equal(decimal.NewFromInt(500)))
	require.NotNil(t, q.AdjClose)
	assert.True(t, q.AdjClose.Equal(decimal.NewFromInt(498)))
	require.NotNil(t, q.AdjFactor)
	require.NotNil(t, q.Volume)
	assert.Equal(t, int64(1000), *q.Volume)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "yahoo", q.Source)
}

func TestYahooFetchDailySkipsNullRows(t *testing.T) {
	day1 := domain.Date(2025, time.April, 1)
	day2 := domain.Date(2025, time.April, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := yahooChartPayload(
			[]int64{day1.Unix(), day2.Unix()},
			[]*float64{nil, fp(505)},
			[]*float64{nil, fp(503)},
		)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	c := NewYahooClient(server.URL, zerolog.Nop())
	quotes, err := c.FetchDaily(context.Background(), "US:SPY", day1, day2)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, day2, quotes[0].Date)
}

func TestYahooFetchDailyErrorPayloadIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chart": map[string]any{
				"result": nil,
				"error":  map[string]any{"code": "Not Found", "description": "No data found"},
			},
		})
	}))
	defer server.Close()

	c := NewYahooClient(server.URL, zerolog.Nop())
	quotes, err := c.FetchDaily(context.Background(), "US:NOPE",
		domain.Date(2025, time.April, 1), domain.Date(2025, time.April, 2))
	require.NoError(t, err)
	assert.Empty(t, quotes)
}
