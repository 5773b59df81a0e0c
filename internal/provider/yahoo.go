package provider

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantrun/quantrun/internal/domain"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient fetches daily bars from the yahoo chart API. It covers global
// symbols and doubles as the fallback for A-share codes via exchange
// suffixes.
type YahooClient struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewYahooClient builds the adapter. baseURL empty selects the live API.
func NewYahooClient(baseURL string, log zerolog.Logger) *YahooClient {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &YahooClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetHeader("User-Agent", "Mozilla/5.0 (quantrun)"),
		log: log.With().Str("source", "yahoo").Logger(),
	}
}

// Name implements SourceClient.
func (c *YahooClient) Name() string { return "yahoo" }

// yahooTicker maps canonical symbols to yahoo's ticker forms: US:SPY -> SPY,
// GLOBAL:VIX -> ^VIX, SH600519 -> 600519.SS, SZ000001 -> 000001.SZ.
func yahooTicker(symbol string) (string, error) {
	symbol = domain.NormalizeSymbol(symbol)
	switch {
	case strings.HasPrefix(symbol, "US:"):
		return strings.TrimPrefix(symbol, "US:"), nil
	case strings.HasPrefix(symbol, "GLOBAL:"):
		return "^" + strings.TrimPrefix(symbol, "GLOBAL:"), nil
	case strings.HasPrefix(symbol, "SH"):
		return symbol[2:] + ".SS", nil
	case strings.HasPrefix(symbol, "SZ"):
		return symbol[2:] + ".SZ", nil
	case strings.HasPrefix(symbol, "BJ"):
		return symbol[2:] + ".BJ", nil
	case symbol == "":
		return "", fmt.Errorf("empty symbol: %w", domain.ErrInvalidInput)
	default:
		return symbol, nil
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDaily implements SourceClient.
func (c *YahooClient) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error) {
	ticker, err := yahooTicker(symbol)
	if err != nil {
		return nil, err
	}
	var out yahooChartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"period1":  fmt.Sprintf("%d", domain.DayOf(start).Unix()),
			"period2":  fmt.Sprintf("%d", domain.DayOf(end).AddDate(0, 0, 1).Unix()),
			"interval": "1d",
			"events":   "div,split",
		}).
		SetResult(&out).
		Get("/v8/finance/chart/" + ticker)
	if err != nil {
		return nil, fmt.Errorf("yahoo request: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return nil, fmt.Errorf("yahoo status %d", resp.StatusCode())
	}
	if out.Chart.Error != nil {
		// "not found" is partial coverage, not a fault
		c.log.Debug().Str("symbol", symbol).Str("code", out.Chart.Error.Code).Msg("yahoo reported no data")
		return nil, nil
	}
	if len(out.Chart.Result) == 0 || len(out.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := out.Chart.Result[0]
	bars := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	symbol = domain.NormalizeSymbol(symbol)
	endDay := domain.DayOf(end)
	quotes := make([]domain.Quote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		date := domain.DayOf(time.Unix(ts, 0))
		if date.After(endDay) {
			continue
		}
		open, okO := deref(bars.Open, i)
		high, okH := deref(bars.High, i)
		low, okL := deref(bars.Low, i)
		closePx, okC := deref(bars.Close, i)
		if !okO || !okH || !okL || !okC {
			continue // null row, market holiday artifact
		}
		q := domain.Quote{
			Symbol:   symbol,
			Date:     date,
			Open:     decimal.NewFromFloat(open),
			High:     decimal.NewFromFloat(high),
			Low:      decimal.NewFromFloat(low),
			Close:    decimal.NewFromFloat(closePx),
			Currency: result.Meta.Currency,
			Source:   "yahoo",
		}
		if i < len(bars.Volume) && bars.Volume[i] != nil {
			v := *bars.Volume[i]
			q.Volume = &v
		}
		if i < len(adj) && adj[i] != nil && isFinite(*adj[i]) {
			d := decimal.NewFromFloat(*adj[i])
			q.AdjClose = &d
			if factor, ok := safeDiv(d, q.Close); ok {
				q.AdjFactor = &factor
			}
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func deref(values []*float64, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil || !isFinite(*values[i]) {
		return 0, false
	}
	return *values[i], true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
