package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantrun/quantrun/internal/domain"
)

const eastmoneyBaseURL = "https://push2his.eastmoney.com"

// EastmoneyClient fetches A-share daily bars from the eastmoney kline API.
// Two requests per window: raw bars (fqt=0) carry OHLCV and turnover, the
// front-adjusted series (fqt=1) supplies adj_close.
type EastmoneyClient struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewEastmoneyClient builds the adapter. baseURL empty selects the live API.
func NewEastmoneyClient(baseURL string, log zerolog.Logger) *EastmoneyClient {
	if baseURL == "" {
		baseURL = eastmoneyBaseURL
	}
	return &EastmoneyClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second),
		log: log.With().Str("source", "eastmoney").Logger(),
	}
}

// Name implements SourceClient.
func (c *EastmoneyClient) Name() string { return "eastmoney" }

type eastmoneyResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// secid maps an A-share symbol to eastmoney's market-prefixed id:
// Shanghai is market 1, Shenzhen and Beijing market 0.
func secid(symbol string) (string, error) {
	symbol = domain.NormalizeSymbol(symbol)
	switch {
	case strings.HasPrefix(symbol, "SH"):
		return "1." + symbol[2:], nil
	case strings.HasPrefix(symbol, "SZ"), strings.HasPrefix(symbol, "BJ"):
		return "0." + symbol[2:], nil
	default:
		return "", fmt.Errorf("symbol %q is not an A-share code: %w", symbol, domain.ErrInvalidInput)
	}
}

// FetchDaily implements SourceClient.
func (c *EastmoneyClient) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error) {
	id, err := secid(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := c.fetchKlines(ctx, id, start, end, "0")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	adjusted, err := c.fetchKlines(ctx, id, start, end, "1")
	if err != nil {
		// adjusted series is an enrichment; raw bars still stand
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("adjusted series unavailable")
		adjusted = nil
	}
	adjClose := make(map[string]decimal.Decimal, len(adjusted))
	for _, line := range adjusted {
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		if d, err := decimal.NewFromString(fields[2]); err == nil {
			adjClose[fields[0]] = d
		}
	}

	symbol = domain.NormalizeSymbol(symbol)
	quotes := make([]domain.Quote, 0, len(raw))
	for _, line := range raw {
		q, err := parseEastmoneyKline(symbol, line)
		if err != nil {
			return nil, fmt.Errorf("eastmoney kline %q: %w", line, err)
		}
		if adj, ok := adjClose[domain.FormatDate(q.Date)]; ok {
			q.AdjClose = &adj
			if factor, ok := safeDiv(adj, q.Close); ok {
				q.AdjFactor = &factor
			}
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (c *EastmoneyClient) fetchKlines(ctx context.Context, secid string, start, end time.Time, fqt string) ([]string, error) {
	var out eastmoneyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"secid":   secid,
			"klt":     "101", // daily bars
			"fqt":     fqt,
			"beg":     start.Format("20060102"),
			"end":     end.Format("20060102"),
			"fields1": "f1,f2,f3",
			"fields2": "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61",
		}).
		SetResult(&out).
		Get("/api/qt/stock/kline/get")
	if err != nil {
		return nil, fmt.Errorf("eastmoney request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("eastmoney status %d", resp.StatusCode())
	}
	if out.Data == nil {
		return nil, nil
	}
	return out.Data.Klines, nil
}

// kline CSV layout: date, open, close, high, low, volume(lots), amount,
// amplitude%, change%, change, turnover-rate
func parseEastmoneyKline(symbol, line string) (domain.Quote, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return domain.Quote{}, fmt.Errorf("short kline (%d fields): %w", len(fields), domain.ErrInvalidInput)
	}
	date, err := domain.ParseDate(fields[0])
	if err != nil {
		return domain.Quote{}, err
	}
	open, err := decimal.NewFromString(fields[1])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("open: %w", err)
	}
	close, err := decimal.NewFromString(fields[2])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("close: %w", err)
	}
	high, err := decimal.NewFromString(fields[3])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("high: %w", err)
	}
	low, err := decimal.NewFromString(fields[4])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("low: %w", err)
	}

	q := domain.Quote{
		Symbol:   symbol,
		Date:     date,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		Currency: "CNY",
		Source:   "eastmoney",
	}

	// volume arrives in lots of 100 shares
	if lots, err := decimal.NewFromString(fields[5]); err == nil {
		shares := lots.Mul(decimal.NewFromInt(100)).IntPart()
		q.Volume = &shares
	}
	var amount *decimal.Decimal
	if a, err := decimal.NewFromString(fields[6]); err == nil {
		amount = &a
		q.TurnoverAmount = &a
	}
	if len(fields) > 10 {
		if rate, ok := parseRate(fields[10]); ok {
			q.TurnoverRate = &rate
		}
	}
	if amount != nil && q.Volume != nil && *q.Volume > 0 {
		if vwap, ok := safeDiv(*amount, decimal.NewFromInt(*q.Volume)); ok {
			q.VWAP = &vwap
		}
	}
	return q, nil
}

// parseRate converts a turnover rate; a trailing % marks a percentage and is
// divided down to a ratio.
func parseRate(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	percent := strings.HasSuffix(raw, "%")
	raw = strings.TrimSuffix(raw, "%")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	return d, true
}

// safeDiv divides, mapping zero denominators to absent.
func safeDiv(num, den decimal.Decimal) (decimal.Decimal, bool) {
	if den.IsZero() {
		return decimal.Decimal{}, false
	}
	return num.Div(den), true
}
