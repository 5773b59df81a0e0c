// Package quote persists daily OHLCV bars and serves them back as slices
// and price panels. One service handles both equity and index series; the
// entity kind selects the primary partition prefix.
package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/frame"
	"github.com/quantrun/quantrun/internal/store"
)

// Kind selects the primary partition an instrument's bars live under.
type Kind int

const (
	KindStock Kind = iota
	KindIndex
)

func (k Kind) pk(symbol string) string {
	if k == KindIndex {
		return store.PKIndex(symbol)
	}
	return store.PKStock(symbol)
}

// EntityQuote tags daily bars in the entity-kind sort keys.
const EntityQuote = "QUOTE"

// DefaultPanelFields are the columns GetPricePanel loads when the caller
// does not project.
var DefaultPanelFields = []string{"open", "high", "low", "close", "adj_close", "volume"}

// Service reads and writes daily bars.
type Service struct {
	repo *store.Repository
	log  zerolog.Logger

	// writeExtended persists the non-core columns (turnover, vwap,
	// adj_factor); off by default, see STOCKDATA_WRITE_EXTENDED_FIELDS.
	writeExtended bool
}

// NewService builds a quote service over the repository.
func NewService(repo *store.Repository, log zerolog.Logger, writeExtended bool) *Service {
	return &Service{
		repo:          repo,
		log:           log.With().Str("service", "quote").Logger(),
		writeExtended: writeExtended,
	}
}

// UpsertQuotes validates and writes bars, overwriting any prior row for the
// same (symbol, date). Optional attributes absent from the source stay absent
// from the item. Returns the number of distinct rows written.
func (s *Service) UpsertQuotes(ctx context.Context, kind Kind, quotes []domain.Quote) (int, error) {
	items := make([]store.Item, 0, len(quotes))
	for i := range quotes {
		q := quotes[i]
		q.Symbol = domain.NormalizeSymbol(q.Symbol)
		if err := q.Validate(); err != nil {
			return 0, fmt.Errorf("quote row %d: %w", i, err)
		}
		date := domain.FormatDate(q.Date)
		item := store.Item{
			"pk":     kind.pk(q.Symbol),
			"sk":     store.SKQuoteDate(q.Date),
			"gsi1pk": store.GSI1PKSymbol(q.Symbol),
			"gsi1sk": store.GSI1SKEntity(EntityQuote, date),
			"symbol": q.Symbol,
			"date":   date,
			"open":   q.Open,
			"high":   q.High,
			"low":    q.Low,
			"close":  q.Close,
		}
		putDecimal(item, "adj_close", q.AdjClose)
		if q.Volume != nil {
			item["volume"] = *q.Volume
		}
		if s.writeExtended {
			putDecimal(item, "turnover_amount", q.TurnoverAmount)
			putDecimal(item, "turnover_rate", q.TurnoverRate)
			putDecimal(item, "vwap", q.VWAP)
			putDecimal(item, "adj_factor", q.AdjFactor)
		}
		putString(item, "currency", q.Currency)
		putString(item, "source", q.Source)
		putString(item, "ingested_at", q.IngestedAt)
		items = append(items, item)
	}
	if err := s.repo.BatchPut(ctx, items); err != nil {
		return 0, fmt.Errorf("quote upsert: %w", err)
	}
	return len(dedupeRows(items)), nil
}

func putDecimal(item store.Item, name string, d *decimal.Decimal) {
	if d != nil {
		item[name] = *d
	}
}

func putString(item store.Item, name, v string) {
	if v != "" {
		item[name] = v
	}
}

func dedupeRows(items []store.Item) map[[2]string]struct{} {
	seen := make(map[[2]string]struct{}, len(items))
	for _, item := range items {
		pk, _ := item["pk"].(string)
		sk, _ := item["sk"].(string)
		seen[[2]string{pk, sk}] = struct{}{}
	}
	return seen
}

// LatestQuoteDate returns the most recent stored bar date for symbol, or
// ok=false when the symbol has no bars.
func (s *Service) LatestQuoteDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	symbol = domain.NormalizeSymbol(symbol)
	items, err := s.repo.QueryByIndex(ctx, store.QueryInput{
		Index:      store.IndexBySymbol,
		Partition:  store.GSI1PKSymbol(symbol),
		Prefix:     store.GSI1SKEntity(EntityQuote, ""),
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest quote date %s: %w", symbol, err)
	}
	if len(items) == 0 {
		return time.Time{}, false, nil
	}
	d, err := domain.ParseDate(attrStr(items[0], "date"))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest quote date %s: %w", symbol, err)
	}
	return d, true, nil
}

// GetQuotes returns a symbol's bars within [start, end] sorted ascending by
// date. Zero bounds are open.
func (s *Service) GetQuotes(ctx context.Context, kind Kind, symbol string, start, end time.Time) ([]domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("get quotes: empty symbol: %w", domain.ErrInvalidInput)
	}
	in := store.QueryInput{Partition: kind.pk(symbol), Prefix: EntityQuote + "#"}
	if !start.IsZero() {
		in.Prefix = ""
		in.SortGTE = store.SKQuoteDate(start)
	}
	items, err := s.repo.QueryByIndex(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get quotes %s: %w", symbol, err)
	}
	quotes := make([]domain.Quote, 0, len(items))
	for _, item := range items {
		q, err := quoteFromItem(item)
		if err != nil {
			return nil, fmt.Errorf("get quotes %s: %w", symbol, err)
		}
		if !end.IsZero() && q.Date.After(domain.DayOf(end)) {
			break
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// GetPricePanel loads bars for many symbols into one (date, symbol) panel.
// fields nil selects DefaultPanelFields. Symbols with no bars contribute
// nothing; an entirely empty result is an empty panel, not nil.
func (s *Service) GetPricePanel(ctx context.Context, kind Kind, symbols []string, start, end time.Time, fields []string) (*frame.Panel, error) {
	if len(fields) == 0 {
		fields = DefaultPanelFields
	}
	b := frame.NewBuilder()
	for _, symbol := range domain.NormalizeSymbols(symbols) {
		quotes, err := s.GetQuotes(ctx, kind, symbol, start, end)
		if err != nil {
			return nil, err
		}
		for _, q := range quotes {
			for _, field := range fields {
				if v, ok := quoteField(q, field); ok {
					b.Set(q.Date, q.Symbol, field, v)
				}
			}
		}
	}
	return b.Build(), nil
}

func quoteField(q domain.Quote, field string) (float64, bool) {
	switch field {
	case "open":
		return q.Open.InexactFloat64(), true
	case "high":
		return q.High.InexactFloat64(), true
	case "low":
		return q.Low.InexactFloat64(), true
	case "close":
		return q.Close.InexactFloat64(), true
	case "adj_close":
		return optFloat(q.AdjClose)
	case "volume":
		if q.Volume == nil {
			return 0, false
		}
		return float64(*q.Volume), true
	case "turnover_amount":
		return optFloat(q.TurnoverAmount)
	case "turnover_rate":
		return optFloat(q.TurnoverRate)
	case "vwap":
		return optFloat(q.VWAP)
	case "adj_factor":
		return optFloat(q.AdjFactor)
	default:
		return 0, false
	}
}

func optFloat(d *decimal.Decimal) (float64, bool) {
	if d == nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func attrStr(item store.Item, name string) string {
	v, _ := item[name].(string)
	return v
}

func attrDecimal(item store.Item, name string) (decimal.Decimal, bool) {
	switch v := item[name].(type) {
	case decimal.Decimal:
		return v, true
	case int64:
		return decimal.NewFromInt(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	default:
		return decimal.Decimal{}, false
	}
}

func quoteFromItem(item store.Item) (domain.Quote, error) {
	date, err := domain.ParseDate(attrStr(item, "date"))
	if err != nil {
		return domain.Quote{}, err
	}
	q := domain.Quote{
		Symbol:     attrStr(item, "symbol"),
		Date:       date,
		Currency:   attrStr(item, "currency"),
		Source:     attrStr(item, "source"),
		IngestedAt: attrStr(item, "ingested_at"),
	}
	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &q.Open}, {"high", &q.High}, {"low", &q.Low}, {"close", &q.Close},
	} {
		d, ok := attrDecimal(item, f.name)
		if !ok {
			return domain.Quote{}, fmt.Errorf("quote %s@%s missing %s: %w",
				q.Symbol, attrStr(item, "date"), f.name, domain.ErrInvalidInput)
		}
		*f.dst = d
	}
	if d, ok := attrDecimal(item, "adj_close"); ok {
		q.AdjClose = &d
	}
	if d, ok := attrDecimal(item, "volume"); ok {
		v := d.IntPart()
		q.Volume = &v
	}
	if d, ok := attrDecimal(item, "turnover_amount"); ok {
		q.TurnoverAmount = &d
	}
	if d, ok := attrDecimal(item, "turnover_rate"); ok {
		q.TurnoverRate = &d
	}
	if d, ok := attrDecimal(item, "vwap"); ok {
		q.VWAP = &d
	}
	if d, ok := attrDecimal(item, "adj_factor"); ok {
		q.AdjFactor = &d
	}
	return q, nil
}
