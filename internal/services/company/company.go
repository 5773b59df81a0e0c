// Package company maintains one latest fundamentals snapshot per company in
// its own table: bare partition key, plus a score-ordered index for
// ≥-threshold queries.
package company

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/store"
)

// Service reads and writes company snapshots.
type Service struct {
	repo *store.Repository
	log  zerolog.Logger
}

// NewService builds a company service over the company table's repository.
func NewService(repo *store.Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("service", "company").Logger()}
}

// Put overwrites the snapshot for one company. Score must be nonnegative;
// metric leaves convert to exact decimal before the write.
func (s *Service) Put(ctx context.Context, c domain.Company) error {
	c.Symbol = domain.NormalizeSymbol(c.Symbol)
	if c.Symbol == "" {
		return fmt.Errorf("company put: empty symbol: %w", domain.ErrInvalidInput)
	}
	if c.Score < 0 || math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
		return fmt.Errorf("company put %s: score must be nonnegative and finite: %w",
			c.Symbol, domain.ErrInvalidInput)
	}
	item := store.Item{
		"pk":     c.Symbol,
		"gsi1pk": store.ScorePartition,
		"gsi1sk": store.ScoreSortKey(c.Score, c.Symbol),
		"symbol": c.Symbol,
		"score":  decimal.NewFromFloat(c.Score),
	}
	for name, v := range map[string]string{
		"name": c.Name, "exchange": c.Exchange, "market": c.Market,
		"status": c.Status, "source": c.Source,
	} {
		if v != "" {
			item[name] = v
		}
	}
	if len(c.Metrics) > 0 {
		metrics := make(map[string]any, len(c.Metrics))
		for name, v := range c.Metrics {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			metrics[name] = decimal.NewFromFloat(v)
		}
		item["metrics"] = metrics
	}
	if err := s.repo.PutItem(ctx, item); err != nil {
		return fmt.Errorf("company put %s: %w", c.Symbol, err)
	}
	return nil
}

// PutAll overwrites many snapshots; invalid rows fail the call up front.
func (s *Service) PutAll(ctx context.Context, companies []domain.Company) error {
	for i := range companies {
		if err := s.Put(ctx, companies[i]); err != nil {
			return fmt.Errorf("company row %d: %w", i, err)
		}
	}
	return nil
}

// Get returns one company, or ok=false when absent.
func (s *Service) Get(ctx context.Context, symbol string) (domain.Company, bool, error) {
	symbol = domain.NormalizeSymbol(symbol)
	item, err := s.repo.GetItem(ctx, store.Key{PK: symbol})
	if err != nil {
		return domain.Company{}, false, fmt.Errorf("company get %s: %w", symbol, err)
	}
	if item == nil {
		return domain.Company{}, false, nil
	}
	return companyFromItem(item), true, nil
}

// QueryByScore returns companies with score ≥ minScore ascending by score.
// The padded score key makes the ≥ comparison a lexical range condition.
func (s *Service) QueryByScore(ctx context.Context, minScore float64, limit int) ([]domain.Company, error) {
	items, err := s.repo.QueryByIndex(ctx, store.QueryInput{
		Index:     store.IndexByScore,
		Partition: store.ScorePartition,
		SortGTE:   store.PadScore(minScore),
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("company query by score: %w", err)
	}
	out := make([]domain.Company, 0, len(items))
	for _, item := range items {
		out = append(out, companyFromItem(item))
	}
	return out, nil
}

// BatchGet fetches snapshots for many symbols in one pass, deduplicating the
// request and following the unprocessed-keys protocol. Missing symbols are
// simply absent from the result.
func (s *Service) BatchGet(ctx context.Context, symbols []string, attributes []string, consistent bool) (map[string]domain.Company, error) {
	normalized := domain.NormalizeSymbols(symbols)
	keys := make([]store.Key, 0, len(normalized))
	for _, sym := range normalized {
		keys = append(keys, store.Key{PK: sym})
	}
	projection := attributes
	if len(projection) > 0 {
		projection = append([]string{"symbol", "score", "metrics"}, projection...)
	}
	items, err := s.repo.BatchGet(ctx, store.BatchGetInput{
		Keys:       keys,
		Projection: projection,
		Consistent: consistent,
	})
	if err != nil {
		return nil, fmt.Errorf("company batch get: %w", err)
	}
	out := make(map[string]domain.Company, len(items))
	for _, item := range items {
		c := companyFromItem(item)
		out[c.Symbol] = c
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64(), true
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func companyFromItem(item store.Item) domain.Company {
	str := func(name string) string {
		v, _ := item[name].(string)
		return v
	}
	c := domain.Company{
		Symbol:   str("symbol"),
		Name:     str("name"),
		Exchange: str("exchange"),
		Market:   str("market"),
		Status:   str("status"),
		Source:   str("source"),
	}
	if c.Symbol == "" {
		c.Symbol = str("pk")
	}
	if score, ok := toFloat(item["score"]); ok {
		c.Score = score
	}
	if raw, ok := item["metrics"].(map[string]any); ok {
		c.Metrics = make(map[string]float64, len(raw))
		for name, v := range raw {
			if f, ok := toFloat(v); ok {
				c.Metrics[name] = f
			}
		}
	}
	return c
}
