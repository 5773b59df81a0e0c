// Package cache keeps a warm redis tier in front of the upstream adapters so
// repeated fetches of the same (symbol, window) do not hit the providers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/quantrun/quantrun/internal/domain"
)

// DefaultTTL bounds staleness of cached windows; intraday corrections show
// up after expiry at the latest.
const DefaultTTL = 15 * time.Minute

// QuoteCache stores fetched quote windows keyed by (symbol, start, end).
type QuoteCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log zerolog.Logger
}

// New builds a cache over a redis client. ttl <= 0 selects DefaultTTL.
func New(rdb redis.Cmdable, ttl time.Duration, log zerolog.Logger) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &QuoteCache{rdb: rdb, ttl: ttl, log: log.With().Str("component", "quote_cache").Logger()}
}

func windowKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("quotes:%s:%s:%s",
		domain.NormalizeSymbol(symbol), domain.FormatDate(start), domain.FormatDate(end))
}

// Get returns the cached window, or ok=false on miss. Decode failures count
// as misses; the entry will be overwritten by the next Put.
func (c *QuoteCache) Get(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, bool) {
	raw, err := c.rdb.Get(ctx, windowKey(symbol, start, end)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("cache read failed")
		}
		return nil, false
	}
	var quotes []domain.Quote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("cache entry corrupt")
		return nil, false
	}
	return quotes, true
}

// Put stores a fetched window. Cache failures are soft; the caller already
// has the data.
func (c *QuoteCache) Put(ctx context.Context, symbol string, start, end time.Time, quotes []domain.Quote) {
	raw, err := json.Marshal(quotes)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, windowKey(symbol, start, end), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("cache write failed")
	}
}
