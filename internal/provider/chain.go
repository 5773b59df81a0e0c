package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantrun/quantrun/internal/cache"
	"github.com/quantrun/quantrun/internal/calendar"
	"github.com/quantrun/quantrun/internal/config"
	"github.com/quantrun/quantrun/internal/domain"
)

// Chain resolves a symbol's ordered source list and returns the first
// non-empty result. Sources whose circuit breaker is open are skipped; a
// warm cache in front of the chain absorbs repeated windows.
type Chain struct {
	sources  map[string]SourceClient
	chains   *config.SourceChains
	breakers map[string]*gobreaker.CircuitBreaker
	cache    *cache.QuoteCache
	log      zerolog.Logger
}

// NewChain wires the chain. warmCache may be nil.
func NewChain(chains *config.SourceChains, warmCache *cache.QuoteCache, log zerolog.Logger, sources ...SourceClient) *Chain {
	c := &Chain{
		sources:  make(map[string]SourceClient, len(sources)),
		chains:   chains,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(sources)),
		cache:    warmCache,
		log:      log.With().Str("component", "provider_chain").Logger(),
	}
	for _, s := range sources {
		c.sources[s.Name()] = s
		c.breakers[s.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     s.Name(),
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Warn().Str("source", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("breaker state change")
			},
		})
	}
	return c
}

// Fetch returns normalized bars for the symbol window. Exhausting every
// source with at least one fault yields a ProviderError; exhausting them
// with no data and no faults yields an empty slice.
func (c *Chain) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if c.cache != nil {
		if quotes, ok := c.cache.Get(ctx, symbol, start, end); ok {
			return quotes, nil
		}
	}

	market, _ := calendar.InferMarket(symbol)
	var lastErr error
	for _, name := range c.chains.For(market) {
		source, ok := c.sources[name]
		if !ok {
			c.log.Warn().Str("source", name).Msg("unknown source in chain")
			continue
		}
		result, err := c.breakers[name].Execute(func() (any, error) {
			return withRetry(ctx, c.log, name, symbol, func() ([]domain.Quote, error) {
				return source.FetchDaily(ctx, symbol, start, end)
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				c.log.Debug().Str("source", name).Str("symbol", symbol).Msg("breaker open, skipping source")
			} else {
				lastErr = err
			}
			continue
		}
		quotes := result.([]domain.Quote)
		if len(quotes) == 0 {
			continue
		}
		for i := range quotes {
			quotes[i].Source = name
		}
		if c.cache != nil {
			c.cache.Put(ctx, symbol, start, end, quotes)
		}
		return quotes, nil
	}

	if lastErr != nil {
		var perr *ProviderError
		if errors.As(lastErr, &perr) {
			return nil, perr
		}
		return nil, &ProviderError{Source: "chain", Symbol: symbol, Temporary: true, Err: lastErr}
	}
	return nil, nil
}
