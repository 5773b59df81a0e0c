package provider

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantrun/quantrun/internal/domain"
)

// SourceClient is one upstream feed adapter. FetchDaily returns normalized
// bars for [start, end]; "no data" is an empty slice, not an error.
type SourceClient interface {
	Name() string
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error)
}

// per-call retry policy for transient upstream faults
const (
	retryAttempts = 3
	retryBase     = 250 * time.Millisecond
)

// withRetry runs fn up to retryAttempts times with exponential backoff plus
// jitter. Every upstream fault (network, decode, conversion) is treated as
// transient; persistent failure returns the last error.
func withRetry(ctx context.Context, log zerolog.Logger, source, symbol string, fn func() ([]domain.Quote, error)) ([]domain.Quote, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		quotes, err := fn()
		if err == nil {
			return quotes, nil
		}
		lastErr = err
		log.Warn().
			Str("symbol", symbol).
			Str("source", source).
			Int("attempt", attempt).
			Err(err).
			Msg("upstream fetch failed")
		if attempt == retryAttempts {
			break
		}
		wait := retryBase<<uint(attempt-1) + time.Duration(rand.Int63n(int64(retryBase)))
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Source: source, Symbol: symbol, Temporary: true, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return nil, &ProviderError{Source: source, Symbol: symbol, Temporary: true, Err: lastErr}
}
