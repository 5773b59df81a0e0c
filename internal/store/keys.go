package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantrun/quantrun/internal/domain"
)

// Key codec for the single-table layout. Keys join tagged segments with "#"
// and drop empty segments, e.g.
//
//	pk = STOCK#SH600519          sk = QUOTE#2025-08-08
//	pk = STOCK#AAPL              sk = META#CATALOG
//	gsi1pk = SYMBOL#AAPL         gsi1sk = ENTITY#QUOTE#2025-08-08
//	gsi2pk = MARKET#US#STATUS#ACTIVE   gsi2sk = ENTITY#CATALOG
//
// ISO dates collate chronologically as strings, so prefix range scans over
// sort keys return chronological order.

func concat(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "#")
}

// PKStock builds the partition key for stock-level entities.
func PKStock(symbol string) string { return concat("STOCK", symbol) }

// PKIndex builds the partition key for index/ETF-level entities. A distinct
// prefix keeps the entity kinds collision-free in one physical table.
func PKIndex(symbol string) string { return concat("INDEX", symbol) }

// SKMeta builds the sort key for metadata entities, e.g. META#CATALOG.
func SKMeta(entity string) string { return concat("META", entity) }

// SKQuoteDate builds the sort key for a quote on a given day, QUOTE#YYYY-MM-DD.
func SKQuoteDate(d time.Time) string { return concat("QUOTE", domain.FormatDate(d)) }

// GSI1PKSymbol builds the bySymbol index hash key.
func GSI1PKSymbol(symbol string) string { return concat("SYMBOL", symbol) }

// GSI1SKEntity builds the bySymbol range key for entity timelines,
// e.g. ENTITY#QUOTE#2025-08-08 or ENTITY#CATALOG.
func GSI1SKEntity(entity, timestamp string) string { return concat("ENTITY", entity, timestamp) }

// GSI2PKMarketStatus builds the byMarketStatus index hash key.
func GSI2PKMarketStatus(market, status string) string {
	return concat("MARKET", market, "STATUS", status)
}

// GSI2SKEntity builds the byMarketStatus range key.
func GSI2SKEntity(entity string) string { return concat("ENTITY", entity) }

// ScorePartition is the single byScore index hash value for company rows.
const ScorePartition = "SCORE"

// PadScore renders a nonnegative score at fixed width 9 (five integer digits
// plus ".000") so lexical comparison of padded scores matches numeric order.
func PadScore(score float64) string {
	if score < 0 {
		score = 0
	}
	return fmt.Sprintf("%09.3f", score)
}

// ScoreSortKey builds the byScore range key <padded-score>#<symbol>.
func ScoreSortKey(score float64, symbol string) string {
	return concat(PadScore(score), symbol)
}

// ParsePK splits a partition key into its tag and symbol, e.g.
// STOCK#SH600519 -> ("STOCK", "SH600519").
func ParsePK(pk string) (tag, symbol string, err error) {
	if pk == "" {
		return "", "", fmt.Errorf("parse pk: empty key: %w", domain.ErrInvalidInput)
	}
	parts := strings.SplitN(pk, "#", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("parse pk %q: missing symbol segment: %w", pk, domain.ErrInvalidInput)
	}
	return parts[0], parts[1], nil
}

// ParseQuoteSK extracts the date from a QUOTE#YYYY-MM-DD sort key.
func ParseQuoteSK(sk string) (time.Time, error) {
	if !strings.HasPrefix(sk, "QUOTE#") {
		return time.Time{}, fmt.Errorf("parse quote sk %q: not a quote key: %w", sk, domain.ErrInvalidInput)
	}
	return domain.ParseDate(strings.TrimPrefix(sk, "QUOTE#"))
}
