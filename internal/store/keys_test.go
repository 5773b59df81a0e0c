package store

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/domain"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "STOCK#SH600519", PKStock("SH600519"))
	assert.Equal(t, "INDEX#SH000300", PKIndex("SH000300"))
	assert.Equal(t, "META#CATALOG", SKMeta("CATALOG"))
	assert.Equal(t, "QUOTE#2025-08-08", SKQuoteDate(domain.Date(2025, time.August, 8)))
	assert.Equal(t, "SYMBOL#AAPL", GSI1PKSymbol("AAPL"))
	assert.Equal(t, "ENTITY#QUOTE#2025-08-08", GSI1SKEntity("QUOTE", "2025-08-08"))
	assert.Equal(t, "ENTITY#CATALOG", GSI1SKEntity("CATALOG", ""))
	assert.Equal(t, "MARKET#US#STATUS#ACTIVE", GSI2PKMarketStatus("US", "ACTIVE"))
	assert.Equal(t, "ENTITY#CATALOG", GSI2SKEntity("CATALOG"))
}

func TestParsePK(t *testing.T) {
	tag, symbol, err := ParsePK("STOCK#SH600519")
	require.NoError(t, err)
	assert.Equal(t, "STOCK", tag)
	assert.Equal(t, "SH600519", symbol)

	for _, bad := range []string{"", "STOCK", "STOCK#"} {
		_, _, err := ParsePK(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "pk %q", bad)
	}
}

func TestParseQuoteSK(t *testing.T) {
	d, err := ParseQuoteSK("QUOTE#2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, domain.Date(2024, time.February, 29), d)

	_, err = ParseQuoteSK("META#CATALOG")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ParseQuoteSK("QUOTE#not-a-date")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPadScoreWidth(t *testing.T) {
	assert.Equal(t, "00000.000", PadScore(0))
	assert.Equal(t, "00012.500", PadScore(12.5))
	assert.Equal(t, "00099.950", PadScore(99.95))
	assert.Equal(t, "12345.678", PadScore(12345.678))
	// negative scores clamp to zero rather than breaking the fixed width
	assert.Equal(t, "00000.000", PadScore(-3))
}

// Lexical order of padded scores must match numeric order; the byScore index
// depends on it for range queries.
func TestPadScoreLexicalOrderMatchesNumeric(t *testing.T) {
	scores := []float64{0, 0.001, 1, 9.999, 10, 55.5, 99.95, 100, 9999.999, 10000}
	padded := make([]string, len(scores))
	for i, s := range scores {
		padded[i] = PadScore(s)
	}
	assert.True(t, sort.StringsAreSorted(padded), "padded scores out of order: %v", padded)
}

func TestScoreSortKey(t *testing.T) {
	assert.Equal(t, "00099.950#AAPL", ScoreSortKey(99.95, "AAPL"))
}

// Quote sort keys for increasing dates must collate chronologically.
func TestQuoteSKChronologicalOrder(t *testing.T) {
	base := domain.Date(2025, time.January, 28)
	keys := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		keys = append(keys, SKQuoteDate(base.AddDate(0, 0, i)))
	}
	assert.True(t, sort.StringsAreSorted(keys), fmt.Sprintf("quote keys out of order: %v", keys))
}
