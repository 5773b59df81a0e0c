package ingest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardStableAndCaseInsensitive(t *testing.T) {
	for _, symbol := range []string{"SH600519", "US:SPY", "AAPL", "BJ430047"} {
		first := Shard(symbol, 8)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Shard(symbol, 8), "symbol %s", symbol)
		}
		assert.Equal(t, first, Shard("  "+symbol+" ", 8))
	}
	assert.Equal(t, Shard("aapl", 8), Shard("AAPL", 8))
}

// Known digests pin the assignment so other runtimes reproduce it:
// int(md5(sym), 16) mod N.
func TestShardKnownAssignments(t *testing.T) {
	assert.Equal(t, 0, Shard("AAPL", 1))
	// md5("AAPL") = 8b10...87aa -> even, mod 4 = 2
	assert.Equal(t, 0, Shard("AAPL", 2))
	assert.Equal(t, 2, Shard("AAPL", 4))
	// md5("MSFT") = b004...fb62 -> even
	assert.Equal(t, 0, Shard("MSFT", 2))
	// md5("SH600519") = 3082...ef36 -> mod 8 = 6
	assert.Equal(t, 6, Shard("SH600519", 8))
}

func TestShardPartitionsSymbolSpace(t *testing.T) {
	const total = 4
	counts := make([]int, total)
	for i := 0; i < 400; i++ {
		s := Shard(fmt.Sprintf("SYM%04d", i), total)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, total)
		counts[s]++
	}
	// stable hash should not starve any shard over 400 symbols
	for i, c := range counts {
		assert.Greater(t, c, 0, "shard %d empty", i)
	}
}

func TestInShard(t *testing.T) {
	found := 0
	for i := 0; i < 4; i++ {
		if InShard("SH600519", 4, i) {
			found++
		}
	}
	assert.Equal(t, 1, found, "symbol must land in exactly one shard")
	assert.True(t, InShard("ANY", 1, 0))
}
