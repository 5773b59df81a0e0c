// Package ingest plans and executes quote synchronization: stable sharding
// over the symbol space, a process-wide upstream rate gate, per-symbol fetch
// windows, and a bounded worker pool that upserts through the quote service.
package ingest

import (
	"crypto/md5"
	"math/big"
	"strings"
)

// Shard assigns a symbol to one of total shards by md5 of the upper-cased
// symbol. The full digest is reduced modulo total, so assignments are stable
// across runs, processes and implementations.
func Shard(symbol string, total int) int {
	if total <= 1 {
		return 0
	}
	sum := md5.Sum([]byte(strings.ToUpper(strings.TrimSpace(symbol))))
	n := new(big.Int).SetBytes(sum[:])
	return int(new(big.Int).Mod(n, big.NewInt(int64(total))).Int64())
}

// InShard reports whether the symbol belongs to shard index of total.
func InShard(symbol string, total, index int) bool {
	return Shard(symbol, total) == index
}
