// Package store defines the key/index-addressed document-store contract the
// platform persists into, the key codec for its single-table layout, and a
// repository with pagination and batched, retrying writes.
//
// The contract mirrors a DynamoDB-style table: partition + sort primary key,
// secondary indexes bySymbol, byMarketStatus and byScore, batch writes with
// an unprocessed-items follow-up protocol, and paginated queries/scans.
package store

import (
	"context"
	"fmt"
)

// Item is one stored document. Attribute values are restricted to the kinds
// the store can represent: string, bool, int64 and decimal.Decimal (numbers
// round-trip through exact decimal, never binary float), plus nested
// map[string]any and []any of the same kinds.
type Item map[string]any

// Key addresses one item. SK is empty for tables with a bare partition key
// (the company table).
type Key struct {
	PK string
	SK string
}

// Index names expected on the table.
const (
	IndexBySymbol       = "bySymbol"
	IndexByMarketStatus = "byMarketStatus"
	IndexByScore        = "byScore"
)

// QueryInput describes one page of an index query.
type QueryInput struct {
	// Index selects a secondary index; empty means the primary key.
	Index string
	// Partition is the hash-key value to match exactly.
	Partition string
	// Prefix, when set, applies begins_with on the range key.
	Prefix string
	// SortGTE, when set, applies >= on the range key (used by byScore).
	SortGTE string
	// Limit caps the page size; 0 means the transport default.
	Limit int
	// Descending reverses the range-key order.
	Descending bool
	// StartKey resumes from a prior page's LastKey.
	StartKey map[string]string
}

// QueryOutput is one page of results. A non-nil LastKey means more pages
// remain.
type QueryOutput struct {
	Items   []Item
	LastKey map[string]string
}

// ScanInput describes one page of a full-table scan.
type ScanInput struct {
	// Filter keeps items whose attribute equals the given string value.
	Filter map[string]string
	// Projection restricts returned attributes; nil returns everything.
	Projection []string
	Limit      int
	StartKey   map[string]string
}

// BatchGetInput fetches many items by key in one round trip.
type BatchGetInput struct {
	Keys       []Key
	Projection []string
	Consistent bool
}

// BatchGetOutput returns fetched items plus any keys the store did not
// process; callers must re-request those.
type BatchGetOutput struct {
	Items       []Item
	Unprocessed []Key
}

// Client is the minimum transport contract of the keyed document store.
// Implementations must be safe for concurrent use.
type Client interface {
	PutItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, key Key) (Item, error)
	DeleteItem(ctx context.Context, key Key) error
	// UpdateItem applies an attribute-set expression and returns the new
	// attributes. Values are keyed by expression placeholder (":name").
	UpdateItem(ctx context.Context, key Key, expression string, values map[string]any, condition string) (Item, error)
	Query(ctx context.Context, in QueryInput) (QueryOutput, error)
	// BatchWriteItem puts up to MaxBatchWrite items and returns the subset
	// the store did not process.
	BatchWriteItem(ctx context.Context, items []Item) ([]Item, error)
	BatchGetItem(ctx context.Context, in BatchGetInput) (BatchGetOutput, error)
	Scan(ctx context.Context, in ScanInput) (QueryOutput, error)
}

// MaxBatchWrite is the store's batch write size limit.
const MaxBatchWrite = 25

// MaxBatchGet is the store's batch get size limit.
const MaxBatchGet = 100

// ErrorKind classifies transport faults for retry decisions.
type ErrorKind int

const (
	// KindTransient covers network faults and internal errors; retryable.
	KindTransient ErrorKind = iota
	// KindThrottled means the store shed load; retryable with backoff.
	KindThrottled
	// KindValidation means the request itself is malformed; not retryable.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindValidation:
		return "validation"
	default:
		return "transient"
	}
}

// RepositoryError wraps a transport fault with the failing operation and its
// classification. All repository operations fail with this type.
type RepositoryError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on retry.
func (e *RepositoryError) Retryable() bool { return e.Kind != KindValidation }

func repoErr(op string, kind ErrorKind, err error) *RepositoryError {
	return &RepositoryError{Op: op, Kind: kind, Err: err}
}
