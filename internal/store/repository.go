package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Repository wraps a Client with the access patterns the services need:
// CRUD, paginated index queries, paginated scans, and batched writes that
// de-duplicate, chunk and retry unprocessed items.
type Repository struct {
	client Client
	log    zerolog.Logger

	// batch retry policy
	maxAttempts int
	backoffBase time.Duration
}

// NewRepository builds a repository over the given transport client.
func NewRepository(client Client, log zerolog.Logger) *Repository {
	return &Repository{
		client:      client,
		log:         log.With().Str("component", "repository").Logger(),
		maxAttempts: 5,
		backoffBase: 100 * time.Millisecond,
	}
}

// PutItem overwrites one whole item.
func (r *Repository) PutItem(ctx context.Context, item Item) error {
	if err := r.client.PutItem(ctx, item); err != nil {
		return asRepoErr("put item", err)
	}
	return nil
}

// GetItem reads one item by key. A missing item returns (nil, nil).
func (r *Repository) GetItem(ctx context.Context, key Key) (Item, error) {
	item, err := r.client.GetItem(ctx, key)
	if err != nil {
		return nil, asRepoErr("get item", err)
	}
	return item, nil
}

// DeleteItem removes one item by key.
func (r *Repository) DeleteItem(ctx context.Context, key Key) error {
	if err := r.client.DeleteItem(ctx, key); err != nil {
		return asRepoErr("delete item", err)
	}
	return nil
}

// UpdateItem applies an update expression and returns the new attributes.
// Used sparingly; whole-item PutItem is the normal write path.
func (r *Repository) UpdateItem(ctx context.Context, key Key, expression string, values map[string]any, condition string) (Item, error) {
	attrs, err := r.client.UpdateItem(ctx, key, expression, values, condition)
	if err != nil {
		return nil, asRepoErr("update item", err)
	}
	return attrs, nil
}

// QueryByIndex runs an index query and transparently follows continuation
// tokens until limit items are collected or the index is exhausted.
// limit <= 0 means unbounded.
func (r *Repository) QueryByIndex(ctx context.Context, in QueryInput) ([]Item, error) {
	var items []Item
	limit := in.Limit
	for {
		out, err := r.client.Query(ctx, in)
		if err != nil {
			return nil, asRepoErr("query "+in.Index, err)
		}
		items = append(items, out.Items...)
		if out.LastKey == nil || (limit > 0 && len(items) >= limit) {
			break
		}
		in.StartKey = out.LastKey
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Scan pages through a full-table scan. limit <= 0 means unbounded, which
// callers should avoid on real tables.
func (r *Repository) Scan(ctx context.Context, in ScanInput) ([]Item, error) {
	var items []Item
	limit := in.Limit
	for {
		out, err := r.client.Scan(ctx, in)
		if err != nil {
			return nil, asRepoErr("scan", err)
		}
		items = append(items, out.Items...)
		if out.LastKey == nil || (limit > 0 && len(items) >= limit) {
			break
		}
		in.StartKey = out.LastKey
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// BatchPut writes items in store-sized chunks. Duplicate (pk, sk) pairs
// within the batch collapse to the last occurrence, so re-ingesting the same
// (symbol, date) twice in one call persists exactly one row. Unprocessed
// items are retried with exponential backoff plus jitter.
func (r *Repository) BatchPut(ctx context.Context, items []Item) error {
	deduped := dedupeByKey(items)
	for start := 0; start < len(deduped); start += MaxBatchWrite {
		end := start + MaxBatchWrite
		if end > len(deduped) {
			end = len(deduped)
		}
		if err := r.writeChunk(ctx, deduped[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) writeChunk(ctx context.Context, chunk []Item) error {
	pending := chunk
	for attempt := 1; ; attempt++ {
		unprocessed, err := r.client.BatchWriteItem(ctx, pending)
		if err != nil {
			rerr := asRepoErr("batch write", err)
			if !rerr.Retryable() || attempt >= r.maxAttempts {
				return rerr
			}
			unprocessed = pending
		}
		if len(unprocessed) == 0 {
			return nil
		}
		if attempt >= r.maxAttempts {
			return repoErr("batch write", KindThrottled,
				errors.New("unprocessed items remain after retries"))
		}
		wait := backoffWithJitter(r.backoffBase, attempt)
		r.log.Debug().Int("attempt", attempt).Int("unprocessed", len(unprocessed)).
			Dur("backoff", wait).Msg("retrying unprocessed batch items")
		if err := sleepCtx(ctx, wait); err != nil {
			return repoErr("batch write", KindTransient, err)
		}
		pending = unprocessed
	}
}

// BatchGet fetches items by key in chunks of MaxBatchGet, following the
// unprocessed-keys protocol until everything is resolved.
func (r *Repository) BatchGet(ctx context.Context, in BatchGetInput) ([]Item, error) {
	keys := dedupeKeys(in.Keys)
	var items []Item
	for start := 0; start < len(keys); start += MaxBatchGet {
		end := start + MaxBatchGet
		if end > len(keys) {
			end = len(keys)
		}
		pending := keys[start:end]
		for attempt := 1; len(pending) > 0; attempt++ {
			out, err := r.client.BatchGetItem(ctx, BatchGetInput{
				Keys:       pending,
				Projection: in.Projection,
				Consistent: in.Consistent,
			})
			if err != nil {
				return nil, asRepoErr("batch get", err)
			}
			items = append(items, out.Items...)
			pending = out.Unprocessed
			if len(pending) == 0 {
				break
			}
			if attempt >= r.maxAttempts {
				return nil, repoErr("batch get", KindThrottled,
					errors.New("unprocessed keys remain after retries"))
			}
			if err := sleepCtx(ctx, backoffWithJitter(r.backoffBase, attempt)); err != nil {
				return nil, repoErr("batch get", KindTransient, err)
			}
		}
	}
	return items, nil
}

func dedupeByKey(items []Item) []Item {
	type pksk struct{ pk, sk string }
	index := make(map[pksk]int, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		k := pksk{attrString(item, "pk"), attrString(item, "sk")}
		if pos, ok := index[k]; ok {
			out[pos] = item // last writer wins, deterministically
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

func dedupeKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func attrString(item Item, name string) string {
	if v, ok := item[name].(string); ok {
		return v
	}
	return ""
}

func asRepoErr(op string, err error) *RepositoryError {
	var rerr *RepositoryError
	if errors.As(err, &rerr) {
		return rerr
	}
	return repoErr(op, KindTransient, err)
}

func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	wait := base << uint(attempt-1)
	return wait + time.Duration(rand.Int63n(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
