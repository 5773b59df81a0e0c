package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryClient is an in-process Client used by tests and offline runs. It
// honors the same key schema, index semantics and pagination protocol as the
// real transport, including begins_with prefixes and scan direction.
type MemoryClient struct {
	mu    sync.RWMutex
	items map[Key]Item

	// PageSize forces small query/scan pages so pagination paths get
	// exercised; 0 returns everything in one page.
	PageSize int

	batchWriteHook func(items []Item) ([]Item, error)
	batchGetHook   func(keys []Key) ([]Key, error)
}

// NewMemoryClient returns an empty in-memory table.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{items: make(map[Key]Item)}
}

// SetBatchWriteHook intercepts BatchWriteItem calls; the hook returns the
// unprocessed subset (and optionally an error). Used to exercise the
// unprocessed-items retry protocol in tests.
func (m *MemoryClient) SetBatchWriteHook(hook func(items []Item) ([]Item, error)) {
	m.batchWriteHook = hook
}

// SetBatchGetHook intercepts BatchGetItem calls; the hook returns the keys to
// report as unprocessed.
func (m *MemoryClient) SetBatchGetHook(hook func(keys []Key) ([]Key, error)) {
	m.batchGetHook = hook
}

// Len reports the number of stored items.
func (m *MemoryClient) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func itemKey(item Item) Key {
	return Key{PK: attrString(item, "pk"), SK: attrString(item, "sk")}
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// PutItem stores one item, overwriting any existing item with the same key.
func (m *MemoryClient) PutItem(_ context.Context, item Item) error {
	key := itemKey(item)
	if key.PK == "" {
		return repoErr("put item", KindValidation, fmt.Errorf("item has no pk"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = copyItem(item)
	return nil
}

// GetItem returns the stored item or nil when absent.
func (m *MemoryClient) GetItem(_ context.Context, key Key) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return copyItem(item), nil
}

// DeleteItem removes the item when present.
func (m *MemoryClient) DeleteItem(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// UpdateItem supports the simple "SET #attr = :value, ..." form used by the
// repository and returns the new attributes.
func (m *MemoryClient) UpdateItem(_ context.Context, key Key, expression string, values map[string]any, _ string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		item = Item{"pk": key.PK}
		if key.SK != "" {
			item["sk"] = key.SK
		}
	}
	expr := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expression), "SET"))
	for _, clause := range strings.Split(expr, ",") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return nil, repoErr("update item", KindValidation, fmt.Errorf("bad clause %q", clause))
		}
		attr := strings.TrimSpace(parts[0])
		placeholder := strings.TrimSpace(parts[1])
		val, ok := values[placeholder]
		if !ok {
			return nil, repoErr("update item", KindValidation, fmt.Errorf("missing value %q", placeholder))
		}
		item[attr] = val
	}
	m.items[key] = item
	return copyItem(item), nil
}

func indexAttrs(index string) (hashAttr, sortAttr string, err error) {
	switch index {
	case "":
		return "pk", "sk", nil
	case IndexBySymbol, IndexByScore:
		return "gsi1pk", "gsi1sk", nil
	case IndexByMarketStatus:
		return "gsi2pk", "gsi2sk", nil
	default:
		return "", "", fmt.Errorf("unknown index %q", index)
	}
}

// Query matches the hash key exactly, applies the optional range condition,
// orders by range key and pages by PageSize.
func (m *MemoryClient) Query(_ context.Context, in QueryInput) (QueryOutput, error) {
	hashAttr, sortAttr, err := indexAttrs(in.Index)
	if err != nil {
		return QueryOutput{}, repoErr("query", KindValidation, err)
	}

	m.mu.RLock()
	matched := make([]Item, 0)
	for _, item := range m.items {
		if attrString(item, hashAttr) != in.Partition {
			continue
		}
		sk := attrString(item, sortAttr)
		if in.Prefix != "" && !strings.HasPrefix(sk, in.Prefix) {
			continue
		}
		if in.SortGTE != "" && sk < in.SortGTE {
			continue
		}
		matched = append(matched, copyItem(item))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := attrString(matched[i], sortAttr), attrString(matched[j], sortAttr)
		if a != b {
			if in.Descending {
				return a > b
			}
			return a < b
		}
		return attrString(matched[i], "pk") < attrString(matched[j], "pk")
	})

	return paginate(matched, in.Limit, m.PageSize, in.StartKey), nil
}

// Scan walks every item, applying the equality filter and projection.
func (m *MemoryClient) Scan(_ context.Context, in ScanInput) (QueryOutput, error) {
	m.mu.RLock()
	matched := make([]Item, 0)
	for _, item := range m.items {
		keep := true
		for attr, want := range in.Filter {
			if attrString(item, attr) != want {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		matched = append(matched, project(item, in.Projection))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if a, b := attrString(matched[i], "pk"), attrString(matched[j], "pk"); a != b {
			return a < b
		}
		return attrString(matched[i], "sk") < attrString(matched[j], "sk")
	})

	return paginate(matched, in.Limit, m.PageSize, in.StartKey), nil
}

func project(item Item, projection []string) Item {
	if len(projection) == 0 {
		return copyItem(item)
	}
	out := make(Item, len(projection)+2)
	out["pk"] = item["pk"]
	if sk, ok := item["sk"]; ok {
		out["sk"] = sk
	}
	for _, attr := range projection {
		if v, ok := item[attr]; ok {
			out[attr] = v
		}
	}
	return out
}

func paginate(items []Item, limit, pageSize int, startKey map[string]string) QueryOutput {
	start := 0
	if startKey != nil {
		after := Key{PK: startKey["pk"], SK: startKey["sk"]}
		for i, item := range items {
			if itemKey(item) == after {
				start = i + 1
				break
			}
		}
	}
	items = items[start:]

	page := len(items)
	if pageSize > 0 && pageSize < page {
		page = pageSize
	}
	if limit > 0 && limit < page {
		page = limit
	}
	out := QueryOutput{Items: items[:page]}
	if page < len(items) && page > 0 {
		last := itemKey(items[page-1])
		out.LastKey = map[string]string{"pk": last.PK, "sk": last.SK}
	}
	return out
}

// BatchWriteItem stores all items unless a test hook reports some as
// unprocessed.
func (m *MemoryClient) BatchWriteItem(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) > MaxBatchWrite {
		return nil, repoErr("batch write", KindValidation,
			fmt.Errorf("batch of %d exceeds limit %d", len(items), MaxBatchWrite))
	}
	unprocessed := items[:0:0]
	if m.batchWriteHook != nil {
		skip, err := m.batchWriteHook(items)
		if err != nil {
			return nil, err
		}
		unprocessed = skip
	}
	skipped := make(map[Key]struct{}, len(unprocessed))
	for _, item := range unprocessed {
		skipped[itemKey(item)] = struct{}{}
	}
	for _, item := range items {
		if _, skip := skipped[itemKey(item)]; skip {
			continue
		}
		if err := m.PutItem(ctx, item); err != nil {
			return nil, err
		}
	}
	return unprocessed, nil
}

// BatchGetItem fetches the requested keys, honoring projection and the
// optional unprocessed-keys hook.
func (m *MemoryClient) BatchGetItem(_ context.Context, in BatchGetInput) (BatchGetOutput, error) {
	if len(in.Keys) > MaxBatchGet {
		return BatchGetOutput{}, repoErr("batch get", KindValidation,
			fmt.Errorf("batch of %d exceeds limit %d", len(in.Keys), MaxBatchGet))
	}
	var out BatchGetOutput
	pending := in.Keys
	if m.batchGetHook != nil {
		unprocessed, err := m.batchGetHook(in.Keys)
		if err != nil {
			return BatchGetOutput{}, err
		}
		out.Unprocessed = unprocessed
		deferred := make(map[Key]struct{}, len(unprocessed))
		for _, k := range unprocessed {
			deferred[k] = struct{}{}
		}
		kept := pending[:0:0]
		for _, k := range pending {
			if _, skip := deferred[k]; !skip {
				kept = append(kept, k)
			}
		}
		pending = kept
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range pending {
		if item, ok := m.items[key]; ok {
			out.Items = append(out.Items, project(item, in.Projection))
		}
	}
	return out, nil
}
