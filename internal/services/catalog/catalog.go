// Package catalog maintains the tradable-asset catalog: one latest snapshot
// per symbol, queryable by (asset_type, market, status).
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/store"
)

// EntityCatalog tags catalog rows in the entity-kind sort keys.
const EntityCatalog = "CATALOG"

// Service upserts and queries catalog entries.
type Service struct {
	repo *store.Repository
	log  zerolog.Logger
	now  func() time.Time
}

// NewService builds a catalog service over the repository.
func NewService(repo *store.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "catalog").Logger(),
		now:  time.Now,
	}
}

func entryPK(e domain.CatalogEntry) string {
	switch e.AssetType {
	case domain.AssetIndex, domain.AssetETF:
		return store.PKIndex(e.Symbol)
	default:
		return store.PKStock(e.Symbol)
	}
}

func marketStatusPK(market string, status domain.ListingStatus) string {
	return store.GSI2PKMarketStatus(strings.ToUpper(market), strings.ToUpper(string(status)))
}

// Upsert validates and writes catalog entries, overwriting prior snapshots.
// Any invalid row fails the whole call before anything is written.
func (s *Service) Upsert(ctx context.Context, entries []domain.CatalogEntry) error {
	items := make([]store.Item, 0, len(entries))
	stamp := s.now().UTC().Format(time.RFC3339)
	for i := range entries {
		e := entries[i]
		e.Symbol = domain.NormalizeSymbol(e.Symbol)
		if err := e.Validate(); err != nil {
			return fmt.Errorf("catalog row %d: %w", i, err)
		}
		items = append(items, store.Item{
			"pk":         entryPK(e),
			"sk":         store.SKMeta(EntityCatalog),
			"gsi1pk":     store.GSI1PKSymbol(e.Symbol),
			"gsi1sk":     store.GSI1SKEntity(EntityCatalog, ""),
			"gsi2pk":     marketStatusPK(e.Market, e.Status),
			"gsi2sk":     store.GSI2SKEntity(EntityCatalog),
			"symbol":     e.Symbol,
			"name":       e.Name,
			"exchange":   e.Exchange,
			"asset_type": string(e.AssetType),
			"market":     e.Market,
			"status":     string(e.Status),
			"updated_at": stamp,
		})
	}
	if err := s.repo.BatchPut(ctx, items); err != nil {
		return fmt.Errorf("catalog upsert: %w", err)
	}
	s.log.Info().Int("entries", len(items)).Msg("catalog upserted")
	return nil
}

// Query returns catalog entries for one (market, status) partition, filtered
// by asset type in memory. The byMarketStatus index deliberately coarsens on
// asset_type to keep its cardinality low; the residual filter is O(page).
func (s *Service) Query(ctx context.Context, assetType domain.AssetType, market string, status domain.ListingStatus, limit int) ([]domain.CatalogEntry, error) {
	// over-fetch when filtering so limit applies post-filter
	fetchLimit := limit
	if assetType != "" && limit > 0 {
		fetchLimit = 0
	}
	items, err := s.repo.QueryByIndex(ctx, store.QueryInput{
		Index:     store.IndexByMarketStatus,
		Partition: marketStatusPK(market, status),
		Prefix:    store.GSI2SKEntity(EntityCatalog),
		Limit:     fetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	out := make([]domain.CatalogEntry, 0, len(items))
	for _, item := range items {
		e := entryFromItem(item)
		if assetType != "" && e.AssetType != assetType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Scan is the full-table fallback used when the secondary index cannot serve
// a filter shape. Filters are attribute equality on stored values.
func (s *Service) Scan(ctx context.Context, filters map[string]string, limit int) ([]domain.CatalogEntry, error) {
	merged := map[string]string{"sk": store.SKMeta(EntityCatalog)}
	for k, v := range filters {
		merged[k] = v
	}
	items, err := s.repo.Scan(ctx, store.ScanInput{Filter: merged, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("catalog scan: %w", err)
	}
	out := make([]domain.CatalogEntry, 0, len(items))
	for _, item := range items {
		out = append(out, entryFromItem(item))
	}
	return out, nil
}

func entryFromItem(item store.Item) domain.CatalogEntry {
	str := func(name string) string {
		v, _ := item[name].(string)
		return v
	}
	return domain.CatalogEntry{
		Symbol:    str("symbol"),
		Name:      str("name"),
		Exchange:  str("exchange"),
		AssetType: domain.AssetType(str("asset_type")),
		Market:    str("market"),
		Status:    domain.ListingStatus(str("status")),
	}
}
