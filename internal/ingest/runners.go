package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/services/catalog"
	"github.com/quantrun/quantrun/internal/services/company"
)

// CatalogSource supplies the full upstream symbol catalog.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
}

// CompanySource supplies fundamentals snapshots for the given symbols.
type CompanySource interface {
	FetchCompanies(ctx context.Context, symbols []string) ([]domain.Company, error)
}

// SyncCatalog refreshes the stored catalog from the upstream listing.
func SyncCatalog(ctx context.Context, src CatalogSource, svc *catalog.Service, log zerolog.Logger) (Report, error) {
	report := Report{RunID: uuid.New().String()}
	entries, err := src.FetchCatalog(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch catalog: %w", err)
	}
	if err := svc.Upsert(ctx, entries); err != nil {
		return report, err
	}
	report.TotalRows = len(entries)
	report.Succeeded = len(entries)
	log.Info().Str("run_id", report.RunID).Int("entries", len(entries)).Msg("catalog sync finished")
	return report, nil
}

// SyncCompanies overwrites company snapshots for the given symbols.
// Per-company failures are sampled and counted, not escalated.
func SyncCompanies(ctx context.Context, src CompanySource, svc *company.Service, symbols []string, log zerolog.Logger) (Report, error) {
	report := Report{RunID: uuid.New().String()}
	companies, err := src.FetchCompanies(ctx, domain.NormalizeSymbols(symbols))
	if err != nil {
		return report, fmt.Errorf("fetch companies: %w", err)
	}
	var sample errorSample
	for i := range companies {
		if err := ctx.Err(); err != nil {
			report.ErrorsSample = sample.sample
			return report, err
		}
		if err := svc.Put(ctx, companies[i]); err != nil {
			report.Failed++
			sample.add(fmt.Sprintf("%s: %v", companies[i].Symbol, err))
			continue
		}
		report.CompaniesUpserted++
	}
	report.ErrorsSample = sample.sample
	log.Info().Str("run_id", report.RunID).
		Int("upserted", report.CompaniesUpserted).Int("failed", report.Failed).
		Msg("company sync finished")
	return report, nil
}
