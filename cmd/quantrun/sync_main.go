package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/ingest"
	"github.com/quantrun/quantrun/internal/metrics"
	"github.com/quantrun/quantrun/internal/services/quote"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run ingestion jobs against the upstream sources",
	}

	quotesCmd := &cobra.Command{
		Use:   "quotes",
		Short: "Backfill and catch up daily bars for this shard's symbols",
		RunE:  runSyncQuotes,
	}
	qf := quotesCmd.Flags()
	qf.StringSlice("symbols", nil, "Symbols to sync (default: active catalog stocks)")
	qf.Bool("indexes", false, "Sync index bars instead of stock bars")
	qf.Bool("initial-only", false, "Only seed symbols without any history")
	qf.Int("shard-total", 0, "Override SHARD_TOTAL")
	qf.Int("shard-index", -1, "Override SHARD_INDEX")
	qf.String("metrics-addr", "", "Serve prometheus metrics on this address while running")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Refresh the symbol catalog from a listing snapshot",
		RunE:  runSyncCatalog,
	}
	catalogCmd.Flags().String("input", "", "JSON file with catalog entries (required)")

	companiesCmd := &cobra.Command{
		Use:   "companies",
		Short: "Overwrite company fundamentals snapshots",
		RunE:  runSyncCompanies,
	}
	companiesCmd.Flags().String("input", "", "JSON file with company snapshots (required)")

	cmd.AddCommand(quotesCmd, catalogCmd, companiesCmd)
	return cmd
}

func runSyncQuotes(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go serveMetrics(addr, reg)
	}

	symbols, _ := cmd.Flags().GetStringSlice("symbols")
	if len(symbols) == 0 {
		symbols, err = a.activeStockSymbols(ctx)
		if err != nil {
			return err
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to sync")
	}

	kind := quote.KindStock
	if indexes, _ := cmd.Flags().GetBool("indexes"); indexes {
		kind = quote.KindIndex
	}

	opts := ingest.Options{
		ShardTotal:     a.cfg.ShardTotal,
		ShardIndex:     a.cfg.ShardIndex,
		MaxConcurrency: a.cfg.MaxConcurrency,
		MaxSymbols:     a.cfg.MaxSymbols,
		Today:          a.cfg.Today(),
		Planner: ingest.PlannerOptions{
			FullBackfillYears: a.cfg.FullBackfillYears,
			CatchUpMaxDays:    a.cfg.CatchUpMaxDays,
			CatchUpMaxYears:   a.cfg.CatchUpMaxYears,
		},
	}
	if v, _ := cmd.Flags().GetInt("shard-total"); v > 0 {
		opts.ShardTotal = v
	}
	if v, _ := cmd.Flags().GetInt("shard-index"); v >= 0 {
		opts.ShardIndex = v
	}
	opts.Planner.InitialOnly, _ = cmd.Flags().GetBool("initial-only")

	gate := ingest.NewGate(a.cfg.UpstreamRPS)
	orch := ingest.NewOrchestrator(a.chain, a.quotes, a.cal, gate, reg, a.log, opts)
	report, err := orch.SyncQuotes(ctx, kind, symbols)
	logReport(report)
	return err
}

func runSyncCatalog(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		return fmt.Errorf("--input is required")
	}
	src, err := newFileCatalogSource(input)
	if err != nil {
		return err
	}
	report, err := ingest.SyncCatalog(ctx, src, a.catalog, a.log)
	logReport(report)
	return err
}

func runSyncCompanies(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		return fmt.Errorf("--input is required")
	}
	src, err := newFileCompanySource(input)
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(src.companies))
	for _, c := range src.companies {
		symbols = append(symbols, c.Symbol)
	}
	report, err := ingest.SyncCompanies(ctx, src, a.companies, symbols, a.log)
	logReport(report)
	return err
}

// activeStockSymbols pulls the default sync set from the stored catalog.
func (a *app) activeStockSymbols(ctx context.Context) ([]string, error) {
	entries, err := a.catalog.Scan(ctx, map[string]string{
		"asset_type": string(domain.AssetStock),
		"status":     string(domain.StatusActive),
	}, 0)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	return symbols, nil
}

// fileCatalogSource feeds SyncCatalog from a listing snapshot on disk.
type fileCatalogSource struct {
	entries []domain.CatalogEntry
}

func newFileCatalogSource(path string) (*fileCatalogSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog input: %w", err)
	}
	var src fileCatalogSource
	if err := json.Unmarshal(data, &src.entries); err != nil {
		return nil, fmt.Errorf("catalog input %s: %w", path, err)
	}
	return &src, nil
}

func (s *fileCatalogSource) FetchCatalog(context.Context) ([]domain.CatalogEntry, error) {
	return s.entries, nil
}

type fileCompanySource struct {
	companies []domain.Company
}

func newFileCompanySource(path string) (*fileCompanySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("companies input: %w", err)
	}
	var src fileCompanySource
	if err := json.Unmarshal(data, &src.companies); err != nil {
		return nil, fmt.Errorf("companies input %s: %w", path, err)
	}
	return &src, nil
}

func (s *fileCompanySource) FetchCompanies(context.Context, []string) ([]domain.Company, error) {
	return s.companies, nil
}

func serveMetrics(addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

func logReport(r ingest.Report) {
	ev := log.Info().
		Str("run_id", r.RunID).
		Int("planned", r.Planned).
		Int("succeeded", r.Succeeded).
		Int("failed", r.Failed).
		Int("total_rows", r.TotalRows).
		Int("companies_upserted", r.CompaniesUpserted)
	if len(r.ErrorsSample) > 0 {
		ev = ev.Strs("errors_sample", r.ErrorsSample)
	}
	ev.Msg("sync finished")
}
