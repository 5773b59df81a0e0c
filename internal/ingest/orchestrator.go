package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quantrun/quantrun/internal/calendar"
	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/metrics"
	"github.com/quantrun/quantrun/internal/services/quote"
)

// errorsSampleCap bounds the per-run failure sample.
const errorsSampleCap = 10

// Fetcher pulls normalized bars for one symbol window. The provider chain
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error)
}

// Options configure one orchestrator run.
type Options struct {
	ShardTotal     int
	ShardIndex     int
	MaxConcurrency int
	// MaxSymbols caps the sharded symbol set; zero means no cap.
	MaxSymbols int
	Planner    PlannerOptions
	// Today freezes the working date for deterministic replays.
	Today time.Time
	// Sentinels maps market to the symbol whose today-row confirms the
	// market's data is published upstream.
	Sentinels map[string]string
}

// defaultSentinels are representative, always-published symbols per market.
var defaultSentinels = map[string]string{
	calendar.MarketCN: "SH000001",
	calendar.MarketUS: "US:SPY",
}

// Report aggregates one sync run. Per-symbol failures are sampled, not
// escalated; the caller decides on alerting.
type Report struct {
	RunID             string
	Planned           int
	Succeeded         int
	Failed            int
	TotalRows         int
	CompaniesUpserted int
	ErrorsSample      []string
}

// Orchestrator executes quote sync runs.
type Orchestrator struct {
	fetcher Fetcher
	quotes  *quote.Service
	cal     calendar.Calendar
	gate    *Gate
	metrics *metrics.Registry
	log     zerolog.Logger
	opts    Options
}

// NewOrchestrator wires an orchestrator. reg may be nil to disable metrics.
func NewOrchestrator(fetcher Fetcher, quotes *quote.Service, cal calendar.Calendar, gate *Gate, reg *metrics.Registry, log zerolog.Logger, opts Options) *Orchestrator {
	if opts.ShardTotal < 1 {
		opts.ShardTotal = 1
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.Today.IsZero() {
		opts.Today = time.Now()
	}
	if opts.Sentinels == nil {
		opts.Sentinels = defaultSentinels
	}
	return &Orchestrator{
		fetcher: fetcher,
		quotes:  quotes,
		cal:     cal,
		gate:    gate,
		metrics: reg,
		log:     log.With().Str("component", "orchestrator").Logger(),
		opts:    opts,
	}
}

type errorSample struct {
	mu     sync.Mutex
	sample []string
}

func (e *errorSample) add(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sample) < errorsSampleCap {
		e.sample = append(e.sample, msg)
	}
}

// SyncQuotes plans and executes a quote sync for the symbols falling into
// this process's shard. Already-upserted rows survive cancellation;
// idempotent upserts cover the retry.
func (o *Orchestrator) SyncQuotes(ctx context.Context, kind quote.Kind, symbols []string) (Report, error) {
	report := Report{RunID: uuid.New().String()}
	today := domain.DayOf(o.opts.Today)

	sharded := make([]string, 0, len(symbols))
	for _, symbol := range domain.NormalizeSymbols(symbols) {
		if !InShard(symbol, o.opts.ShardTotal, o.opts.ShardIndex) {
			continue
		}
		sharded = append(sharded, symbol)
		if o.opts.MaxSymbols > 0 && len(sharded) >= o.opts.MaxSymbols {
			break
		}
	}

	// one effective window end per market: today when the market traded
	// today and its sentinel row is published, else the prior session.
	// Backfill of earlier gaps proceeds either way. Precomputed so the
	// worker pool reads the map without locking.
	windowEnd := make(map[string]time.Time)
	for _, symbol := range sharded {
		market, _ := calendar.InferMarket(symbol)
		if _, ok := windowEnd[market]; ok {
			continue
		}
		end := o.cal.LastTradingDay(market, today.AddDate(0, 0, -1))
		if o.cal.IsTradingDay(market, today) && o.sentinelPublished(ctx, market, today) {
			end = today
		}
		windowEnd[market] = end
	}

	plans, err := BuildPlans(ctx, sharded, o.quotes.LatestQuoteDate, func(symbol string) time.Time {
		market, _ := calendar.InferMarket(symbol)
		return o.cal.LastTradingDay(market, today)
	}, today, o.opts.Planner)
	if err != nil {
		return report, fmt.Errorf("build plans: %w", err)
	}
	report.Planned = len(plans)
	o.log.Info().Str("run_id", report.RunID).Int("symbols", len(sharded)).
		Int("plans", len(plans)).Msg("quote sync starting")

	var succeeded, failed, rows atomic.Int64
	var sample errorSample
	sem := semaphore.NewWeighted(int64(o.opts.MaxConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, plan := range plans {
		plan := plan
		if err := sem.Acquire(gctx, 1); err != nil {
			break // cancelled between symbols
		}
		g.Go(func() error {
			defer sem.Release(1)
			market, _ := calendar.InferMarket(plan.Symbol)
			end := windowEnd[market]
			if plan.Start.After(end) {
				succeeded.Add(1)
				return nil
			}
			n, err := o.syncSymbol(gctx, kind, plan.Symbol, plan.Start, end)
			if err != nil {
				failed.Add(1)
				sample.add(fmt.Sprintf("%s: %v", plan.Symbol, err))
				if o.metrics != nil {
					o.metrics.SymbolFailures.Inc()
				}
				o.log.Warn().Str("symbol", plan.Symbol).Err(err).Msg("symbol sync failed")
				return nil
			}
			succeeded.Add(1)
			rows.Add(int64(n))
			return nil
		})
	}
	waitErr := g.Wait()

	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	report.TotalRows = int(rows.Load())
	report.ErrorsSample = sample.sample
	o.log.Info().Str("run_id", report.RunID).
		Int("succeeded", report.Succeeded).Int("failed", report.Failed).
		Int("rows", report.TotalRows).Msg("quote sync finished")

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, waitErr
}

func (o *Orchestrator) syncSymbol(ctx context.Context, kind quote.Kind, symbol string, start, end time.Time) (int, error) {
	wait, err := o.gate.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if o.metrics != nil {
		o.metrics.GateWait.Observe(wait.Seconds())
	}
	quotes, err := o.fetcher.Fetch(ctx, symbol, start, end)
	if err != nil {
		if o.metrics != nil {
			o.metrics.Fetches.WithLabelValues("chain", "error").Inc()
		}
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, nil
	}
	if o.metrics != nil {
		o.metrics.Fetches.WithLabelValues(quotes[0].Source, "ok").Inc()
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	for i := range quotes {
		quotes[i].IngestedAt = stamp
	}
	n, err := o.quotes.UpsertQuotes(ctx, kind, quotes)
	if err != nil {
		return 0, err
	}
	if o.metrics != nil {
		o.metrics.RowsUpserted.Add(float64(n))
	}
	return n, nil
}

// sentinelPublished checks that the market's sentinel symbol has today's row
// upstream. A missing sentinel config is treated as published.
func (o *Orchestrator) sentinelPublished(ctx context.Context, market string, today time.Time) bool {
	sentinel, ok := o.opts.Sentinels[market]
	if !ok || sentinel == "" {
		return true
	}
	if _, err := o.gate.Wait(ctx); err != nil {
		return false
	}
	quotes, err := o.fetcher.Fetch(ctx, sentinel, today, today)
	if err != nil {
		o.log.Warn().Str("market", market).Str("sentinel", sentinel).Err(err).
			Msg("sentinel check failed")
		return false
	}
	for _, q := range quotes {
		if domain.DayOf(q.Date).Equal(today) {
			return true
		}
	}
	return false
}
