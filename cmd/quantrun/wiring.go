package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantrun/quantrun/internal/cache"
	"github.com/quantrun/quantrun/internal/calendar"
	"github.com/quantrun/quantrun/internal/config"
	"github.com/quantrun/quantrun/internal/provider"
	"github.com/quantrun/quantrun/internal/services/catalog"
	"github.com/quantrun/quantrun/internal/services/company"
	"github.com/quantrun/quantrun/internal/services/quote"
	"github.com/quantrun/quantrun/internal/store"
)

// app bundles the wired service graph behind the CLI commands.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	catalog   *catalog.Service
	quotes    *quote.Service
	companies *company.Service
	cal       calendar.Calendar
	chain     *provider.Chain
}

// newApp loads configuration and connects the store-backed services.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := log.Logger
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(lvl)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	ddb := dynamodb.NewFromConfig(awsCfg)

	marketRepo := store.NewRepository(store.NewDynamoClient(ddb, cfg.MarketDataTable), logger)
	stockRepo := store.NewRepository(store.NewDynamoClient(ddb, cfg.StockDataTable), logger)
	companyRepo := store.NewRepository(store.NewDynamoClient(ddb, cfg.CompanyTable), logger)

	cal, err := newCalendar(cfg)
	if err != nil {
		return nil, err
	}

	chains, err := config.LoadSourceChains("", cfg.IndexQuoteSources)
	if err != nil {
		return nil, err
	}
	var warm *cache.QuoteCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		warm = cache.New(rdb, cache.DefaultTTL, logger)
	}
	chain := provider.NewChain(chains, warm, logger,
		provider.NewYahooClient("", logger),
		provider.NewEastmoneyClient("", logger),
	)

	return &app{
		cfg:       cfg,
		log:       logger,
		catalog:   catalog.NewService(marketRepo, logger),
		quotes:    quote.NewService(stockRepo, logger, cfg.WriteExtendedFields),
		companies: company.NewService(companyRepo, logger),
		cal:       cal,
		chain:     chain,
	}, nil
}

func newCalendar(cfg *config.Config) (calendar.Calendar, error) {
	if cfg.CalendarHolidaysFile != "" {
		return calendar.NewFromFile(cfg.CalendarHolidaysFile)
	}
	return calendar.New()
}
