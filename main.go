package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"regime-trader/config"
	"regime-trader/internal/advisor"
	"regime-trader/internal/api"
	"regime-trader/internal/backtest"
	"regime-trader/internal/bot"
	"regime-trader/internal/database"
	"regime-trader/internal/feed"
	"regime-trader/internal/indicators"
	"regime-trader/internal/logging"
	"regime-trader/internal/market"
	"regime-trader/internal/metrics"
	"regime-trader/internal/portfolio"
	regimepkg "regime-trader/internal/regime"
	"regime-trader/internal/scanner"
	"regime-trader/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	logger.Info().Msg("starting regime trader")

	classifier, err := regimepkg.NewClassifier(cfg.Regime, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid regime configuration")
	}
	indicatorEngine := indicators.NewEngine(logger)
	recorder := metrics.New()

	// Per-regime ensembles and their advisors.
	resolvers := make(map[regimepkg.Regime]*advisor.Resolver)
	var paramMaps []map[string]any
	riskChecks := advisor.RiskChecks{
		StopLossPercent:       cfg.Risk.StopLossPercent,
		StopLossATRMultiplier: cfg.Risk.StopLossATRMultiplier,
		TrailingStopPercent:   cfg.Risk.TrailingStopPercent,
		PartialProfitTarget:   cfg.Risk.PartialProfitTarget,
		PartialProfitRatio:    cfg.Risk.PartialProfitRatio,
	}
	for label, ensembleCfg := range cfg.RegimeStrategyMap {
		ens, err := strategy.NewEnsemble(ensembleCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("regime", label).Msg("invalid ensemble configuration")
		}
		target := regimepkg.Regime(label)
		resolvers[target] = advisor.NewResolver(ens, riskChecks, target, logger)
		paramMaps = append(paramMaps, ens.ParamMaps()...)
	}
	if len(resolvers) == 0 {
		ens, err := strategy.NewEnsemble(cfg.Ensemble, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid ensemble configuration")
		}
		resolvers[regimepkg.Bull] = advisor.NewResolver(ens, riskChecks, regimepkg.Bull, logger)
		paramMaps = ens.ParamMaps()
	}
	paramMaps = append(paramMaps, classifier.ParamMap())

	// Optional Redis-backed position state.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}
	stateStore := portfolio.NewRedisStateStore(redisClient, logger)
	manager := portfolio.NewManager(stateStore, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("portfolio state restore failed, starting fresh")
	}

	// Optional Postgres persistence.
	var repo *database.Repository
	if cfg.Database.Host != "" {
		db, err := database.NewDB(cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
		repo = database.NewRepository(db)
	}

	feedClient := feed.NewClient(cfg.Data.BaseURL, logger)
	sc := scanner.NewScanner(indicatorEngine, classifier, recorder, cfg.Scanner, logger)

	trader := bot.NewTrader(
		feedClient, indicatorEngine, classifier, resolvers, riskChecks,
		manager, recorder, paramMaps,
		cfg.Data.Interval, cfg.Data.HistoryBars,
		cfg.Risk.InitialCapitalPerAsset, cfg.Risk.CommissionRate,
		logger,
	)
	sink := newFanoutSink(trader, repo, logger)

	loop := scanner.NewLoop(
		sc, feedClient, sink,
		cfg.Data.Symbols, cfg.Data.Interval, cfg.Data.HistoryBars,
		paramMaps, logger,
	)
	loop.Start()

	engine := backtest.NewEngine(indicatorEngine, classifier, logger)
	runner := &gridRunner{
		engine:     engine,
		feedClient: feedClient,
		repo:       repo,
		interval:   cfg.Data.Interval,
		history:    cfg.Data.HistoryBars,
		defaults:   cfg.Backtest,
	}

	server := api.NewServer(cfg.Server, repo, loop, runner, logger)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("api server failed to start")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	loop.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown error")
	}
	logger.Info().Msg("regime trader stopped")
}

// fanoutSink forwards scan results to the trader and the database.
type fanoutSink struct {
	trader *bot.Trader
	repo   *database.Repository
	logger zerolog.Logger
}

func newFanoutSink(trader *bot.Trader, repo *database.Repository, logger zerolog.Logger) *fanoutSink {
	return &fanoutSink{trader: trader, repo: repo, logger: logger.With().Str("component", "scan_sink").Logger()}
}

func (f *fanoutSink) Publish(ctx context.Context, result scanner.ScanResult) {
	if f.repo != nil {
		if err := f.repo.SaveScanResult(ctx, &result); err != nil {
			f.logger.Error().Err(err).Msg("scan persist failed")
		}
	}
	f.trader.Publish(ctx, result)
}

// gridRunner serves API-triggered grid searches.
type gridRunner struct {
	engine     *backtest.Engine
	feedClient *feed.Client
	repo       *database.Repository
	interval   string
	history    int
	defaults   config.BacktestConfig
}

func (g *gridRunner) RunGrid(ctx context.Context, symbol string, req api.GridRequest) (any, error) {
	bars, err := g.feedClient.Klines(ctx, symbol, g.interval, g.history)
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}
	s := market.NewSeries(symbol, g.interval, bars)

	capital := req.InitialCapital
	if capital <= 0 {
		capital = g.defaults.InitialCapital
	}
	results, err := g.engine.RunGridSearch(ctx, s, backtest.GridConfig{
		StrategyName:   req.StrategyName,
		ParamGrid:      req.ParamGrid,
		BaseParams:     req.BaseParams,
		TargetRegime:   regimepkg.Regime(req.TargetRegime),
		InitialCapital: capital,
		Workers:        g.defaults.Workers,
	})
	if err != nil {
		return nil, err
	}

	if g.repo != nil {
		if !g.defaults.SaveTradeLogs {
			for i := range results {
				results[i].TradeLog = nil
			}
		}
		if err := g.repo.SaveResults(ctx, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}
