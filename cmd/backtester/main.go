// Command backtester runs grid-search and champion backtests from the
// command line and prints a ranked summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"regime-trader/config"
	"regime-trader/internal/backtest"
	"regime-trader/internal/database"
	"regime-trader/internal/feed"
	"regime-trader/internal/indicators"
	"regime-trader/internal/logging"
	"regime-trader/internal/market"
	regimepkg "regime-trader/internal/regime"
	"regime-trader/internal/scanner"
)

// runSpec is the JSON file the -spec flag points at.
type runSpec struct {
	Symbols       []string                       `json:"symbols"`
	Interval      string                         `json:"interval"`
	History       int                            `json:"history_bars"`
	Grid          *backtest.GridConfig           `json:"grid,omitempty"`
	Champions     []backtest.Champion            `json:"champions,omitempty"`
	RegimeGrids   map[string]backtest.GridConfig `json:"regime_grids,omitempty"`
	ScanPortfolio *scanner.BacktestConfig        `json:"scan_portfolio,omitempty"`
}

func main() {
	specPath := flag.String("spec", "backtest.json", "path to the run description file")
	saveResults := flag.Bool("save", false, "persist results to the database")
	topN := flag.Int("top", 10, "number of results to print")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	raw, err := os.ReadFile(*specPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *specPath).Msg("cannot read run file")
	}
	var spec runSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		logger.Fatal().Err(err).Msg("cannot parse run file")
	}
	if len(spec.Symbols) == 0 {
		logger.Fatal().Msg("run file names no symbols")
	}
	if spec.Interval == "" {
		spec.Interval = cfg.Data.Interval
	}
	if spec.History <= 0 {
		spec.History = cfg.Data.HistoryBars
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	classifier, err := regimepkg.NewClassifier(cfg.Regime, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid regime configuration")
	}
	engine := backtest.NewEngine(indicators.NewEngine(logger), classifier, logger)
	feedClient := feed.NewClient(cfg.Data.BaseURL, logger)

	universe := make(map[string]*market.Series, len(spec.Symbols))
	for _, symbol := range spec.Symbols {
		bars, err := feedClient.Klines(ctx, symbol, spec.Interval, spec.History)
		if err != nil {
			logger.Fatal().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
		}
		universe[symbol] = market.NewSeries(symbol, spec.Interval, bars)
	}

	var results []backtest.Result
	switch {
	case spec.Grid != nil:
		if len(spec.Symbols) != 1 {
			logger.Fatal().Msg("grid mode takes exactly one symbol")
		}
		gridCfg := *spec.Grid
		if gridCfg.InitialCapital <= 0 {
			gridCfg.InitialCapital = cfg.Backtest.InitialCapital
		}
		if gridCfg.Workers <= 0 {
			gridCfg.Workers = cfg.Backtest.Workers
		}
		results, err = engine.RunGridSearch(ctx, universe[spec.Symbols[0]], gridCfg)
	case len(spec.Champions) > 0:
		results, err = engine.RunChampions(ctx, universe, spec.Champions, cfg.Backtest.InitialCapital)
	case len(spec.RegimeGrids) > 0:
		if len(spec.Symbols) != 1 {
			logger.Fatal().Msg("regime optimization takes exactly one symbol")
		}
		grids := make(backtest.RegimeGrids, len(spec.RegimeGrids))
		for label, grid := range spec.RegimeGrids {
			grids[regimepkg.Regime(label)] = grid
		}
		var best map[regimepkg.Regime]backtest.Result
		best, err = engine.OptimizeRegimes(ctx, universe[spec.Symbols[0]], grids)
		for _, res := range best {
			results = append(results, res)
		}
		sort.Slice(results, func(i, j int) bool {
			return results[i].Experiment.TargetRegime < results[j].Experiment.TargetRegime
		})
	case spec.ScanPortfolio != nil:
		sc := scanner.NewScanner(indicators.NewEngine(logger), classifier, nil, cfg.Scanner, logger)
		start, end, ok := universeSpan(universe)
		if !ok {
			logger.Fatal().Msg("scan portfolio mode needs price history")
		}
		paramMaps := []map[string]any{classifier.ParamMap()}
		var report *scanner.BacktestReport
		report, err = sc.RunPortfolioBacktest(ctx, universe, start, end, paramMaps, *spec.ScanPortfolio)
		if err == nil {
			printPortfolioReport(report)
			return
		}
	default:
		logger.Fatal().Msg("run file needs a grid, champions, regime_grids, or scan_portfolio section")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("backtest failed")
	}

	if *saveResults && cfg.Database.Host != "" {
		db, err := database.NewDB(cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
		repo := database.NewRepository(db)
		if !cfg.Backtest.SaveTradeLogs {
			for i := range results {
				results[i].TradeLog = nil
			}
		}
		if err := repo.SaveResults(ctx, results); err != nil {
			logger.Fatal().Err(err).Msg("result save failed")
		}
		logger.Info().Int("results", len(results)).Msg("results saved")
	}

	printSummary(results, *topN)
}

func printSummary(results []backtest.Result, topN int) {
	if len(results) > topN {
		results = results[:topN]
	}
	fmt.Printf("%-40s %-10s %10s %10s %8s %8s %8s %7s\n",
		"EXPERIMENT", "SYMBOL", "ROI%", "MDD%", "SHARPE", "CALMAR", "WIN%", "TRADES")
	for _, r := range results {
		fmt.Printf("%-40s %-10s %10.2f %10.2f %8.2f %8.2f %8.2f %7d\n",
			truncate(r.Experiment.Name, 40), r.Symbol,
			r.Summary.ROIPct, r.Summary.MDDPct, r.Summary.Sharpe,
			r.Summary.Calmar, r.Summary.WinRatePct, r.Summary.TotalTrades)
	}
}

// universeSpan returns the earliest and latest bar timestamps across the
// universe.
func universeSpan(universe map[string]*market.Series) (time.Time, time.Time, bool) {
	var start, end time.Time
	found := false
	for _, s := range universe {
		if s == nil || s.Len() == 0 {
			continue
		}
		first := s.Bars[0].Timestamp
		last := s.Bars[s.Len()-1].Timestamp
		if !found || first.Before(start) {
			start = first
		}
		if !found || last.After(end) {
			end = last
		}
		found = true
	}
	return start, end, found
}

func printPortfolioReport(report *scanner.BacktestReport) {
	fmt.Printf("steps: %d  trades: %d  final value: %.2f\n",
		report.Steps, len(report.TradeLog), report.FinalValue)
	for _, entry := range report.TradeLog {
		fmt.Printf("%s %-13s price %10.4f amount %12.6f balance %12.2f\n",
			entry.Timestamp.Format(time.RFC3339), entry.Type,
			entry.Price, entry.Amount, entry.Balance)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
