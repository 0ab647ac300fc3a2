package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
	"regime-trader/internal/performance"
	"regime-trader/internal/portfolio"
	"regime-trader/internal/regime"
	"regime-trader/internal/strategy"
)

// Experiment is one (strategy, parameter set) combination to simulate.
type Experiment struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	StrategyName string         `json:"strategy_name"`
	Params       map[string]any `json:"params"`
	TargetRegime regime.Regime  `json:"target_regime,omitempty"`
}

// Result pairs an experiment with its performance summary and raw outputs.
type Result struct {
	Experiment Experiment              `json:"experiment"`
	Symbol     string                  `json:"symbol"`
	Interval   string                  `json:"interval"`
	Summary    performance.Summary     `json:"summary"`
	TradeLog   []portfolio.TradeLogEntry `json:"trade_log,omitempty"`
}

// GridConfig declares a parameter grid search for one strategy on one asset.
type GridConfig struct {
	StrategyName   string           `json:"strategy_name"`
	ParamGrid      map[string][]any `json:"param_grid"`
	BaseParams     map[string]any   `json:"base_params"`
	TargetRegime   regime.Regime    `json:"target_regime,omitempty"`
	InitialCapital float64          `json:"initial_capital"`
	Workers        int              `json:"workers"`
}

// Champion is a fixed, pre-tuned parameterization run across many tickers.
type Champion struct {
	NamePrefix   string         `json:"experiment_name_prefix"`
	StrategyName string         `json:"strategy_name"`
	Params       map[string]any `json:"params"`
	TargetRegime regime.Regime  `json:"target_regime,omitempty"`
}

// Engine orchestrates backtest experiments: indicator preparation, regime
// labeling, signal generation, simulation, and performance analysis.
type Engine struct {
	indicatorEngine *indicators.Engine
	classifier      *regime.Classifier
	logger          zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(ie *indicators.Engine, classifier *regime.Classifier, logger zerolog.Logger) *Engine {
	return &Engine{
		indicatorEngine: ie,
		classifier:      classifier,
		logger:          logger.With().Str("component", "backtest").Logger(),
	}
}

// ExpandGrid produces the cartesian product of the parameter grid, merged
// over the base parameters, with deterministic experiment names.
func ExpandGrid(cfg GridConfig) []Experiment {
	keys := make([]string, 0, len(cfg.ParamGrid))
	for key := range cfg.ParamGrid {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	combos := []map[string]any{{}}
	for _, key := range keys {
		var next []map[string]any
		for _, combo := range combos {
			for _, value := range cfg.ParamGrid[key] {
				merged := make(map[string]any, len(combo)+1)
				for k, v := range combo {
					merged[k] = v
				}
				merged[key] = value
				next = append(next, merged)
			}
		}
		combos = next
	}

	experiments := make([]Experiment, 0, len(combos))
	for i, combo := range combos {
		params := make(map[string]any, len(cfg.BaseParams)+len(combo))
		for k, v := range cfg.BaseParams {
			params[k] = v
		}
		for k, v := range combo {
			params[k] = v
		}

		nameParts := make([]string, 0, len(keys))
		for _, key := range keys {
			if v, ok := combo[key]; ok {
				nameParts = append(nameParts, fmt.Sprintf("%s%v", abbrev(key, 4), v))
			}
		}
		experiments = append(experiments, Experiment{
			ID:           uuid.NewString(),
			Name:         fmt.Sprintf("GS_%s_%s_%d", abbrev(cfg.StrategyName, 5), strings.Join(nameParts, "_"), i),
			StrategyName: cfg.StrategyName,
			Params:       params,
			TargetRegime: cfg.TargetRegime,
		})
	}
	return experiments
}

// RunGridSearch runs every grid combination against the series and returns
// the results sorted by Calmar, best first. Combinations are independent and
// run on a worker pool; each worker gets a private copy of the series.
// Cancelling ctx stops scheduling new combinations; in-flight runs complete.
func (e *Engine) RunGridSearch(ctx context.Context, s *market.Series, cfg GridConfig) ([]Result, error) {
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("no price data for %s grid search", cfg.StrategyName)
	}

	experiments := ExpandGrid(cfg)
	if len(experiments) == 0 {
		return nil, fmt.Errorf("empty parameter grid for %s", cfg.StrategyName)
	}

	// Validate the strategy once before doing any simulation work.
	if _, err := strategy.Resolve(cfg.StrategyName, experiments[0].Params, e.logger); err != nil {
		return nil, err
	}

	// Indicators for the union of all combinations are computed once. The
	// classifier's own columns are part of that union.
	paramMaps := make([]map[string]any, 0, len(experiments)+1)
	for _, exp := range experiments {
		paramMaps = append(paramMaps, exp.Params)
	}
	paramMaps = append(paramMaps, e.classifier.ParamMap())
	prepared := e.indicatorEngine.Apply(s, paramMaps)
	labels := e.classifier.Classify(prepared)

	e.logger.Info().
		Str("symbol", s.Symbol).
		Str("strategy", cfg.StrategyName).
		Int("combinations", len(experiments)).
		Msg("grid search started")

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	jobs := make(chan Experiment)
	resultCh := make(chan Result, len(experiments))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for exp := range jobs {
				res, err := e.runExperiment(prepared.Clone(), labels, exp, cfg.InitialCapital)
				if err != nil {
					e.logger.Error().Err(err).Str("experiment", exp.Name).Msg("experiment failed")
					continue
				}
				resultCh <- res
			}
		}()
	}

	for _, exp := range experiments {
		select {
		case <-ctx.Done():
			// Coarse-grained cancellation: stop scheduling, drain in-flight.
			e.logger.Warn().Msg("grid search cancelled, draining in-flight experiments")
		case jobs <- exp:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()
	close(resultCh)

	results := make([]Result, 0, len(experiments))
	for res := range resultCh {
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Summary.Calmar > results[j].Summary.Calmar
	})

	e.logger.Info().
		Str("symbol", s.Symbol).
		Int("results", len(results)).
		Msg("grid search complete")
	return results, nil
}

// RunChampions runs a fixed list of parameterizations across many tickers.
func (e *Engine) RunChampions(
	ctx context.Context,
	universe map[string]*market.Series,
	champions []Champion,
	initialCapital float64,
) ([]Result, error) {
	symbols := make([]string, 0, len(universe))
	for symbol := range universe {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var results []Result
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		s := universe[symbol]
		if s == nil || s.Len() == 0 {
			e.logger.Warn().Str("symbol", symbol).Msg("no data for ticker, skipping")
			continue
		}

		paramMaps := make([]map[string]any, 0, len(champions)+1)
		for _, ch := range champions {
			paramMaps = append(paramMaps, ch.Params)
		}
		paramMaps = append(paramMaps, e.classifier.ParamMap())
		prepared := e.indicatorEngine.Apply(s, paramMaps)
		labels := e.classifier.Classify(prepared)

		for _, ch := range champions {
			exp := Experiment{
				ID:           uuid.NewString(),
				Name:         fmt.Sprintf("%s_%s", ch.NamePrefix, symbol),
				StrategyName: ch.StrategyName,
				Params:       ch.Params,
				TargetRegime: ch.TargetRegime,
			}
			res, err := e.runExperiment(prepared.Clone(), labels, exp, initialCapital)
			if err != nil {
				return nil, fmt.Errorf("champion %s on %s: %w", ch.StrategyName, symbol, err)
			}
			results = append(results, res)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Symbol != results[j].Symbol {
			return results[i].Symbol < results[j].Symbol
		}
		return results[i].Summary.Calmar > results[j].Summary.Calmar
	})
	return results, nil
}

// runExperiment simulates one experiment on a private series copy.
func (e *Engine) runExperiment(
	s *market.Series,
	labels []regime.Regime,
	exp Experiment,
	initialCapital float64,
) (Result, error) {
	rule, err := strategy.Resolve(exp.StrategyName, exp.Params, e.logger)
	if err != nil {
		return Result{}, err
	}

	var risk RiskParams
	if err := decodeRisk(exp.Params, &risk); err != nil {
		return Result{}, err
	}

	signals := rule.Signals(s)
	sim := NewSimulator(risk, exp.TargetRegime, e.logger)
	tradeLog, history := sim.Run(s, signals, labels, initialCapital)
	summary := performance.Analyze(history, tradeLog, initialCapital, s.Interval, e.logger)

	return Result{
		Experiment: exp,
		Symbol:     s.Symbol,
		Interval:   s.Interval,
		Summary:    summary,
		TradeLog:   tradeLog,
	}, nil
}

// decodeRisk extracts risk settings from a raw parameter map. Unknown keys
// are ignored so strategy and risk parameters can share one map.
func decodeRisk(params map[string]any, out *RiskParams) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode risk params: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode risk params: %w", err)
	}
	return nil
}

func abbrev(s string, n int) string {
	s = strings.ReplaceAll(s, "_", "")
	if len(s) > n {
		return s[:n]
	}
	return s
}
