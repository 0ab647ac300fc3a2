package backtest

import (
	"context"
	"fmt"
	"sort"

	"regime-trader/internal/market"
	"regime-trader/internal/regime"
	"regime-trader/internal/strategy"
)

// RegimeGrids maps a regime label to the parameter grid searched with that
// label as the simulation's entry filter.
type RegimeGrids map[regime.Regime]GridConfig

// DefaultRegimeGrids pairs each regime with the strategy family suited to
// it: trend capture while bullish, band reversion while sideways, and range
// breakouts while bearish.
func DefaultRegimeGrids() RegimeGrids {
	return RegimeGrids{
		regime.Bull: {
			StrategyName: strategy.NameTrendFollowing,
			ParamGrid: map[string][]any{
				"breakout_window":      {20, 55},
				"long_term_sma_period": {100, 200},
			},
		},
		regime.Sideways: {
			StrategyName: strategy.NameMeanReversion,
			ParamGrid: map[string][]any{
				"rsi_period":     {7, 14},
				"oversold_level": {25, 30},
			},
		},
		regime.Bear: {
			StrategyName: strategy.NameVolatilityBreakout,
			ParamGrid: map[string][]any{
				"k": {0.4, 0.5, 0.6},
			},
		},
	}
}

// OptimizeRegimes runs one grid search per regime label, each restricted to
// entering only on bars carrying that label, and returns the Calmar-best
// result per regime. An empty grids map falls back to DefaultRegimeGrids.
// Regimes whose grid yields no results are absent from the returned map.
func (e *Engine) OptimizeRegimes(
	ctx context.Context,
	s *market.Series,
	grids RegimeGrids,
) (map[regime.Regime]Result, error) {
	if len(grids) == 0 {
		grids = DefaultRegimeGrids()
	}

	labels := make([]regime.Regime, 0, len(grids))
	for label := range grids {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	best := make(map[regime.Regime]Result, len(grids))
	for _, label := range labels {
		if ctx.Err() != nil {
			break
		}
		cfg := grids[label]
		cfg.TargetRegime = label
		if cfg.InitialCapital <= 0 {
			cfg.InitialCapital = 10_000
		}

		results, err := e.RunGridSearch(ctx, s, cfg)
		if err != nil {
			return nil, fmt.Errorf("regime %s: %w", label, err)
		}
		if len(results) == 0 {
			e.logger.Warn().
				Str("regime", string(label)).
				Str("strategy", cfg.StrategyName).
				Msg("regime grid produced no results")
			continue
		}
		best[label] = results[0]
		e.logger.Info().
			Str("regime", string(label)).
			Str("experiment", results[0].Experiment.Name).
			Float64("calmar", results[0].Summary.Calmar).
			Msg("regime champion selected")
	}
	return best, nil
}
