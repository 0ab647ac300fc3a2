package backtest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/regime"
	"regime-trader/internal/strategy"
)

func uptrendRows(n int) [][4]float64 {
	rows := make([][4]float64, n)
	price := 100.0
	for i := range rows {
		rows[i] = [4]float64{price, price * 1.02, price * 0.99, price * 1.01}
		price *= 1.01
	}
	return rows
}

func TestOptimizeRegimesDefaultGrids(t *testing.T) {
	engine := newTestEngine(t)
	s := simSeries(t, uptrendRows(80), nil)

	best, err := engine.OptimizeRegimes(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("OptimizeRegimes: %v", err)
	}
	if len(best) != 3 {
		t.Fatalf("expected a champion per regime, got %d", len(best))
	}

	wantStrategy := map[regime.Regime]string{
		regime.Bull:     strategy.NameTrendFollowing,
		regime.Sideways: strategy.NameMeanReversion,
		regime.Bear:     strategy.NameVolatilityBreakout,
	}
	for label, res := range best {
		if res.Experiment.StrategyName != wantStrategy[label] {
			t.Errorf("regime %s got strategy %s, want %s",
				label, res.Experiment.StrategyName, wantStrategy[label])
		}
		if res.Experiment.TargetRegime != label {
			t.Errorf("regime %s champion carries target %s", label, res.Experiment.TargetRegime)
		}
	}
}

func TestOptimizeRegimesForcesTargetRegime(t *testing.T) {
	engine := newTestEngine(t)
	s := simSeries(t, uptrendRows(60), nil)

	grids := RegimeGrids{
		regime.Bull: {
			StrategyName: strategy.NameTurtle,
			ParamGrid:    map[string][]any{"entry_period": {5, 10}},
			BaseParams:   map[string]any{"exit_period": 5},
		},
	}
	best, err := engine.OptimizeRegimes(context.Background(), s, grids)
	if err != nil {
		t.Fatalf("OptimizeRegimes: %v", err)
	}
	res, ok := best[regime.Bull]
	if !ok {
		t.Fatalf("bull champion missing, got %v", best)
	}
	if res.Experiment.TargetRegime != regime.Bull {
		t.Errorf("target regime not forced onto the grid, got %s", res.Experiment.TargetRegime)
	}
	if res.Experiment.StrategyName != strategy.NameTurtle {
		t.Errorf("unexpected strategy %s", res.Experiment.StrategyName)
	}
	if _, ok := best[regime.Bear]; ok {
		t.Error("bear regime was never configured but has a champion")
	}
}

func TestOptimizeRegimesUnknownStrategyFails(t *testing.T) {
	engine := newTestEngine(t)
	s := simSeries(t, uptrendRows(30), nil)

	grids := RegimeGrids{
		regime.Bull: {
			StrategyName: "nope",
			ParamGrid:    map[string][]any{"k": {0.5}},
		},
	}
	if _, err := engine.OptimizeRegimes(context.Background(), s, grids); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestOptimizeRegimesCancelledContext(t *testing.T) {
	engine := newTestEngine(t)
	s := simSeries(t, uptrendRows(30), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	best, err := engine.OptimizeRegimes(ctx, s, nil)
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if len(best) != 0 {
		t.Errorf("no regimes should run after cancellation, got %d", len(best))
	}
}

func TestDefaultRegimeGridColumnsComputed(t *testing.T) {
	s := simSeries(t, uptrendRows(60), nil)

	var paramMaps []map[string]any
	for _, cfg := range DefaultRegimeGrids() {
		for _, exp := range ExpandGrid(cfg) {
			paramMaps = append(paramMaps, exp.Params)
		}
	}
	prepared := indicators.NewEngine(zerolog.Nop()).Apply(s, paramMaps)

	// Every column a default-grid combination reads must come out of Apply,
	// otherwise the strategy holds on every bar.
	for _, col := range []string{
		indicators.HighName(20), indicators.HighName(55),
		indicators.LowName(20), indicators.LowName(55),
		indicators.SMAName(100), indicators.SMAName(200),
		indicators.RSIName(7), indicators.RSIName(14),
		indicators.BBLowerName(20, 2.0), indicators.BBUpperName(20, 2.0),
	} {
		if !prepared.HasColumn(col) {
			t.Errorf("grid references %s but it was never computed", col)
		}
	}
}
