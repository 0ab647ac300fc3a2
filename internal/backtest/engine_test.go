package backtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
	"regime-trader/internal/portfolio"
	"regime-trader/internal/regime"
	"regime-trader/internal/strategy"
)

func TestExpandGridCartesianProduct(t *testing.T) {
	cfg := GridConfig{
		StrategyName: strategy.NameTurtle,
		ParamGrid: map[string][]any{
			"entry_period": {10, 20, 55},
			"exit_period":  {5, 10},
		},
		BaseParams: map[string]any{"commission_rate": 0.001},
	}

	experiments := ExpandGrid(cfg)
	if len(experiments) != 6 {
		t.Fatalf("3x2 grid should expand to 6 experiments, got %d", len(experiments))
	}

	seen := make(map[string]bool)
	for _, exp := range experiments {
		if exp.ID == "" {
			t.Error("experiment missing ID")
		}
		if exp.Params["commission_rate"] != 0.001 {
			t.Errorf("base params not merged into %s", exp.Name)
		}
		key := fmt.Sprintf("%v|%v", exp.Params["entry_period"], exp.Params["exit_period"])
		if seen[key] {
			t.Errorf("duplicate combination in %s", exp.Name)
		}
		seen[key] = true
	}
}

func TestExpandGridNaming(t *testing.T) {
	cfg := GridConfig{
		StrategyName: strategy.NameTurtle,
		ParamGrid:    map[string][]any{"entry_period": {20}},
	}
	experiments := ExpandGrid(cfg)
	if len(experiments) != 1 {
		t.Fatalf("got %d experiments", len(experiments))
	}
	name := experiments[0].Name
	if !strings.HasPrefix(name, "GS_turtl_") {
		t.Errorf("name should carry the abbreviated strategy, got %s", name)
	}
	if !strings.Contains(name, "entr20") {
		t.Errorf("name should carry abbreviated key and value, got %s", name)
	}
}

func TestExpandGridDeterministicOrder(t *testing.T) {
	cfg := GridConfig{
		StrategyName: strategy.NameTurtle,
		ParamGrid: map[string][]any{
			"exit_period":  {5, 10},
			"entry_period": {10, 20},
		},
	}
	a := ExpandGrid(cfg)
	b := ExpandGrid(cfg)
	for i := range a {
		if a[i].Name != b[i].Name {
			t.Errorf("expansion order unstable at %d: %s vs %s", i, a[i].Name, b[i].Name)
		}
		for k, v := range a[i].Params {
			if b[i].Params[k] != v {
				t.Errorf("combination %d differs for key %s", i, k)
			}
		}
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	classifier, err := regime.NewClassifier(regime.Config{ADXThreshold: 25, SMAPeriod: 20}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return NewEngine(indicators.NewEngine(zerolog.Nop()), classifier, zerolog.Nop())
}

func TestRunGridSearchRejectsEmptyData(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.RunGridSearch(context.Background(), nil, GridConfig{StrategyName: strategy.NameTurtle})
	if err == nil {
		t.Fatal("expected error for empty series")
	}
}

func TestRunGridSearchRejectsUnknownStrategy(t *testing.T) {
	engine := newTestEngine(t)
	s := simSeries(t, [][4]float64{{100, 101, 99, 100}, {100, 101, 99, 101}}, nil)
	_, err := engine.RunGridSearch(context.Background(), s, GridConfig{
		StrategyName: "nope",
		ParamGrid:    map[string][]any{"k": {0.5}},
	})
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestRunGridSearchSortsByCalmar(t *testing.T) {
	engine := newTestEngine(t)

	rows := make([][4]float64, 80)
	price := 100.0
	for i := range rows {
		rows[i] = [4]float64{price, price * 1.02, price * 0.99, price * 1.01}
		price *= 1.01
	}
	s := simSeries(t, rows, nil)

	results, err := engine.RunGridSearch(context.Background(), s, GridConfig{
		StrategyName: strategy.NameTurtle,
		ParamGrid: map[string][]any{
			"entry_period": {5, 10, 20},
		},
		BaseParams:     map[string]any{"exit_period": 5},
		InitialCapital: 10_000,
		Workers:        2,
	})
	if err != nil {
		t.Fatalf("RunGridSearch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Summary.Calmar > results[i-1].Summary.Calmar {
			t.Errorf("results not sorted by calmar at %d", i)
		}
	}
	for _, res := range results {
		if res.Symbol != "BTCUSDT" || res.Interval != "day" {
			t.Errorf("result missing series identity: %+v", res.Experiment.Name)
		}
	}
}

func TestRunGridSearchCancelledContext(t *testing.T) {
	engine := newTestEngine(t)
	s := simSeries(t, [][4]float64{{100, 101, 99, 100}, {100, 101, 99, 101}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	grid := make([]any, 0, 30)
	for p := 2; p < 32; p++ {
		grid = append(grid, p)
	}
	results, err := engine.RunGridSearch(ctx, s, GridConfig{
		StrategyName: strategy.NameTurtle,
		ParamGrid:    map[string][]any{"entry_period": grid},
	})
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if len(results) >= len(grid) {
		t.Errorf("cancelled search should stop scheduling, got %d results", len(results))
	}
}

func TestRunChampionsAcrossUniverse(t *testing.T) {
	engine := newTestEngine(t)

	rows := make([][4]float64, 60)
	price := 100.0
	for i := range rows {
		rows[i] = [4]float64{price, price * 1.01, price * 0.99, price}
		price *= 1.002
	}

	universe := map[string]*market.Series{
		"AAAUSDT": simSeries(t, rows, nil),
		"BBBUSDT": nil, // skipped, not fatal
	}
	universe["AAAUSDT"].Symbol = "AAAUSDT"

	results, err := engine.RunChampions(context.Background(), universe, []Champion{
		{NamePrefix: "CH_turtle", StrategyName: strategy.NameTurtle, Params: map[string]any{"entry_period": 10}},
	}, 10_000)
	if err != nil {
		t.Fatalf("RunChampions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result for the one usable ticker, got %d", len(results))
	}
	if results[0].Symbol != "AAAUSDT" {
		t.Errorf("symbol = %s", results[0].Symbol)
	}
	if !strings.HasPrefix(results[0].Experiment.Name, "CH_turtle_AAAUSDT") {
		t.Errorf("champion name = %s", results[0].Experiment.Name)
	}
}

func TestDecodeRiskIgnoresStrategyKeys(t *testing.T) {
	var risk RiskParams
	err := decodeRisk(map[string]any{
		"entry_period":      20,
		"stop_loss_percent": 0.05,
		"commission_rate":   0.001,
	}, &risk)
	if err != nil {
		t.Fatalf("decodeRisk: %v", err)
	}
	if risk.StopLossPercent != 0.05 || risk.CommissionRate != 0.001 {
		t.Errorf("risk fields not decoded: %+v", risk)
	}
}

func TestAbbrev(t *testing.T) {
	if got := abbrev("entry_period", 4); got != "entr" {
		t.Errorf("abbrev = %s", got)
	}
	if got := abbrev("k", 4); got != "k" {
		t.Errorf("short key should pass through, got %s", got)
	}
}

func TestRunGridSearchBullTargetEntersOnTrend(t *testing.T) {
	engine := newTestEngine(t)

	// A long advance followed by a sharp decline: the advance classifies
	// bull once the trend indicators warm up, the decline breaks the exit
	// channel and completes a round trip.
	rows := uptrendRows(100)
	price := rows[len(rows)-1][3]
	for i := 0; i < 12; i++ {
		price *= 0.95
		rows = append(rows, [4]float64{price, price * 1.01, price * 0.97, price})
	}
	s := simSeries(t, rows, nil)

	results, err := engine.RunGridSearch(context.Background(), s, GridConfig{
		StrategyName:   strategy.NameTurtle,
		ParamGrid:      map[string][]any{"entry_period": {5}},
		BaseParams:     map[string]any{"exit_period": 5},
		TargetRegime:   regime.Bull,
		InitialCapital: 10_000,
	})
	if err != nil {
		t.Fatalf("RunGridSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	res := results[0]
	bought := false
	for _, entry := range res.TradeLog {
		if entry.Type == portfolio.TradeBuy {
			bought = true
			break
		}
	}
	if !bought {
		t.Error("bull-targeted experiment never entered on a bullish tape")
	}
	if res.Summary.TotalTrades == 0 {
		t.Error("expected at least one completed round trip")
	}
}
