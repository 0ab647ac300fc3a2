package scanner

import (
	"context"
	"math"
	"testing"
	"time"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
	"regime-trader/internal/portfolio"
	"regime-trader/internal/regime"
)

// flipSeries is bullish through bar flipAt-1 and sideways from flipAt on.
func flipSeries(t *testing.T, symbol string, closes []float64, flipAt int) *market.Series {
	t.Helper()
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Timestamp: scanStart.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
			Volume: 10,
		}
	}
	s := market.NewSeries(symbol, "day", bars)

	n := len(closes)
	adx, dmp, dmn, sma := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i := range closes {
		if i < flipAt {
			adx[i], dmp[i], dmn[i], sma[i] = 30, 25, 10, closes[i]-1
		} else {
			adx[i], dmp[i], dmn[i], sma[i] = 10, 10, 10, closes[i]
		}
	}
	s.SetColumn(indicators.ColADX, adx)
	s.SetColumn(indicators.ColDMP, dmp)
	s.SetColumn(indicators.ColDMN, dmn)
	s.SetColumn(indicators.SMAName(20), sma)
	return s
}

func backtestScanner(t *testing.T) *Scanner {
	t.Helper()
	return newTestScanner(t, Config{
		TargetRegime:          regime.Bull,
		RankMethod:            RankTradedValue,
		IntervalHours:         1,
		ValueWindowMultiplier: 2,
	})
}

func TestPortfolioBacktestBuysTopCandidates(t *testing.T) {
	sc := backtestScanner(t)
	universe := map[string]*market.Series{
		"AAAUSDT": scanSeries(t, "AAAUSDT", []float64{100, 100}, []float64{10, 10}, regime.Bull),
		"BBBUSDT": scanSeries(t, "BBBUSDT", []float64{100, 100}, []float64{50, 50}, regime.Bull),
		"CCCUSDT": scanSeries(t, "CCCUSDT", []float64{100, 100}, []float64{90, 90}, regime.Sideways),
	}

	at := scanStart.AddDate(0, 0, 1)
	report, err := sc.RunPortfolioBacktest(context.Background(), universe, at, at, nil, BacktestConfig{
		InitialCapital: 1000,
		MaxPositions:   2,
		Step:           24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("RunPortfolioBacktest: %v", err)
	}

	if len(report.TradeLog) != 2 {
		t.Fatalf("expected 2 buys, got %+v", report.TradeLog)
	}
	for _, entry := range report.TradeLog {
		if entry.Type != portfolio.TradeBuy {
			t.Errorf("unexpected trade type %s", entry.Type)
		}
		if math.Abs(entry.Amount-5) > 1e-9 {
			t.Errorf("equal split of 1000 over 2 buys at 100 should give 5 units, got %v", entry.Amount)
		}
	}
	if len(report.History) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(report.History))
	}
	if math.Abs(report.FinalValue-1000) > 1e-9 {
		t.Errorf("flat prices without commission keep value at 1000, got %v", report.FinalValue)
	}
}

func TestPortfolioBacktestRotatesOutOfRegime(t *testing.T) {
	sc := backtestScanner(t)
	universe := map[string]*market.Series{
		"AAAUSDT": flipSeries(t, "AAAUSDT", []float64{100, 100, 110, 110}, 2),
	}

	start := scanStart.AddDate(0, 0, 1)
	end := scanStart.AddDate(0, 0, 3)
	report, err := sc.RunPortfolioBacktest(context.Background(), universe, start, end, nil, BacktestConfig{
		InitialCapital: 1000,
		MaxPositions:   1,
		Step:           24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("RunPortfolioBacktest: %v", err)
	}

	if len(report.TradeLog) != 2 {
		t.Fatalf("expected buy then sell, got %+v", report.TradeLog)
	}
	if report.TradeLog[0].Type != portfolio.TradeBuy || report.TradeLog[1].Type != portfolio.TradeSell {
		t.Fatalf("wrong trade sequence: %s, %s", report.TradeLog[0].Type, report.TradeLog[1].Type)
	}
	if report.TradeLog[1].Price != 110 {
		t.Errorf("rotation should sell at the step close 110, got %v", report.TradeLog[1].Price)
	}
	if math.Abs(report.FinalValue-1100) > 1e-9 {
		t.Errorf("10 units bought at 100 and sold at 110 end at 1100, got %v", report.FinalValue)
	}
	if report.Steps != 3 {
		t.Errorf("expected 3 steps, got %d", report.Steps)
	}
}

func TestPortfolioBacktestAppliesCommission(t *testing.T) {
	sc := backtestScanner(t)
	universe := map[string]*market.Series{
		"AAAUSDT": scanSeries(t, "AAAUSDT", []float64{100, 100}, []float64{10, 10}, regime.Bull),
	}

	at := scanStart.AddDate(0, 0, 1)
	report, err := sc.RunPortfolioBacktest(context.Background(), universe, at, at, nil, BacktestConfig{
		InitialCapital: 1000,
		MaxPositions:   1,
		Commission:     0.001,
		Step:           24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("RunPortfolioBacktest: %v", err)
	}
	if len(report.TradeLog) != 1 {
		t.Fatalf("expected 1 buy, got %d", len(report.TradeLog))
	}
	if math.Abs(report.TradeLog[0].Amount-9.99) > 1e-9 {
		t.Errorf("1000 at 100 with 0.1%% commission buys 9.99 units, got %v", report.TradeLog[0].Amount)
	}
	if math.Abs(report.FinalValue-999) > 1e-9 {
		t.Errorf("entry commission leaves 999 of value, got %v", report.FinalValue)
	}
}

func TestPortfolioBacktestRejectsBadConfig(t *testing.T) {
	sc := backtestScanner(t)
	at := scanStart
	cases := []struct {
		name string
		cfg  BacktestConfig
		end  time.Time
	}{
		{"zero capital", BacktestConfig{}, at},
		{"commission out of range", BacktestConfig{InitialCapital: 1000, Commission: 1.5}, at},
		{"end before start", BacktestConfig{InitialCapital: 1000}, at.AddDate(0, 0, -1)},
	}
	for _, tc := range cases {
		if _, err := sc.RunPortfolioBacktest(context.Background(), nil, at, tc.end, nil, tc.cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestPortfolioBacktestCancelledContext(t *testing.T) {
	sc := backtestScanner(t)
	universe := map[string]*market.Series{
		"AAAUSDT": scanSeries(t, "AAAUSDT", []float64{100, 100}, []float64{10, 10}, regime.Bull),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	at := scanStart.AddDate(0, 0, 1)
	report, err := sc.RunPortfolioBacktest(ctx, universe, at, at, nil, BacktestConfig{
		InitialCapital: 1000,
		Step:           24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if report.Steps != 0 || len(report.TradeLog) != 0 {
		t.Errorf("cancelled run should do no work, got %d steps %d trades", report.Steps, len(report.TradeLog))
	}
	if math.Abs(report.FinalValue-1000) > 1e-9 {
		t.Errorf("untouched capital should be reported, got %v", report.FinalValue)
	}
}
