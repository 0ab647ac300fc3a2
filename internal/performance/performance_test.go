package performance

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"regime-trader/internal/portfolio"
)

func ts(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func TestRoundTripsPartialThenFinalConservesSize(t *testing.T) {
	third := 9.0 / 3
	log := []portfolio.TradeLogEntry{
		{Timestamp: ts(0), Type: portfolio.TradeBuy, Price: 100, Amount: 9},
		{Timestamp: ts(1), Type: portfolio.TradePartialSell, Price: 110, Amount: third},
		{Timestamp: ts(2), Type: portfolio.TradePartialSell, Price: 120, Amount: third},
		{Timestamp: ts(3), Type: portfolio.TradeSignalSell, Price: 90, Amount: third},
	}

	trips := RoundTrips(log, zerolog.Nop())
	if len(trips) != 3 {
		t.Fatalf("expected 3 round trips, got %d", len(trips))
	}

	want := []float64{10 * third, 20 * third, -10 * third}
	total := 0.0
	for i, trip := range trips {
		if math.Abs(trip.PnL-want[i]) > 1e-9 {
			t.Errorf("trip %d: pnl = %v, want %v", i, trip.PnL, want[i])
		}
		total += trip.PnL
	}
	if math.Abs(total-60) > 1e-9 {
		t.Errorf("total pnl = %v, want 60", total)
	}
}

func TestRoundTripsExitCappedAtLotRemainder(t *testing.T) {
	log := []portfolio.TradeLogEntry{
		{Timestamp: ts(0), Type: portfolio.TradeBuy, Price: 100, Amount: 5},
		{Timestamp: ts(1), Type: portfolio.TradeFixedStop, Price: 95, Amount: 50}, // exceeds lot
	}
	trips := RoundTrips(log, zerolog.Nop())
	if len(trips) != 1 {
		t.Fatalf("got %d trips", len(trips))
	}
	if got, want := trips[0].PnL, -25.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v (consumption capped at 5 units)", got, want)
	}
}

func TestRoundTripsBuyWhileOpenReplacesLot(t *testing.T) {
	log := []portfolio.TradeLogEntry{
		{Timestamp: ts(0), Type: portfolio.TradeBuy, Price: 100, Amount: 5},
		{Timestamp: ts(1), Type: portfolio.TradeBuy, Price: 200, Amount: 2},
		{Timestamp: ts(2), Type: portfolio.TradeSignalSell, Price: 210, Amount: 2},
	}
	trips := RoundTrips(log, zerolog.Nop())
	if len(trips) != 1 {
		t.Fatalf("got %d trips", len(trips))
	}
	if got, want := trips[0].PnL, 20.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("pnl should use the replacing lot's entry, got %v want %v", got, want)
	}
}

func TestRoundTripsExitWithoutLotIgnored(t *testing.T) {
	log := []portfolio.TradeLogEntry{
		{Timestamp: ts(0), Type: portfolio.TradeSignalSell, Price: 100, Amount: 5},
	}
	if trips := RoundTrips(log, zerolog.Nop()); len(trips) != 0 {
		t.Errorf("exit with no open lot should produce no trips, got %d", len(trips))
	}
}

func TestAnalyzeBasicMetrics(t *testing.T) {
	history := []portfolio.Snapshot{
		{Timestamp: ts(0), Value: 1000},
		{Timestamp: ts(1), Value: 1100},
		{Timestamp: ts(2), Value: 990},
		{Timestamp: ts(3), Value: 1200},
	}
	log := []portfolio.TradeLogEntry{
		{Timestamp: ts(0), Type: portfolio.TradeBuy, Price: 100, Amount: 10},
		{Timestamp: ts(3), Type: portfolio.TradeSignalSell, Price: 120, Amount: 10},
	}

	summary := Analyze(history, log, 1000, "day", zerolog.Nop())

	if got, want := summary.ROIPct, 20.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("roi = %v, want %v", got, want)
	}
	// Peak 1100 to trough 990 is a 10% drawdown, reported negative.
	if got, want := summary.MDDPct, -10.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("mdd = %v, want %v", got, want)
	}
	if summary.FinalValue != 1200 {
		t.Errorf("final value = %v", summary.FinalValue)
	}
	if summary.TotalTrades != 1 {
		t.Errorf("total trades = %d", summary.TotalTrades)
	}
	if summary.WinRatePct != 100 {
		t.Errorf("win rate = %v", summary.WinRatePct)
	}
	if !math.IsInf(summary.ProfitFactor, 1) {
		t.Errorf("no losses should give +Inf profit factor, got %v", summary.ProfitFactor)
	}
	if summary.Sharpe == 0 {
		t.Errorf("non-constant returns should give a nonzero sharpe")
	}
	if summary.Calmar == 0 {
		t.Errorf("nonzero drawdown and returns should give a nonzero calmar")
	}
}

func TestAnalyzeDegenerateInputs(t *testing.T) {
	empty := Analyze(nil, nil, 1000, "day", zerolog.Nop())
	if empty != (Summary{}) {
		t.Errorf("empty history should give a zero summary, got %+v", empty)
	}

	single := Analyze([]portfolio.Snapshot{{Timestamp: ts(0), Value: 1000}}, nil, 1000, "day", zerolog.Nop())
	for name, v := range map[string]float64{
		"roi": single.ROIPct, "mdd": single.MDDPct, "sharpe": single.Sharpe, "calmar": single.Calmar,
	} {
		if v != 0 || math.IsNaN(v) {
			t.Errorf("single-bar %s = %v, want 0", name, v)
		}
	}
}

func TestAnalyzeFlatEquityNoNaN(t *testing.T) {
	history := []portfolio.Snapshot{
		{Timestamp: ts(0), Value: 1000},
		{Timestamp: ts(1), Value: 1000},
		{Timestamp: ts(2), Value: 1000},
	}
	summary := Analyze(history, nil, 1000, "day", zerolog.Nop())
	if summary.Sharpe != 0 || summary.Calmar != 0 || summary.MDDPct != 0 {
		t.Errorf("flat curve should zero the ratios, got %+v", summary)
	}
	if math.IsNaN(summary.Sharpe) || math.IsNaN(summary.Calmar) {
		t.Errorf("flat curve must not produce NaN")
	}
}

func TestAnalyzeHourlyAnnualization(t *testing.T) {
	history := []portfolio.Snapshot{
		{Timestamp: ts(0), Value: 1000},
		{Timestamp: ts(1), Value: 1010},
		{Timestamp: ts(2), Value: 1005},
	}
	daily := Analyze(history, nil, 1000, "day", zerolog.Nop())
	hourly := Analyze(history, nil, 1000, "minute60", zerolog.Nop())

	// Same curve, more periods per year: the hourly sharpe scales by
	// sqrt(24) over the daily one.
	if got, want := hourly.Sharpe/daily.Sharpe, math.Sqrt(24); math.Abs(got-want) > 1e-9 {
		t.Errorf("annualization ratio = %v, want %v", got, want)
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]float64{1, 2, 3, 4})
	if math.Abs(mean-2.5) > 1e-9 {
		t.Errorf("mean = %v", mean)
	}
	if math.Abs(std-math.Sqrt(1.25)) > 1e-9 {
		t.Errorf("std = %v", std)
	}
	if m, s := meanStd(nil); m != 0 || s != 0 {
		t.Errorf("empty input should give zeros")
	}
}

func TestAnalyzeReturnsIncludeFirstPeriod(t *testing.T) {
	// With the leading zero return the series is {0, 0, 0.1}, whose
	// mean/std ratio is exactly 1/sqrt(2) regardless of the move size.
	history := []portfolio.Snapshot{
		{Timestamp: ts(0), Value: 100},
		{Timestamp: ts(1), Value: 100},
		{Timestamp: ts(2), Value: 110},
	}
	summary := Analyze(history, nil, 100, "day", zerolog.Nop())

	want := math.Sqrt(365.0 / 2)
	if math.Abs(summary.Sharpe-want) > 1e-9 {
		t.Errorf("sharpe = %v, want %v", summary.Sharpe, want)
	}
}
