package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
)

func testSeries(t *testing.T, closes []float64) *market.Series {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    500,
		}
	}
	return market.NewSeries("BTCUSDT", "day", bars)
}

func TestCollectPeriodsRecursesNestedMaps(t *testing.T) {
	paramsList := []map[string]any{
		{"sma_period": 20, "entry_period": float64(55)},
		{
			"weights": map[string]any{"sub_rsi_period": 14},
			"exit_period": 20,
		},
		{"regime_sma_period": 200},
	}

	set := CollectPeriods(paramsList)
	if !set.SMA[20] || !set.SMA[200] {
		t.Errorf("SMA periods missing: %v", set.SMA)
	}
	if !set.HighLow[55] || !set.HighLow[20] {
		t.Errorf("high/low periods missing: %v", set.HighLow)
	}
	if !set.RSI[14] {
		t.Errorf("nested rsi period not collected: %v", set.RSI)
	}
}

func TestCollectPeriodsIgnoresNonPeriods(t *testing.T) {
	set := CollectPeriods([]map[string]any{
		{"sma_period": -5, "entry_period": "fast", "buy_threshold": 0.6},
	})
	if len(set.SMA) != 0 || len(set.HighLow) != 0 || len(set.RSI) != 0 {
		t.Errorf("invalid values collected as periods: %+v", set)
	}
}

func TestApplyAttachesRequestedAndCommonColumns(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := testSeries(t, closes)

	engine.Apply(s, []map[string]any{{"sma_period": 10, "entry_period": 5}})

	for _, name := range []string{
		SMAName(10), HighName(5), LowName(5),
		RSIName(14), ColATR, ColOBV, ColADX, ColDMP, ColDMN, ColRange,
		BBUpperName(20, 2), BBMiddleName(20, 2), BBLowerName(20, 2),
	} {
		if !s.HasColumn(name) {
			t.Errorf("missing column %s", name)
		}
	}

	sma, _ := s.Column(SMAName(10))
	if got, want := sma[9], 104.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("SMA_10[9] = %v, want %v", got, want)
	}
	if !math.IsNaN(sma[8]) {
		t.Errorf("SMA warm-up should be NaN, got %v", sma[8])
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	s := testSeries(t, []float64{
		100, 101, 102, 103, 104, 105, 106, 107, 108, 109,
		110, 111, 112, 113, 114, 115, 116, 117, 118, 119,
		120, 121, 122,
	})

	engine.Apply(s, []map[string]any{{"sma_period": 5}})
	first, _ := s.Column(SMAName(5))
	engine.Apply(s, []map[string]any{{"sma_period": 5}})
	second, _ := s.Column(SMAName(5))

	if len(first) != len(second) {
		t.Fatalf("column length changed on re-apply")
	}
	for i := range first {
		if first[i] != second[i] && !(math.IsNaN(first[i]) && math.IsNaN(second[i])) {
			t.Errorf("column value changed at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestApplyEmptySeries(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	s := market.NewSeries("BTCUSDT", "day", nil)
	if got := engine.Apply(s, nil); got.Len() != 0 {
		t.Errorf("empty series should pass through unchanged")
	}
}

func TestRollingMaxCoversWindowEndingAtBar(t *testing.T) {
	values := []float64{1, 5, 3, 2, 4}
	out := RollingMax(values, 3)

	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Errorf("warm-up should be NaN")
	}
	want := []float64{5, 5, 4}
	for i, w := range want {
		if out[i+2] != w {
			t.Errorf("RollingMax[%d] = %v, want %v", i+2, out[i+2], w)
		}
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	out := RSI(closes, 3)
	if out[3] != 100 {
		t.Errorf("monotonic gains should give RSI 100, got %v", out[3])
	}
}

func TestATRWarmupAndPositive(t *testing.T) {
	s := testSeries(t, []float64{
		100, 102, 101, 103, 105, 104, 106, 108, 107, 109,
		110, 112, 111, 113, 115, 116,
	})
	atr := ATR(s.Bars, 14)
	if !math.IsNaN(atr[13]) {
		t.Errorf("ATR before warm-up should be NaN")
	}
	if math.IsNaN(atr[14]) || atr[14] <= 0 {
		t.Errorf("ATR after warm-up should be positive, got %v", atr[14])
	}
}
