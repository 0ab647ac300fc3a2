package regime

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
)

func labeledSeries(t *testing.T, closes, adx, dmp, dmn, sma []float64) *market.Series {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	s := market.NewSeries("BTCUSDT", "day", bars)
	s.SetColumn(indicators.ColADX, adx)
	s.SetColumn(indicators.ColDMP, dmp)
	s.SetColumn(indicators.ColDMN, dmn)
	s.SetColumn(indicators.SMAName(20), sma)
	return s
}

func newTestClassifier(t *testing.T, cfg Config) *Classifier {
	t.Helper()
	c, err := NewClassifier(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestNewClassifierRejectsUnknownVersion(t *testing.T) {
	if _, err := NewClassifier(Config{Version: "v3"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown rule version")
	}
}

func TestNewClassifierDefaultsToV1(t *testing.T) {
	c := newTestClassifier(t, Config{ADXThreshold: 25, SMAPeriod: 20})
	if c.cfg.Version != RuleV1 {
		t.Errorf("empty version should default to %s, got %s", RuleV1, c.cfg.Version)
	}
}

func TestClassifyTrendBranches(t *testing.T) {
	nan := math.NaN()
	closes := []float64{110, 90, 110, 100, 110, 110}
	adx := []float64{30, 30, 20, 30, 30, nan}
	dmp := []float64{25, 10, 25, 15, 10, 25}
	dmn := []float64{10, 25, 10, 15, 25, 10}
	sma := []float64{100, 100, 100, 100, 100, 100}

	c := newTestClassifier(t, Config{Version: RuleV1, ADXThreshold: 25, SMAPeriod: 20})
	labels := c.Classify(labeledSeries(t, closes, adx, dmp, dmn, sma))

	want := []Regime{
		Bull,     // strong trend, +DI leading, close above SMA
		Bear,     // strong trend, -DI leading, close below SMA
		Sideways, // ADX below threshold overrides direction
		Sideways, // DMI tie is ambiguous
		Sideways, // direction and price position disagree
		Sideways, // NaN input stays sideways
	}
	for i, w := range want {
		if labels[i] != w {
			t.Errorf("bar %d: got %s, want %s", i, labels[i], w)
		}
	}
}

func TestClassifyMissingColumnLabelsAllSideways(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []market.Bar{
		{Timestamp: start, Close: 100},
		{Timestamp: start.AddDate(0, 0, 1), Close: 101},
	}
	s := market.NewSeries("BTCUSDT", "day", bars)

	c := newTestClassifier(t, Config{Version: RuleV1, ADXThreshold: 25, SMAPeriod: 20})
	labels := c.Classify(s)
	if len(labels) != 2 {
		t.Fatalf("expected one label per bar, got %d", len(labels))
	}
	for i, l := range labels {
		if l != Sideways {
			t.Errorf("bar %d: got %s, want sideways", i, l)
		}
	}
}

func TestClassifyChannelRule(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{105, 95, 100, 100}
	bars := make([]market.Bar, len(closes))
	for i, cl := range closes {
		bars[i] = market.Bar{Timestamp: start.AddDate(0, 0, i), Close: cl}
	}
	s := market.NewSeries("BTCUSDT", "day", bars)
	s.SetColumn(indicators.BBUpperName(20, 2.0), []float64{104, 104, 104, math.NaN()})
	s.SetColumn(indicators.BBLowerName(20, 2.0), []float64{96, 96, 96, math.NaN()})

	c := newTestClassifier(t, Config{Version: RuleV2})
	labels := c.Classify(s)

	want := []Regime{Bull, Bear, Sideways, Sideways}
	for i, w := range want {
		if labels[i] != w {
			t.Errorf("bar %d: got %s, want %s", i, labels[i], w)
		}
	}
}

func TestClassifyEmptySeries(t *testing.T) {
	c := newTestClassifier(t, Config{})
	if labels := c.Classify(nil); labels != nil {
		t.Errorf("nil series should give nil labels")
	}
}
