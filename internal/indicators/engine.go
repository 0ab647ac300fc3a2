package indicators

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
)

// Column names for the fixed common indicator set. The dynamic columns
// (SMA_{p}, high_{p}d, low_{p}d, RSI_{p}) are produced by the name helpers
// below.
const (
	ColATR   = "ATR"
	ColOBV   = "OBV"
	ColADX   = "ADX_14"
	ColDMP   = "DMP_14"
	ColDMN   = "DMN_14"
	ColRange = "range"

	commonRSIPeriod = 14
	commonBBPeriod  = 20
	commonBBStd     = 2.0
	atrPeriod       = 14
	adxPeriod       = 14
)

// SMAName returns the column name for a simple moving average period.
func SMAName(period int) string { return fmt.Sprintf("SMA_%d", period) }

// HighName returns the column name for a rolling N-bar high.
func HighName(period int) string { return fmt.Sprintf("high_%dd", period) }

// LowName returns the column name for a rolling N-bar low.
func LowName(period int) string { return fmt.Sprintf("low_%dd", period) }

// RSIName returns the column name for an RSI period.
func RSIName(period int) string { return fmt.Sprintf("RSI_%d", period) }

// BBUpperName returns the Bollinger upper-band column name.
func BBUpperName(period int, std float64) string {
	return fmt.Sprintf("BBU_%d_%.1f", period, std)
}

// BBMiddleName returns the Bollinger middle-band column name.
func BBMiddleName(period int, std float64) string {
	return fmt.Sprintf("BBM_%d_%.1f", period, std)
}

// BBLowerName returns the Bollinger lower-band column name.
func BBLowerName(period int, std float64) string {
	return fmt.Sprintf("BBL_%d_%.1f", period, std)
}

// PeriodSet is the union of indicator periods referenced by a batch of
// strategy parameter maps.
type PeriodSet struct {
	SMA     map[int]bool
	HighLow map[int]bool
	RSI     map[int]bool
}

func newPeriodSet() PeriodSet {
	return PeriodSet{
		SMA:     make(map[int]bool),
		HighLow: make(map[int]bool),
		RSI:     make(map[int]bool),
	}
}

// CollectPeriods scans every parameter map, recursing through nested
// sub-maps (composite strategies nest parameter groups), and gathers the
// distinct periods of the three dynamic indicator families.
func CollectPeriods(paramsList []map[string]any) PeriodSet {
	set := newPeriodSet()
	for _, params := range paramsList {
		collectFromMap(params, &set)
	}
	return set
}

func collectFromMap(params map[string]any, set *PeriodSet) {
	for key, raw := range params {
		if nested, ok := raw.(map[string]any); ok {
			collectFromMap(nested, set)
			continue
		}
		period, ok := asPeriod(raw)
		if !ok {
			continue
		}

		switch {
		case strings.Contains(key, "sma_period") || strings.HasSuffix(key, "_ma"):
			set.SMA[period] = true
		case strings.Contains(key, "entry_period"),
			strings.Contains(key, "exit_period"),
			strings.Contains(key, "breakout_window"):
			set.HighLow[period] = true
		case strings.Contains(key, "rsi_period"):
			set.RSI[period] = true
		}
	}
}

func asPeriod(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case float64:
		// JSON numbers decode as float64.
		if v > 0 {
			return int(v), true
		}
	}
	return 0, false
}

// Engine computes technical indicator columns on a price series.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates an indicator engine with a scoped logger.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "indicators").Logger()}
}

// Apply attaches the union of all indicators required by the given strategy
// parameter maps, plus the fixed common set, to the series. Each distinct
// (indicator, period) pair is computed at most once; columns already present
// are left untouched, so Apply is idempotent. A nil or empty series is
// returned unchanged.
func (e *Engine) Apply(s *market.Series, paramsList []map[string]any) *market.Series {
	if s == nil || s.Len() == 0 {
		e.logger.Warn().Msg("empty price series, skipping indicator computation")
		return s
	}

	closes := make([]float64, s.Len())
	highs := make([]float64, s.Len())
	lows := make([]float64, s.Len())
	for i, b := range s.Bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	set := CollectPeriods(paramsList)

	for _, period := range sortedPeriods(set.SMA) {
		if !s.HasColumn(SMAName(period)) {
			s.SetColumn(SMAName(period), SMA(closes, period))
		}
	}
	for _, period := range sortedPeriods(set.HighLow) {
		if !s.HasColumn(HighName(period)) {
			s.SetColumn(HighName(period), RollingMax(highs, period))
		}
		if !s.HasColumn(LowName(period)) {
			s.SetColumn(LowName(period), RollingMin(lows, period))
		}
	}
	for _, period := range sortedPeriods(set.RSI) {
		if !s.HasColumn(RSIName(period)) {
			s.SetColumn(RSIName(period), RSI(closes, period))
		}
	}

	e.applyCommon(s, closes)

	e.logger.Debug().
		Str("symbol", s.Symbol).
		Int("bars", s.Len()).
		Int("columns", len(s.ColumnNames())).
		Msg("indicator computation complete")
	return s
}

// applyCommon attaches the indicators every strategy and the regime
// classifier may rely on: RSI(14), Bollinger(20,2), ATR(14), OBV, ADX/DMI(14)
// and the prior-bar range.
func (e *Engine) applyCommon(s *market.Series, closes []float64) {
	if !s.HasColumn(RSIName(commonRSIPeriod)) {
		s.SetColumn(RSIName(commonRSIPeriod), RSI(closes, commonRSIPeriod))
	}

	if !s.HasColumn(BBUpperName(commonBBPeriod, commonBBStd)) {
		upper, middle, lower := BollingerBands(closes, commonBBPeriod, commonBBStd)
		s.SetColumn(BBUpperName(commonBBPeriod, commonBBStd), upper)
		s.SetColumn(BBMiddleName(commonBBPeriod, commonBBStd), middle)
		s.SetColumn(BBLowerName(commonBBPeriod, commonBBStd), lower)
	}

	if !s.HasColumn(ColATR) {
		s.SetColumn(ColATR, ATR(s.Bars, atrPeriod))
	}
	if !s.HasColumn(ColOBV) {
		s.SetColumn(ColOBV, OBV(s.Bars))
	}
	if !s.HasColumn(ColADX) {
		adx, dmp, dmn := ADX(s.Bars, adxPeriod)
		s.SetColumn(ColADX, adx)
		s.SetColumn(ColDMP, dmp)
		s.SetColumn(ColDMN, dmn)
	}
	if !s.HasColumn(ColRange) {
		s.SetColumn(ColRange, PriorRange(s.Bars))
	}
}

func sortedPeriods(m map[int]bool) []int {
	periods := make([]int, 0, len(m))
	for p := range m {
		periods = append(periods, p)
	}
	sort.Ints(periods)
	return periods
}
