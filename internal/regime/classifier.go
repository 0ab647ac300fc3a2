// Package regime labels each bar of a price series with a coarse market
// state (bull, bear, sideways) used to gate which trading rule is active.
package regime

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
)

// Regime is a market-state label.
type Regime string

const (
	Bull     Regime = "bull"
	Bear     Regime = "bear"
	Sideways Regime = "sideways"
)

// Rule versions. V1 combines ADX trend strength with DMI direction and the
// close/SMA position; V2 uses Bollinger channel breaks. The two are mutually
// exclusive per run.
const (
	RuleV1 = "v1"
	RuleV2 = "v2"
)

// Config holds regime classification thresholds.
type Config struct {
	Version      string  `json:"version"`
	ADXThreshold float64 `json:"adx_threshold"`
	SMAPeriod    int     `json:"regime_sma_period"`
}

// Classifier labels series bars with a market regime.
type Classifier struct {
	cfg    Config
	logger zerolog.Logger
}

// NewClassifier validates the rule version and returns a classifier.
// An unknown version is a configuration error and fails fast.
func NewClassifier(cfg Config, logger zerolog.Logger) (*Classifier, error) {
	switch cfg.Version {
	case "", RuleV1:
		cfg.Version = RuleV1
	case RuleV2:
	default:
		return nil, fmt.Errorf("unknown regime rule version %q", cfg.Version)
	}
	return &Classifier{
		cfg:    cfg,
		logger: logger.With().Str("component", "regime").Logger(),
	}, nil
}

// ParamMap returns the parameter map whose periods the indicator engine must
// compute before Classify can label a series.
func (c *Classifier) ParamMap() map[string]any {
	return map[string]any{"regime_sma_period": c.cfg.SMAPeriod}
}

// Classify returns one label per bar. When a required indicator column is
// missing the whole series is labeled sideways and a warning is logged; the
// classifier never fails a run.
func (c *Classifier) Classify(s *market.Series) []Regime {
	if s == nil || s.Len() == 0 {
		return nil
	}
	if c.cfg.Version == RuleV2 {
		return c.classifyChannel(s)
	}
	return c.classifyTrend(s)
}

// classifyTrend implements the primary rule: weak ADX overrides everything,
// then DMI direction must agree with the close/SMA position, and any
// ambiguous bar falls back to sideways.
func (c *Classifier) classifyTrend(s *market.Series) []Regime {
	labels := sidewaysAll(s.Len())

	smaCol := indicators.SMAName(c.cfg.SMAPeriod)
	required := []string{indicators.ColADX, indicators.ColDMP, indicators.ColDMN, smaCol}
	for _, name := range required {
		if !s.HasColumn(name) {
			c.logger.Warn().
				Str("symbol", s.Symbol).
				Str("missing_column", name).
				Msg("required indicator missing, labeling entire series sideways")
			return labels
		}
	}

	for i := range s.Bars {
		adx := s.Value(indicators.ColADX, i)
		dmp := s.Value(indicators.ColDMP, i)
		dmn := s.Value(indicators.ColDMN, i)
		sma := s.Value(smaCol, i)
		close := s.Bars[i].Close

		if anyNaN(adx, dmp, dmn, sma) {
			continue // stays sideways
		}
		if adx < c.cfg.ADXThreshold {
			continue // weak trend strength overrides direction
		}
		switch {
		case dmp > dmn && close > sma:
			labels[i] = Bull
		case dmn > dmp && close < sma:
			labels[i] = Bear
		}
	}
	return labels
}

// classifyChannel implements the alternate rule: bull above the upper
// Bollinger band, bear below the lower band, sideways inside the channel.
func (c *Classifier) classifyChannel(s *market.Series) []Regime {
	labels := sidewaysAll(s.Len())

	upperCol := indicators.BBUpperName(20, 2.0)
	lowerCol := indicators.BBLowerName(20, 2.0)
	if !s.HasColumn(upperCol) || !s.HasColumn(lowerCol) {
		c.logger.Warn().
			Str("symbol", s.Symbol).
			Msg("bollinger bands missing, labeling entire series sideways")
		return labels
	}

	for i := range s.Bars {
		upper := s.Value(upperCol, i)
		lower := s.Value(lowerCol, i)
		close := s.Bars[i].Close
		if anyNaN(upper, lower) {
			continue
		}
		switch {
		case close > upper:
			labels[i] = Bull
		case close < lower:
			labels[i] = Bear
		}
	}
	return labels
}

func sidewaysAll(n int) []Regime {
	labels := make([]Regime, n)
	for i := range labels {
		labels[i] = Sideways
	}
	return labels
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
