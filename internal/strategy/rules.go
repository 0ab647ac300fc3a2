package strategy

import (
	"math"

	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
)

// All breakout rules compare the current bar against the PRIOR bar's rolling
// window (the column value at i-1). A bar's own high must never be part of
// the threshold it is tested against.

// TrendFollowingParams configures the breakout-plus-volume trend rule.
type TrendFollowingParams struct {
	BreakoutWindow    int     `json:"breakout_window"`
	VolumeAvgWindow   int     `json:"volume_avg_window"`
	VolumeMultiplier  float64 `json:"volume_multiplier"`
	LongTermSMAPeriod int     `json:"long_term_sma_period"`
	ExitSMAPeriod     int     `json:"exit_sma_period"`
}

// TrendFollowingRule buys N-bar high breakouts confirmed by volume expansion
// and a long-term SMA filter, and sells when the close drops under the exit
// SMA.
type TrendFollowingRule struct {
	Params TrendFollowingParams
	logger zerolog.Logger
}

func (r *TrendFollowingRule) Name() string { return NameTrendFollowing }

func (r *TrendFollowingRule) Signals(s *market.Series) []int {
	signals := make([]int, s.Len())
	highCol := indicators.HighName(r.Params.BreakoutWindow)
	if !s.HasColumn(highCol) {
		r.logger.Warn().Str("missing_column", highCol).Msg("required indicator missing, holding")
		return signals
	}

	// Rolling mean of volume, used at i-1 so the current bar's own volume
	// never feeds its threshold.
	var volumeAvg []float64
	if r.Params.VolumeAvgWindow > 0 && r.Params.VolumeMultiplier > 0 {
		volumes := make([]float64, s.Len())
		for i, b := range s.Bars {
			volumes[i] = b.Volume
		}
		volumeAvg = indicators.SMA(volumes, r.Params.VolumeAvgWindow)
	}

	for i := 1; i < s.Len(); i++ {
		bar := s.Bars[i]

		buy := gt(bar.High, s.Value(highCol, i-1))
		if volumeAvg != nil {
			buy = buy && gt(bar.Volume, volumeAvg[i-1]*r.Params.VolumeMultiplier)
		}
		if r.Params.LongTermSMAPeriod > 0 {
			buy = buy && gt(bar.Close, s.Value(indicators.SMAName(r.Params.LongTermSMAPeriod), i))
		}

		if buy {
			signals[i] = SignalBuy
			continue
		}
		if r.Params.ExitSMAPeriod > 0 && lt(bar.Close, s.Value(indicators.SMAName(r.Params.ExitSMAPeriod), i)) {
			signals[i] = SignalSell
		}
	}
	return signals
}

// VolatilityBreakoutParams configures the prior-range breakout rule.
type VolatilityBreakoutParams struct {
	K                 float64 `json:"k"`
	LongTermSMAPeriod int     `json:"long_term_sma_period"`
}

// VolatilityBreakoutRule buys when the high clears open + k x prior bar
// range, optionally filtered by a long-term SMA, and sells when the close
// falls back under that SMA.
type VolatilityBreakoutRule struct {
	Params VolatilityBreakoutParams
	logger zerolog.Logger
}

func (r *VolatilityBreakoutRule) Name() string { return NameVolatilityBreakout }

func (r *VolatilityBreakoutRule) Signals(s *market.Series) []int {
	signals := make([]int, s.Len())
	if !s.HasColumn(indicators.ColRange) {
		r.logger.Warn().Str("missing_column", indicators.ColRange).Msg("required indicator missing, holding")
		return signals
	}

	smaCol := ""
	if r.Params.LongTermSMAPeriod > 0 {
		smaCol = indicators.SMAName(r.Params.LongTermSMAPeriod)
	}

	for i := range s.Bars {
		bar := s.Bars[i]
		target := bar.Open + s.Value(indicators.ColRange, i)*r.Params.K

		buy := gt(bar.High, target)
		if smaCol != "" {
			buy = buy && gt(bar.Close, s.Value(smaCol, i))
		}

		if buy {
			signals[i] = SignalBuy
			continue
		}
		if smaCol != "" && lt(bar.Close, s.Value(smaCol, i)) {
			signals[i] = SignalSell
		}
	}
	return signals
}

// TurtleParams configures the channel-breakout rule.
type TurtleParams struct {
	EntryPeriod       int `json:"entry_period"`
	ExitPeriod        int `json:"exit_period"`
	LongTermSMAPeriod int `json:"long_term_sma_period"`
}

// TurtleRule buys breaks of the prior N-bar high and sells breaks of the
// prior M-bar low.
type TurtleRule struct {
	Params TurtleParams
	logger zerolog.Logger
}

func (r *TurtleRule) Name() string { return NameTurtle }

func (r *TurtleRule) Signals(s *market.Series) []int {
	signals := make([]int, s.Len())
	highCol := indicators.HighName(r.Params.EntryPeriod)
	lowCol := indicators.LowName(r.Params.ExitPeriod)
	if !s.HasColumn(highCol) || !s.HasColumn(lowCol) {
		r.logger.Warn().
			Str("high_column", highCol).
			Str("low_column", lowCol).
			Msg("required indicator missing, holding")
		return signals
	}

	for i := 1; i < s.Len(); i++ {
		bar := s.Bars[i]

		buy := gt(bar.High, s.Value(highCol, i-1))
		if r.Params.LongTermSMAPeriod > 0 {
			buy = buy && gt(bar.Close, s.Value(indicators.SMAName(r.Params.LongTermSMAPeriod), i))
		}

		if buy {
			signals[i] = SignalBuy
			continue
		}
		if lt(bar.Low, s.Value(lowCol, i-1)) {
			signals[i] = SignalSell
		}
	}
	return signals
}

// Exit band variants for mean reversion.
const (
	ExitBandUpper = "upper"
	ExitBandMid   = "mid"
)

// MeanReversionParams configures the Bollinger-band reversion rule.
type MeanReversionParams struct {
	BBPeriod      int     `json:"bb_period"`
	BBStdDev      float64 `json:"bb_std_dev"`
	ExitBand      string  `json:"exit_band"`
	RSIPeriod     int     `json:"rsi_period"`
	OversoldLevel float64 `json:"oversold_level"`
}

// MeanReversionRule buys touches of the lower Bollinger band (optionally
// requiring RSI oversold confirmation) and sells at the upper band, or at
// the mid band for the take-profit-early variant.
type MeanReversionRule struct {
	Params MeanReversionParams
	logger zerolog.Logger
}

func (r *MeanReversionRule) Name() string { return NameMeanReversion }

func (r *MeanReversionRule) Signals(s *market.Series) []int {
	signals := make([]int, s.Len())

	lowerCol := indicators.BBLowerName(r.Params.BBPeriod, r.Params.BBStdDev)
	exitCol := indicators.BBUpperName(r.Params.BBPeriod, r.Params.BBStdDev)
	if r.Params.ExitBand == ExitBandMid {
		exitCol = indicators.BBMiddleName(r.Params.BBPeriod, r.Params.BBStdDev)
	}
	if !s.HasColumn(lowerCol) || !s.HasColumn(exitCol) {
		r.logger.Warn().
			Str("lower_column", lowerCol).
			Str("exit_column", exitCol).
			Msg("required indicator missing, holding")
		return signals
	}

	rsiCol := ""
	if r.Params.RSIPeriod > 0 {
		rsiCol = indicators.RSIName(r.Params.RSIPeriod)
		if !s.HasColumn(rsiCol) {
			r.logger.Warn().Str("missing_column", rsiCol).Msg("rsi confirmation column missing, holding")
			return signals
		}
	}

	for i := range s.Bars {
		close := s.Bars[i].Close

		buy := le(close, s.Value(lowerCol, i))
		if rsiCol != "" {
			buy = buy && lt(s.Value(rsiCol, i), r.Params.OversoldLevel)
		}

		switch {
		case buy:
			signals[i] = SignalBuy
		case ge(close, s.Value(exitCol, i)):
			signals[i] = SignalSell
		}
	}
	return signals
}

// MATrendParams configures the moving-average continuation leg of the
// hybrid rule.
type MATrendParams struct {
	ShortMA int `json:"short_ma"`
	LongMA  int `json:"long_ma"`
}

// HybridTrendParams nests the two sub-strategy parameter groups.
type HybridTrendParams struct {
	TrendFollowing TrendFollowingParams `json:"trend_following_params"`
	MATrend        MATrendParams        `json:"ma_trend_params"`
}

// HybridTrendRule runs the breakout rule first and falls back to a
// moving-average alignment continuation rule on bars where the breakout
// does not fire.
type HybridTrendRule struct {
	Params HybridTrendParams
	logger zerolog.Logger
}

func (r *HybridTrendRule) Name() string { return NameHybridTrend }

func (r *HybridTrendRule) Signals(s *market.Series) []int {
	breakout := (&TrendFollowingRule{Params: r.Params.TrendFollowing, logger: r.logger}).Signals(s)

	shortCol := indicators.SMAName(r.Params.MATrend.ShortMA)
	longCol := indicators.SMAName(r.Params.MATrend.LongMA)
	if !s.HasColumn(shortCol) || !s.HasColumn(longCol) {
		r.logger.Warn().
			Str("short_column", shortCol).
			Str("long_column", longCol).
			Msg("ma trend columns missing, using breakout leg only")
		return breakout
	}

	signals := make([]int, s.Len())
	for i := range s.Bars {
		if breakout[i] == SignalBuy {
			signals[i] = SignalBuy
			continue
		}
		short := s.Value(shortCol, i)
		long := s.Value(longCol, i)
		close := s.Bars[i].Close
		switch {
		case gt(short, long) && gt(close, short):
			signals[i] = SignalBuy
		case lt(short, long):
			signals[i] = SignalSell
		}
	}
	return signals
}

// NaN-safe comparisons: any comparison against NaN is false, so rules hold
// through indicator warm-up windows instead of crashing.
func gt(a, b float64) bool { return !math.IsNaN(a) && !math.IsNaN(b) && a > b }
func lt(a, b float64) bool { return !math.IsNaN(a) && !math.IsNaN(b) && a < b }
func ge(a, b float64) bool { return !math.IsNaN(a) && !math.IsNaN(b) && a >= b }
func le(a, b float64) bool { return !math.IsNaN(a) && !math.IsNaN(b) && a <= b }
