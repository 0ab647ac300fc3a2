package scanner

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
	"regime-trader/internal/metrics"
	"regime-trader/internal/regime"
)

// Config controls universe scanning and candidate ranking.
type Config struct {
	Enabled       bool          `json:"enabled"`
	ScanInterval  time.Duration `json:"scan_interval"`
	TargetRegime  regime.Regime `json:"target_regime"`
	RankMethod    RankMethod    `json:"rank_method"`
	TopN          int           `json:"top_n"`
	// Traded-value window length is IntervalHours * ValueWindowMultiplier bars.
	IntervalHours         int `json:"interval_hours"`
	ValueWindowMultiplier int `json:"value_window_multiplier"`
	MomentumLookback      int `json:"momentum_lookback"`
	Workers               int `json:"workers"`
}

// Scanner classifies the regime of every symbol in a universe at a point in
// time, filters to a target regime, and ranks the survivors.
type Scanner struct {
	indicatorEngine *indicators.Engine
	classifier      *regime.Classifier
	recorder        *metrics.Recorder
	config          Config
	logger          zerolog.Logger
}

// NewScanner creates a scanner. The metrics recorder may be nil.
func NewScanner(
	ie *indicators.Engine,
	classifier *regime.Classifier,
	recorder *metrics.Recorder,
	config Config,
	logger zerolog.Logger,
) *Scanner {
	return &Scanner{
		indicatorEngine: ie,
		classifier:      classifier,
		recorder:        recorder,
		config:          config,
		logger:          logger.With().Str("component", "scanner").Logger(),
	}
}

// ScanAt classifies the universe at the given time, keeps symbols in the
// target regime, and ranks them. Symbols with no bar at or before the scan
// time, or with too little history for the ranking window, are excluded.
func (sc *Scanner) ScanAt(
	universe map[string]*market.Series,
	at time.Time,
	paramMaps []map[string]any,
) ScanResult {
	started := time.Now()
	result := ScanResult{
		ScanID:  uuid.NewString(),
		At:      at,
		Target:  sc.config.TargetRegime,
		Regimes: make(map[string]regime.Regime, len(universe)),
	}

	symbols := make([]string, 0, len(universe))
	for symbol := range universe {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		s := universe[symbol]
		if s == nil || s.Len() == 0 {
			result.Excluded = append(result.Excluded, symbol)
			continue
		}
		prepared := sc.indicatorEngine.Apply(s, paramMaps)
		idx := prepared.IndexAt(at)
		if idx < 0 {
			result.Excluded = append(result.Excluded, symbol)
			sc.logger.Debug().Str("symbol", symbol).Time("at", at).Msg("no bar at scan time")
			continue
		}

		labels := sc.classifier.Classify(prepared)
		label := labels[idx]
		result.Regimes[symbol] = label
		if sc.recorder != nil {
			sc.recorder.RecordRegime(symbol, regimeValue(label))
			sc.recorder.RecordLastPrice(symbol, prepared.Bars[idx].Close)
		}

		if label != sc.config.TargetRegime {
			continue
		}

		score, ok := sc.score(prepared, idx)
		if !ok {
			result.Excluded = append(result.Excluded, symbol)
			continue
		}
		result.Candidates = append(result.Candidates, Candidate{
			Symbol:    symbol,
			Regime:    label,
			Score:     score,
			Close:     prepared.Bars[idx].Close,
			ScannedAt: at,
		})
	}

	// Stable sort keeps alphabetical order for equal scores.
	sort.SliceStable(result.Candidates, func(i, j int) bool {
		return result.Candidates[i].Score > result.Candidates[j].Score
	})
	if sc.config.TopN > 0 && len(result.Candidates) > sc.config.TopN {
		result.Candidates = result.Candidates[:sc.config.TopN]
	}

	if sc.recorder != nil {
		sc.recorder.RecordScan("ok")
		sc.recorder.RecordScanDuration("scan", time.Since(started).Seconds())
	}
	sc.logger.Info().
		Time("at", at).
		Int("universe", len(universe)).
		Int("candidates", len(result.Candidates)).
		Int("excluded", len(result.Excluded)).
		Msg("scan complete")
	return result
}

// score computes the ranking score for a symbol at bar idx. Returns false
// when the series is too short for the configured window.
func (sc *Scanner) score(s *market.Series, idx int) (float64, bool) {
	switch sc.config.RankMethod {
	case RankMomentum:
		return momentum(s, idx, sc.config.MomentumLookback)
	default:
		window := sc.config.IntervalHours * sc.config.ValueWindowMultiplier
		return avgTradedValue(s, idx, window)
	}
}

// avgTradedValue is the mean of close*volume over the window ending at idx.
func avgTradedValue(s *market.Series, idx, window int) (float64, bool) {
	if window <= 0 || idx+1 < window {
		return 0, false
	}
	sum := 0.0
	for i := idx - window + 1; i <= idx; i++ {
		bar := s.Bars[i]
		v := bar.Close * bar.Volume
		if math.IsNaN(v) {
			return 0, false
		}
		sum += v
	}
	return sum / float64(window), true
}

// momentum is the fractional price change over the lookback ending at idx.
func momentum(s *market.Series, idx, lookback int) (float64, bool) {
	if lookback <= 0 || idx < lookback {
		return 0, false
	}
	base := s.Bars[idx-lookback].Close
	if base <= 0 {
		return 0, false
	}
	return s.Bars[idx].Close/base - 1, true
}

func regimeValue(r regime.Regime) float64 {
	switch r {
	case regime.Bull:
		return 1
	case regime.Bear:
		return -1
	default:
		return 0
	}
}
