// Package strategy contains the signal-generating trading rules and the
// ensemble combiner. Every rule is a pure function from an
// indicator-augmented price series to a per-bar signal; the simulator and
// the live decision loop interpret the signals against position state.
package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
)

// Per-bar signal values. A signal is advisory, not an order.
const (
	SignalSell = -1
	SignalHold = 0
	SignalBuy  = 1
)

// Action is a thresholded trading decision.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Rule names accepted by the registry.
const (
	NameTrendFollowing     = "trend_following"
	NameVolatilityBreakout = "volatility_breakout"
	NameTurtle             = "turtle"
	NameMeanReversion      = "mean_reversion"
	NameHybridTrend        = "hybrid_trend"
)

// Rule maps an indicator-augmented series to a per-bar signal column.
type Rule interface {
	Name() string
	Signals(s *market.Series) []int
}

// Resolve looks up a rule by name and decodes its raw parameter map into the
// rule's typed parameter struct. Unknown names are configuration errors and
// fail fast, before any simulation work begins.
func Resolve(name string, params map[string]any, logger zerolog.Logger) (Rule, error) {
	logger = logger.With().Str("component", "strategy").Str("rule", name).Logger()

	switch name {
	case NameTrendFollowing:
		var p TrendFollowingParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return &TrendFollowingRule{Params: p, logger: logger}, nil
	case NameVolatilityBreakout:
		var p VolatilityBreakoutParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.K == 0 {
			p.K = 0.5
		}
		return &VolatilityBreakoutRule{Params: p, logger: logger}, nil
	case NameTurtle:
		var p TurtleParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.EntryPeriod == 0 {
			p.EntryPeriod = 20
		}
		if p.ExitPeriod == 0 {
			p.ExitPeriod = 10
		}
		return &TurtleRule{Params: p, logger: logger}, nil
	case NameMeanReversion:
		var p MeanReversionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.BBPeriod == 0 {
			p.BBPeriod = 20
		}
		if p.BBStdDev == 0 {
			p.BBStdDev = 2.0
		}
		if p.ExitBand == "" {
			p.ExitBand = ExitBandUpper
		}
		if p.ExitBand != ExitBandUpper && p.ExitBand != ExitBandMid {
			return nil, fmt.Errorf("mean_reversion: unknown exit_band %q", p.ExitBand)
		}
		if p.RSIPeriod > 0 && p.OversoldLevel == 0 {
			p.OversoldLevel = 30
		}
		return &MeanReversionRule{Params: p, logger: logger}, nil
	case NameHybridTrend:
		var p HybridTrendParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.MATrend.ShortMA == 0 || p.MATrend.LongMA == 0 {
			return nil, fmt.Errorf("hybrid_trend: short_ma and long_ma are required")
		}
		return &HybridTrendRule{Params: p, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// decodeParams converts a raw config parameter map into a typed struct via a
// JSON round-trip, so config files and typed rules stay in sync.
func decodeParams(params map[string]any, target any) error {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
