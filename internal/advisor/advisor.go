// Package advisor turns strategy signals and risk checks into a single
// per-bar trading decision for the live loop. Risk exits always win over
// advisory strategy output.
package advisor

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
	"regime-trader/internal/portfolio"
	"regime-trader/internal/regime"
	"regime-trader/internal/strategy"
)

// Decision actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Decision is the advisor's output for one asset at one bar.
// Percentage is the fraction of the position (sell) or available cash (buy)
// to commit, in [0, 1].
type Decision struct {
	Decision   string  `json:"decision"`
	Percentage float64 `json:"percentage"`
	Reason     string  `json:"reason"`
}

// Hold is the neutral decision.
func Hold(reason string) Decision {
	return Decision{Decision: ActionHold, Percentage: 0, Reason: reason}
}

// Resolver produces decisions for one asset from its ensemble, regime
// labels, and risk settings.
type Resolver struct {
	ensemble     *strategy.Ensemble
	risk         RiskChecks
	targetRegime regime.Regime
	logger       zerolog.Logger
}

// RiskChecks holds the exit thresholds applied before any strategy signal.
type RiskChecks struct {
	StopLossPercent       float64
	StopLossATRMultiplier float64
	TrailingStopPercent   float64
	PartialProfitTarget   float64
	PartialProfitRatio    float64
}

// NewResolver creates a decision resolver.
func NewResolver(ens *strategy.Ensemble, risk RiskChecks, targetRegime regime.Regime, logger zerolog.Logger) *Resolver {
	return &Resolver{
		ensemble:     ens,
		risk:         risk,
		targetRegime: targetRegime,
		logger:       logger.With().Str("component", "advisor").Logger(),
	}
}

// Decide returns the decision for the latest bar of s. The position is the
// caller's current state for the symbol; labels must align with s.Bars.
func (r *Resolver) Decide(s *market.Series, labels []regime.Regime, pos portfolio.Position) Decision {
	if s == nil || s.Len() == 0 {
		return Hold("no data")
	}
	idx := s.Len() - 1
	bar := s.Bars[idx]

	if pos.Open() {
		if d, ok := CheckRiskExit(r.risk, bar, pos); ok {
			return d
		}
	}

	action, score := r.ensemble.Evaluate(s, idx)
	switch action {
	case strategy.ActionBuy:
		if pos.Open() {
			return Hold("already long")
		}
		if r.targetRegime != "" && idx < len(labels) && labels[idx] != r.targetRegime {
			return Hold(fmt.Sprintf("regime %s blocks entry", labels[idx]))
		}
		return Decision{
			Decision:   ActionBuy,
			Percentage: 1.0,
			Reason:     fmt.Sprintf("ensemble buy score %.2f", score),
		}
	case strategy.ActionSell:
		if !pos.Open() {
			return Hold("no position")
		}
		return Decision{
			Decision:   ActionSell,
			Percentage: 1.0,
			Reason:     fmt.Sprintf("ensemble sell score %.2f", score),
		}
	default:
		return Hold("no signal")
	}
}

// CheckRiskExit applies the stop checks in priority order. A triggered stop
// is a full-size sell; the partial profit target sells its ratio once.
func CheckRiskExit(risk RiskChecks, bar market.Bar, pos portfolio.Position) (Decision, bool) {
	if risk.StopLossPercent > 0 {
		stop := pos.EntryPrice * (1 - risk.StopLossPercent)
		if bar.Low <= stop {
			return Decision{ActionSell, 1.0, fmt.Sprintf("fixed stop at %.4f", stop)}, true
		}
	}
	if risk.StopLossATRMultiplier > 0 && !math.IsNaN(pos.EntryATR) {
		stop := pos.EntryPrice - pos.EntryATR*risk.StopLossATRMultiplier
		if bar.Low <= stop {
			return Decision{ActionSell, 1.0, fmt.Sprintf("atr stop at %.4f", stop)}, true
		}
	}
	if risk.TrailingStopPercent > 0 {
		stop := pos.HighestSinceEntry * (1 - risk.TrailingStopPercent)
		if bar.Low <= stop {
			return Decision{ActionSell, 1.0, fmt.Sprintf("trailing stop at %.4f", stop)}, true
		}
	}
	if risk.PartialProfitTarget > 0 && !pos.PartialTaken {
		target := pos.EntryPrice * (1 + risk.PartialProfitTarget)
		if bar.Close >= target {
			ratio := risk.PartialProfitRatio
			if ratio <= 0 || ratio > 1 {
				ratio = 0.5
			}
			return Decision{ActionSell, ratio, fmt.Sprintf("partial profit at %.4f", target)}, true
		}
	}
	return Decision{}, false
}
