package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
)

// MemberConfig declares one ensemble member: a registered rule, its raw
// parameter map, and its voting weight.
type MemberConfig struct {
	Name   string         `json:"name"`
	Weight float64        `json:"weight"`
	Params map[string]any `json:"params"`
}

// EnsembleConfig declares the member strategies and decision thresholds.
type EnsembleConfig struct {
	Strategies    []MemberConfig `json:"strategies"`
	BuyThreshold  float64        `json:"buy_threshold"`
	SellThreshold float64        `json:"sell_threshold"`
}

type member struct {
	rule   Rule
	weight float64
}

// Ensemble combines multiple strategies' signals into a single weighted
// score and thresholds it into an action. Summation makes the result
// independent of member order.
type Ensemble struct {
	cfg     EnsembleConfig
	members []member
	logger  zerolog.Logger
}

// NewEnsemble resolves every member rule up front; an unknown strategy name
// fails here, before any evaluation.
func NewEnsemble(cfg EnsembleConfig, logger zerolog.Logger) (*Ensemble, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("ensemble requires at least one strategy")
	}

	members := make([]member, 0, len(cfg.Strategies))
	for _, mc := range cfg.Strategies {
		rule, err := Resolve(mc.Name, mc.Params, logger)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %q: %w", mc.Name, err)
		}
		members = append(members, member{rule: rule, weight: mc.Weight})
	}
	return &Ensemble{
		cfg:     cfg,
		members: members,
		logger:  logger.With().Str("component", "ensemble").Logger(),
	}, nil
}

// Evaluate computes the weighted signal score at bar i and thresholds it.
func (e *Ensemble) Evaluate(s *market.Series, i int) (Action, float64) {
	if s == nil || i < 0 || i >= s.Len() {
		return ActionHold, 0
	}

	score := 0.0
	for _, m := range e.members {
		signals := m.rule.Signals(s)
		contribution := float64(signals[i]) * m.weight
		score += contribution
		e.logger.Debug().
			Str("rule", m.rule.Name()).
			Int("signal", signals[i]).
			Float64("weight", m.weight).
			Float64("score", contribution).
			Msg("ensemble member evaluated")
	}

	switch {
	case score >= e.cfg.BuyThreshold:
		return ActionBuy, score
	case score <= e.cfg.SellThreshold:
		return ActionSell, score
	default:
		return ActionHold, score
	}
}

// EvaluateLatest evaluates the most recent bar, the live loop's view.
func (e *Ensemble) EvaluateLatest(s *market.Series) (Action, float64) {
	return e.Evaluate(s, s.Len()-1)
}

// ParamMaps returns the raw parameter maps of all members, used for
// indicator period discovery.
func (e *Ensemble) ParamMaps() []map[string]any {
	maps := make([]map[string]any, 0, len(e.cfg.Strategies))
	for _, mc := range e.cfg.Strategies {
		maps = append(maps, mc.Params)
	}
	return maps
}
