// Package bot runs the live paper-trading loop: it consumes scan results,
// asks the advisor for a decision per candidate, and applies the decision to
// the portfolio state.
package bot

import (
	"context"

	"github.com/rs/zerolog"

	"regime-trader/internal/advisor"
	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
	"regime-trader/internal/metrics"
	"regime-trader/internal/portfolio"
	"regime-trader/internal/regime"
	"regime-trader/internal/scanner"
)

// Trader applies advisor decisions to per-asset portfolio state. It is a
// paper trader: decisions move simulated cash, no orders are placed.
type Trader struct {
	provider        scanner.DataProvider
	indicatorEngine *indicators.Engine
	classifier      *regime.Classifier
	resolvers       map[regime.Regime]*advisor.Resolver
	risk            advisor.RiskChecks
	manager         *portfolio.Manager
	recorder        *metrics.Recorder
	paramMaps       []map[string]any
	interval        string
	history         int
	capitalPerAsset float64
	commissionRate  float64
	logger          zerolog.Logger
}

// NewTrader creates the live loop consumer. resolvers maps each regime label
// to the advisor used while that regime holds; a missing label means hold.
func NewTrader(
	provider scanner.DataProvider,
	ie *indicators.Engine,
	classifier *regime.Classifier,
	resolvers map[regime.Regime]*advisor.Resolver,
	risk advisor.RiskChecks,
	manager *portfolio.Manager,
	recorder *metrics.Recorder,
	paramMaps []map[string]any,
	interval string,
	history int,
	capitalPerAsset float64,
	commissionRate float64,
	logger zerolog.Logger,
) *Trader {
	return &Trader{
		provider:        provider,
		indicatorEngine: ie,
		classifier:      classifier,
		resolvers:       resolvers,
		risk:            risk,
		manager:         manager,
		recorder:        recorder,
		paramMaps:       paramMaps,
		interval:        interval,
		history:         history,
		capitalPerAsset: capitalPerAsset,
		commissionRate:  commissionRate,
		logger:          logger.With().Str("component", "trader").Logger(),
	}
}

// Publish receives a completed scan and processes every candidate. Open
// positions in symbols that dropped out of the candidate list are still
// checked so their exits fire.
func (t *Trader) Publish(ctx context.Context, result scanner.ScanResult) {
	seen := make(map[string]bool, len(result.Candidates))
	for _, candidate := range result.Candidates {
		seen[candidate.Symbol] = true
		t.processSymbol(ctx, candidate.Symbol, true)
	}
	for symbol, state := range t.manager.All() {
		if seen[symbol] || !state.Position.Open() {
			continue
		}
		t.processSymbol(ctx, symbol, false)
	}
}

// processSymbol fetches fresh bars for one symbol, decides, and applies.
// entryAllowed is false for symbols no longer in the candidate set.
func (t *Trader) processSymbol(ctx context.Context, symbol string, entryAllowed bool) {
	bars, err := t.provider.Klines(ctx, symbol, t.interval, t.history)
	if err != nil {
		t.logger.Error().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
		if t.recorder != nil {
			t.recorder.RecordError("kline_fetch")
		}
		return
	}

	s := market.NewSeries(symbol, t.interval, bars)
	if s.Len() == 0 {
		return
	}
	prepared := t.indicatorEngine.Apply(s, t.paramMaps)
	labels := t.classifier.Classify(prepared)
	current := labels[len(labels)-1]

	t.manager.Init(symbol, t.capitalPerAsset)
	state, _ := t.manager.Get(symbol)

	var decision advisor.Decision
	resolver, ok := t.resolvers[current]
	switch {
	case ok:
		decision = resolver.Decide(prepared, labels, state.Position)
	case state.Position.Open():
		// No strategy for this regime, but risk exits still apply.
		bar := prepared.Bars[prepared.Len()-1]
		if d, hit := advisor.CheckRiskExit(t.risk, bar, state.Position); hit {
			decision = d
		} else {
			decision = advisor.Hold("no strategy for regime")
		}
	default:
		t.logger.Debug().Str("symbol", symbol).Str("regime", string(current)).Msg("no strategy for regime")
		return
	}

	if decision.Decision == advisor.ActionBuy && !entryAllowed {
		decision = advisor.Hold("symbol not in candidate set")
	}
	t.apply(ctx, symbol, prepared, decision)
}

func (t *Trader) apply(ctx context.Context, symbol string, s *market.Series, decision advisor.Decision) {
	bar := s.Bars[s.Len()-1]
	price := bar.Close
	if price <= 0 {
		return
	}

	switch decision.Decision {
	case advisor.ActionBuy:
		t.manager.Update(ctx, symbol, func(state *portfolio.State) {
			spend := state.Cash * decision.Percentage
			if spend <= 0 {
				return
			}
			units := spend / price
			units -= units * t.commissionRate
			state.Cash -= spend
			state.Position = portfolio.Position{
				EntryPrice:        price,
				Size:              units,
				HighestSinceEntry: price,
				EntryATR:          s.Value(indicators.ColATR, s.Len()-1),
				EnteredAt:         bar.Timestamp,
			}
		})
		t.logSignal(symbol, decision, price)

	case advisor.ActionSell:
		t.manager.Update(ctx, symbol, func(state *portfolio.State) {
			if !state.Position.Open() {
				return
			}
			sellUnits := state.Position.Size * decision.Percentage
			proceeds := sellUnits * price
			state.Cash += proceeds - proceeds*t.commissionRate
			state.Position.Size -= sellUnits
			if state.Position.Size < portfolio.SizeEpsilon {
				state.Position = portfolio.Position{}
			} else {
				state.Position.PartialTaken = true
			}
		})
		t.logSignal(symbol, decision, price)

	default:
		// Trailing anchor still ratchets on hold bars.
		t.manager.Update(ctx, symbol, func(state *portfolio.State) {
			if state.Position.Open() {
				state.Position.RaiseAnchor(bar.High)
			}
		})
	}
}

func (t *Trader) logSignal(symbol string, decision advisor.Decision, price float64) {
	t.logger.Info().
		Str("symbol", symbol).
		Str("decision", decision.Decision).
		Float64("percentage", decision.Percentage).
		Float64("price", price).
		Str("reason", decision.Reason).
		Msg("decision applied")
	if t.recorder != nil {
		t.recorder.RecordSignal(symbol, decision.Decision)
	}
}
