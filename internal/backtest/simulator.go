// Package backtest contains the portfolio simulator and the experiment
// runner that drives it across parameter grids and tickers.
package backtest

import (
	"math"

	"github.com/rs/zerolog"

	"regime-trader/internal/indicators"
	"regime-trader/internal/market"
	"regime-trader/internal/portfolio"
	"regime-trader/internal/regime"
)

// RiskParams configures position sizing, commission, and the multi-tier exit
// rules. A zero value disables the corresponding exit tier.
type RiskParams struct {
	StopLossPercent       float64 `json:"stop_loss_percent"`
	StopLossATRMultiplier float64 `json:"stop_loss_atr_multiplier"`
	TrailingStopPercent   float64 `json:"trailing_stop_percent"`
	PartialProfitTarget   float64 `json:"partial_profit_target"`
	PartialProfitRatio    float64 `json:"partial_profit_ratio"`
	MinOrderValue         float64 `json:"min_order_value"`
	CommissionRate        float64 `json:"commission_rate"`
	PositionSizing        float64 `json:"position_sizing"`
}

// sizing returns the fraction of available cash invested on a buy.
// All-in is the reference behavior.
func (rp RiskParams) sizing() float64 {
	if rp.PositionSizing <= 0 || rp.PositionSizing > 1 {
		return 1.0
	}
	return rp.PositionSizing
}

// Simulator is the single-asset backtesting state machine. It consumes a
// signal column aligned with a price series and produces a trade log plus a
// bar-by-bar equity curve. The bar loop is inherently sequential: each
// transition depends only on the previous simulator state and the current
// bar.
type Simulator struct {
	risk         RiskParams
	targetRegime regime.Regime
	logger       zerolog.Logger
}

// NewSimulator creates a simulator. When targetRegime is non-empty, buy
// signals on bars outside that regime are suppressed; sell signals are never
// suppressed so open positions always stay closeable.
func NewSimulator(risk RiskParams, targetRegime regime.Regime, logger zerolog.Logger) *Simulator {
	return &Simulator{
		risk:         risk,
		targetRegime: targetRegime,
		logger:       logger.With().Str("component", "simulator").Logger(),
	}
}

// Run simulates the full series. signals must align 1:1 with s.Bars;
// regimes may be nil when no regime filter is in effect.
func (sim *Simulator) Run(
	s *market.Series,
	signals []int,
	regimes []regime.Regime,
	initialCapital float64,
) ([]portfolio.TradeLogEntry, []portfolio.Snapshot) {
	cash := initialCapital
	var pos *portfolio.Position

	tradeLog := make([]portfolio.TradeLogEntry, 0)
	history := make([]portfolio.Snapshot, 0, s.Len())
	lastValue := initialCapital

	for i := range s.Bars {
		bar := s.Bars[i]

		// A bar without a usable close contributes no trade action; the
		// snapshot carries the prior value forward.
		if bar.Close <= 0 || math.IsNaN(bar.Close) {
			history = append(history, portfolio.Snapshot{Timestamp: bar.Timestamp, Value: lastValue})
			continue
		}

		if pos.Open() {
			cash = sim.stepLong(s, signals, i, cash, pos, &tradeLog)
			if !pos.Open() {
				pos = nil
			}
		} else if sim.buyAllowed(signals, regimes, i) {
			invest := cash * sim.risk.sizing()
			units := invest * (1 - sim.risk.CommissionRate) / bar.Close
			cash -= invest
			pos = &portfolio.Position{
				EntryPrice:        bar.Close,
				Size:              units,
				HighestSinceEntry: bar.Close,
				EntryATR:          s.Value(indicators.ColATR, i),
				EnteredAt:         bar.Timestamp,
			}
			tradeLog = append(tradeLog, portfolio.TradeLogEntry{
				Timestamp: bar.Timestamp,
				Type:      portfolio.TradeBuy,
				Price:     bar.Close,
				Amount:    units,
				Balance:   cash,
			})
		}

		size := 0.0
		if pos.Open() {
			size = pos.Size
		}
		lastValue = cash + size*bar.Close
		history = append(history, portfolio.Snapshot{Timestamp: bar.Timestamp, Value: lastValue})
	}

	return tradeLog, history
}

// buyAllowed applies the per-bar regime predicate inline, in the same pass
// as the rest of the simulation.
func (sim *Simulator) buyAllowed(signals []int, regimes []regime.Regime, i int) bool {
	if signals[i] != 1 {
		return false
	}
	if sim.targetRegime == "" {
		return true
	}
	return i < len(regimes) && regimes[i] == sim.targetRegime
}

// stepLong evaluates the exit tiers in priority order: fixed stop, ATR stop,
// trailing stop, partial profit-take, then strategy sell. Only the first
// matching tier fires on any bar. Returns the updated cash balance.
func (sim *Simulator) stepLong(
	s *market.Series,
	signals []int,
	i int,
	cash float64,
	pos *portfolio.Position,
	tradeLog *[]portfolio.TradeLogEntry,
) float64 {
	bar := s.Bars[i]

	// The trailing anchor ratchets on every bar the position is open,
	// regardless of which exit (if any) fires.
	pos.RaiseAnchor(bar.High)

	sellPrice := 0.0
	sellType := ""

	if sim.risk.StopLossPercent > 0 {
		stop := pos.EntryPrice * (1 - sim.risk.StopLossPercent)
		if bar.Low <= stop {
			sellPrice, sellType = stop, portfolio.TradeFixedStop
		}
	}

	if sellType == "" && sim.risk.StopLossATRMultiplier > 0 && !math.IsNaN(pos.EntryATR) {
		stop := pos.EntryPrice - pos.EntryATR*sim.risk.StopLossATRMultiplier
		if bar.Low <= stop {
			sellPrice, sellType = stop, portfolio.TradeATRStop
		}
	}

	if sellType == "" && sim.risk.TrailingStopPercent > 0 {
		stop := pos.HighestSinceEntry * (1 - sim.risk.TrailingStopPercent)
		if bar.Low <= stop {
			sellPrice, sellType = stop, portfolio.TradeTrailingStop
		}
	}

	if sellType == "" && sim.partialReady(pos, bar.Close) {
		sellUnits := pos.Size * sim.risk.PartialProfitRatio
		proceeds := sellUnits * bar.Close * (1 - sim.risk.CommissionRate)
		cash += proceeds
		pos.Size -= sellUnits
		pos.PartialTaken = true
		*tradeLog = append(*tradeLog, portfolio.TradeLogEntry{
			Timestamp: bar.Timestamp,
			Type:      portfolio.TradePartialSell,
			Price:     bar.Close,
			Amount:    sellUnits,
			Balance:   cash,
		})
		// The partial take is this bar's one exit action; the signal-sell
		// tier is not also processed.
		return cash
	}

	if sellType == "" && signals[i] == -1 {
		sellPrice, sellType = bar.Close, portfolio.TradeSignalSell
	}

	if sellType != "" {
		proceeds := pos.Size * sellPrice * (1 - sim.risk.CommissionRate)
		cash += proceeds
		*tradeLog = append(*tradeLog, portfolio.TradeLogEntry{
			Timestamp: bar.Timestamp,
			Type:      sellType,
			Price:     sellPrice,
			Amount:    pos.Size,
			Balance:   cash,
		})
		pos.Size = 0
	}

	return cash
}

// partialReady checks the partial profit-take tier: configured, not yet
// taken for this position, profit target reached, and the resulting notional
// clears the minimum order size.
func (sim *Simulator) partialReady(pos *portfolio.Position, close float64) bool {
	if sim.risk.PartialProfitTarget <= 0 || sim.risk.PartialProfitRatio <= 0 || pos.PartialTaken {
		return false
	}
	if close/pos.EntryPrice-1 < sim.risk.PartialProfitTarget {
		return false
	}
	notional := pos.Size * sim.risk.PartialProfitRatio * close
	return notional >= sim.risk.MinOrderValue
}
