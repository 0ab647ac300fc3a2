// Package performance reconstructs round-trip trades from a flat trade log
// and computes aggregate risk/return statistics over an equity curve.
package performance

import (
	"math"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
	"regime-trader/internal/portfolio"
)

// RoundTrip pairs a portion of an entry fill with one exit fill.
type RoundTrip struct {
	PnL float64
}

// RoundTrips walks the trade log in order and reconstructs round-trip P&L.
// Each exit consumes up to the open lot's remaining amount; the lot closes
// when its remainder drops below epsilon or on a full sell. A buy while a
// lot is still open is a logical anomaly: it is logged and the old lot is
// replaced.
func RoundTrips(tradeLog []portfolio.TradeLogEntry, logger zerolog.Logger) []RoundTrip {
	var trips []RoundTrip

	type lot struct {
		entryPrice      float64
		amountRemaining float64
	}
	var active *lot

	for _, trade := range tradeLog {
		switch {
		case trade.Type == portfolio.TradeBuy:
			if active != nil {
				logger.Warn().
					Time("timestamp", trade.Timestamp).
					Float64("open_amount", active.amountRemaining).
					Msg("buy observed while a lot is already open, replacing lot")
			}
			active = &lot{entryPrice: trade.Price, amountRemaining: trade.Amount}

		case portfolio.IsExit(trade.Type) && active != nil:
			consumed := trade.Amount
			if consumed > active.amountRemaining {
				consumed = active.amountRemaining
			}
			trips = append(trips, RoundTrip{PnL: (trade.Price - active.entryPrice) * consumed})
			active.amountRemaining -= consumed

			if active.amountRemaining < portfolio.SizeEpsilon || trade.Type == portfolio.TradeSell {
				active = nil
			}
		}
	}
	return trips
}

// Summary holds the aggregate performance metrics of one backtest run.
// ProfitFactor is +Inf when there are no losing trades.
type Summary struct {
	ROIPct       float64 `json:"roi_pct"`
	MDDPct       float64 `json:"mdd_pct"`
	Sharpe       float64 `json:"sharpe"`
	Calmar       float64 `json:"calmar"`
	WinRatePct   float64 `json:"win_rate_pct"`
	ProfitFactor float64 `json:"profit_factor"`
	TotalTrades  int     `json:"total_trades"`
	FinalValue   float64 `json:"final_value"`
}

// Analyze computes the summary metrics for an equity curve and trade log.
// Every ratio guards its denominator: a degenerate run produces zeros, never
// NaN or a panic.
func Analyze(
	history []portfolio.Snapshot,
	tradeLog []portfolio.TradeLogEntry,
	initialCapital float64,
	interval string,
	logger zerolog.Logger,
) Summary {
	var summary Summary
	if len(history) == 0 {
		logger.Warn().Msg("empty portfolio history, skipping performance analysis")
		return summary
	}

	finalValue := history[len(history)-1].Value
	summary.FinalValue = finalValue
	if initialCapital > 0 {
		summary.ROIPct = (finalValue - initialCapital) / initialCapital * 100
	}

	// Max drawdown: worst decline from the running peak. The returns series
	// carries a leading zero so its length matches the equity curve.
	returns := make([]float64, 1, len(history))
	peak := history[0].Value
	minDrawdown := 0.0
	prev := history[0].Value
	for i, snap := range history {
		if snap.Value > peak {
			peak = snap.Value
		}
		if peak > 0 {
			if dd := snap.Value/peak - 1; dd < minDrawdown {
				minDrawdown = dd
			}
		}
		if i > 0 {
			r := 0.0
			if prev > 0 {
				r = snap.Value/prev - 1
			}
			returns = append(returns, r)
			prev = snap.Value
		}
	}
	summary.MDDPct = minDrawdown * 100

	periodsPerYear := market.PeriodsPerYear(interval)
	mean, std := meanStd(returns)
	if std > 0 {
		summary.Sharpe = mean / std * math.Sqrt(periodsPerYear)
	}

	annualReturnPct := mean * periodsPerYear * 100
	if summary.MDDPct != 0 {
		summary.Calmar = annualReturnPct / math.Abs(summary.MDDPct)
	}

	trips := RoundTrips(tradeLog, logger)
	summary.TotalTrades = len(trips)
	if len(trips) > 0 {
		wins := 0
		grossProfit, grossLoss := 0.0, 0.0
		for _, rt := range trips {
			if rt.PnL > 0 {
				wins++
				grossProfit += rt.PnL
			} else {
				grossLoss += -rt.PnL
			}
		}
		summary.WinRatePct = float64(wins) / float64(len(trips)) * 100
		if grossLoss > 0 {
			summary.ProfitFactor = grossProfit / grossLoss
		} else {
			summary.ProfitFactor = math.Inf(1)
		}
	}

	logger.Info().
		Float64("roi_pct", summary.ROIPct).
		Float64("mdd_pct", summary.MDDPct).
		Float64("sharpe", summary.Sharpe).
		Float64("calmar", summary.Calmar).
		Int("total_trades", summary.TotalTrades).
		Msg("performance analysis complete")
	return summary
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	std := math.Sqrt(variance / float64(len(values)))
	return mean, std
}
