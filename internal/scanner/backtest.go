package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"regime-trader/internal/market"
	"regime-trader/internal/portfolio"
)

// BacktestConfig controls the date-stepped scanner portfolio simulation.
type BacktestConfig struct {
	InitialCapital float64       `json:"initial_capital"`
	MaxPositions   int           `json:"max_positions"`
	Commission     float64       `json:"commission"`
	Step           time.Duration `json:"step"`
}

// BacktestReport is the output of one scanner portfolio simulation.
type BacktestReport struct {
	History    []portfolio.Snapshot      `json:"history"`
	TradeLog   []portfolio.TradeLogEntry `json:"trade_log,omitempty"`
	FinalValue float64                   `json:"final_value"`
	Steps      int                       `json:"steps"`
}

// RunPortfolioBacktest replays the scan-and-rotate policy over history: at
// each step it rescans the universe, sells holdings that dropped off the
// candidate list at that step's close, and splits free cash equally across
// new candidates up to the position cap. Holdings with no bar at a step are
// kept and marked at their last seen close.
func (sc *Scanner) RunPortfolioBacktest(
	ctx context.Context,
	universe map[string]*market.Series,
	start, end time.Time,
	paramMaps []map[string]any,
	cfg BacktestConfig,
) (*BacktestReport, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", cfg.InitialCapital)
	}
	if cfg.Commission < 0 || cfg.Commission >= 1 {
		return nil, fmt.Errorf("commission must be in [0, 1), got %v", cfg.Commission)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("backtest end %s precedes start %s", end, start)
	}
	step := cfg.Step
	if step <= 0 {
		step = 24 * time.Hour
	}
	maxPositions := cfg.MaxPositions
	if maxPositions <= 0 {
		maxPositions = 4
	}

	cash := cfg.InitialCapital
	holdings := make(map[string]float64)
	lastPrice := make(map[string]float64)
	report := &BacktestReport{}

	for t := start; !t.After(end); t = t.Add(step) {
		if ctx.Err() != nil {
			sc.logger.Warn().Time("at", t).Msg("portfolio backtest cancelled")
			break
		}
		report.Steps++

		result := sc.ScanAt(universe, t, paramMaps)
		wanted := make(map[string]bool, len(result.Candidates))
		for _, cand := range result.Candidates {
			wanted[cand.Symbol] = true
		}

		// Rotate out holdings that left the candidate list. Sorted order
		// keeps the trade log deterministic.
		held := make([]string, 0, len(holdings))
		for symbol := range holdings {
			held = append(held, symbol)
		}
		sort.Strings(held)
		for _, symbol := range held {
			if wanted[symbol] {
				continue
			}
			price, ok := closeAt(universe[symbol], t)
			if !ok {
				continue
			}
			units := holdings[symbol]
			cash += units * price * (1 - cfg.Commission)
			delete(holdings, symbol)
			lastPrice[symbol] = price
			report.TradeLog = append(report.TradeLog, portfolio.TradeLogEntry{
				Timestamp: t,
				Type:      portfolio.TradeSell,
				Price:     price,
				Amount:    units,
				Balance:   cash,
			})
		}

		// Enter new candidates in rank order while slots remain, splitting
		// the free cash equally across this step's buys.
		var entries []Candidate
		for _, cand := range result.Candidates {
			if len(holdings)+len(entries) >= maxPositions {
				break
			}
			if _, ok := holdings[cand.Symbol]; ok {
				continue
			}
			if cand.Close <= 0 {
				continue
			}
			entries = append(entries, cand)
		}
		if len(entries) > 0 && cash > 0 {
			spend := cash / float64(len(entries))
			for _, cand := range entries {
				units := spend / cand.Close * (1 - cfg.Commission)
				holdings[cand.Symbol] = units
				lastPrice[cand.Symbol] = cand.Close
				cash -= spend
				report.TradeLog = append(report.TradeLog, portfolio.TradeLogEntry{
					Timestamp: t,
					Type:      portfolio.TradeBuy,
					Price:     cand.Close,
					Amount:    units,
					Balance:   cash,
				})
			}
		}

		total := cash
		for symbol, units := range holdings {
			if price, ok := closeAt(universe[symbol], t); ok {
				lastPrice[symbol] = price
			}
			total += units * lastPrice[symbol]
		}
		report.History = append(report.History, portfolio.Snapshot{Timestamp: t, Value: total})
	}

	if len(report.History) > 0 {
		report.FinalValue = report.History[len(report.History)-1].Value
	} else {
		report.FinalValue = cash
	}
	sc.logger.Info().
		Int("steps", report.Steps).
		Int("trades", len(report.TradeLog)).
		Float64("final_value", report.FinalValue).
		Msg("portfolio backtest complete")
	return report, nil
}

// closeAt returns the close of the last bar at or before t.
func closeAt(s *market.Series, at time.Time) (float64, bool) {
	if s == nil {
		return 0, false
	}
	idx := s.IndexAt(at)
	if idx < 0 {
		return 0, false
	}
	return s.Bars[idx].Close, true
}
