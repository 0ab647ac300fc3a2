// Package portfolio holds the position and trade-log domain types shared by
// the backtest simulator, the performance analyzer, and the live portfolio
// state manager.
package portfolio

import "time"

// Trade types. A buy opens or re-opens a position; every exit records which
// rule fired so round-trip reconstruction and reporting can attribute it.
const (
	TradeBuy          = "buy"
	TradeSell         = "sell"
	TradePartialSell  = "partial_sell"
	TradeSignalSell   = "signal_sell"
	TradeFixedStop    = "fixed_stop"
	TradeATRStop      = "atr_stop"
	TradeTrailingStop = "trailing_stop"
)

// IsExit reports whether a trade type consumes position size.
func IsExit(tradeType string) bool {
	switch tradeType {
	case TradeSell, TradePartialSell, TradeSignalSell,
		TradeFixedStop, TradeATRStop, TradeTrailingStop:
		return true
	}
	return false
}

// TradeLogEntry is an immutable record of one fill. The append-only sequence
// of entries is the ground truth for round-trip P&L reconstruction; appends
// are total-ordered by timestamp.
type TradeLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Balance   float64   `json:"balance"`
}

// Snapshot is the per-bar total portfolio value (cash + size x close),
// forming the equity curve used for drawdown and risk-adjusted metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SizeEpsilon is the threshold below which a position counts as flat.
const SizeEpsilon = 1e-9

// Position is the simulator's mutable state while long. EntryATR is frozen
// at entry time and never recomputed; EntryPrice is unchanged by partial
// sells and only set on a fresh buy into a flat position.
type Position struct {
	EntryPrice        float64   `json:"entry_price"`
	Size              float64   `json:"size"`
	HighestSinceEntry float64   `json:"highest_since_entry"`
	EntryATR          float64   `json:"entry_atr"`
	PartialTaken      bool      `json:"partial_taken"`
	Strategy          string    `json:"strategy,omitempty"`
	EnteredAt         time.Time `json:"entered_at"`
}

// Open reports whether the position holds meaningful size.
func (p *Position) Open() bool {
	return p != nil && p.Size > SizeEpsilon
}

// RaiseAnchor ratchets the trailing-stop anchor up to price. The anchor
// never decreases while the position is open.
func (p *Position) RaiseAnchor(price float64) {
	if price > p.HighestSinceEntry {
		p.HighestSinceEntry = price
	}
}
