package scanner

import (
	"time"

	"regime-trader/internal/regime"
)

// Candidate is one symbol that passed the regime filter, with its ranking score.
type Candidate struct {
	Symbol    string        `json:"symbol"`
	Regime    regime.Regime `json:"regime"`
	Score     float64       `json:"score"`
	Close     float64       `json:"close"`
	ScannedAt time.Time     `json:"scanned_at"`
}

// ScanResult is the output of one universe scan.
type ScanResult struct {
	ScanID     string              `json:"scan_id"`
	At         time.Time           `json:"at"`
	Target     regime.Regime       `json:"target_regime"`
	Regimes    map[string]regime.Regime `json:"regimes"`
	Candidates []Candidate         `json:"candidates"`
	Excluded   []string            `json:"excluded,omitempty"`
}

// RankMethod selects how filtered candidates are scored.
type RankMethod string

const (
	RankTradedValue RankMethod = "traded_value"
	RankMomentum    RankMethod = "momentum"
)
