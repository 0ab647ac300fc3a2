package market

import (
	"math"
	"sort"
	"time"
)

// Bar is one OHLCV observation. Bars are immutable once ingested.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is the ordered bar sequence for one asset plus any derived
// indicator columns, aligned 1:1 with the bars.
type Series struct {
	Symbol   string
	Interval string

	Bars    []Bar
	columns map[string][]float64
}

// NewSeries builds a Series from raw bars: sorts by timestamp, collapses
// duplicate timestamps keeping the last value, and drops bars without a
// usable close.
func NewSeries(symbol, interval string, bars []Bar) *Series {
	cleaned := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 || math.IsNaN(b.Close) {
			continue
		}
		cleaned = append(cleaned, b)
	}

	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Timestamp.Before(cleaned[j].Timestamp)
	})

	// Duplicate timestamps collapse to the last observed value.
	deduped := cleaned[:0]
	for _, b := range cleaned {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(b.Timestamp) {
			deduped[n-1] = b
			continue
		}
		deduped = append(deduped, b)
	}

	return &Series{
		Symbol:   symbol,
		Interval: interval,
		Bars:     deduped,
		columns:  make(map[string][]float64),
	}
}

// Len returns the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Column returns the named indicator column, if present.
func (s *Series) Column(name string) ([]float64, bool) {
	if s == nil || s.columns == nil {
		return nil, false
	}
	col, ok := s.columns[name]
	return col, ok
}

// HasColumn reports whether the named column exists.
func (s *Series) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// SetColumn attaches a column aligned with the bars. An existing column is
// never overwritten, so re-running an indicator pass is idempotent.
func (s *Series) SetColumn(name string, values []float64) {
	if s == nil || len(values) != len(s.Bars) {
		return
	}
	if s.columns == nil {
		s.columns = make(map[string][]float64)
	}
	if _, exists := s.columns[name]; exists {
		return
	}
	s.columns[name] = values
}

// ColumnNames returns all attached column names in sorted order.
func (s *Series) ColumnNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.columns))
	for name := range s.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns column value at index i, or NaN if the column is missing.
func (s *Series) Value(name string, i int) float64 {
	col, ok := s.Column(name)
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Clone returns a deep copy. Parallel backtest workers each get a private
// copy so no mutable state is shared.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	clone := &Series{
		Symbol:   s.Symbol,
		Interval: s.Interval,
		Bars:     make([]Bar, len(s.Bars)),
		columns:  make(map[string][]float64, len(s.columns)),
	}
	copy(clone.Bars, s.Bars)
	for name, col := range s.columns {
		cc := make([]float64, len(col))
		copy(cc, col)
		clone.columns[name] = cc
	}
	return clone
}

// IndexAt returns the index of the last bar at or before ts, or -1 when no
// such bar exists.
func (s *Series) IndexAt(ts time.Time) int {
	if s == nil {
		return -1
	}
	idx := sort.Search(len(s.Bars), func(i int) bool {
		return s.Bars[i].Timestamp.After(ts)
	})
	return idx - 1
}

// PeriodsPerYear maps a bar interval to the annualization factor used by
// risk-adjusted return metrics.
func PeriodsPerYear(interval string) float64 {
	switch interval {
	case "minute60", "1h":
		return 365 * 24
	default:
		return 365
	}
}
