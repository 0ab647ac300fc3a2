package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
	"regime-trader/internal/regime"
)

type stubProvider struct {
	mu    sync.Mutex
	bars  map[string][]market.Bar
	fails map[string]bool
	calls int
}

func (p *stubProvider) Klines(_ context.Context, symbol, _ string, _ int) ([]market.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fails[symbol] {
		return nil, errors.New("fetch failed")
	}
	return p.bars[symbol], nil
}

type captureSink struct {
	mu      sync.Mutex
	results []ScanResult
}

func (c *captureSink) Publish(_ context.Context, result ScanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func loopBars(n int) []market.Bar {
	now := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Timestamp: now.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume: 10,
		}
	}
	return bars
}

func TestLoopScansImmediatelyAndPublishes(t *testing.T) {
	sc := newTestScanner(t, Config{
		Enabled:               true,
		ScanInterval:          time.Hour, // only the immediate scan fires
		TargetRegime:          regime.Bull,
		IntervalHours:         1,
		ValueWindowMultiplier: 1,
	})
	provider := &stubProvider{bars: map[string][]market.Bar{
		"BTCUSDT": loopBars(30),
	}}
	sink := &captureSink{}

	loop := NewLoop(sc, provider, sink, []string{"BTCUSDT"}, "minute60", 30, nil, zerolog.Nop())
	loop.Start()
	defer loop.Stop()

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no scan published within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	result, ok := loop.LastResult()
	if !ok {
		t.Fatal("LastResult should be set after the first scan")
	}
	if result.ScanID == "" {
		t.Errorf("result = %+v", result)
	}
	if _, ok := result.Regimes["BTCUSDT"]; !ok {
		t.Errorf("scanned symbol missing from regimes: %v", result.Regimes)
	}
}

func TestLoopDisabledDoesNotRun(t *testing.T) {
	sc := newTestScanner(t, Config{Enabled: false, ScanInterval: time.Millisecond})
	provider := &stubProvider{}
	loop := NewLoop(sc, provider, nil, []string{"BTCUSDT"}, "day", 10, nil, zerolog.Nop())

	loop.Start()
	time.Sleep(50 * time.Millisecond)

	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls != 0 {
		t.Errorf("disabled loop should never fetch, got %d calls", calls)
	}
	if _, ok := loop.LastResult(); ok {
		t.Error("disabled loop should have no result")
	}
}

func TestFetchUniverseSkipsFailedSymbols(t *testing.T) {
	sc := newTestScanner(t, Config{Enabled: true, ScanInterval: time.Hour})
	provider := &stubProvider{
		bars:  map[string][]market.Bar{"BTCUSDT": loopBars(5), "ETHUSDT": loopBars(5)},
		fails: map[string]bool{"ETHUSDT": true},
	}
	loop := NewLoop(sc, provider, nil, []string{"BTCUSDT", "ETHUSDT"}, "minute60", 5, nil, zerolog.Nop())

	universe := loop.fetchUniverse(context.Background())
	if _, ok := universe["BTCUSDT"]; !ok {
		t.Error("healthy symbol missing from universe")
	}
	if _, ok := universe["ETHUSDT"]; ok {
		t.Error("failed symbol should be absent, not nil")
	}
}

func TestLastResultBeforeFirstScan(t *testing.T) {
	sc := newTestScanner(t, Config{Enabled: true, ScanInterval: time.Hour})
	loop := NewLoop(sc, &stubProvider{}, nil, nil, "day", 10, nil, zerolog.Nop())
	if _, ok := loop.LastResult(); ok {
		t.Error("no result expected before any scan")
	}
}
