package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"regime-trader/internal/market"
)

// DataProvider supplies historical bars for a symbol.
type DataProvider interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
}

// ResultSink receives completed scan results.
type ResultSink interface {
	Publish(ctx context.Context, result ScanResult)
}

// Loop runs scans on a schedule against live data.
type Loop struct {
	scanner   *Scanner
	provider  DataProvider
	sink      ResultSink
	symbols   []string
	interval  string
	history   int
	paramMaps []map[string]any
	logger    zerolog.Logger

	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	lastResult *ScanResult
}

// NewLoop creates a scan loop. The sink may be nil.
func NewLoop(
	sc *Scanner,
	provider DataProvider,
	sink ResultSink,
	symbols []string,
	interval string,
	history int,
	paramMaps []map[string]any,
	logger zerolog.Logger,
) *Loop {
	return &Loop{
		scanner:   sc,
		provider:  provider,
		sink:      sink,
		symbols:   symbols,
		interval:  interval,
		history:   history,
		paramMaps: paramMaps,
		logger:    logger.With().Str("component", "scan_loop").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background scan loop.
func (l *Loop) Start() {
	if !l.scanner.config.Enabled {
		l.logger.Info().Msg("scanner disabled")
		return
	}
	l.wg.Add(1)
	go l.run()
	l.logger.Info().
		Int("symbols", len(l.symbols)).
		Dur("interval", l.scanner.config.ScanInterval).
		Msg("scan loop started")
}

// Stop signals the loop to exit and waits for it.
func (l *Loop) Stop() {
	close(l.stopChan)
	l.wg.Wait()
	l.logger.Info().Msg("scan loop stopped")
}

// LastResult returns a copy of the most recent scan result.
func (l *Loop) LastResult() (ScanResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastResult == nil {
		return ScanResult{}, false
	}
	return *l.lastResult, true
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.scanner.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start.
	l.scanOnce()

	for {
		select {
		case <-ticker.C:
			l.scanOnce()
		case <-l.stopChan:
			return
		}
	}
}

func (l *Loop) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), l.scanner.config.ScanInterval)
	defer cancel()

	universe := l.fetchUniverse(ctx)
	if len(universe) == 0 {
		l.logger.Warn().Msg("no data fetched, skipping scan")
		if l.scanner.recorder != nil {
			l.scanner.recorder.RecordScan("empty")
		}
		return
	}

	result := l.scanner.ScanAt(universe, time.Now().UTC(), l.paramMaps)

	l.mu.Lock()
	l.lastResult = &result
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Publish(ctx, result)
	}
}

// fetchUniverse downloads bars for every symbol on a small worker pool.
func (l *Loop) fetchUniverse(ctx context.Context) map[string]*market.Series {
	workers := l.scanner.config.Workers
	if workers <= 0 {
		workers = 8
	}

	type fetched struct {
		symbol string
		series *market.Series
	}

	jobs := make(chan string)
	out := make(chan fetched, len(l.symbols))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				bars, err := l.provider.Klines(ctx, symbol, l.interval, l.history)
				if err != nil {
					l.logger.Error().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
					if l.scanner.recorder != nil {
						l.scanner.recorder.RecordError("kline_fetch")
					}
					continue
				}
				out <- fetched{symbol: symbol, series: market.NewSeries(symbol, l.interval, bars)}
			}
		}()
	}

	for _, symbol := range l.symbols {
		select {
		case jobs <- symbol:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	universe := make(map[string]*market.Series, len(l.symbols))
	for f := range out {
		universe[f.symbol] = f.series
	}

	missing := make([]string, 0)
	for _, symbol := range l.symbols {
		if _, ok := universe[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		l.logger.Warn().Strs("symbols", missing).Msg("symbols missing from fetch")
	}
	return universe
}
