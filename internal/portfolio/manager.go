package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the live trading state held per asset.
type State struct {
	Symbol    string    `json:"symbol"`
	Cash      float64   `json:"cash"`
	Position  Position  `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore persists per-asset state between process restarts.
type StateStore interface {
	Save(ctx context.Context, symbol string, state *State) error
	Load(ctx context.Context, symbol string) (*State, error)
	Delete(ctx context.Context, symbol string) error
	LoadAll(ctx context.Context) (map[string]*State, error)
}

// Manager holds one State per tracked asset, guarded by a single RWMutex.
// Reads return copies so concurrent API reads never race a trading update.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*State
	store  StateStore
	logger zerolog.Logger
}

// NewManager creates a portfolio manager. The store may be nil.
func NewManager(store StateStore, logger zerolog.Logger) *Manager {
	return &Manager{
		states: make(map[string]*State),
		store:  store,
		logger: logger.With().Str("component", "portfolio").Logger(),
	}
}

// Restore loads all persisted states into memory. Call once at startup.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	states, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for symbol, state := range states {
		m.states[symbol] = state
	}
	m.mu.Unlock()

	m.logger.Info().Int("positions", len(states)).Msg("portfolio state restored")
	return nil
}

// Init registers an asset with starting cash if not already tracked.
func (m *Manager) Init(symbol string, cash float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[symbol]; ok {
		return
	}
	m.states[symbol] = &State{Symbol: symbol, Cash: cash, UpdatedAt: time.Now().UTC()}
}

// Get returns a copy of the state for a symbol.
func (m *Manager) Get(symbol string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[symbol]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// All returns a copy of every tracked state.
func (m *Manager) All() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.states))
	for symbol, state := range m.states {
		out[symbol] = *state
	}
	return out
}

// Update applies fn to the state for a symbol and persists the result.
// The symbol must have been registered with Init first.
func (m *Manager) Update(ctx context.Context, symbol string, fn func(*State)) bool {
	m.mu.Lock()
	state, ok := m.states[symbol]
	if !ok {
		m.mu.Unlock()
		return false
	}
	fn(state)
	state.UpdatedAt = time.Now().UTC()
	snapshot := *state
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(ctx, symbol, &snapshot); err != nil {
			m.logger.Error().Err(err).Str("symbol", symbol).Msg("state persist failed")
		}
	}
	return true
}

// Close removes a symbol's state from memory and the store.
func (m *Manager) Close(ctx context.Context, symbol string) {
	m.mu.Lock()
	delete(m.states, symbol)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, symbol); err != nil {
			m.logger.Error().Err(err).Str("symbol", symbol).Msg("state delete failed")
		}
	}
}

// TotalValue sums cash plus position value across all assets at the given
// per-symbol prices. Symbols without a price contribute cash only.
func (m *Manager) TotalValue(prices map[string]float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for symbol, state := range m.states {
		total += state.Cash
		if state.Position.Open() {
			if price, ok := prices[symbol]; ok {
				total += state.Position.Size * price
			}
		}
	}
	return total
}
