package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	stateKeyPrefix = "regimetrader:state"
	stateListKey   = "regimetrader:state:symbols"
	stateTTL       = 7 * 24 * time.Hour
)

// RedisStateStore persists portfolio state in Redis. When Redis is down it
// falls back to an in-memory map so the trading loop keeps running; Redis
// availability is re-probed on reads.
type RedisStateStore struct {
	client    *redis.Client
	fallback  map[string]*State
	mu        sync.RWMutex
	available atomic.Bool
	logger    zerolog.Logger
}

// NewRedisStateStore creates a state store. A nil client means memory-only.
func NewRedisStateStore(client *redis.Client, logger zerolog.Logger) *RedisStateStore {
	store := &RedisStateStore{
		client:   client,
		fallback: make(map[string]*State),
		logger:   logger.With().Str("component", "state_store").Logger(),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			store.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory store")
		} else {
			store.available.Store(true)
			store.logger.Info().Msg("redis connected")
		}
	} else {
		store.logger.Info().Msg("no redis client, using in-memory store only")
	}
	return store
}

func stateKey(symbol string) string {
	return fmt.Sprintf("%s:%s", stateKeyPrefix, symbol)
}

// Save writes the state to the fallback map and, when available, to Redis.
// A Redis failure is logged, not returned; the fallback copy is the backstop.
func (r *RedisStateStore) Save(ctx context.Context, symbol string, state *State) error {
	if state == nil {
		return fmt.Errorf("cannot save nil state")
	}

	r.mu.Lock()
	copied := *state
	r.fallback[symbol] = &copied
	r.mu.Unlock()

	if r.client == nil || !r.available.Load() {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", symbol, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, stateKey(symbol), data, stateTTL)
	pipe.SAdd(ctx, stateListKey, symbol)
	pipe.Expire(ctx, stateListKey, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis save failed, in-memory copy kept")
		r.available.Store(false)
	}
	return nil
}

// Load reads the state for a symbol. Returns nil when not found.
func (r *RedisStateStore) Load(ctx context.Context, symbol string) (*State, error) {
	if r.client != nil && r.available.Load() {
		data, err := r.client.Get(ctx, stateKey(symbol)).Result()
		switch {
		case err == redis.Nil:
			return r.fromFallback(symbol), nil
		case err != nil:
			r.logger.Warn().Err(err).Msg("redis read failed, using in-memory store")
			r.available.Store(false)
			return r.fromFallback(symbol), nil
		}

		var state State
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, fmt.Errorf("unmarshal state for %s: %w", symbol, err)
		}
		r.mu.Lock()
		copied := state
		r.fallback[symbol] = &copied
		r.mu.Unlock()
		return &state, nil
	}
	return r.fromFallback(symbol), nil
}

// Delete removes the state for a symbol.
func (r *RedisStateStore) Delete(ctx context.Context, symbol string) error {
	r.mu.Lock()
	delete(r.fallback, symbol)
	r.mu.Unlock()

	if r.client == nil || !r.available.Load() {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, stateKey(symbol))
	pipe.SRem(ctx, stateListKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis delete failed")
		r.available.Store(false)
	}
	return nil
}

// LoadAll reads every persisted state.
func (r *RedisStateStore) LoadAll(ctx context.Context) (map[string]*State, error) {
	if r.client != nil && r.available.Load() {
		symbols, err := r.client.SMembers(ctx, stateListKey).Result()
		if err != nil {
			r.logger.Warn().Err(err).Msg("redis list read failed, using in-memory store")
			r.available.Store(false)
			return r.allFallback(), nil
		}

		states := make(map[string]*State, len(symbols))
		for _, symbol := range symbols {
			state, err := r.Load(ctx, symbol)
			if err != nil {
				return nil, err
			}
			if state != nil {
				states[symbol] = state
			}
		}
		return states, nil
	}
	return r.allFallback(), nil
}

func (r *RedisStateStore) fromFallback(symbol string) *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.fallback[symbol]
	if !ok {
		return nil
	}
	copied := *state
	return &copied
}

func (r *RedisStateStore) allFallback() map[string]*State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*State, len(r.fallback))
	for symbol, state := range r.fallback {
		copied := *state
		out[symbol] = &copied
	}
	return out
}
