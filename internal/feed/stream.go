package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"regime-trader/internal/market"
)

// KlineEvent is a live candle update for one symbol. Final is true when the
// candle closed with this update.
type KlineEvent struct {
	Symbol string
	Bar    market.Bar
	Final  bool
}

// Stream maintains a websocket subscription to live kline updates and fans
// them out to a channel. It reconnects with a fixed backoff until stopped.
type Stream struct {
	baseURL  string
	symbols  []string
	interval string
	events   chan KlineEvent
	logger   zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	running    bool
	reconnects int
	wg         sync.WaitGroup
}

// NewStream creates a kline stream for the given symbols.
func NewStream(baseURL string, symbols []string, interval string, logger zerolog.Logger) *Stream {
	return &Stream{
		baseURL:  baseURL,
		symbols:  symbols,
		interval: exchangeInterval(interval),
		events:   make(chan KlineEvent, 256),
		logger:   logger.With().Str("component", "kline_stream").Logger(),
	}
}

// Events returns the channel of live kline updates.
func (s *Stream) Events() <-chan KlineEvent {
	return s.events
}

// Start opens the connection loop in the background.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.connect()
}

// Stop closes the connection and waits for the loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.running = false
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.events)
	s.logger.Info().Msg("kline stream stopped")
}

func (s *Stream) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// streamURL builds the combined-stream URL for all subscribed symbols.
func (s *Stream) streamURL() string {
	streams := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), s.interval))
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

func (s *Stream) connect() {
	defer s.wg.Done()

	wsURL := s.streamURL()
	for s.isRunning() {
		s.logger.Info().Int("symbols", len(s.symbols)).Msg("connecting kline stream")

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("connection failed, retrying in 5s")
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			time.Sleep(5 * time.Second)
			continue
		}

		s.mu.Lock()
		if !s.running {
			// Stopped while dialing; the new connection is ours to close.
			conn.Close()
			s.mu.Unlock()
			return
		}
		s.conn = conn
		s.reconnects = 0
		s.mu.Unlock()
		s.logger.Info().Msg("kline stream connected")

		s.readLoop(conn)

		if !s.isRunning() {
			return
		}
		s.logger.Warn().Msg("connection lost, reconnecting in 3s")
		time.Sleep(3 * time.Second)
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("connection closed normally")
			} else if s.isRunning() {
				s.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		s.handleMessage(message)
	}
}

// combinedKline is the combined-stream envelope around a kline payload.
type combinedKline struct {
	Data struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			StartTime int64  `json:"t"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Final     bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func (s *Stream) handleMessage(message []byte) {
	var env combinedKline
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse stream message")
		return
	}
	if env.Data.EventType != "kline" {
		return
	}

	k := env.Data.Kline
	event := KlineEvent{
		Symbol: env.Data.Symbol,
		Bar: market.Bar{
			Timestamp: time.UnixMilli(k.StartTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		},
		Final: k.Final,
	}

	select {
	case s.events <- event:
	default:
		// Drop when the consumer lags; the next update supersedes this one.
		s.logger.Debug().Str("symbol", event.Symbol).Msg("event channel full, dropping update")
	}
}
