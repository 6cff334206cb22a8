package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// streamMessage is the wire format pushed by the candle feed collaborator.
type streamMessage struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Time     int64   `json:"time"` // unix milliseconds, bar open time
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Closed   bool    `json:"closed"`
}

// StreamFeed consumes the candle feed collaborator over WebSocket and
// maintains a rolling in-memory window per symbol/interval. It also
// satisfies the Feed interface so the live evaluation loop reads the
// same shape of data the backtester does.
type StreamFeed struct {
	mu        sync.RWMutex
	baseURL   string
	maxWindow int
	windows   map[string][]Candle // key: symbol|interval
	logger    zerolog.Logger

	conn      *websocket.Conn
	connected bool
}

// NewStreamFeed creates a stream feed pointed at the collaborator's
// WebSocket endpoint, e.g. "ws://feed.internal:9000/stream".
func NewStreamFeed(baseURL string, maxWindow int, logger zerolog.Logger) *StreamFeed {
	if maxWindow <= 0 {
		maxWindow = 500
	}
	return &StreamFeed{
		baseURL:   baseURL,
		maxWindow: maxWindow,
		windows:   make(map[string][]Candle),
		logger:    logger.With().Str("component", "stream_feed").Logger(),
	}
}

func windowKey(symbol, interval string) string {
	return symbol + "|" + interval
}

// Run connects and consumes candle messages until ctx is cancelled,
// reconnecting with backoff on transport errors.
func (f *StreamFeed) Run(ctx context.Context, symbol, interval string) error {
	backoff := time.Second
	for {
		if err := f.consume(ctx, symbol, interval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Dur("backoff", backoff).Msg("candle stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *StreamFeed) consume(ctx context.Context, symbol, interval string) error {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return fmt.Errorf("feed dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()
	defer func() {
		conn.Close()
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
	}()

	f.logger.Info().Str("symbol", symbol).Str("interval", interval).Msg("candle stream connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read failed: %w", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn().Err(err).Msg("malformed candle message dropped")
			continue
		}
		if !msg.Closed {
			continue // only completed bars enter the window
		}
		f.append(msg)
	}
}

func (f *StreamFeed) append(msg streamMessage) {
	candle := Candle{
		Time:   time.UnixMilli(msg.Time).UTC(),
		Open:   msg.Open,
		High:   msg.High,
		Low:    msg.Low,
		Close:  msg.Close,
		Volume: msg.Volume,
	}

	key := windowKey(msg.Symbol, msg.Interval)

	f.mu.Lock()
	defer f.mu.Unlock()

	window := f.windows[key]

	// Feeds occasionally resend the last closed bar; replace, don't append.
	if n := len(window); n > 0 && !candle.Time.After(window[n-1].Time) {
		window[n-1] = candle
		f.windows[key] = window
		return
	}

	window = append(window, candle)
	if len(window) > f.maxWindow {
		window = window[len(window)-f.maxWindow:]
	}
	f.windows[key] = window
}

// Candles returns the most recent closed candles for the symbol/interval.
func (f *StreamFeed) Candles(_ context.Context, symbol, interval string, limit int) ([]Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	window := f.windows[windowKey(symbol, interval)]
	if len(window) == 0 {
		return nil, fmt.Errorf("no candles buffered for %s %s", symbol, interval)
	}

	start := 0
	if limit > 0 && len(window) > limit {
		start = len(window) - limit
	}
	out := make([]Candle, len(window)-start)
	copy(out, window[start:])
	return out, nil
}

// Connected reports whether the stream is currently attached to the feed.
func (f *StreamFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}
