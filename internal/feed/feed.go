// Package feed maintains a live mark-price table over the venue's public
// websocket. Consumers read point-in-time snapshots; the feed owns the
// connection lifecycle, keep-alive, and reconnection with backoff, and
// restores its ticker subscriptions after every reconnect.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	productionWSURL = "wss://socket.india.delta.exchange"
	testnetWSURL    = "wss://socket-ind.testnet.deltaex.org"

	tickerChannel = "v2/ticker"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Quote is one symbol's latest ticker reading.
type Quote struct {
	Symbol    string
	MarkPrice float64
	SpotPrice float64
	UpdatedAt time.Time
}

// Feed is a websocket mark-price stream. Safe for concurrent use.
type Feed struct {
	wsURL  string
	logger *log.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool
	symbols map[string]struct{}
	prices  map[string]Quote

	// done is closed when the feed is shut down.
	done chan struct{}
}

// New creates a feed against the venue's production or testnet websocket.
// A nil logger discards output.
func New(testnet bool, logger *log.Logger) *Feed {
	wsURL := productionWSURL
	if testnet {
		wsURL = testnetWSURL
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Feed{
		wsURL:   wsURL,
		logger:  logger,
		symbols: make(map[string]struct{}),
		prices:  make(map[string]Quote),
		done:    make(chan struct{}),
	}
}

// WithURL overrides the websocket endpoint. Used by tests and custom
// deployments.
func (f *Feed) WithURL(wsURL string) *Feed {
	if wsURL != "" {
		f.wsURL = wsURL
	}
	return f
}

// Connect establishes the websocket connection and starts the read and
// keep-alive loops. Tracked subscriptions are restored, so callers only
// connect once and the feed survives venue restarts on its own.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("feed: closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	f.conn = conn

	_ = f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		return f.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go f.readLoop()
	go f.pingLoop()

	if len(f.symbols) > 0 {
		if err := f.sendSubscription("subscribe", f.trackedLocked()); err != nil {
			return fmt.Errorf("feed: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Watch subscribes to ticker updates for the given symbols and keeps them
// subscribed across reconnects.
func (f *Feed) Watch(symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	for _, s := range symbols {
		f.symbols[s] = struct{}{}
	}
	return f.sendSubscription("subscribe", symbols)
}

// Unwatch drops ticker subscriptions and their cached quotes.
func (f *Feed) Unwatch(symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range symbols {
		delete(f.symbols, s)
		delete(f.prices, s)
	}
	if f.conn == nil {
		return nil
	}
	return f.sendSubscription("unsubscribe", symbols)
}

// Price returns the latest quote for one symbol.
func (f *Feed) Price(symbol string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[symbol]
	return q, ok
}

// Prices returns a snapshot of every tracked quote.
func (f *Feed) Prices() map[string]Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snapshot := make(map[string]Quote, len(f.prices))
	for s, q := range f.prices {
		snapshot[s] = q
	}
	return snapshot
}

// Close shuts down the connection and stops the loops. Idempotent.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

type wsRequest struct {
	Type    string    `json:"type"`
	Payload wsPayload `json:"payload"`
}

type wsPayload struct {
	Channels []wsChannel `json:"channels"`
}

type wsChannel struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

type wsTicker struct {
	Type      string              `json:"type"`
	Symbol    string              `json:"symbol"`
	MarkPrice decimal.NullDecimal `json:"mark_price"`
	SpotPrice decimal.NullDecimal `json:"spot_price"`
}

// sendSubscription writes one subscribe/unsubscribe command. Caller must
// hold f.mu.
func (f *Feed) sendSubscription(action string, symbols []string) error {
	req := wsRequest{
		Type: action,
		Payload: wsPayload{
			Channels: []wsChannel{{Name: tickerChannel, Symbols: symbols}},
		},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", action, err)
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) trackedLocked() []string {
	tracked := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		tracked = append(tracked, s)
	}
	return tracked
}

// readLoop reads messages until the connection drops, then hands off to
// reconnect. It runs in its own goroutine; Connect starts a fresh one per
// connection.
func (f *Feed) readLoop() {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.logger.Printf("Warning: feed read failed, reconnecting: %v", err)
			f.reconnect()
			return
		}

		f.handleMessage(message)
	}
}

// pingLoop keeps the connection alive until it drops or the feed closes.
func (f *Feed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage updates the price table from one ticker frame. Anything
// else is dropped silently.
func (f *Feed) handleMessage(raw []byte) {
	var tick wsTicker
	if err := json.Unmarshal(raw, &tick); err != nil {
		return
	}
	if tick.Type != tickerChannel || tick.Symbol == "" {
		return
	}

	quote := Quote{Symbol: tick.Symbol, UpdatedAt: time.Now()}
	if tick.MarkPrice.Valid {
		quote.MarkPrice = tick.MarkPrice.Decimal.InexactFloat64()
	}
	if tick.SpotPrice.Valid {
		quote.SpotPrice = tick.SpotPrice.Decimal.InexactFloat64()
	}

	f.mu.Lock()
	f.prices[tick.Symbol] = quote
	f.mu.Unlock()
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the feed is closed.
func (f *Feed) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectDelay
	bo.MaxInterval = maxReconnectDelay

	for {
		select {
		case <-f.done:
			return
		case <-time.After(bo.NextBackOff()):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()
		if err == nil {
			f.logger.Printf("Feed reconnected to %s", f.wsURL)
			return
		}
		f.logger.Printf("Warning: feed reconnect failed: %v", err)
	}
}
