package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

const (
	reconnectWait  = 5 * time.Second
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// subscribeMsg is the oracle push feed's subscribe request.
type subscribeMsg struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters"`
}

// envelope is the oracle push feed's inbound message shape.
type envelope struct {
	Topic     string  `json:"topic"`
	Type      string  `json:"type"`
	Payload   payload `json:"payload"`
	Timestamp int64   `json:"timestamp"`
}

type payload struct {
	Symbol            string `json:"symbol"`
	Timestamp         int64  `json:"timestamp"`
	Value             string `json:"value"`
	FullAccuracyValue string `json:"full_accuracy_value"`
}

// Feed connects to the oracle push feed, subscribes for a fixed set of
// symbols, and dispatches every update into the Cache. It reconnects with a
// fixed 5s interval (the feed's own reconnect contract, not exponential
// backoff like the book feed, since missed windows during an outage are
// simply skipped rather than replayed).
type Feed struct {
	url   string
	topic string
	pairs map[types.Symbol]string // symbol -> "<sym>/usd" filter value

	cache *Cache

	connMu sync.Mutex
	conn   *websocket.Conn

	logger *slog.Logger
}

// NewFeed creates an oracle feed. topic is the push-feed topic name; pairs
// maps each tracked symbol to its filter pair string (e.g. "btc/usd").
func NewFeed(url, topic string, pairs map[types.Symbol]string, cache *Cache, logger *slog.Logger) *Feed {
	return &Feed{
		url:    url,
		topic:  topic,
		pairs:  pairs,
		cache:  cache,
		logger: logger.With("component", "oracle_feed"),
	}
}

// Run connects and maintains the oracle feed connection until ctx is
// cancelled, reconnecting every 5s on disconnect. Windows whose capture
// slice elapses during an outage are left uncaptured; the coordinator
// skips them rather than backfilling.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("oracle feed disconnected, reconnecting", "error", err, "wait", reconnectWait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("oracle feed connected", "symbols", len(f.pairs))

	conn.SetPingHandler(func(appData string) error {
		f.connMu.Lock()
		defer f.connMu.Unlock()
		if f.conn == nil {
			return nil
		}
		f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return f.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatch(msg)
	}
}

func (f *Feed) subscribe() error {
	subs := make([]subscription, 0, len(f.pairs))
	for _, pair := range f.pairs {
		subs = append(subs, subscription{
			Topic:   f.topic,
			Type:    "*",
			Filters: fmt.Sprintf(`{"symbol":"%s"}`, pair),
		})
	}

	msg := subscribeMsg{
		Action:        "subscribe",
		Subscriptions: subs,
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(msg)
}

func (f *Feed) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json oracle message", "data", string(data))
		return
	}

	if env.Type != "update" {
		f.logger.Debug("ignoring oracle event", "type", env.Type)
		return
	}

	symbol, ok := f.symbolForPair(env.Payload.Symbol)
	if !ok {
		f.logger.Debug("oracle tick for untracked symbol", "pair", env.Payload.Symbol)
		return
	}

	value, err := decimal.NewFromString(env.Payload.Value)
	if err != nil {
		f.logger.Error("unmarshal oracle value", "error", err, "raw", env.Payload.Value)
		return
	}

	sample := types.PriceSample{
		Symbol:       symbol,
		OracleTSMs:   env.Payload.Timestamp,
		Value:        value,
		ReceivedAtMs: env.Timestamp,
	}

	f.cache.Observe(symbol, sample)
}

func (f *Feed) symbolForPair(pair string) (types.Symbol, bool) {
	for sym, p := range f.pairs {
		if p == pair {
			return sym, true
		}
	}
	return "", false
}
