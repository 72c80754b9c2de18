package book

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
)

// subscribeMsg is the book push feed's subscribe/unsubscribe request.
type subscribeMsg struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookSnapshotMsg struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
}

type priceChangeMsg struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

// Feed maintains a single websocket connection to the book push feed,
// applying snapshot and price_change events to a Mirror. It reconnects with
// exponential backoff (1s to 30s) and re-subscribes to all tracked tokens
// on reconnection.
type Feed struct {
	url    string
	mirror *Mirror

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.RWMutex
	subscribed map[string]bool

	logger *slog.Logger
}

// NewFeed creates a book feed bound to mirror.
func NewFeed(url string, mirror *Mirror, logger *slog.Logger) *Feed {
	return &Feed{
		url:        url,
		mirror:     mirror,
		subscribed: make(map[string]bool),
		logger:     logger.With("component", "book_feed"),
	}
}

// Run connects and maintains the connection until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("book feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds token IDs to the tracked set and, if connected, sends the
// subscribe message immediately. The coordinator calls this at arm time
// (T-30s) for the window's up/down tokens.
func (f *Feed) Subscribe(tokenIDs ...string) error {
	f.subMu.Lock()
	for _, id := range tokenIDs {
		f.subscribed[id] = true
		f.mirror.Ensure(id)
	}
	f.subMu.Unlock()

	return f.writeJSON(subscribeMsg{AssetIDs: tokenIDs, Type: "market"})
}

// Unsubscribe removes token IDs and drops their book mirrors, bounding
// memory after a window closes.
func (f *Feed) Unsubscribe(tokenIDs ...string) error {
	f.subMu.Lock()
	for _, id := range tokenIDs {
		delete(f.subscribed, id)
		f.mirror.Drop(id)
	}
	f.subMu.Unlock()

	return f.writeJSON(subscribeMsg{AssetIDs: tokenIDs, Type: "market"})
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

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	f.logger.Info("book feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

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

func (f *Feed) resubscribeAll() error {
	f.subMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(subscribeMsg{AssetIDs: ids, Type: "market"})
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json book message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var msg bookSnapshotMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Error("unmarshal book snapshot", "error", err)
			return
		}
		tb := f.mirror.Get(msg.AssetID)
		if tb == nil {
			return
		}
		tb.ApplySnapshot(parseLevels(msg.Bids), parseLevels(msg.Asks))

	case "price_change":
		var msg priceChangeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Error("unmarshal price_change", "error", err)
			return
		}
		tb := f.mirror.Get(msg.AssetID)
		if tb == nil {
			return
		}
		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			f.logger.Error("parse price_change price", "error", err, "raw", msg.Price)
			return
		}
		size, err := decimal.NewFromString(msg.Size)
		if err != nil {
			f.logger.Error("parse price_change size", "error", err, "raw", msg.Size)
			return
		}
		side := Ask
		if msg.Side == "BUY" {
			side = Bid
		}
		tb.ApplyPriceChange(side, price, size)

	default:
		f.logger.Debug("ignoring book event", "type", envelope.EventType)
	}
}

func parseLevels(raw []rawLevel) []Level {
	out := make([]Level, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(r.Size)
		if err != nil {
			continue
		}
		out = append(out, Level{Price: price, Size: size})
	}
	return out
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil // not yet connected; resubscribeAll covers it on connect
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
