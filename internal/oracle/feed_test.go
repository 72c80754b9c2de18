package oracle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbengine/post-close-arb/internal/period"
	"github.com/arbengine/post-close-arb/internal/types"
)

var upgrader = websocket.Upgrader{}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startOracleServer spins up a test server that upgrades to a websocket,
// reads the subscribe message once, then pushes whatever envelopes the test
// sends down sendCh until the connection closes.
func startOracleServer(t *testing.T, sendCh <-chan envelope) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Drain the subscribe message.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		for env := range sendCh {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}))
	return srv
}

func TestFeedDispatchesTicksIntoCache(t *testing.T) {
	clock, err := period.New("UTC", 5*time.Minute)
	if err != nil {
		t.Fatalf("period.New: %v", err)
	}
	cache := NewCache(clock, 2, 10*time.Second, nil)

	sendCh := make(chan envelope, 4)
	srv := startOracleServer(t, sendCh)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewFeed(wsURL, "crypto_prices", map[types.Symbol]string{
		types.XRP: "xrp/usd",
	}, cache, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	windowStart := int64(1771820400)
	sendCh <- envelope{
		Topic: "crypto_prices",
		Type:  "update",
		Payload: payload{
			Symbol:    "xrp/usd",
			Timestamp: windowStart*1000 + 500,
			Value:     "1.3382",
		},
		Timestamp: windowStart*1000 + 500,
	}
	close(sendCh)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := cache.Capture(types.XRP, windowStart); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	wc, ok := cache.Capture(types.XRP, windowStart)
	if !ok || !wc.HasPriceToBeat {
		t.Fatalf("expected price-to-beat captured via feed, got %+v (ok=%v)", wc, ok)
	}

	cancel()
	<-done
}

func TestFeedIgnoresUntrackedSymbol(t *testing.T) {
	clock, _ := period.New("UTC", 5*time.Minute)
	cache := NewCache(clock, 2, 10*time.Second, nil)

	sendCh := make(chan envelope, 2)
	srv := startOracleServer(t, sendCh)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewFeed(wsURL, "crypto_prices", map[types.Symbol]string{
		types.BTC: "btc/usd",
	}, cache, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	sendCh <- envelope{
		Topic:     "crypto_prices",
		Type:      "update",
		Payload:   payload{Symbol: "eth/usd", Timestamp: 1771820400500, Value: "3000"},
		Timestamp: 1771820400500,
	}
	close(sendCh)

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Capture(types.ETH, 1771820400); ok {
		t.Fatalf("expected untracked symbol to be ignored")
	}
}

func TestSubscribeMsgShape(t *testing.T) {
	msg := subscribeMsg{
		Action: "subscribe",
		Subscriptions: []subscription{
			{Topic: "crypto_prices", Type: "*", Filters: `{"symbol":"btc/usd"}`},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"action":"subscribe"`) {
		t.Errorf("missing action field: %s", data)
	}
}
