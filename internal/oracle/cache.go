// Package oracle ingests a streaming oracle price feed and captures, for
// each aligned window, the price-to-beat and close-price samples the rest
// of the engine decides winners from.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/period"
	"github.com/arbengine/post-close-arb/internal/types"
)

// FallbackSource is consulted when a close-price read is missing or stale.
// It is an out-of-scope collaborator (an RPC client) — the cache only needs
// a single price read for a symbol at approximately "now".
type FallbackSource interface {
	PriceNow(ctx context.Context, symbol types.Symbol) (decimal.Decimal, error)
}

// Cache holds, per symbol, the rolling set of window captures produced by
// one ingestion feed. Reads are shared by every symbol coordinator; writes
// come from this symbol's own feed-dispatch goroutine only.
type Cache struct {
	clock       *period.Clock
	captureSecs int64
	freshness   time.Duration
	fallback    FallbackSource

	mu       sync.RWMutex
	captures map[types.Symbol]map[int64]*types.WindowCapture
	lastSeen map[types.Symbol]time.Time // wall-clock receive time of the most recent tick
	lastSample map[types.Symbol]types.PriceSample
}

// NewCache creates an oracle cache. captureSecs is the width of the capture
// slice after each boundary (spec default 2s); freshness is the max age of
// a close-price read before the fallback source must be consulted.
func NewCache(clock *period.Clock, captureSecs int, freshness time.Duration, fallback FallbackSource) *Cache {
	return &Cache{
		clock:       clock,
		captureSecs: int64(captureSecs),
		freshness:   freshness,
		fallback:    fallback,
		captures:    make(map[types.Symbol]map[int64]*types.WindowCapture),
		lastSeen:    make(map[types.Symbol]time.Time),
		lastSample:  make(map[types.Symbol]types.PriceSample),
	}
}

// Observe records one oracle tick. It is the single writer path: only the
// feed-dispatch goroutine for this symbol may call it.
//
// A tick's oracle-timestamp falls into exactly one of two capture slices:
// the start of the window it belongs to (price-to-beat), or the tail of the
// window that just closed (close-price, captured in [window_start+duration,
// window_start+duration+capture_secs) of that closed window). A capture is
// written at most once per (symbol, window, role): later ticks landing in
// an already-captured slice are ignored.
func (c *Cache) Observe(symbol types.Symbol, sample types.PriceSample) {
	tsSec := sample.OracleTSMs / 1000
	window := c.clock.WindowFor(tsSec)
	durSecs := int64(c.clock.Duration() / time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen[symbol] = time.UnixMilli(sample.ReceivedAtMs)
	c.lastSample[symbol] = sample

	windows, ok := c.captures[symbol]
	if !ok {
		windows = make(map[int64]*types.WindowCapture)
		c.captures[symbol] = windows
	}

	offset := tsSec - window

	// Price-to-beat slice: [window, window+capture_secs)
	if offset < c.captureSecs {
		wc := windows[window]
		if wc == nil {
			wc = &types.WindowCapture{}
			windows[window] = wc
		}
		if !wc.HasPriceToBeat {
			wc.PriceToBeat = sample
			wc.HasPriceToBeat = true
		}
	}

	// Close-price slice: this tick belongs to the window that just closed.
	// prevWindow's close boundary is prevWindow+duration == window, so a
	// tick at offset < capture_secs within THIS window also lands in the
	// previous window's post-close capture slice.
	if offset < c.captureSecs {
		prevWindow := window - durSecs
		wc := windows[prevWindow]
		if wc == nil {
			wc = &types.WindowCapture{}
			windows[prevWindow] = wc
		}
		if !wc.HasClosePrice {
			wc.ClosePrice = sample
			wc.HasClosePrice = true
		}
	}
}

// Capture returns the (possibly partial) capture recorded for a window, and
// whether any entry exists at all.
func (c *Cache) Capture(symbol types.Symbol, windowStart int64) (types.WindowCapture, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	windows, ok := c.captures[symbol]
	if !ok {
		return types.WindowCapture{}, false
	}
	wc, ok := windows[windowStart]
	if !ok {
		return types.WindowCapture{}, false
	}
	return *wc, true
}

// ClosePrice returns the close-price for windowStart, consulting the
// fallback source if the capture is missing or stale. It implements the
// freshness contract: a close-price read is refused if its source
// wall-clock age exceeds the configured freshness window.
func (c *Cache) ClosePrice(ctx context.Context, symbol types.Symbol, windowStart int64) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	windows := c.captures[symbol]
	var wc *types.WindowCapture
	if windows != nil {
		wc = windows[windowStart]
	}
	lastSeen, haveLastSeen := c.lastSeen[symbol]
	c.mu.RUnlock()

	stale := !haveLastSeen || time.Since(lastSeen) > c.freshness
	have := wc != nil && wc.HasClosePrice

	if have && !stale {
		return wc.ClosePrice.Value, true, nil
	}

	// Missing or stale: consult the fallback source.
	if c.fallback == nil {
		if have {
			return wc.ClosePrice.Value, true, nil
		}
		return decimal.Decimal{}, false, nil
	}
	price, err := c.fallback.PriceNow(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("oracle fallback for %s: %w", symbol, err)
	}
	return price, true, nil
}

// Stale reports whether symbol's most recent tick is older than the
// configured freshness window (or was never observed at all). Callers use
// this to decide whether a close-price read actually consulted the RPC
// fallback, so a source-agreement check only fires when there are two
// genuinely independent readings to compare.
func (c *Cache) Stale(symbol types.Symbol) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lastSeen, ok := c.lastSeen[symbol]
	if !ok {
		return true
	}
	return time.Since(lastSeen) > c.freshness
}

// LastSample returns the most recently observed tick for a symbol, used to
// sign-check a fallback RPC read against live oracle direction.
func (c *Cache) LastSample(symbol types.Symbol) (types.PriceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.lastSample[symbol]
	return s, ok
}

// Prune drops captures for windows older than keepAfter, bounding memory
// growth over a long-running process.
func (c *Cache) Prune(keepAfter int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, windows := range c.captures {
		for start := range windows {
			if start < keepAfter {
				delete(windows, start)
			}
		}
	}
}
