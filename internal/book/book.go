// Package book mirrors per-token order books from a snapshot-plus-delta
// websocket feed. Each token has exactly one writer (its feed-dispatch
// goroutine); all other goroutines only read.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Level is a single price level with a positive size.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// TokenBook is the local mirror of one token's order book. Bids are kept
// descending by price, asks ascending — both strictly, with only positive
// sizes retained.
type TokenBook struct {
	mu      sync.RWMutex
	tokenID string
	bids    []Level
	asks    []Level
	updated time.Time
}

// NewTokenBook creates an empty book mirror for one token.
func NewTokenBook(tokenID string) *TokenBook {
	return &TokenBook{tokenID: tokenID}
}

// ApplySnapshot replaces the entire book with a full snapshot. Applying the
// same snapshot twice in succession leaves the book in the same state
// (levels are fully sorted and re-filtered each time, not merged).
func (b *TokenBook) ApplySnapshot(bids, asks []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = sortAndFilter(bids, true)
	b.asks = sortAndFilter(asks, false)
	b.updated = time.Now()
}

// ApplyPriceChange applies a single incremental level update: size "0"
// (represented here as a non-positive Size) removes the level at Price; any
// other size inserts or replaces the level at that price, keeping the
// side's ordering invariant.
func (b *TokenBook) ApplyPriceChange(side Side, price, size decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var levels []Level
	descending := side == Bid
	if descending {
		levels = b.bids
	} else {
		levels = b.asks
	}

	levels = upsertLevel(levels, Level{Price: price, Size: size}, descending)

	if descending {
		b.bids = levels
	} else {
		b.asks = levels
	}
	b.updated = time.Now()
}

// Side identifies which side of the book a price_change event touches.
type Side int

const (
	Bid Side = iota
	Ask
)

// upsertLevel inserts, replaces, or removes price from levels, keeping the
// slice sorted (descending for bids, ascending for asks) with only
// strictly positive sizes present.
func upsertLevel(levels []Level, lvl Level, descending bool) []Level {
	idx := -1
	for i, l := range levels {
		if l.Price.Equal(lvl.Price) {
			idx = i
			break
		}
	}

	if !lvl.Size.IsPositive() {
		if idx >= 0 {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}

	if idx >= 0 {
		levels[idx] = lvl
		return levels
	}

	levels = append(levels, lvl)
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

func sortAndFilter(levels []Level, descending bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Size.IsPositive() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// placeholderAsk/Bid bound the synthetic "empty book" sentinel some
// operators publish instead of a genuinely empty book.
var (
	placeholderBid = decimal.RequireFromString("0.01")
	placeholderAsk = decimal.RequireFromString("0.99")
)

// Asks returns the current ask side, cheapest first. A synthetic placeholder
// level (bid≈0.01/ask≈0.99 with nothing else present) is reported as an
// empty book, since it carries no real liquidity to sweep.
func (b *TokenBook) Asks() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isPlaceholder() {
		return nil
	}
	out := make([]Level, len(b.asks))
	copy(out, b.asks)
	return out
}

// Bids returns the current bid side, best (highest) first.
func (b *TokenBook) Bids() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isPlaceholder() {
		return nil
	}
	out := make([]Level, len(b.bids))
	copy(out, b.bids)
	return out
}

// isPlaceholder reports whether the book holds exactly the synthetic
// bid≈0.01/ask≈0.99 sentinel pair and nothing else. Caller must hold mu.
func (b *TokenBook) isPlaceholder() bool {
	if len(b.bids) != 1 || len(b.asks) != 1 {
		return false
	}
	return b.bids[0].Price.Equal(placeholderBid) && b.asks[0].Price.Equal(placeholderAsk)
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *TokenBook) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// Mirror holds one TokenBook per subscribed token, with per-token single
// writer ownership enforced by convention (only that token's feed dispatch
// goroutine calls ApplySnapshot/ApplyPriceChange for it).
type Mirror struct {
	mu     sync.RWMutex
	tokens map[string]*TokenBook
}

// NewMirror creates an empty book mirror.
func NewMirror() *Mirror {
	return &Mirror{tokens: make(map[string]*TokenBook)}
}

// Ensure returns the TokenBook for tokenID, creating it if absent.
func (m *Mirror) Ensure(tokenID string) *TokenBook {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tokens[tokenID]
	if !ok {
		tb = NewTokenBook(tokenID)
		m.tokens[tokenID] = tb
	}
	return tb
}

// Get returns the TokenBook for tokenID, or nil if it was never subscribed.
func (m *Mirror) Get(tokenID string) *TokenBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[tokenID]
}

// Drop removes a token's book, bounding memory after a window closes and
// its subscription is torn down.
func (m *Mirror) Drop(tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenID)
}
