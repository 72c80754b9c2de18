package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/presign"
	"github.com/arbengine/post-close-arb/internal/types"
)

// OrderPool signs BUY orders for one window's outcome tokens on demand, at
// whatever price and size the sweep loop actually asks for. Prepare warms
// each token's fee-rate/tick-size metadata at T-5s with an HTTP round trip,
// so the only work left on the sweep's critical path is the signature
// itself — a single local ecdsa.Sign call, not a network request.
//
// Earlier revisions pre-signed a fixed grid of budget-fraction sizes per
// price rung and matched sweep requests against it by exact (price, size)
// key. That grid could never match a live ask: the sweep always sizes an
// order off the resting ask's own size (min(ask.size, budget/price)), which
// has no reason to equal a multiple of the pre-computed budget fractions.
// Signing on demand removes that mismatch entirely.
type OrderPool struct {
	builder *presign.Builder

	mu     sync.RWMutex
	warmed map[string]struct{}
}

// NewOrderPool creates a pool backed by builder.
func NewOrderPool(builder *presign.Builder) *OrderPool {
	return &OrderPool{builder: builder, warmed: make(map[string]struct{})}
}

// Prepare warms tokenID's cached fee/tick-size metadata ahead of the
// window's close.
func (p *OrderPool) Prepare(ctx context.Context, tokenID string) error {
	if _, err := p.builder.TokenMeta(ctx, tokenID); err != nil {
		return fmt.Errorf("warm token meta for %s: %w", tokenID, err)
	}
	p.mu.Lock()
	p.warmed[tokenID] = struct{}{}
	p.mu.Unlock()
	return nil
}

// OrderFor implements sweep.OrderSource: it signs a fresh BUY order for
// exactly the requested price and size. It returns false only when tokenID
// was never warmed for this window — a sweep must never run against a token
// outside its own prepared pair.
func (p *OrderPool) OrderFor(ctx context.Context, tokenID string, price, size decimal.Decimal) (types.PreSignedOrder, bool) {
	p.mu.RLock()
	_, ok := p.warmed[tokenID]
	p.mu.RUnlock()
	if !ok {
		return types.PreSignedOrder{}, false
	}

	orders, err := p.builder.BuildRungs(ctx, tokenID, size, []decimal.Decimal{price})
	if err != nil || len(orders) == 0 {
		return types.PreSignedOrder{}, false
	}
	return orders[0], true
}

// Drop forgets a token's warmed state once its window has closed.
func (p *OrderPool) Drop(tokenID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.warmed, tokenID)
}
