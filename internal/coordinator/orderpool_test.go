package coordinator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/presign"
)

const testPrivateKey = "1111111111111111111111111111111111111111111111111111111111111111"

type fakeMetaSource struct{ meta presign.TokenMeta }

func (f fakeMetaSource) TokenMeta(ctx context.Context, tokenID string) (presign.TokenMeta, error) {
	return f.meta, nil
}

func newTestBuilder(t *testing.T) *presign.Builder {
	t.Helper()
	signer, err := presign.NewSigner(testPrivateKey, "", 137, 0)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	meta := fakeMetaSource{meta: presign.TokenMeta{FeeRateBps: 0, TickSize: decimal.RequireFromString("0.01"), AmountDecimals: 2}}
	return presign.NewBuilder(signer, meta)
}

// TestOrderForSignsExactBookDerivedSize is scenario 1 from the sweep spec:
// an ask much smaller than the per-window budget must still get a signed
// order at its own size, not a miss because that size wasn't part of some
// pre-computed grid.
func TestOrderForSignsExactBookDerivedSize(t *testing.T) {
	builder := newTestBuilder(t)
	pool := NewOrderPool(builder)

	if err := pool.Prepare(context.Background(), "tok-up"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	price := decimal.RequireFromString("0.99")
	size := decimal.RequireFromString("200")

	order, ok := pool.OrderFor(context.Background(), "tok-up", price, size)
	if !ok {
		t.Fatalf("expected a signed order for an arbitrary book-derived size")
	}
	if !order.Price.Equal(price) || !order.Size.Equal(size) {
		t.Errorf("order = (price %s, size %s), want (%s, %s)", order.Price, order.Size, price, size)
	}
}

func TestOrderForMissesForUnpreparedToken(t *testing.T) {
	builder := newTestBuilder(t)
	pool := NewOrderPool(builder)

	if err := pool.Prepare(context.Background(), "tok-up"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if _, ok := pool.OrderFor(context.Background(), "tok-down", decimal.RequireFromString("0.01"), decimal.RequireFromString("1")); ok {
		t.Errorf("expected miss for a token never prepared this window")
	}
}

func TestDropRemovesToken(t *testing.T) {
	builder := newTestBuilder(t)
	pool := NewOrderPool(builder)

	if err := pool.Prepare(context.Background(), "tok-up"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	pool.Drop("tok-up")

	if _, ok := pool.OrderFor(context.Background(), "tok-up", decimal.RequireFromString("0.01"), decimal.RequireFromString("5000")); ok {
		t.Errorf("expected miss after Drop")
	}
}
