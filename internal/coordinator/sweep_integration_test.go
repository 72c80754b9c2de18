package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/book"
	"github.com/arbengine/post-close-arb/internal/sweep"
	"github.com/arbengine/post-close-arb/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFillSubmitter fills every order in full, echoing its exact price and
// size back so the test can assert on the real pool's signed sizes.
type fakeFillSubmitter struct{ calls int }

func (f *fakeFillSubmitter) Submit(ctx context.Context, order types.PreSignedOrder, intent types.OrderIntent) types.ExecutionResult {
	f.calls++
	return types.ExecutionResult{
		Intent:         intent,
		Status:         types.Filled,
		FilledSize:     order.Size,
		FilledPriceAvg: order.Price,
	}
}

// TestSweepFillsRealOrderPoolAgainstBookDerivedSize is scenario 1: a single
// ask much smaller than the window's budget must still produce a full fill
// through the real OrderPool, not a miss against a pre-computed size grid.
func TestSweepFillsRealOrderPoolAgainstBookDerivedSize(t *testing.T) {
	builder := newTestBuilder(t)
	pool := NewOrderPool(builder)
	if err := pool.Prepare(context.Background(), "tok-up"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	mirror := book.NewMirror()
	tb := mirror.Ensure("tok-up")
	tb.ApplySnapshot(nil, []book.Level{
		{Price: decimal.RequireFromString("0.99"), Size: decimal.RequireFromString("200")},
	})

	sub := &fakeFillSubmitter{}
	engine := sweep.NewEngine(mirror, sub, pool, nil, discardLogger())

	result := engine.Run(context.Background(), "tok-up", sweep.Config{
		TargetPrice:     decimal.RequireFromString("0.99"),
		Budget:          decimal.RequireFromString("500"),
		Timeout:         2 * time.Second,
		InterOrderDelay: 0,
		BookWait:        30 * time.Millisecond,
	})

	if len(result.Fills) != 1 {
		t.Fatalf("expected exactly one fill, got %d (end_reason=%s)", len(result.Fills), result.EndReason)
	}
	if !result.Fills[0].Size.Equal(decimal.RequireFromString("200")) {
		t.Errorf("fill size = %s, want 200 (the ask's own size)", result.Fills[0].Size)
	}
	if !result.TotalCost.Equal(decimal.RequireFromString("198")) {
		t.Errorf("total cost = %s, want 198 (200 shares at 0.99)", result.TotalCost)
	}
	if sub.calls != 1 {
		t.Errorf("expected exactly one submit call, got %d", sub.calls)
	}
}
