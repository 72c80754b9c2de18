// Package sweep drains the winning token's order book under a cost budget,
// a time budget, and the submitter's shared rate limit once a window's
// winner has been decided.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/book"
	"github.com/arbengine/post-close-arb/internal/types"
)

// minTradeableSize is the floor below which an order_size is not worth
// submitting; sweeping stops offering a level once it would fall under this.
var minTradeableSize = decimal.RequireFromString("1")

// Submitter is the narrow interface the sweep engine needs from the shared
// order submission session.
type Submitter interface {
	Submit(ctx context.Context, order types.PreSignedOrder, intent types.OrderIntent) types.ExecutionResult
}

// OrderSource signs a FOK order for a token at a specific price/size rung,
// sized to whatever the live book just offered.
type OrderSource interface {
	OrderFor(ctx context.Context, tokenID string, price, size decimal.Decimal) (types.PreSignedOrder, bool)
}

// FillRecorder journals sweep progress immediately after each accepted
// fill, with the running totals so far, so a crash mid-sweep never loses a
// fill that already matched.
type FillRecorder interface {
	RecordFill(tokenID string, totalCost, totalShares decimal.Decimal, fill Fill) error
}

// Config tunes one sweep run.
type Config struct {
	TargetPrice       decimal.Decimal
	Budget            decimal.Decimal
	Timeout           time.Duration
	InterOrderDelay   time.Duration
	BookWait          time.Duration
}

// Fill is one accepted (partial or full) execution, reported to the caller
// so it can be journaled immediately.
type Fill struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Result summarizes one sweep run.
type Result struct {
	TotalCost   decimal.Decimal
	TotalShares decimal.Decimal
	Fills       []Fill
	EndReason   string // "budget_exhausted", "timeout", "no_liquidity"
}

// Engine runs the FOK sweep loop for one token.
type Engine struct {
	mirror    *book.Mirror
	submitter Submitter
	orders    OrderSource
	recorder  FillRecorder
	logger    *slog.Logger
}

// NewEngine creates a sweep engine sharing the book mirror and submitter
// with the rest of the process. recorder may be nil, in which case fills
// are only reflected in the returned Result.
func NewEngine(mirror *book.Mirror, submitter Submitter, orders OrderSource, recorder FillRecorder, logger *slog.Logger) *Engine {
	return &Engine{
		mirror:    mirror,
		submitter: submitter,
		orders:    orders,
		recorder:  recorder,
		logger:    logger.With("component", "sweep"),
	}
}

// Run drains tokenID's asks until the budget is exhausted, the timeout
// elapses, or no eligible liquidity remains. The loop invariant
// total_cost <= cfg.Budget holds at every observation point.
func (e *Engine) Run(ctx context.Context, tokenID string, cfg Config) Result {
	deadline := time.Now().Add(cfg.Timeout)
	result := Result{TotalCost: decimal.Zero, TotalShares: decimal.Zero}

	tb := e.mirror.Get(tokenID)
	if tb == nil {
		result.EndReason = "no_liquidity"
		return result
	}

	// Levels this run already filled from, keyed by price and size as last
	// seen; a level is offered again only once the book shows it changed.
	swept := make(map[string]bool)

	for {
		if time.Now().After(deadline) {
			result.EndReason = "timeout"
			return result
		}
		remaining := cfg.Budget.Sub(result.TotalCost)
		if !remaining.IsPositive() {
			result.EndReason = "budget_exhausted"
			return result
		}

		asks := eligibleAsks(tb.Asks(), cfg.TargetPrice)
		if len(asks) == 0 {
			if !e.waitForBookEvent(ctx, tb, cfg.BookWait) {
				result.EndReason = "no_liquidity"
				return result
			}
			continue
		}

		progressed := false
		for _, ask := range asks {
			remaining = cfg.Budget.Sub(result.TotalCost)
			if !remaining.IsPositive() {
				result.EndReason = "budget_exhausted"
				return result
			}

			key := ask.Price.String() + "@" + ask.Size.String()
			if swept[key] {
				continue
			}

			size := orderSize(ask, remaining)
			if size.LessThan(minTradeableSize) {
				continue
			}

			fill, filled := e.sweepLevel(ctx, tokenID, ask.Price, size)
			if filled {
				swept[key] = true
				result.TotalCost = result.TotalCost.Add(fill.Price.Mul(fill.Size))
				result.TotalShares = result.TotalShares.Add(fill.Size)
				result.Fills = append(result.Fills, fill)
				progressed = true

				if e.recorder != nil {
					if err := e.recorder.RecordFill(tokenID, result.TotalCost, result.TotalShares, fill); err != nil {
						e.logger.Error("fill recorder failed", "token_id", tokenID, "error", err)
					}
				}
			}

			sleepOrDone(ctx, cfg.InterOrderDelay)
		}

		if !progressed {
			result.EndReason = "no_liquidity"
			return result
		}
	}
}

// sweepLevel submits an FOK at price for size, retrying at 90% then 50% of
// size after any rejection (the rejection reason is not inspected), and
// giving up the level on a network error or when the 50% attempt is also
// rejected.
func (e *Engine) sweepLevel(ctx context.Context, tokenID string, price, size decimal.Decimal) (Fill, bool) {
	for _, fraction := range []decimal.Decimal{decimal.NewFromInt(1), decimal.RequireFromString("0.9"), decimal.RequireFromString("0.5")} {
		trySize := size.Mul(fraction).Truncate(2)
		if trySize.LessThan(minTradeableSize) {
			return Fill{}, false
		}

		order, ok := e.orders.OrderFor(ctx, tokenID, price, trySize)
		if !ok {
			e.logger.Warn("no pre-signed order available for rung", "token_id", tokenID, "price", price, "size", trySize)
			return Fill{}, false
		}

		intent := types.OrderIntent{
			TokenID:  tokenID,
			Side:     types.BUY,
			Price:    price,
			Size:     trySize,
			Type:     types.FOK,
			Strategy: "post-close-sweep",
		}

		result := e.submitter.Submit(ctx, order, intent)
		switch result.Status {
		case types.Filled, types.PartiallyFilled:
			if result.FilledSize.IsZero() {
				return Fill{}, false
			}
			avgPrice := result.FilledPriceAvg
			if avgPrice.IsZero() {
				avgPrice = price
			}
			return Fill{Price: avgPrice, Size: result.FilledSize}, true
		case types.NetworkError:
			e.logger.Warn("network error sweeping level, giving up level", "token_id", tokenID, "price", price, "error", result.Err)
			return Fill{}, false
		case types.Rejected:
			e.logger.Debug("rejected, retrying at smaller size", "token_id", tokenID, "price", price, "size", trySize)
			continue
		}
	}
	return Fill{}, false
}

// waitForBookEvent blocks up to wait for the number of ask levels in the
// mirror's book to change, polling since the mirror has no
// event-notification channel. A change in price or size that leaves the
// level count the same is not detected.
func (e *Engine) waitForBookEvent(ctx context.Context, tb *book.TokenBook, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	before := len(tb.Asks())
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if len(tb.Asks()) != before {
				return true
			}
		}
	}
	return false
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// eligibleAsks filters asks to price <= targetPrice and size > 0; the
// mirror already returns levels sorted ascending by price.
func eligibleAsks(asks []book.Level, targetPrice decimal.Decimal) []book.Level {
	out := make([]book.Level, 0, len(asks))
	for _, a := range asks {
		if a.Price.GreaterThan(targetPrice) {
			continue
		}
		if !a.Size.IsPositive() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// orderSize computes min(ask.size, remaining_budget / ask.price).
func orderSize(ask book.Level, remaining decimal.Decimal) decimal.Decimal {
	affordable := remaining.Div(ask.Price)
	if affordable.LessThan(ask.Size) {
		return affordable.Truncate(2)
	}
	return ask.Size
}
