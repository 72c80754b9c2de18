// Package coordinator runs one per-symbol window state machine: arming
// subscriptions ahead of a window's close, warming order-signing metadata,
// signing orders on demand during the sweep, reading the
// captured close price, consulting the risk gate, sweeping the winning
// token's book, and journaling the result.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/book"
	"github.com/arbengine/post-close-arb/internal/discovery"
	"github.com/arbengine/post-close-arb/internal/journal"
	"github.com/arbengine/post-close-arb/internal/oracle"
	"github.com/arbengine/post-close-arb/internal/period"
	"github.com/arbengine/post-close-arb/internal/presign"
	"github.com/arbengine/post-close-arb/internal/riskgate"
	"github.com/arbengine/post-close-arb/internal/sweep"
	"github.com/arbengine/post-close-arb/internal/types"
)

// discoveryRetryInterval is how long arm waits between discovery misses
// before trying again, up to the window's prepare boundary.
const discoveryRetryInterval = 10 * time.Second

// Config tunes one coordinator's window lifecycle.
type Config struct {
	Symbol               types.Symbol
	MaxPositionPerWindow decimal.Decimal
	SweepTargetPrice     decimal.Decimal
	SweepTimeout         time.Duration
	InterOrderDelay      time.Duration
	BookWait             time.Duration
}

// Coordinator drives a single symbol's sequence of windows end to end. It
// exclusively owns this symbol's window state; everything it reads from
// (oracle cache, book mirror) is shared-read with other coordinators.
type Coordinator struct {
	cfg       Config
	clock     *period.Clock
	oracleC   *oracle.Cache
	discovery *discovery.Client
	mirror    *book.Mirror
	bookFeed  *book.Feed
	builder   *presign.Builder
	submitter sweep.Submitter
	gate      *riskgate.Gate
	journal   *journal.Journal
	logger    *slog.Logger
}

// New creates a symbol coordinator.
func New(
	cfg Config,
	clock *period.Clock,
	oracleC *oracle.Cache,
	disc *discovery.Client,
	mirror *book.Mirror,
	bookFeed *book.Feed,
	builder *presign.Builder,
	submitter sweep.Submitter,
	gate *riskgate.Gate,
	j *journal.Journal,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		clock:     clock,
		oracleC:   oracleC,
		discovery: disc,
		mirror:    mirror,
		bookFeed:  bookFeed,
		builder:   builder,
		submitter: submitter,
		gate:      gate,
		journal:   j,
		logger:    logger.With("component", "coordinator", "symbol", cfg.Symbol),
	}
}

// Run drives one window after another until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	window := c.clock.CurrentWindow(time.Now())
	if time.Now().After(c.clock.BoundariesFor(window, c.cfg.SweepTimeout).Arm) {
		// Already past this window's arm time; start at the next one instead
		// of arming too late.
		window += int64(c.clock.Duration() / time.Second)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		c.runWindow(ctx, window)
		window += int64(c.clock.Duration() / time.Second)
	}
}

// runWindow drives one window through its full lifecycle: arm, prepare,
// decide, sweep, close.
func (c *Coordinator) runWindow(ctx context.Context, windowStart int64) {
	bounds := c.clock.BoundariesFor(windowStart, c.cfg.SweepTimeout)
	logger := c.logger.With("window_start", windowStart)

	if !sleepUntil(ctx, bounds.Arm) {
		return
	}
	market, ok := c.arm(ctx, windowStart, bounds.Prepare, logger)
	if !ok {
		c.skipToClose(ctx, bounds)
		return
	}

	if !sleepUntil(ctx, bounds.Prepare) {
		c.teardown(market)
		return
	}
	pool, ok := c.prepare(ctx, market, logger)
	if !ok {
		c.journalSkip(windowStart, "presign failed")
		c.skipToClose(ctx, bounds)
		c.teardown(market)
		return
	}

	if !sleepUntil(ctx, bounds.Decide) {
		c.teardown(market)
		return
	}
	outcome, proceed := c.decide(ctx, windowStart, market, logger)
	if !proceed {
		c.skipToClose(ctx, bounds)
		c.teardown(market)
		return
	}

	c.sweepAndJournal(ctx, windowStart, market, outcome, pool, logger)

	sleepUntil(ctx, bounds.Close)
	c.teardown(market)
}

// arm resolves the market and subscribes both outcome tokens' books. A
// discovery miss (market not yet created on Gamma/CLOB) is retried every
// discoveryRetryInterval up to deadline; it is only treated as a window
// skip once the deadline passes with no resolution.
func (c *Coordinator) arm(ctx context.Context, windowStart int64, deadline time.Time, logger *slog.Logger) (types.Market, bool) {
	market, err := c.resolveWithRetry(ctx, windowStart, deadline, logger)
	if err != nil {
		logger.Warn("discovery failed, skipping window", "error", err)
		return types.Market{}, false
	}
	if err := c.bookFeed.Subscribe(market.UpTokenID, market.DownTokenID); err != nil {
		logger.Warn("book subscribe failed, skipping window", "error", err)
		return types.Market{}, false
	}
	logger.Info("armed", "condition_id", market.ConditionID)
	return market, true
}

// resolveWithRetry calls discovery.Resolve, retrying every
// discoveryRetryInterval on any failure until deadline, so a market created
// between arm time and the window's prepare boundary isn't skipped just
// because it didn't exist on the first lookup.
func (c *Coordinator) resolveWithRetry(ctx context.Context, windowStart int64, deadline time.Time, logger *slog.Logger) (types.Market, error) {
	var lastErr error
	for {
		market, err := c.discovery.Resolve(ctx, c.cfg.Symbol, windowStart)
		if err == nil {
			return market, nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			return types.Market{}, fmt.Errorf("still missing at window boundary: %w", lastErr)
		}
		logger.Debug("discovery miss, retrying", "error", err)

		next := time.Now().Add(discoveryRetryInterval)
		if next.After(deadline) {
			next = deadline
		}
		if !sleepUntil(ctx, next) {
			return types.Market{}, fmt.Errorf("context cancelled during discovery retry: %w", lastErr)
		}
	}
}

// prepare warms the pre-signer's per-token metadata cache for both outcome
// tokens so the sweep's on-demand signing never blocks on an HTTP call.
func (c *Coordinator) prepare(ctx context.Context, market types.Market, logger *slog.Logger) (*OrderPool, bool) {
	pool := NewOrderPool(c.builder)

	for _, tokenID := range []string{market.UpTokenID, market.DownTokenID} {
		if err := pool.Prepare(ctx, tokenID); err != nil {
			logger.Warn("presign warm-up failed", "token_id", tokenID, "error", err)
			return nil, false
		}
	}
	logger.Info("prepared")
	return pool, true
}

// decide reads the captured close price, checks it against the risk gate,
// and returns the winning outcome if the gate allows a sweep.
func (c *Coordinator) decide(ctx context.Context, windowStart int64, market types.Market, logger *slog.Logger) (types.Outcome, bool) {
	wc, haveCapture := c.oracleC.Capture(c.cfg.Symbol, windowStart)
	if !haveCapture || !wc.HasPriceToBeat {
		logger.Warn("no price-to-beat captured, skipping window")
		c.journalSkip(windowStart, "price-to-beat not captured")
		return types.OutcomeUnknown, false
	}

	wasStale := c.oracleC.Stale(c.cfg.Symbol)
	closePrice, ok, err := c.oracleC.ClosePrice(ctx, c.cfg.Symbol, windowStart)
	if err != nil {
		logger.Warn("close price fallback failed, skipping window", "error", err)
		c.journalSkip(windowStart, "close price unavailable: "+err.Error())
		return types.OutcomeUnknown, false
	}
	if !ok {
		logger.Warn("no close price available, skipping window")
		c.journalSkip(windowStart, "close price not captured")
		return types.OutcomeUnknown, false
	}

	in := riskgate.Input{
		Symbol:      c.cfg.Symbol,
		WindowClose: windowStart + int64(c.clock.Duration()/time.Second),
		PriceToBeat: wc.PriceToBeat.Value,
		ClosePrice:  closePrice, // the freshest reading: RPC fallback when oracle was stale
	}
	if wasStale {
		// closePrice above already came from the RPC fallback (Cache.ClosePrice
		// consults it automatically once stale); cross-check its direction
		// against the most recent oracle sample before trusting it.
		if last, ok := c.oracleC.LastSample(c.cfg.Symbol); ok {
			in.RPCPrice = last.Value
			in.HasRPCPrice = true
		}
	}

	decision := c.gate.Evaluate(in)
	if !decision.Proceed {
		logger.Info("risk gate rejected window", "reason", decision.Reason)
		c.journalSkip(windowStart, decision.Reason)
		return types.OutcomeUnknown, false
	}

	logger.Info("decided", "outcome", decision.Outcome, "price_to_beat", wc.PriceToBeat.Value, "close_price", closePrice)
	return decision.Outcome, true
}

// sweepAndJournal runs the FOK sweep against the winning token. A
// sweepJournalRecorder journals the running cumulative fill after every
// accepted fill, not just once at the end, so a crash mid-sweep never loses
// a fill that already matched at the exchange.
func (c *Coordinator) sweepAndJournal(ctx context.Context, windowStart int64, market types.Market, outcome types.Outcome, pool *OrderPool, logger *slog.Logger) {
	tokenID := market.TokenForOutcome(outcome)

	recorder := &sweepJournalRecorder{
		journal:     c.journal,
		symbol:      c.cfg.Symbol,
		windowStart: windowStart,
		conditionID: market.ConditionID,
	}

	engine := sweep.NewEngine(c.mirror, c.submitter, pool, recorder, c.logger)
	result := engine.Run(ctx, tokenID, sweep.Config{
		TargetPrice:     c.cfg.SweepTargetPrice,
		Budget:          c.cfg.MaxPositionPerWindow,
		Timeout:         c.cfg.SweepTimeout,
		InterOrderDelay: c.cfg.InterOrderDelay,
		BookWait:        c.cfg.BookWait,
	})

	if result.TotalShares.IsZero() {
		logger.Info("sweep produced no fills", "end_reason", result.EndReason)
		c.journalSkip(windowStart, "sweep: "+result.EndReason)
		return
	}

	// recorder.RecordFill already wrote the final cumulative totals as part
	// of the last fill; nothing left to append here.
	logger.Info("sweep complete", "total_cost", result.TotalCost, "total_shares", result.TotalShares, "end_reason", result.EndReason)
}

// sweepJournalRecorder adapts journal.Journal to sweep.FillRecorder,
// closing over the window context the sweep engine itself doesn't know
// about (symbol, window start, condition ID).
type sweepJournalRecorder struct {
	journal     *journal.Journal
	symbol      types.Symbol
	windowStart int64
	conditionID string
}

func (r *sweepJournalRecorder) RecordFill(tokenID string, totalCost, totalShares decimal.Decimal, fill sweep.Fill) error {
	entry := types.JournalEntry{
		Symbol:           r.symbol,
		WindowStart:      r.windowStart,
		ConditionID:      r.conditionID,
		TokenID:          tokenID,
		Side:             types.BUY,
		Cost:             totalCost,
		FilledSize:       totalShares,
		FilledAt:         time.Now(),
		ResolutionStatus: types.ResolutionPending,
		RedemptionStatus: types.RedemptionNotApplicable,
	}
	return r.journal.Append(entry)
}

func (c *Coordinator) journalSkip(windowStart int64, reason string) {
	entry := types.JournalEntry{
		Symbol:      c.cfg.Symbol,
		WindowStart: windowStart,
		SkipReason:  reason,
	}
	if err := c.journal.Append(entry); err != nil {
		c.logger.Error("journal skip-row append failed", "error", err)
	}
}

// skipToClose waits out the remainder of a skipped window so the
// coordinator's timing stays aligned with the next window's boundaries.
func (c *Coordinator) skipToClose(ctx context.Context, bounds period.Boundaries) {
	sleepUntil(ctx, bounds.Close)
}

func (c *Coordinator) teardown(market types.Market) {
	if market.ConditionID == "" {
		return
	}
	c.bookFeed.Unsubscribe(market.UpTokenID, market.DownTokenID)
}

// sleepUntil blocks until t or ctx cancellation, reporting whether it
// reached t.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
