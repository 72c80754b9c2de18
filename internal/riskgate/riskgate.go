// Package riskgate decides whether a window's confidence, cross-source
// agreement, cross-symbol correlation, and outstanding position cap allow a
// sweep to proceed.
package riskgate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

// Decision is the gate's verdict for one symbol's window.
type Decision struct {
	Proceed bool
	Outcome types.Outcome
	Reason  string // populated when Proceed is false
}

// Config holds the thresholds the gate evaluates against.
type Config struct {
	MinConfidencePct     decimal.Decimal
	MinConfidenceAbs     map[types.Symbol]decimal.Decimal
	MaxTotalOutstanding  decimal.Decimal
	CorrelationSettle    time.Duration // collection window for the correlation breaker
	CorrelationThreshold int           // symbols simultaneously trading before the breaker engages
	CorrelationAllowed   int           // how many of those are still allowed to proceed
}

// OutstandingTracker reports current unredeemed cost across all symbols,
// backing the position cap check. The journal is the source of truth.
type OutstandingTracker interface {
	OutstandingCost() decimal.Decimal
}

// Gate evaluates entry decisions for every symbol coordinator. It is shared
// by reference across coordinators; its correlation breaker holds
// process-wide mutable state.
type Gate struct {
	cfg         Config
	outstanding OutstandingTracker
	correlation *correlationGate
	logger      *slog.Logger
}

// NewGate creates a risk gate.
func NewGate(cfg Config, outstanding OutstandingTracker, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:         cfg,
		outstanding: outstanding,
		correlation: newCorrelationGate(cfg.CorrelationSettle, cfg.CorrelationThreshold, cfg.CorrelationAllowed),
		logger:      logger.With("component", "riskgate"),
	}
}

// Input bundles everything the gate needs to decide one symbol's window.
type Input struct {
	Symbol        types.Symbol
	WindowClose   int64 // epoch seconds; shared across symbols for a correlated window
	PriceToBeat   decimal.Decimal
	ClosePrice    decimal.Decimal
	RPCPrice      decimal.Decimal
	HasRPCPrice   bool
}

// Evaluate runs every check in order, short-circuiting on the first
// rejection (confidence, then source agreement, then correlation, then
// position cap) and journals the reason via the caller on reject.
func (g *Gate) Evaluate(in Input) Decision {
	diff := in.ClosePrice.Sub(in.PriceToBeat)
	outcome := types.OutcomeUp
	if diff.IsNegative() {
		outcome = types.OutcomeDown
	}

	if d := g.checkConfidence(in.Symbol, diff, in.PriceToBeat); !d.Proceed {
		return d
	}

	if in.HasRPCPrice {
		if d := checkSourceAgreement(diff, in.RPCPrice.Sub(in.PriceToBeat)); !d.Proceed {
			return d
		}
	}

	diffRatio := diff.Abs().Div(in.PriceToBeat)
	if !g.correlation.admit(in.WindowClose, in.Symbol, diffRatio) {
		return Decision{Reason: "correlation circuit breaker: too many symbols trading this window"}
	}

	if d := g.checkPositionCap(); !d.Proceed {
		return d
	}

	return Decision{Proceed: true, Outcome: outcome}
}

func (g *Gate) checkConfidence(symbol types.Symbol, diff, priceToBeat decimal.Decimal) Decision {
	if priceToBeat.IsZero() {
		return Decision{Reason: "price-to-beat is zero, cannot compute confidence"}
	}

	relConfidence := diff.Abs().Div(priceToBeat)
	if relConfidence.LessThan(g.cfg.MinConfidencePct) {
		return Decision{Reason: fmt.Sprintf("relative confidence %s below min_confidence_pct %s", relConfidence, g.cfg.MinConfidencePct)}
	}

	if floor, ok := g.cfg.MinConfidenceAbs[symbol]; ok {
		if diff.Abs().LessThan(floor) {
			return Decision{Reason: fmt.Sprintf("absolute diff %s below floor %s for %s", diff.Abs(), floor, symbol)}
		}
	}

	return Decision{Proceed: true}
}

func checkSourceAgreement(diffOracle, diffRPC decimal.Decimal) Decision {
	if sign(diffOracle) != sign(diffRPC) {
		return Decision{Reason: fmt.Sprintf("oracle/rpc sign disagreement: oracle=%s rpc=%s", diffOracle, diffRPC)}
	}
	return Decision{Proceed: true}
}

func sign(d decimal.Decimal) int {
	switch {
	case d.IsPositive():
		return 1
	case d.IsNegative():
		return -1
	default:
		return 0
	}
}

func (g *Gate) checkPositionCap() Decision {
	if g.outstanding == nil {
		return Decision{Proceed: true}
	}
	if g.cfg.MaxTotalOutstanding.IsZero() {
		return Decision{Proceed: true}
	}
	if g.outstanding.OutstandingCost().GreaterThanOrEqual(g.cfg.MaxTotalOutstanding) {
		return Decision{Reason: "total outstanding position cap reached"}
	}
	return Decision{Proceed: true}
}

// correlationGate implements the cross-symbol breaker: coordinators reaching
// "decided" for the same window boundary register their confidence ratio;
// after a short settle window, only the top CorrelationAllowed by
// |diff|/price-to-beat are admitted once CorrelationThreshold or more
// registered simultaneously.
type correlationGate struct {
	mu        sync.Mutex
	windows   map[int64]*correlationWindow
	settle    time.Duration
	threshold int
	allowed   int
}

type correlationWindow struct {
	mu      sync.Mutex
	entries []correlationEntry
	ready   chan struct{}
	result  map[types.Symbol]bool
}

type correlationEntry struct {
	symbol types.Symbol
	ratio  decimal.Decimal
}

func newCorrelationGate(settle time.Duration, threshold, allowed int) *correlationGate {
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	if threshold <= 0 {
		threshold = 3
	}
	if allowed <= 0 {
		allowed = 2
	}
	return &correlationGate{
		windows:   make(map[int64]*correlationWindow),
		settle:    settle,
		threshold: threshold,
		allowed:   allowed,
	}
}

// admit registers symbol's confidence ratio for windowClose and blocks until
// the settle window closes, then reports whether this symbol is among the
// admitted set.
func (c *correlationGate) admit(windowClose int64, symbol types.Symbol, ratio decimal.Decimal) bool {
	c.mu.Lock()
	w, ok := c.windows[windowClose]
	if !ok {
		w = &correlationWindow{ready: make(chan struct{})}
		c.windows[windowClose] = w
		go c.settleAfter(windowClose, w)
	}
	c.mu.Unlock()

	w.mu.Lock()
	w.entries = append(w.entries, correlationEntry{symbol: symbol, ratio: ratio})
	w.mu.Unlock()

	<-w.ready

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result[symbol]
}

func (c *correlationGate) settleAfter(windowClose int64, w *correlationWindow) {
	time.Sleep(c.settle)

	w.mu.Lock()
	defer w.mu.Unlock()

	result := make(map[types.Symbol]bool, len(w.entries))

	if len(w.entries) < c.threshold {
		for _, e := range w.entries {
			result[e.symbol] = true
		}
	} else {
		sorted := make([]correlationEntry, len(w.entries))
		copy(sorted, w.entries)
		for i := 1; i < len(sorted); i++ {
			for j := i; j > 0 && sorted[j].ratio.GreaterThan(sorted[j-1].ratio); j-- {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			}
		}
		limit := c.allowed
		if limit > len(sorted) {
			limit = len(sorted)
		}
		for i := 0; i < limit; i++ {
			result[sorted[i].symbol] = true
		}
	}

	w.result = result
	close(w.ready)

	c.mu.Lock()
	delete(c.windows, windowClose)
	c.mu.Unlock()
}
