// Package types defines shared data structures used across all packages of
// the arbitrage engine. This is the common vocabulary — symbols, windows,
// oracle samples, book levels, markets, orders, and execution results. It
// has no dependencies on other internal packages, so it can be imported by
// any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Symbols and windows
// ————————————————————————————————————————————————————————————————————————

// Symbol is one of the small, fixed set of crypto symbols this engine trades.
type Symbol string

const (
	BTC Symbol = "btc"
	ETH Symbol = "eth"
	SOL Symbol = "sol"
	XRP Symbol = "xrp"
)

// WindowState is the lifecycle stage of a single (symbol, window-start) round.
type WindowState string

const (
	StatePending   WindowState = "pending"
	StateArmed     WindowState = "armed"
	StatePrepared  WindowState = "prepared"
	StateDecided   WindowState = "decided"
	StateSweeping  WindowState = "sweeping"
	StateClosed    WindowState = "closed"
	StateResolved  WindowState = "resolved"
	StateRedeemed  WindowState = "redeemed"
)

// Outcome identifies the winning side of a window.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeUp
	OutcomeDown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUp:
		return "up"
	case OutcomeDown:
		return "down"
	default:
		return "unknown"
	}
}

// Window identifies one aligned arbitrage round for a symbol.
type Window struct {
	Symbol     Symbol
	StartEpoch int64 // unix seconds, exact multiple of the window duration
}

// ————————————————————————————————————————————————————————————————————————
// Oracle
// ————————————————————————————————————————————————————————————————————————

// PriceSample is a single oracle tick.
type PriceSample struct {
	Symbol        Symbol
	OracleTSMs    int64 // oracle-reported timestamp, ms
	Value         decimal.Decimal
	ReceivedAtMs  int64 // local wall-clock receive time, ms
}

// WindowCapture holds the price-to-beat and close-price samples for one window.
// Either field may be zero-valued (absent) if the engine missed the capture.
type WindowCapture struct {
	PriceToBeat    PriceSample
	HasPriceToBeat bool
	ClosePrice     PriceSample
	HasClosePrice  bool
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is a single aggregated price level.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Market / discovery
// ————————————————————————————————————————————————————————————————————————

// Market identifies a resolved binary prediction market for one window.
type Market struct {
	ConditionID string
	UpTokenID   string
	DownTokenID string
}

// TokenForOutcome returns the token ID for the given outcome.
func (m Market) TokenForOutcome(o Outcome) string {
	if o == OutcomeUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// ————————————————————————————————————————————————————————————————————————
// Orders and execution
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of an order. This engine only ever buys.
type Side string

const (
	BUY Side = "BUY"
)

// OrderType enumerates submission policies. This engine only ever uses FOK.
type OrderType string

const (
	FOK OrderType = "FOK"
)

// OrderIntent is a high-level description of an order the sweep engine wants
// to place, submitted alongside the signed payload for the same price and
// size.
type OrderIntent struct {
	TokenID  string
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Type     OrderType
	Strategy string
	Reason   string
}

// PreSignedOrder is a fully serialized, signed payload for an intent at one
// price and size. It carries no wall-clock expiration (Expiration is "0"),
// so it remains valid from the moment it is signed (SignedAt) onward, by
// construction.
type PreSignedOrder struct {
	TokenID     string
	Price       decimal.Decimal
	Size        decimal.Decimal
	Salt        string
	Nonce       string
	Expiration  string
	FeeRateBps  string
	SignedBody  []byte // JSON-serialized SignedOrder payload ready to POST
	SignedAt    time.Time
}

// ExecutionStatus is the outcome of a submitted order.
type ExecutionStatus string

const (
	Filled          ExecutionStatus = "filled"
	PartiallyFilled ExecutionStatus = "partially_filled"
	Rejected        ExecutionStatus = "rejected"
	NetworkError    ExecutionStatus = "network_error"
)

// ExecutionResult is what the submitter returns for a submitted order.
type ExecutionResult struct {
	Intent         OrderIntent
	Status         ExecutionStatus
	FilledSize     decimal.Decimal
	FilledPriceAvg decimal.Decimal
	ExternalID     string
	Err            error
}

// ————————————————————————————————————————————————————————————————————————
// Journal
// ————————————————————————————————————————————————————————————————————————

// ResolutionStatus tracks whether a market's outcome has been observed by
// the external resolution watcher.
type ResolutionStatus string

const (
	ResolutionPending ResolutionStatus = "pending"
	ResolutionWon     ResolutionStatus = "won"
	ResolutionLost    ResolutionStatus = "lost"
)

// RedemptionStatus tracks whether an external worker has redeemed a won
// position on-chain.
type RedemptionStatus string

const (
	RedemptionNotApplicable RedemptionStatus = "n/a"
	RedemptionPending       RedemptionStatus = "pending"
	RedemptionComplete      RedemptionStatus = "complete"
)

// JournalEntry is an append-only record of a window's cumulative fill totals,
// or a reason-only row for a skipped window. Resolution and redemption
// updates are appended as new rows; on replay the latest row for a
// (symbol, window) supersedes the earlier ones.
type JournalEntry struct {
	Symbol           Symbol           `json:"symbol"`
	WindowStart      int64            `json:"window_start"`
	ConditionID      string           `json:"condition_id,omitempty"`
	TokenID          string           `json:"token_id,omitempty"`
	Side             Side             `json:"side,omitempty"`
	Cost             decimal.Decimal  `json:"cost"`
	FilledSize       decimal.Decimal  `json:"filled_size"`
	FilledAt         time.Time        `json:"filled_at"`
	SkipReason       string           `json:"skip_reason,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	RedemptionStatus RedemptionStatus `json:"redemption_status"`
	RedemptionTx     string           `json:"redemption_tx,omitempty"`
}

// IsPosition reports whether this row records an actual fill (as opposed to
// a reason-only skip row).
func (e JournalEntry) IsPosition() bool {
	return e.TokenID != "" && e.FilledSize.IsPositive()
}
