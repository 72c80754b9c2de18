// Package submit sends pre-signed FOK orders through one authenticated,
// rate-limited HTTP session shared across every symbol coordinator.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

// orderResponse is the CLOB API's response to a submitted order.
type orderResponse struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"orderID"`
	Status        string `json:"status"` // "matched", "unmatched", "delayed"
	MakingAmount  string `json:"makingAmount"`
	TakingAmount  string `json:"takingAmount"`
	ErrorMsg      string `json:"errorMsg"`
}

// Submitter posts pre-signed orders to the CLOB API, enforcing an
// account-wide rate limit and distinguishing transport failures
// (NetworkError, safe to treat as indeterminate) from application-level
// rejections (Rejected, never retried).
type Submitter struct {
	http    *resty.Client
	session *Session
	limiter *TokenBucket
	dryRun  bool

	wg sync.WaitGroup
}

// NewSubmitter creates a Submitter. ratePerSec bounds account-wide
// submission throughput (spec default 10 req/s).
func NewSubmitter(baseURL string, session *Session, ratePerSec float64, dryRun bool) *Submitter {
	return &Submitter{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
		session: session,
		limiter: NewTokenBucket(ratePerSec, ratePerSec),
		dryRun:  dryRun,
	}
}

// Submit posts one pre-signed FOK order and blocks until the match result
// is known. It never retries a rejected order — a FOK rejection means the
// book moved and the caller should re-evaluate with fresh book state, not
// resend the same signed payload.
//
// ctx governs only the rate-limiter wait. Once a request is actually
// dispatched it runs to completion on its own bounded timeout regardless of
// ctx's cancellation, so a shutdown signal can never abort an order that is
// already in flight at the exchange; Stop waits for that completion before
// the process exits.
func (s *Submitter) Submit(ctx context.Context, order types.PreSignedOrder, intent types.OrderIntent) types.ExecutionResult {
	if err := s.limiter.Wait(ctx); err != nil {
		return types.ExecutionResult{Intent: intent, Status: types.NetworkError, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	if s.dryRun {
		return types.ExecutionResult{
			Intent:         intent,
			Status:         types.Filled,
			FilledSize:     order.Size,
			FilledPriceAvg: order.Price,
			ExternalID:     "dry-run",
		}
	}

	s.wg.Add(1)
	defer s.wg.Done()

	reqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	headers, err := s.session.Headers(http.MethodPost, "/order", string(order.SignedBody))
	if err != nil {
		return types.ExecutionResult{Intent: intent, Status: types.NetworkError, Err: fmt.Errorf("build auth headers: %w", err)}
	}

	var result orderResponse
	resp, err := s.http.R().
		SetContext(reqCtx).
		SetHeaders(headers).
		SetBody(json.RawMessage(order.SignedBody)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return types.ExecutionResult{Intent: intent, Status: types.NetworkError, Err: fmt.Errorf("post order: %w", err)}
	}
	if resp.StatusCode() >= 500 {
		return types.ExecutionResult{Intent: intent, Status: types.NetworkError, Err: fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())}
	}
	if resp.StatusCode() >= 400 || !result.Success {
		reason := result.ErrorMsg
		if reason == "" {
			reason = resp.String()
		}
		return types.ExecutionResult{Intent: intent, Status: types.Rejected, Err: fmt.Errorf("order rejected: %s", reason)}
	}

	return classifyFill(order, intent, result)
}

// Stop blocks until every in-flight submission completes, or timeout
// elapses, whichever comes first. Call it during graceful shutdown after
// every coordinator has been joined, so the journal's last Append for any
// in-flight order happens before the process exits.
func (s *Submitter) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// classifyFill interprets a successful response's match status. A FOK order
// is either fully matched (Filled) or, in case the venue partially honors
// it before cancelling the remainder, reports the filled remainder
// (PartiallyFilled); anything else is a rejection.
func classifyFill(order types.PreSignedOrder, intent types.OrderIntent, result orderResponse) types.ExecutionResult {
	switch result.Status {
	case "matched":
		filled := order.Size
		if result.TakingAmount != "" {
			if amt, err := decimal.NewFromString(result.TakingAmount); err == nil {
				filled = amt.Shift(-6)
			}
		}
		status := types.Filled
		if filled.LessThan(order.Size) {
			status = types.PartiallyFilled
		}
		return types.ExecutionResult{
			Intent:         intent,
			Status:         status,
			FilledSize:     filled,
			FilledPriceAvg: order.Price,
			ExternalID:     result.OrderID,
		}
	default:
		return types.ExecutionResult{
			Intent:     intent,
			Status:     types.Rejected,
			ExternalID: result.OrderID,
			Err:        fmt.Errorf("order not matched: status %q", result.Status),
		}
	}
}
