package presign

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// HTTPMetaSource fetches fee-rate and tick-size metadata from the CLOB API.
// One HTTP call per token, cached by the Builder for the process lifetime.
type HTTPMetaSource struct {
	http *resty.Client
}

// NewHTTPMetaSource creates a MetaSource pointed at the CLOB base URL.
func NewHTTPMetaSource(clobBaseURL string) *HTTPMetaSource {
	return &HTTPMetaSource{
		http: resty.New().
			SetBaseURL(clobBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
}

type tokenMetaResponse struct {
	TickSize   string `json:"tick_size"`
	FeeRateBps int    `json:"maker_base_fee"`
}

// TokenMeta fetches the tick size and fee rate for a single token.
func (s *HTTPMetaSource) TokenMeta(ctx context.Context, tokenID string) (TokenMeta, error) {
	var resp tokenMetaResponse
	httpResp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&resp).
		Get("/tick-size")
	if err != nil {
		return TokenMeta{}, fmt.Errorf("request: %w", err)
	}
	if httpResp.IsError() {
		return TokenMeta{}, fmt.Errorf("status %d: %s", httpResp.StatusCode(), httpResp.String())
	}

	tick := decimal.RequireFromString("0.01")
	if resp.TickSize != "" {
		parsed, err := decimal.NewFromString(resp.TickSize)
		if err != nil {
			return TokenMeta{}, fmt.Errorf("parse tick_size %q: %w", resp.TickSize, err)
		}
		tick = parsed
	}

	return TokenMeta{
		FeeRateBps:     resp.FeeRateBps,
		TickSize:       tick,
		AmountDecimals: amountDecimalsForTick(tick),
	}, nil
}

// amountDecimalsForTick maps a tick size to the amount-decimal precision
// used for order cost: 0.1 -> 3, 0.01 -> 2, 0.001 -> 4, 0.0001 -> 6, and 2
// for any other tick size.
func amountDecimalsForTick(tick decimal.Decimal) int {
	switch tick.String() {
	case "0.1":
		return 3
	case "0.01":
		return 2
	case "0.001":
		return 4
	case "0.0001":
		return 6
	default:
		return 2
	}
}
