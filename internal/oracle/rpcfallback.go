package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

// HTTPFallbackSource queries a JSON-RPC relay for a symbol's current price
// when the streamed oracle feed is missing or stale. It is an out-of-scope
// collaborator: the actual chain call (a Chainlink aggregator's
// latestRoundData, or an equivalent price relay) lives behind this one HTTP
// hop so the cache never needs to know about ABI encoding or node selection.
type HTTPFallbackSource struct {
	http *resty.Client
}

// NewHTTPFallbackSource creates a FallbackSource pointed at an RPC relay
// base URL.
func NewHTTPFallbackSource(rpcBaseURL string) *HTTPFallbackSource {
	return &HTTPFallbackSource{
		http: resty.New().
			SetBaseURL(rpcBaseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(1).
			SetRetryWaitTime(250 * time.Millisecond),
	}
}

type priceNowResponse struct {
	Price string `json:"price"`
}

// PriceNow fetches the current price for symbol from the relay.
func (s *HTTPFallbackSource) PriceNow(ctx context.Context, symbol types.Symbol) (decimal.Decimal, error) {
	var resp priceNowResponse
	httpResp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&resp).
		Get("/price")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("request: %w", err)
	}
	if httpResp.IsError() {
		return decimal.Decimal{}, fmt.Errorf("status %d: %s", httpResp.StatusCode(), httpResp.String())
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", resp.Price, err)
	}
	return price, nil
}
