// Package discovery resolves the market identifier and outcome token IDs
// for a (symbol, window-start) pair via the Gamma and CLOB HTTP APIs.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arbengine/post-close-arb/internal/types"
)

// gammaMarket is the subset of the Gamma public-search response this
// package needs.
type gammaMarket struct {
	ConditionID string       `json:"conditionId"`
	Active      bool         `json:"active"`
	Closed      bool         `json:"closed"`
	EndDateISO  string       `json:"endDateISO"`
	Tokens      []gammaToken `json:"tokens"`
}

type gammaToken struct {
	Outcome string `json:"outcome"`
	TokenID string `json:"token_id"`
	Winner  bool   `json:"winner"`
}

type gammaSearchResponse struct {
	Events []gammaEvent `json:"events"`
}

type gammaEvent struct {
	Markets []gammaMarket `json:"markets"`
}

// Client resolves markets by slug against Gamma and CLOB.
type Client struct {
	gamma *resty.Client
	clob  *resty.Client
	dur   time.Duration
}

// NewClient creates a discovery client. gammaBaseURL and clobBaseURL are the
// two HTTP API base URLs named in the external interfaces; duration is the
// window length used to build the deterministic slug.
func NewClient(gammaBaseURL, clobBaseURL string, duration time.Duration) *Client {
	return &Client{
		gamma: resty.New().
			SetBaseURL(gammaBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		clob: resty.New().
			SetBaseURL(clobBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		dur: duration,
	}
}

// Slug returns the deterministic slug for a (symbol, window-start) pair.
func Slug(symbol types.Symbol, windowStart int64, duration time.Duration) string {
	minutes := int64(duration / time.Minute)
	return fmt.Sprintf("%s-updown-%dm-%d", symbol, minutes, windowStart)
}

// Resolve looks up the market for (symbol, windowStart) and returns its
// condition ID plus up/down token IDs. Results must not be cached across
// windows: every call hits the network. Any ambiguity in outcome-token
// mapping fails closed — the caller should treat a non-nil error as
// "skip this window", never retry with a guessed mapping.
func (c *Client) Resolve(ctx context.Context, symbol types.Symbol, windowStart int64) (types.Market, error) {
	slug := Slug(symbol, windowStart, c.dur)

	market, err := c.fetchGamma(ctx, slug)
	if err != nil {
		return types.Market{}, fmt.Errorf("discovery: gamma lookup %q: %w", slug, err)
	}

	tokens, err := c.fetchClobTokens(ctx, market.ConditionID)
	if err != nil {
		return types.Market{}, fmt.Errorf("discovery: clob lookup %q: %w", market.ConditionID, err)
	}

	return mapOutcomes(market.ConditionID, tokens)
}

func (c *Client) fetchGamma(ctx context.Context, slug string) (gammaMarket, error) {
	var direct gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&direct).
		Get("/public-search")
	if err != nil {
		return gammaMarket{}, fmt.Errorf("request: %w", err)
	}
	if resp.IsError() {
		return gammaMarket{}, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if direct.ConditionID != "" {
		return direct, nil
	}

	// Gamma's public-search wraps results in events; fall back to that shape.
	var wrapped gammaSearchResponse
	if _, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&wrapped).
		Get("/public-search"); err != nil {
		return gammaMarket{}, fmt.Errorf("request (wrapped): %w", err)
	}
	for _, evt := range wrapped.Events {
		for _, m := range evt.Markets {
			if m.ConditionID != "" {
				return m, nil
			}
		}
	}

	return gammaMarket{}, fmt.Errorf("no market found for slug %q", slug)
}

func (c *Client) fetchClobTokens(ctx context.Context, conditionID string) ([]gammaToken, error) {
	var market gammaMarket
	resp, err := c.clob.R().
		SetContext(ctx).
		SetResult(&market).
		Get("/markets/" + conditionID)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(market.Tokens) != 2 {
		return nil, fmt.Errorf("expected 2 outcome tokens, got %d", len(market.Tokens))
	}
	return market.Tokens, nil
}

// mapOutcomes verifies the outcome text against the live response and fails
// closed on any ambiguity. It never infers the mapping from a hard-coded
// index ("outcome == 0 → Down"); both token outcome strings must be read
// and exactly one must contain "UP" and one "DOWN".
func mapOutcomes(conditionID string, tokens []gammaToken) (types.Market, error) {
	var upToken, downToken string

	for _, tok := range tokens {
		text := strings.ToUpper(strings.TrimSpace(tok.Outcome))
		switch {
		case strings.Contains(text, "UP"):
			if upToken != "" {
				return types.Market{}, fmt.Errorf("multiple tokens matched UP outcome for condition %q", conditionID)
			}
			upToken = tok.TokenID
		case strings.Contains(text, "DOWN"):
			if downToken != "" {
				return types.Market{}, fmt.Errorf("multiple tokens matched DOWN outcome for condition %q", conditionID)
			}
			downToken = tok.TokenID
		default:
			return types.Market{}, fmt.Errorf("unrecognized outcome text %q for condition %q", tok.Outcome, conditionID)
		}
	}

	if upToken == "" || downToken == "" {
		return types.Market{}, fmt.Errorf("incomplete outcome mapping for condition %q (up=%q down=%q)", conditionID, upToken, downToken)
	}

	return types.Market{
		ConditionID: conditionID,
		UpTokenID:   upToken,
		DownTokenID: downToken,
	}, nil
}
