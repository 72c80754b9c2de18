package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arbengine/post-close-arb/internal/types"
)

func TestSlugFormat(t *testing.T) {
	got := Slug(types.BTC, 1771820400, 5*time.Minute)
	want := "btc-updown-5m-1771820400"
	if got != want {
		t.Errorf("Slug = %q, want %q", got, want)
	}
}

func TestResolveMapsOutcomesByText(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{
			ConditionID: "0xcond123",
			Active:      true,
		})
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{
			ConditionID: "0xcond123",
			Tokens: []gammaToken{
				{Outcome: "Down", TokenID: "tok-down"},
				{Outcome: "Up", TokenID: "tok-up"},
			},
		})
	}))
	defer clob.Close()

	client := NewClient(gamma.URL, clob.URL, 5*time.Minute)
	market, err := client.Resolve(context.Background(), types.BTC, 1771820400)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if market.ConditionID != "0xcond123" {
		t.Errorf("ConditionID = %q", market.ConditionID)
	}
	if market.UpTokenID != "tok-up" || market.DownTokenID != "tok-down" {
		t.Errorf("token mapping wrong: up=%q down=%q", market.UpTokenID, market.DownTokenID)
	}
}

func TestResolveFailsClosedOnAmbiguousOutcomeText(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{ConditionID: "0xcond456"})
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{
			ConditionID: "0xcond456",
			Tokens: []gammaToken{
				{Outcome: "Yes", TokenID: "tok-a"},
				{Outcome: "No", TokenID: "tok-b"},
			},
		})
	}))
	defer clob.Close()

	client := NewClient(gamma.URL, clob.URL, 5*time.Minute)
	_, err := client.Resolve(context.Background(), types.ETH, 1771820400)
	if err == nil {
		t.Fatal("expected error on unrecognized outcome text, got nil")
	}
}

func TestResolveFailsClosedOnDuplicateOutcome(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{ConditionID: "0xcond789"})
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{
			ConditionID: "0xcond789",
			Tokens: []gammaToken{
				{Outcome: "Up", TokenID: "tok-a"},
				{Outcome: "Up", TokenID: "tok-b"},
			},
		})
	}))
	defer clob.Close()

	client := NewClient(gamma.URL, clob.URL, 5*time.Minute)
	_, err := client.Resolve(context.Background(), types.SOL, 1771820400)
	if err == nil || !strings.Contains(err.Error(), "multiple tokens matched") {
		t.Fatalf("expected duplicate-outcome error, got %v", err)
	}
}

func TestResolveFailsClosedOnWrongTokenCount(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{ConditionID: "0xcondABC"})
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gammaMarket{
			ConditionID: "0xcondABC",
			Tokens:      []gammaToken{{Outcome: "Up", TokenID: "tok-a"}},
		})
	}))
	defer clob.Close()

	client := NewClient(gamma.URL, clob.URL, 5*time.Minute)
	_, err := client.Resolve(context.Background(), types.XRP, 1771820400)
	if err == nil {
		t.Fatal("expected error on missing second token")
	}
}
