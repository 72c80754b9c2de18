package riskgate

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() Config {
	return Config{
		MinConfidencePct: dec("0.001"),
		MinConfidenceAbs: map[types.Symbol]decimal.Decimal{
			types.BTC: dec("68"),
		},
		MaxTotalOutstanding: dec("500"),
		CorrelationSettle:   20 * time.Millisecond,
		CorrelationThreshold: 3,
		CorrelationAllowed:   2,
	}
}

type fakeOutstanding struct{ v decimal.Decimal }

func (f fakeOutstanding) OutstandingCost() decimal.Decimal { return f.v }

func TestEvaluateRejectsBelowRelativeConfidence(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("0")}, discardLogger())
	d := g.Evaluate(Input{
		Symbol:      types.ETH,
		WindowClose: 1,
		PriceToBeat: dec("3000"),
		ClosePrice:  dec("3000.5"), // rel = 0.000166 < 0.001
	})
	if d.Proceed {
		t.Fatalf("expected rejection on low relative confidence")
	}
}

func TestEvaluateRejectsBelowAbsoluteFloor(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("0")}, discardLogger())
	d := g.Evaluate(Input{
		Symbol:      types.BTC,
		WindowClose: 2,
		PriceToBeat: dec("60000"),
		ClosePrice:  dec("60065"), // rel = 0.00108 > 0.001, but abs diff 65 < floor 68
	})
	if d.Proceed {
		t.Fatalf("expected rejection below absolute floor for BTC")
	}
}

func TestEvaluatePassesWhenAboveBothThresholds(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("0")}, discardLogger())
	d := g.Evaluate(Input{
		Symbol:      types.BTC,
		WindowClose: 3,
		PriceToBeat: dec("60000"),
		ClosePrice:  dec("60100"),
	})
	if !d.Proceed {
		t.Fatalf("expected proceed, got reason: %s", d.Reason)
	}
	if d.Outcome != types.OutcomeUp {
		t.Errorf("outcome = %v, want Up", d.Outcome)
	}
}

func TestEvaluateRejectsOnSourceDisagreement(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("0")}, discardLogger())
	d := g.Evaluate(Input{
		Symbol:      types.ETH,
		WindowClose: 4,
		PriceToBeat: dec("3000"),
		ClosePrice:  dec("3010"), // oracle says Up
		RPCPrice:    dec("2990"), // rpc says Down
		HasRPCPrice: true,
	})
	if d.Proceed {
		t.Fatalf("expected rejection on source disagreement")
	}
}

func TestEvaluateRejectsAtPositionCap(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("500")}, discardLogger())
	d := g.Evaluate(Input{
		Symbol:      types.ETH,
		WindowClose: 5,
		PriceToBeat: dec("3000"),
		ClosePrice:  dec("3010"),
	})
	if d.Proceed {
		t.Fatalf("expected rejection at position cap")
	}
}

func TestCorrelationBreakerAdmitsOnlyTopTwoOfThree(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("0")}, discardLogger())

	type result struct {
		symbol  types.Symbol
		proceed bool
	}
	results := make(chan result, 3)

	inputs := []Input{
		{Symbol: types.BTC, WindowClose: 100, PriceToBeat: dec("60000"), ClosePrice: dec("60600")}, // rel 0.01
		{Symbol: types.ETH, WindowClose: 100, PriceToBeat: dec("3000"), ClosePrice: dec("3090")},   // rel 0.03
		{Symbol: types.SOL, WindowClose: 100, PriceToBeat: dec("150"), ClosePrice: dec("150.2")},   // rel 0.00133
	}

	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in Input) {
			defer wg.Done()
			d := g.Evaluate(in)
			results <- result{symbol: in.Symbol, proceed: d.Proceed}
		}(in)
	}
	wg.Wait()
	close(results)

	admitted := map[types.Symbol]bool{}
	for r := range results {
		admitted[r.symbol] = r.proceed
	}

	if !admitted[types.ETH] || !admitted[types.BTC] {
		t.Errorf("expected the two highest-confidence symbols (ETH, BTC) admitted, got %+v", admitted)
	}
	if admitted[types.SOL] {
		t.Errorf("expected lowest-confidence symbol (SOL) rejected by correlation breaker")
	}
}

func TestCorrelationBreakerBelowThresholdAdmitsAll(t *testing.T) {
	g := NewGate(baseConfig(), fakeOutstanding{dec("0")}, discardLogger())

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for _, in := range []Input{
		{Symbol: types.BTC, WindowClose: 200, PriceToBeat: dec("60000"), ClosePrice: dec("60600")},
		{Symbol: types.ETH, WindowClose: 200, PriceToBeat: dec("3000"), ClosePrice: dec("3090")},
	} {
		wg.Add(1)
		go func(in Input) {
			defer wg.Done()
			results <- g.Evaluate(in).Proceed
		}(in)
	}
	wg.Wait()
	close(results)

	for ok := range results {
		if !ok {
			t.Errorf("expected all symbols admitted when below correlation threshold")
		}
	}
}
