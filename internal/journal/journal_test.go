package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fillEntry(symbol types.Symbol, windowStart int64, cost string) types.JournalEntry {
	return types.JournalEntry{
		Symbol:           symbol,
		WindowStart:      windowStart,
		ConditionID:      "cond-1",
		TokenID:          "tok-up",
		Side:             types.BUY,
		Cost:             dec(cost),
		FilledSize:       dec("200"),
		FilledAt:         time.Unix(windowStart, 0),
		ResolutionStatus: types.ResolutionPending,
		RedemptionStatus: types.RedemptionNotApplicable,
	}
}

func TestAppendAndOutstandingCost(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.Append(fillEntry(types.BTC, 100, "198")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(fillEntry(types.ETH, 100, "150")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if !j.OutstandingCost().Equal(dec("348")) {
		t.Errorf("OutstandingCost = %s, want 348", j.OutstandingCost())
	}
}

func TestReasonOnlySkipRowDoesNotContributeToOutstanding(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	err = j.Append(types.JournalEntry{
		Symbol:      types.SOL,
		WindowStart: 100,
		SkipReason:  "relative confidence below threshold",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if !j.OutstandingCost().IsZero() {
		t.Errorf("OutstandingCost = %s, want 0 for a reason-only row", j.OutstandingCost())
	}
}

func TestUpdateResolutionLostZeroesOutstandingContribution(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.Append(fillEntry(types.BTC, 100, "198")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.UpdateResolution(types.BTC, 100, types.ResolutionLost); err != nil {
		t.Fatalf("UpdateResolution: %v", err)
	}

	if !j.OutstandingCost().IsZero() {
		t.Errorf("OutstandingCost = %s, want 0 after loss", j.OutstandingCost())
	}
}

func TestUpdateResolutionWonThenRedeemedZeroesOutstanding(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.Append(fillEntry(types.BTC, 100, "198")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.UpdateResolution(types.BTC, 100, types.ResolutionWon); err != nil {
		t.Fatalf("UpdateResolution: %v", err)
	}
	if !j.OutstandingCost().Equal(dec("198")) {
		t.Errorf("OutstandingCost after win = %s, want 198 (still unredeemed)", j.OutstandingCost())
	}

	pending := j.PendingRedemptions()
	if len(pending) != 1 {
		t.Fatalf("PendingRedemptions = %d, want 1", len(pending))
	}

	if err := j.UpdateRedemption(types.BTC, 100, "0xdeadbeef"); err != nil {
		t.Fatalf("UpdateRedemption: %v", err)
	}
	if !j.OutstandingCost().IsZero() {
		t.Errorf("OutstandingCost after redemption = %s, want 0", j.OutstandingCost())
	}
	if len(j.PendingRedemptions()) != 0 {
		t.Errorf("expected no pending redemptions after redeeming")
	}
}

func TestReplayRebuildsOutstandingCostFromExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")

	j1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j1.Append(fillEntry(types.BTC, 100, "198")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j1.Append(fillEntry(types.ETH, 200, "150")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j1.UpdateResolution(types.ETH, 200, types.ResolutionLost); err != nil {
		t.Fatalf("UpdateResolution: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	if !j2.OutstandingCost().Equal(dec("198")) {
		t.Errorf("OutstandingCost after replay = %s, want 198 (BTC outstanding, ETH lost)", j2.OutstandingCost())
	}
}
