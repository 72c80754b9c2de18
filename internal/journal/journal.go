// Package journal provides crash-safe, append-only position logging.
//
// Every fill and every reason-only skip is appended as one JSON line and
// fsynced before the call returns, so a crash mid-window never loses a
// record of money already committed. On startup the journal replays its
// file to rebuild outstanding (unredeemed) cost across all symbols, which
// backs the risk gate's position cap.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

// Journal is the append-only position log. All methods are safe for
// concurrent use by multiple symbol coordinators.
type Journal struct {
	mu          sync.Mutex
	file        *os.File
	outstanding decimal.Decimal // sum of Cost for entries not yet resolved+redeemed (or resolved lost)
	pending     map[journalKey]*types.JournalEntry
}

type journalKey struct {
	symbol      types.Symbol
	windowStart int64
}

// Open opens (creating if necessary) the journal file at path and replays
// it to rebuild in-memory outstanding-position state.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{
		file:    f,
		pending: make(map[journalKey]*types.JournalEntry),
	}
	if err := j.replay(); err != nil {
		f.Close()
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return j, nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

func (j *Journal) replay() error {
	if _, err := j.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e types.JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("corrupt journal line: %w", err)
		}
		j.applyReplayed(e)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if _, err := j.file.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

// applyReplayed folds one replayed entry into outstanding-cost state. Later
// rows for the same (symbol, window) key are updates (resolution/redemption
// status changes appended as new rows), not independent positions.
func (j *Journal) applyReplayed(e types.JournalEntry) {
	if !e.IsPosition() {
		return
	}
	key := journalKey{symbol: e.Symbol, windowStart: e.WindowStart}
	prev, existed := j.pending[key]
	if existed {
		j.outstanding = j.outstanding.Sub(outstandingContribution(*prev))
	}
	entryCopy := e
	j.pending[key] = &entryCopy
	j.outstanding = j.outstanding.Add(outstandingContribution(entryCopy))
}

// outstandingContribution is an entry's cost if it still counts toward the
// position cap: won-but-unredeemed and pending-resolution positions are
// outstanding; lost or fully-redeemed positions are not.
func outstandingContribution(e types.JournalEntry) decimal.Decimal {
	if e.ResolutionStatus == types.ResolutionLost {
		return decimal.Zero
	}
	if e.ResolutionStatus == types.ResolutionWon && e.RedemptionStatus == types.RedemptionComplete {
		return decimal.Zero
	}
	return e.Cost
}

// Append writes one entry as a new JSONL row and fsyncs before returning.
func (j *Journal) Append(e types.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("fsync journal: %w", err)
	}

	j.applyReplayed(e)
	return nil
}

// OutstandingCost returns the current sum of unredeemed, not-yet-lost
// position cost across every symbol. Implements riskgate.OutstandingTracker.
func (j *Journal) OutstandingCost() decimal.Decimal {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outstanding
}

// PendingRedemptions returns every position entry that has won but has not
// yet been redeemed, for the external redemption worker to act on.
func (j *Journal) PendingRedemptions() []types.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []types.JournalEntry
	for _, e := range j.pending {
		if e.IsPosition() && e.ResolutionStatus == types.ResolutionWon && e.RedemptionStatus != types.RedemptionComplete {
			out = append(out, *e)
		}
	}
	return out
}

// UpdateResolution appends an updated row recording the resolved outcome for
// a previously-filled window.
func (j *Journal) UpdateResolution(symbol types.Symbol, windowStart int64, status types.ResolutionStatus) error {
	j.mu.Lock()
	prev, ok := j.pending[journalKey{symbol: symbol, windowStart: windowStart}]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("no journal entry for %s window %d", symbol, windowStart)
	}

	updated := *prev
	updated.ResolutionStatus = status
	if status == types.ResolutionWon {
		updated.RedemptionStatus = types.RedemptionPending
	} else {
		updated.RedemptionStatus = types.RedemptionNotApplicable
	}
	return j.Append(updated)
}

// UpdateRedemption appends an updated row recording a completed on-chain
// redemption.
func (j *Journal) UpdateRedemption(symbol types.Symbol, windowStart int64, txHash string) error {
	j.mu.Lock()
	prev, ok := j.pending[journalKey{symbol: symbol, windowStart: windowStart}]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("no journal entry for %s window %d", symbol, windowStart)
	}

	updated := *prev
	updated.RedemptionStatus = types.RedemptionComplete
	updated.RedemptionTx = txHash
	return j.Append(updated)
}
