/*
ledger.go - Worker money ledger: advances given, deposits repaid

PURPOSE:
  The ledger is the only place a worker's balance lives. Every entry stores
  the running balance after it, so the current balance is the head entry's
  BalanceAfter and never needs a re-scan.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. CHAIN: BalanceAfter[i] = BalanceAfter[i-1] +/- Amount[i]
  3. NON-NEGATIVE: a deposit can never exceed the balance it repays
  4. SERIALIZED: appends for one worker run under that worker's lock and
     carry Seq = head.Seq + 1, so a stale writer fails instead of overdrawing

CORRECTIONS:
  A mistake is fixed with a compensating entry of the opposite kind that
  points at the original through ReversesEntryID. Both stay in the ledger.

SEE ALSO:
  - store.go: persistence contract
  - committer.go: the settlement path into the ledger
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/monitoring"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	repo     Repository
	accounts *Accounts
	retry    *conflictRetrier
	clock    func() time.Time
	newID    func() string
	logger   logrus.FieldLogger
	metrics  *monitoring.Metrics
}

// Append posts a manual advance or deposit. Inactive workers may still
// repay or receive advances; unknown workers are rejected.
func (l *Ledger) Append(ctx context.Context, workerID WorkerID, kind EntryKind, amount Money, notes string, date Date) (LedgerEntry, error) {
	if !kind.Valid() {
		return LedgerEntry{}, fmt.Errorf("%w: entry kind %q", ErrInvalidKind, kind)
	}
	amount = amount.Round()
	if !amount.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount)
	}
	if date.IsZero() {
		date = DateOf(l.clock())
	}
	if _, err := l.accounts.worker(ctx, workerID); err != nil {
		return LedgerEntry{}, err
	}

	var entry LedgerEntry
	err := l.accounts.WithLock(ctx, workerID, func() error {
		return l.retry.Run(ctx, func() error {
			var err error
			entry, err = appendEntry(ctx, l.repo, entryInput{
				ID:       EntryID(l.newID()),
				WorkerID: workerID,
				Kind:     kind,
				Amount:   amount,
				Date:     date,
				Notes:    notes,
				At:       l.clock(),
			})
			return err
		})
	})
	if err != nil {
		l.metrics.IncLedgerAppend(string(kind), ErrorCode(err))
		return LedgerEntry{}, err
	}

	l.metrics.IncLedgerAppend(string(kind), "ok")
	l.logger.WithFields(logrus.Fields{
		"worker_id":     workerID,
		"entry_id":      entry.ID,
		"kind":          kind,
		"amount":        entry.Amount.String(),
		"balance_after": entry.BalanceAfter.String(),
	}).Info("ledger entry appended")
	return entry, nil
}

// BalanceOf reads the head; it never replays the ledger.
func (l *Ledger) BalanceOf(ctx context.Context, workerID WorkerID) (Money, error) {
	head, err := l.repo.Head(ctx, workerID)
	if err != nil {
		return Money{}, err
	}
	return head.Balance, nil
}

// HistoryOf returns the worker's entries ordered by Seq. Each call returns a
// fresh slice.
func (l *Ledger) HistoryOf(ctx context.Context, workerID WorkerID) ([]LedgerEntry, error) {
	return l.repo.Entries(ctx, workerID)
}

// Reconcile replays the worker's entries and checks that the stored
// BalanceAfter chain, the Seq numbering and the head all agree with the sum
// of signed amounts.
func (l *Ledger) Reconcile(ctx context.Context, workerID WorkerID) error {
	entries, err := l.repo.Entries(ctx, workerID)
	if err != nil {
		return err
	}
	head, err := l.repo.Head(ctx, workerID)
	if err != nil {
		return err
	}

	var sum Money
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			return fmt.Errorf("%w: %s entry %s has seq %d, want %d", ErrLedgerInconsistent, workerID, e.ID, e.Seq, i+1)
		}
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: %s entry %s has non-positive amount %s", ErrLedgerInconsistent, workerID, e.ID, e.Amount)
		}
		sum = sum.Add(e.Signed())
		if !sum.Equal(e.BalanceAfter) {
			return fmt.Errorf("%w: %s entry %s balance_after %s, replayed %s", ErrLedgerInconsistent, workerID, e.ID, e.BalanceAfter, sum)
		}
		if sum.IsNegative() {
			return fmt.Errorf("%w: %s balance negative after entry %s", ErrLedgerInconsistent, workerID, e.ID)
		}
	}
	if !head.Balance.Equal(sum) || head.Seq != int64(len(entries)) {
		return fmt.Errorf("%w: %s head %s@%d, replayed %s@%d", ErrLedgerInconsistent, workerID, head.Balance, head.Seq, sum, len(entries))
	}
	return nil
}

// =============================================================================
// APPEND HELPER - Shared by manual posting, commit and reversal
// =============================================================================

type entryInput struct {
	ID       EntryID
	WorkerID WorkerID
	Kind     EntryKind
	Amount   Money
	Date     Date
	Notes    string
	Source   SnapshotID
	Reverses EntryID
	At       time.Time
}

// appendEntry reads the head through s, validates the entry against it and
// appends it with the next Seq. Callers hold the worker lock; s may be a
// transactional view.
func appendEntry(ctx context.Context, s Store, in entryInput) (LedgerEntry, error) {
	head, err := s.Head(ctx, in.WorkerID)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("read head for %s: %w", in.WorkerID, err)
	}
	if in.Kind == EntryDeposit && in.Amount.GreaterThan(head.Balance) {
		return LedgerEntry{}, &InsufficientBalanceError{
			WorkerID:  in.WorkerID,
			Available: head.Balance,
			Requested: in.Amount,
		}
	}

	seq, after := head.Next(in.Kind, in.Amount)
	entry := LedgerEntry{
		ID:              in.ID,
		WorkerID:        in.WorkerID,
		Seq:             seq,
		Kind:            in.Kind,
		Amount:          in.Amount,
		Date:            in.Date,
		Notes:           in.Notes,
		BalanceAfter:    after,
		SourceCommitID:  in.Source,
		ReversesEntryID: in.Reverses,
		CreatedAt:       in.At,
	}
	if err := s.AppendEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}
