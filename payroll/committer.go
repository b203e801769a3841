/*
committer.go - Commit drafts into history, and reverse them

PURPOSE:
  The Committer is the only settlement path that writes to the ledger. It
  turns a reviewed DraftSettlement into a locked HistorySnapshot and posts
  each line's deposit exactly once.

COMMIT, per worker, under the worker lock, in one transaction:
  1. Refuse if a live snapshot of the same kind already overlaps the period
  2. Re-validate deposit <= balance against the current head
  3. Append the deposit entry tagged with the snapshot id
  4. Insert the snapshot header if this is the first committed worker
  5. Write the frozen line with its deposit entry id

  The header becomes visible once the first worker commits, so it can be
  deleted while later workers are still in flight. Those workers are then
  rejected with ErrSnapshotDeleted and their deposits roll back; a line is
  never attached to a deleted snapshot.

  Workers commit independently. A rejected worker leaves nothing behind and
  never rolls back a worker already committed. Cancellation is honoured only
  between workers; a worker whose transaction has started runs to the end.

DELETE:
  Every entry the snapshot produced gets a compensating entry of the opposite
  kind, then the snapshot is marked deleted. Ledger rows are never removed.
  All affected workers are locked (sorted) for the whole reversal.
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/monitoring"
)

// CommitOptions carries who confirmed the commit.
type CommitOptions struct {
	ConfirmedBy string
}

// CommitResult lists the workers that made it into the snapshot and the ones
// that did not. SnapshotID is empty when no worker committed.
type CommitResult struct {
	SnapshotID SnapshotID
	Committed  []WorkerID
	Rejected   []*SettlementError
}

// RejectedIDs returns the worker ids to retry.
func (r *CommitResult) RejectedIDs() []WorkerID {
	ids := make([]WorkerID, len(r.Rejected))
	for i, e := range r.Rejected {
		ids[i] = e.WorkerID
	}
	return ids
}

type Committer struct {
	repo     Repository
	accounts *Accounts
	retry    *conflictRetrier
	clock    func() time.Time
	newID    func() string
	logger   logrus.FieldLogger
	metrics  *monitoring.Metrics
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies the draft. The returned error covers only a malformed
// draft; per-worker failures are reported in the result.
func (c *Committer) Commit(ctx context.Context, draft *DraftSettlement, opts CommitOptions) (*CommitResult, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer c.metrics.ObserveCommit(string(draft.Kind), start)

	header := HistorySnapshot{
		ID:          SnapshotID(c.newID()),
		Kind:        draft.Kind,
		Period:      draft.Period,
		SavedAt:     c.clock().UTC(),
		ConfirmedBy: opts.ConfirmedBy,
		Locked:      true,
	}

	lines := append([]DraftLine(nil), draft.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].WorkerID < lines[j].WorkerID })

	result := &CommitResult{}
	for _, line := range lines {
		log := c.logger.WithFields(logrus.Fields{
			"worker_id":   line.WorkerID,
			"snapshot_id": header.ID,
			"kind":        draft.Kind,
			"period":      draft.Period.String(),
		})

		var err error
		if err = ctx.Err(); err == nil {
			err = c.commitLine(ctx, header, line)
		}
		if err != nil {
			result.Rejected = append(result.Rejected, &SettlementError{
				WorkerID: line.WorkerID, Kind: draft.Kind, Period: draft.Period, Err: err,
			})
			c.metrics.IncCommitLine(string(draft.Kind), "rejected")
			log.WithError(err).WithField("code", ErrorCode(err)).Warn("settlement line rejected")
			continue
		}
		result.Committed = append(result.Committed, line.WorkerID)
		c.metrics.IncCommitLine(string(draft.Kind), "committed")
		log.WithField("deposit", line.ProposedDeposit.String()).Info("settlement line committed")
	}

	if len(result.Committed) > 0 {
		result.SnapshotID = header.ID
	}
	return result, nil
}

func (c *Committer) commitLine(ctx context.Context, header HistorySnapshot, line DraftLine) error {
	w, err := c.accounts.worker(ctx, line.WorkerID)
	if err != nil {
		return err
	}
	if !w.IsActive {
		return fmt.Errorf("%w: %s", ErrWorkerInactive, line.WorkerID)
	}

	return c.accounts.WithLock(ctx, line.WorkerID, func() error {
		return c.retry.Run(ctx, func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// The transaction is not cancellable once started.
			txCtx := context.WithoutCancel(ctx)
			return c.repo.WithTx(txCtx, func(s Store) error {
				return c.writeLine(txCtx, s, header, line)
			})
		})
	})
}

func (c *Committer) writeLine(ctx context.Context, s Store, header HistorySnapshot, line DraftLine) error {
	// The snapshot may have been deleted between two workers of this run.
	// Nothing more may be attached to it then.
	cur, err := s.GetSnapshot(ctx, header.ID)
	switch {
	case err == nil && cur.Deleted():
		return fmt.Errorf("%w: %s deleted during commit", ErrSnapshotDeleted, header.ID)
	case err != nil && !errors.Is(err, ErrSnapshotNotFound):
		return err
	}

	held, err := s.FindLock(ctx, line.WorkerID, header.Kind, header.Period)
	if err != nil {
		return err
	}
	if held != nil {
		return &PeriodLockedError{WorkerID: line.WorkerID, SnapshotID: held.SnapshotID, Locked: held.Period}
	}

	frozen := SnapshotLine{DraftLine: line}
	if line.ProposedDeposit.IsPositive() {
		entry, err := appendEntry(ctx, s, entryInput{
			ID:       EntryID(c.newID()),
			WorkerID: line.WorkerID,
			Kind:     EntryDeposit,
			Amount:   line.ProposedDeposit,
			Date:     DateOf(header.SavedAt),
			Notes:    line.DepositNotes,
			Source:   header.ID,
			At:       c.clock(),
		})
		if err != nil {
			return err
		}
		frozen.DepositEntryID = entry.ID
	}

	if err := s.EnsureSnapshot(ctx, header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if err := s.AppendSnapshotLine(ctx, header.ID, frozen); err != nil {
		return fmt.Errorf("write snapshot line: %w", err)
	}
	return nil
}

// =============================================================================
// DELETE - Reverse a snapshot with compensating entries
// =============================================================================

// DeleteSnapshot reverses every entry the snapshot produced and marks it
// deleted. Deleting twice fails with ErrSnapshotDeleted.
func (c *Committer) DeleteSnapshot(ctx context.Context, id SnapshotID) (*HistorySnapshot, error) {
	snap, err := c.repo.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Deleted() {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotDeleted, id)
	}

	var reversed int
	err = c.accounts.withLocks(ctx, snap.WorkerIDs(), func() error {
		return c.retry.Run(ctx, func() error {
			txCtx := context.WithoutCancel(ctx)
			return c.repo.WithTx(txCtx, func(s Store) error {
				n, err := c.reverse(txCtx, s, id)
				reversed = n
				return err
			})
		})
	})
	if err != nil {
		c.logger.WithField("snapshot_id", id).WithError(err).Warn("snapshot deletion failed")
		return nil, err
	}

	c.metrics.IncSnapshotDeleted()
	c.logger.WithFields(logrus.Fields{
		"snapshot_id": id,
		"kind":        snap.Kind,
		"period":      snap.Period.String(),
		"reversed":    reversed,
	}).Info("snapshot deleted")
	return c.repo.GetSnapshot(ctx, id)
}

func (c *Committer) reverse(ctx context.Context, s Store, id SnapshotID) (int, error) {
	cur, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return 0, err
	}
	if cur.Deleted() {
		return 0, fmt.Errorf("%w: %s", ErrSnapshotDeleted, id)
	}

	produced, err := s.EntriesBySource(ctx, id)
	if err != nil {
		return 0, err
	}
	now := c.clock()
	n := 0
	for _, e := range produced {
		if e.ReversesEntryID != "" {
			continue
		}
		_, err := appendEntry(ctx, s, entryInput{
			ID:       EntryID(c.newID()),
			WorkerID: e.WorkerID,
			Kind:     e.Kind.Opposite(),
			Amount:   e.Amount,
			Date:     DateOf(now),
			Notes:    fmt.Sprintf("Reversal of %s %s (snapshot %s deleted)", e.Kind, e.ID, id),
			Source:   id,
			Reverses: e.ID,
			At:       now,
		})
		if err != nil {
			return 0, fmt.Errorf("reverse entry %s: %w", e.ID, err)
		}
		n++
	}
	if err := s.MarkSnapshotDeleted(ctx, id, now.UTC()); err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// READS
// =============================================================================

func (c *Committer) Snapshot(ctx context.Context, id SnapshotID) (*HistorySnapshot, error) {
	return c.repo.GetSnapshot(ctx, id)
}

// History lists snapshots, newest first.
func (c *Committer) History(ctx context.Context, filter SnapshotFilter) ([]HistorySnapshot, error) {
	return c.repo.ListSnapshots(ctx, filter)
}

// PeriodState reports where the (worker, kind, period) stands. Drafts are
// never stored, so a period without a live snapshot is Open, or Deleted
// when its last overlapping snapshot was reversed.
func (c *Committer) PeriodState(ctx context.Context, workerID WorkerID, kind SettlementKind, period Period) (PeriodStatus, error) {
	if err := period.Validate(); err != nil {
		return PeriodStatus{}, err
	}
	held, err := c.repo.FindLock(ctx, workerID, kind, period)
	if err != nil {
		return PeriodStatus{}, err
	}
	if held != nil {
		return PeriodStatus{State: PeriodCommitted, SnapshotID: held.SnapshotID}, nil
	}

	snaps, err := c.repo.ListSnapshots(ctx, SnapshotFilter{WorkerID: workerID, Kind: kind, IncludeDeleted: true})
	if err != nil {
		return PeriodStatus{}, err
	}
	var latest *HistorySnapshot
	for i := range snaps {
		s := &snaps[i]
		if !s.Deleted() || !s.Period.Overlaps(period) {
			continue
		}
		if latest == nil || s.DeletedAt.After(*latest.DeletedAt) {
			latest = s
		}
	}
	if latest != nil {
		return PeriodStatus{State: PeriodDeleted, SnapshotID: latest.ID}, nil
	}
	return PeriodStatus{State: PeriodOpen}, nil
}
