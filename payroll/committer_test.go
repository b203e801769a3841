package payroll_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/lock"
	"github.com/warp/settlement-engine/payroll"
)

func salaryInput(period payroll.Period, deposit int64, ids ...payroll.WorkerID) payroll.CalculateInput {
	return payroll.CalculateInput{
		Kind:      payroll.KindSalary,
		Period:    period,
		WorkerIDs: ids,
		Defaults:  payroll.Adjustment{ProposedDeposit: money(deposit)},
	}
}

func (f *fixture) commit(t *testing.T, draft *payroll.DraftSettlement) *payroll.CommitResult {
	t.Helper()
	res, err := f.eng.Committer.Commit(f.ctx, draft, payroll.CommitOptions{ConfirmedBy: "manager"})
	require.NoError(t, err)
	return res
}

// =============================================================================
// WORKED EXAMPLES
// =============================================================================

func TestCommit_BonusWithoutDepositWritesNoEntry(t *testing.T) {
	// GIVEN: balance 0, bonus final 11500, no deposit
	// WHEN: committed
	// THEN: snapshot line final 11500, no ledger entry, balance stays 0
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	f.absentDays(t, w, 5)

	res := f.commit(t, f.calculate(t, bonusInput(w)))

	require.Empty(t, res.Rejected)
	assert.Equal(t, []payroll.WorkerID{w}, res.Committed)
	snap, err := f.eng.Committer.Snapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	line, ok := snap.Line(w)
	require.True(t, ok)
	assert.Equal(t, "11500.00", line.FinalAmount.String())
	assert.Empty(t, line.DepositEntryID)
	assert.True(t, snap.Locked)
	assert.Equal(t, "manager", snap.ConfirmedBy)
	assert.Empty(t, f.entries(t, w))
	assert.True(t, f.balance(t, w).IsZero())
}

func TestCommit_SalaryDepositThenPeriodLocked(t *testing.T) {
	// GIVEN: balance 800, salary draft with deposit 800
	// WHEN: committed, then committed again for the same period
	// THEN: one deposit entry, balance 0, second attempt PeriodAlreadyLocked
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	f.advance(t, w, 800)
	for d := 3; d <= 7; d++ {
		f.attend(t, w, date(2025, time.March, d), payroll.StatusPresent, 8, 50)
	}

	draft := f.calculate(t, salaryInput(march2025(), 800, w))
	line, _ := draft.Line(w)
	assert.Equal(t, "2000.00", line.BaseAmount.String())
	assert.Equal(t, "1200.00", line.FinalAmount.String())

	res := f.commit(t, draft)
	require.Equal(t, []payroll.WorkerID{w}, res.Committed)

	entries := f.entries(t, w)
	require.Len(t, entries, 2)
	deposit := entries[1]
	assert.Equal(t, payroll.EntryDeposit, deposit.Kind)
	assert.Equal(t, "800.00", deposit.Amount.String())
	assert.Equal(t, res.SnapshotID, deposit.SourceCommitID)
	assert.True(t, f.balance(t, w).IsZero())

	snap, err := f.eng.Committer.Snapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	frozen, _ := snap.Line(w)
	assert.Equal(t, deposit.ID, frozen.DepositEntryID)

	again := f.commit(t, draft)

	assert.Empty(t, again.Committed)
	assert.Empty(t, again.SnapshotID)
	require.Len(t, again.Rejected, 1)
	assert.ErrorIs(t, again.Rejected[0], payroll.ErrPeriodAlreadyLocked)
	var locked *payroll.PeriodLockedError
	require.True(t, errors.As(again.Rejected[0], &locked))
	assert.Equal(t, res.SnapshotID, locked.SnapshotID)
	assert.True(t, f.balance(t, w).IsZero())
	assert.Len(t, f.entries(t, w), 2)
}

func TestCommit_OverlappingPeriodIsLocked(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	f.commit(t, f.calculate(t, salaryInput(march2025(), 0, w)))

	overlap, err := payroll.NewPeriod(date(2025, time.March, 25), date(2025, time.April, 5))
	require.NoError(t, err)
	draft := f.calculate(t, salaryInput(overlap, 0, w))

	require.Len(t, draft.Errors, 1)
	assert.ErrorIs(t, draft.Errors[0], payroll.ErrPeriodAlreadyLocked)

	// A bonus run over the same dates is a different settlement.
	bonus := f.calculate(t, bonusInput(w))
	assert.Empty(t, bonus.Errors)
}

func TestCommit_ConcurrentDepositsOneWins(t *testing.T) {
	// GIVEN: balance 800 and two drafts each proposing deposit 600
	// WHEN: both commit concurrently
	// THEN: exactly one succeeds, balance 200, never negative
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	f.advance(t, w, 800)

	first, err := payroll.NewPeriod(date(2025, time.March, 1), date(2025, time.March, 15))
	require.NoError(t, err)
	second, err := payroll.NewPeriod(date(2025, time.March, 16), date(2025, time.March, 31))
	require.NoError(t, err)
	drafts := []*payroll.DraftSettlement{
		f.calculate(t, salaryInput(first, 600, w)),
		f.calculate(t, salaryInput(second, 600, w)),
	}

	results := make([]*payroll.CommitResult, 2)
	var wg sync.WaitGroup
	for i, d := range drafts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.eng.Committer.Commit(f.ctx, d, payroll.CommitOptions{})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	committed, rejected := 0, 0
	for _, res := range results {
		committed += len(res.Committed)
		for _, r := range res.Rejected {
			rejected++
			assert.True(t,
				errors.Is(r, payroll.ErrInsufficientBalance) || errors.Is(r, payroll.ErrConcurrentModification),
				"unexpected rejection: %v", r)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, "200.00", f.balance(t, w).String())
	require.NoError(t, f.eng.Ledger.Reconcile(f.ctx, w))
}

func TestCommit_SameDraftTwiceConcurrently(t *testing.T) {
	// GIVEN: balance 800 and one draft proposing deposit 600
	// WHEN: the same draft is committed twice at the same time
	// THEN: one commit wins, the other is PeriodAlreadyLocked, one deposit only
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	f.advance(t, w, 800)
	draft := f.calculate(t, salaryInput(march2025(), 600, w))

	results := make([]*payroll.CommitResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.eng.Committer.Commit(f.ctx, draft, payroll.CommitOptions{})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	committed, locked := 0, 0
	for _, res := range results {
		require.NotNil(t, res)
		committed += len(res.Committed)
		for _, r := range res.Rejected {
			assert.ErrorIs(t, r, payroll.ErrPeriodAlreadyLocked)
			locked++
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, locked)
	assert.Equal(t, "200.00", f.balance(t, w).String())
	assert.Len(t, f.entries(t, w), 2, "advance + one deposit")

	snaps, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{WorkerID: w})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

// =============================================================================
// ATOMICITY & PARTIAL FAILURE
// =============================================================================

func TestCommit_StoreFailureLeavesNothingForThatWorker(t *testing.T) {
	// GIVEN: the snapshot line write fails for w2 after its deposit was written
	// THEN: w2 is rejected with neither entry nor line; w1 is fully committed
	f := newFixture(t)
	w1 := f.worker(t, "w1", 50)
	w2 := f.worker(t, "w2", 50)
	f.advance(t, w1, 500)
	f.advance(t, w2, 500)
	draft := f.calculate(t, salaryInput(march2025(), 300, w1, w2))

	eng := f.engineOver(&failingRepo{Repository: f.mem, failLineFor: w2})
	res, err := eng.Committer.Commit(f.ctx, draft, payroll.CommitOptions{})
	require.NoError(t, err)

	assert.Equal(t, []payroll.WorkerID{w1}, res.Committed)
	assert.Equal(t, []payroll.WorkerID{w2}, res.RejectedIDs())

	snap, err := f.eng.Committer.Snapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	_, has := snap.Line(w1)
	assert.True(t, has)
	_, has = snap.Line(w2)
	assert.False(t, has)

	assert.Len(t, f.entries(t, w1), 2)
	assert.Len(t, f.entries(t, w2), 1, "deposit rolled back with the failed line")
	assert.Equal(t, "200.00", f.balance(t, w1).String())
	assert.Equal(t, "500.00", f.balance(t, w2).String())
}

func TestCommit_BalanceMovedSinceDraft(t *testing.T) {
	// GIVEN: a draft with deposit 400 computed at balance 500
	// WHEN: a manual deposit of 300 lands before commit
	// THEN: the worker is rejected InsufficientBalance; others commit
	f := newFixture(t)
	w1 := f.worker(t, "w1", 50)
	w2 := f.worker(t, "w2", 50)
	f.advance(t, w1, 500)
	f.advance(t, w2, 500)
	draft := f.calculate(t, salaryInput(march2025(), 400, w1, w2))

	_, err := f.eng.Ledger.Append(f.ctx, w1, payroll.EntryDeposit, money(300), "cash", payroll.Date{})
	require.NoError(t, err)

	res := f.commit(t, draft)

	assert.Equal(t, []payroll.WorkerID{w2}, res.Committed)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, w1, res.Rejected[0].WorkerID)
	assert.ErrorIs(t, res.Rejected[0], payroll.ErrInsufficientBalance)
	assert.Equal(t, march2025(), res.Rejected[0].Period)
	assert.Equal(t, "200.00", f.balance(t, w1).String())

	// The rejected worker can be retried on its own over the same period.
	retry := f.commit(t, f.calculate(t, salaryInput(march2025(), 200, w1)))
	assert.Equal(t, []payroll.WorkerID{w1}, retry.Committed)
	assert.NotEqual(t, res.SnapshotID, retry.SnapshotID)
}

func TestCommit_CancelledBeforeStartRejectsAll(t *testing.T) {
	f := newFixture(t)
	w1 := f.worker(t, "w1", 50)
	w2 := f.worker(t, "w2", 50)
	draft := f.calculate(t, bonusInput(w1, w2))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	res, err := f.eng.Committer.Commit(ctx, draft, payroll.CommitOptions{})

	require.NoError(t, err)
	assert.Empty(t, res.Committed)
	assert.Empty(t, res.SnapshotID)
	require.Len(t, res.Rejected, 2)
	assert.ErrorIs(t, res.Rejected[0], context.Canceled)

	history, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommit_InactiveOrUnknownWorkerRejected(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	draft := f.calculate(t, bonusInput(w))
	_, err := f.eng.Accounts.Deactivate(f.ctx, w)
	require.NoError(t, err)
	draft.Lines = append(draft.Lines, payroll.DraftLine{WorkerID: "ghost"})

	res := f.commit(t, draft)

	assert.Empty(t, res.Committed)
	require.Len(t, res.Rejected, 2)
	assert.ErrorIs(t, res.Rejected[0], payroll.ErrWorkerNotFound)
	assert.ErrorIs(t, res.Rejected[1], payroll.ErrWorkerInactive)
}

func TestCommit_RejectsMalformedDraft(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "w1", 50)

	_, err := f.eng.Committer.Commit(f.ctx, nil, payroll.CommitOptions{})
	assert.ErrorIs(t, err, payroll.ErrInvalidDraft)

	draft := f.calculate(t, bonusInput(w))
	draft.Lines = append(draft.Lines, draft.Lines[0])
	_, err = f.eng.Committer.Commit(f.ctx, draft, payroll.CommitOptions{})
	assert.ErrorIs(t, err, payroll.ErrInvalidDraft)

	draft = f.calculate(t, bonusInput(w))
	draft.Lines[0].ProposedDeposit = money(-5)
	_, err = f.eng.Committer.Commit(f.ctx, draft, payroll.CommitOptions{})
	assert.ErrorIs(t, err, payroll.ErrInvalidDraft)
}

func TestCommit_SnapshotIsFrozenAgainstWorkerEdits(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	res := f.commit(t, f.calculate(t, bonusInput(w)))

	_, err := f.eng.Accounts.ChangeRate(f.ctx, w, money(80))
	require.NoError(t, err)

	snap, err := f.eng.Committer.Snapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	line, _ := snap.Line(w)
	assert.Equal(t, "50.00", line.HourlyRate.String())
	assert.Equal(t, "12000.00", line.BaseAmount.String())
}

// =============================================================================
// DELETION
// =============================================================================

func TestDeleteSnapshot_ReversalSymmetry(t *testing.T) {
	// GIVEN: two workers committed with deposits 300 and 0
	// WHEN: the snapshot is deleted
	// THEN: balances return to pre-commit values and the ledger only grows
	f := newFixture(t)
	w1 := f.worker(t, "w1", 50)
	w2 := f.worker(t, "w2", 50)
	f.advance(t, w1, 500)
	f.advance(t, w2, 100)

	in := salaryInput(march2025(), 0, w1, w2)
	in.Adjustments = map[payroll.WorkerID]payroll.Adjustment{w1: {ProposedDeposit: money(300)}}
	res := f.commit(t, f.calculate(t, in))
	require.Len(t, res.Committed, 2)
	assert.Equal(t, "200.00", f.balance(t, w1).String())

	snap, err := f.eng.Committer.DeleteSnapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	assert.True(t, snap.Deleted())

	assert.Equal(t, "500.00", f.balance(t, w1).String())
	assert.Equal(t, "100.00", f.balance(t, w2).String())

	entries := f.entries(t, w1)
	require.Len(t, entries, 3, "advance + deposit + reversal")
	reversal := entries[2]
	assert.Equal(t, payroll.EntryAdvance, reversal.Kind)
	assert.Equal(t, "300.00", reversal.Amount.String())
	assert.Equal(t, entries[1].ID, reversal.ReversesEntryID)
	assert.Equal(t, res.SnapshotID, reversal.SourceCommitID)
	assert.Len(t, f.entries(t, w2), 1)

	require.NoError(t, f.eng.Ledger.Reconcile(f.ctx, w1))
	require.NoError(t, f.eng.Ledger.Reconcile(f.ctx, w2))
}

func TestDeleteSnapshot_DuringCommitRejectsRemainingWorkers(t *testing.T) {
	// GIVEN: A and B with balance 800 each and a draft depositing 300 each
	// WHEN: the snapshot is deleted after A committed, before B takes its lock
	// THEN: B is rejected with SnapshotDeleted and keeps 800, the deleted
	//       snapshot holds only A's reversed line, and B can commit afresh
	f := newFixture(t)
	a := f.worker(t, "A", 50)
	b := f.worker(t, "B", 50)
	f.advance(t, a, 800)
	f.advance(t, b, 800)
	draft := f.calculate(t, salaryInput(march2025(), 300, a, b))
	require.Empty(t, draft.Errors)

	hooked := &hookLocker{Locker: lock.NewLocal()}
	opts := testOptions()
	opts.Locker = hooked
	eng := payroll.NewEngine(f.mem, f.mem, opts)

	var once sync.Once
	var deleteErr error
	hooked.before = func(key string) {
		if key != "worker:B" {
			return
		}
		once.Do(func() {
			snaps, err := f.mem.ListSnapshots(f.ctx, payroll.SnapshotFilter{})
			if err != nil || len(snaps) != 1 {
				deleteErr = fmt.Errorf("want one live snapshot, got %d (%v)", len(snaps), err)
				return
			}
			_, deleteErr = eng.Committer.DeleteSnapshot(f.ctx, snaps[0].ID)
		})
	}

	res, err := eng.Committer.Commit(f.ctx, draft, payroll.CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, deleteErr)

	assert.Equal(t, []payroll.WorkerID{a}, res.Committed)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, b, res.Rejected[0].WorkerID)
	assert.ErrorIs(t, res.Rejected[0], payroll.ErrSnapshotDeleted)

	assert.Equal(t, "800.00", f.balance(t, a).String(), "A's deposit reversed")
	assert.Equal(t, "800.00", f.balance(t, b).String(), "B's deposit rolled back")
	assert.Len(t, f.entries(t, b), 1)

	snap, err := eng.Committer.Snapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	assert.True(t, snap.Deleted())
	assert.Equal(t, []payroll.WorkerID{a}, snap.WorkerIDs())

	// THEN: the period is open again and a fresh commit deposits exactly once
	again := f.commit(t, f.calculate(t, salaryInput(march2025(), 300, b)))
	assert.Equal(t, []payroll.WorkerID{b}, again.Committed)
	assert.Equal(t, "500.00", f.balance(t, b).String())
	require.NoError(t, f.eng.Ledger.Reconcile(f.ctx, a))
	require.NoError(t, f.eng.Ledger.Reconcile(f.ctx, b))
}

func TestDeleteSnapshot_TwiceFails(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	f.advance(t, w, 100)
	res := f.commit(t, f.calculate(t, salaryInput(march2025(), 100, w)))

	_, err := f.eng.Committer.DeleteSnapshot(f.ctx, res.SnapshotID)
	require.NoError(t, err)
	_, err = f.eng.Committer.DeleteSnapshot(f.ctx, res.SnapshotID)

	assert.ErrorIs(t, err, payroll.ErrSnapshotDeleted)
	assert.Len(t, f.entries(t, w), 3)
	assert.Equal(t, "100.00", f.balance(t, w).String())
}

func TestDeleteSnapshot_UnknownID(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Committer.DeleteSnapshot(f.ctx, "nope")

	assert.ErrorIs(t, err, payroll.ErrSnapshotNotFound)
}

func TestPeriodState_Lifecycle(t *testing.T) {
	// Open -> Committed -> Deleted -> Committed again after a fresh commit
	f := newFixture(t)
	w := f.worker(t, "w1", 50)
	state := func() payroll.PeriodStatus {
		st, err := f.eng.Committer.PeriodState(f.ctx, w, payroll.KindSalary, march2025())
		require.NoError(t, err)
		return st
	}

	assert.Equal(t, payroll.PeriodOpen, state().State)

	first := f.commit(t, f.calculate(t, salaryInput(march2025(), 0, w)))
	assert.Equal(t, payroll.PeriodStatus{State: payroll.PeriodCommitted, SnapshotID: first.SnapshotID}, state())

	_, err := f.eng.Committer.DeleteSnapshot(f.ctx, first.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, payroll.PeriodStatus{State: payroll.PeriodDeleted, SnapshotID: first.SnapshotID}, state())

	second := f.commit(t, f.calculate(t, salaryInput(march2025(), 0, w)))
	require.Len(t, second.Committed, 1)
	assert.Equal(t, payroll.PeriodCommitted, state().State)
}

func TestHistory_FiltersByWorkerAndKind(t *testing.T) {
	f := newFixture(t)
	w1 := f.worker(t, "w1", 50)
	w2 := f.worker(t, "w2", 50)
	bonus := f.commit(t, f.calculate(t, bonusInput(w1, w2)))
	salary := f.commit(t, f.calculate(t, salaryInput(march2025(), 0, w1)))

	all, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forW2, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{WorkerID: w2})
	require.NoError(t, err)
	require.Len(t, forW2, 1)
	assert.Equal(t, bonus.SnapshotID, forW2[0].ID)

	salaries, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{Kind: payroll.KindSalary})
	require.NoError(t, err)
	require.Len(t, salaries, 1)
	assert.Equal(t, salary.SnapshotID, salaries[0].ID)

	_, err = f.eng.Committer.DeleteSnapshot(f.ctx, bonus.SnapshotID)
	require.NoError(t, err)
	live, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 1)
	withDeleted, err := f.eng.Committer.History(f.ctx, payroll.SnapshotFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, withDeleted, 2)
}
