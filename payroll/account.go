package payroll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/lock"
)

// =============================================================================
// WORKER ACCOUNT - Aggregate and locking boundary
// =============================================================================

// WorkerAccount is a read view: worker attributes plus the ledger head.
// Version is the Seq of the last entry and changes on every append.
type WorkerAccount struct {
	Worker
	Balance Money
	Version int64
}

// Accounts owns worker registration and the per-worker lock. Every ledger
// append and every per-worker commit runs inside WithLock.
type Accounts struct {
	repo   Repository
	locker lock.Locker
	clock  func() time.Time
	logger logrus.FieldLogger
}

func newAccounts(repo Repository, locker lock.Locker, clock func() time.Time, logger logrus.FieldLogger) *Accounts {
	return &Accounts{repo: repo, locker: locker, clock: clock, logger: logger}
}

func lockKey(id WorkerID) string { return "worker:" + string(id) }

// WithLock runs fn while holding the worker's lock.
func (a *Accounts) WithLock(ctx context.Context, id WorkerID, fn func() error) error {
	release, err := a.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// withLocks takes several workers' locks in sorted order.
func (a *Accounts) withLocks(ctx context.Context, ids []WorkerID, fn func() error) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lockKey(id)
	}
	return lock.WithLocks(ctx, a.locker, keys, fn)
}

func (a *Accounts) Get(ctx context.Context, id WorkerID) (*WorkerAccount, error) {
	w, err := a.worker(ctx, id)
	if err != nil {
		return nil, err
	}
	head, err := a.repo.Head(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read head for %s: %w", id, err)
	}
	return &WorkerAccount{Worker: *w, Balance: head.Balance, Version: head.Seq}, nil
}

// History returns the worker's ledger in insertion order.
func (a *Accounts) History(ctx context.Context, id WorkerID) ([]LedgerEntry, error) {
	if _, err := a.worker(ctx, id); err != nil {
		return nil, err
	}
	return a.repo.Entries(ctx, id)
}

func (a *Accounts) List(ctx context.Context, activeOnly bool) ([]Worker, error) {
	return a.repo.ListWorkers(ctx, activeOnly)
}

// Register onboards a worker. An empty ID is assigned a uuid and zero daily
// hours default to 8.
func (a *Accounts) Register(ctx context.Context, w Worker) (*Worker, error) {
	w.ID = WorkerID(strings.TrimSpace(string(w.ID)))
	if w.ID == "" {
		w.ID = WorkerID(uuid.NewString())
	}
	if w.HourlyRate.IsNegative() {
		return nil, fmt.Errorf("%w: hourly rate is negative", ErrInvalidAmount)
	}
	if w.DailyWorkingHours.IsNegative() || w.OvertimeRate.IsNegative() {
		return nil, fmt.Errorf("%w: daily hours and overtime rate must not be negative", ErrInvalidAmount)
	}
	if w.DailyWorkingHours.IsZero() {
		w.DailyWorkingHours = decimal.NewFromInt(8)
	}
	if w.OvertimeRate.IsZero() {
		w.OvertimeRate = decimal.NewFromInt(1)
	}
	w.IsActive = true
	w.CreatedAt = a.clock()

	if err := a.repo.CreateWorker(ctx, w); err != nil {
		return nil, err
	}
	a.logger.WithField("worker_id", w.ID).Info("worker registered")
	return &w, nil
}

// ChangeRate updates the worker's hourly rate. Committed snapshots keep the
// rate they were frozen with.
func (a *Accounts) ChangeRate(ctx context.Context, id WorkerID, rate Money) (*Worker, error) {
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: hourly rate is negative", ErrInvalidAmount)
	}
	return a.update(ctx, id, func(w *Worker) { w.HourlyRate = rate })
}

// Deactivate marks the worker inactive. Workers are never deleted; their
// ledger and history stay readable.
func (a *Accounts) Deactivate(ctx context.Context, id WorkerID) (*Worker, error) {
	w, err := a.update(ctx, id, func(w *Worker) { w.IsActive = false })
	if err != nil {
		return nil, err
	}
	a.logger.WithField("worker_id", id).Info("worker deactivated")
	return w, nil
}

func (a *Accounts) update(ctx context.Context, id WorkerID, mutate func(*Worker)) (*Worker, error) {
	var out *Worker
	err := a.WithLock(ctx, id, func() error {
		w, err := a.worker(ctx, id)
		if err != nil {
			return err
		}
		mutate(w)
		if err := a.repo.UpdateWorker(ctx, *w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (a *Accounts) worker(ctx context.Context, id WorkerID) (*Worker, error) {
	w, err := a.repo.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	return w, nil
}
