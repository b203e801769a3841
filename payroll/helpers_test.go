package payroll_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/lock"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	ctx context.Context
	mem *store.Memory
	eng *payroll.Engine
}

func testOptions() payroll.Options {
	return payroll.Options{
		Retry:       payroll.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Concurrency: 4,
		Logger:      logging.Discard(),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	return &fixture{
		ctx: context.Background(),
		mem: mem,
		eng: payroll.NewEngine(mem, mem, testOptions()),
	}
}

// engineOver builds a second engine over a wrapped repository that shares
// the fixture's data.
func (f *fixture) engineOver(repo payroll.Repository) *payroll.Engine {
	return payroll.NewEngine(repo, f.mem, testOptions())
}

func money(v int64) payroll.Money { return payroll.NewMoney(v) }

func hours(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func date(year int, month time.Month, day int) payroll.Date {
	return payroll.NewDate(year, month, day)
}

func march2025() payroll.Period { return payroll.MonthPeriod(2025, time.March) }

func (f *fixture) worker(t *testing.T, id string, rate int64) payroll.WorkerID {
	t.Helper()
	w, err := f.eng.Accounts.Register(f.ctx, payroll.Worker{ID: payroll.WorkerID(id), Name: id, HourlyRate: money(rate)})
	require.NoError(t, err)
	return w.ID
}

func (f *fixture) advance(t *testing.T, id payroll.WorkerID, amount int64) {
	t.Helper()
	_, err := f.eng.Ledger.Append(f.ctx, id, payroll.EntryAdvance, money(amount), "advance", date(2025, time.February, 1))
	require.NoError(t, err)
}

func (f *fixture) attend(t *testing.T, id payroll.WorkerID, d payroll.Date, status payroll.AttendanceStatus, h float64, rate int64) {
	t.Helper()
	require.NoError(t, f.mem.AddAttendance(f.ctx, payroll.AttendanceRecord{
		WorkerID: id, Date: d, Status: status, HoursWorked: hours(h), HourlyRate: money(rate),
	}))
}

func (f *fixture) balance(t *testing.T, id payroll.WorkerID) payroll.Money {
	t.Helper()
	b, err := f.eng.Ledger.BalanceOf(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) entries(t *testing.T, id payroll.WorkerID) []payroll.LedgerEntry {
	t.Helper()
	es, err := f.eng.Ledger.HistoryOf(f.ctx, id)
	require.NoError(t, err)
	return es
}

func (f *fixture) calculate(t *testing.T, in payroll.CalculateInput) *payroll.DraftSettlement {
	t.Helper()
	d, err := f.eng.Calculator.Calculate(f.ctx, in)
	require.NoError(t, err)
	return d
}

func sumSigned(entries []payroll.LedgerEntry) payroll.Money {
	var sum payroll.Money
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	return sum
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// failingRepo fails AppendSnapshotLine inside transactions for one worker,
// after the deposit entry has already been written in the same transaction.
type failingRepo struct {
	payroll.Repository
	failLineFor payroll.WorkerID
}

func (r *failingRepo) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return r.Repository.WithTx(ctx, func(s payroll.Store) error {
		return fn(&failingStore{Store: s, failLineFor: r.failLineFor})
	})
}

type failingStore struct {
	payroll.Store
	failLineFor payroll.WorkerID
}

func (s *failingStore) AppendSnapshotLine(ctx context.Context, id payroll.SnapshotID, line payroll.SnapshotLine) error {
	if line.WorkerID == s.failLineFor {
		return errors.New("disk full")
	}
	return s.Store.AppendSnapshotLine(ctx, id, line)
}

// racingRepo lets a rival writer slip an advance in right after the first
// head read, as another instance without the shared lock would.
type racingRepo struct {
	payroll.Repository
	mem   *store.Memory
	once  sync.Once
	rival payroll.LedgerEntry
}

func (r *racingRepo) Head(ctx context.Context, id payroll.WorkerID) (payroll.Head, error) {
	head, err := r.Repository.Head(ctx, id)
	if err != nil {
		return head, err
	}
	r.once.Do(func() {
		rival := r.rival
		rival.Seq, rival.BalanceAfter = head.Next(rival.Kind, rival.Amount)
		err = r.mem.AppendEntry(ctx, rival)
	})
	return head, err
}

// hookLocker runs before(key) ahead of every acquisition, so a test can
// interleave another operation at an exact point of a multi-worker run.
type hookLocker struct {
	lock.Locker
	before func(key string)
}

func (l *hookLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.before != nil {
		l.before(key)
	}
	return l.Locker.Lock(ctx, key)
}

// flakySource fails attendance reads for selected workers.
type flakySource struct {
	inner payroll.AttendanceSource
	fail  map[payroll.WorkerID]bool
}

func (s *flakySource) ListAttendance(ctx context.Context, id payroll.WorkerID, p payroll.Period) ([]payroll.AttendanceRecord, error) {
	if s.fail[id] {
		return nil, errors.New("attendance service timeout")
	}
	return s.inner.ListAttendance(ctx, id, p)
}

// staticSource returns canned records regardless of the query.
type staticSource []payroll.AttendanceRecord

func (s staticSource) ListAttendance(context.Context, payroll.WorkerID, payroll.Period) ([]payroll.AttendanceRecord, error) {
	return s, nil
}
