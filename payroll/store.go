/*
store.go - Persistence interfaces for ledger entries, snapshots and workers

APPEND-ONLY CONTRACT:
  Ledger entries are only ever appended. There is no Update or Delete for
  entries; corrections are compensating entries. Snapshots are inserted once,
  lines are added while a commit is in flight, and the only later mutation is
  MarkSnapshotDeleted.

OPTIMISTIC HEAD CHECK:
  AppendEntry requires entry.Seq == head.Seq + 1. Implementations must reject
  anything else with ErrConcurrentModification, atomically with the write
  (unique (worker_id, seq) in SQL, a compare under the mutex in memory).

ATOMICITY:
  TxStore.WithTx runs fn against a transactional view. If fn returns an error
  nothing it wrote is visible afterwards.

IMPLEMENTATIONS:
  - payroll/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Ledger + snapshot persistence
// =============================================================================

type Store interface {
	// Head returns the running total of the worker's ledger. An unknown or
	// empty ledger has a zero head.
	Head(ctx context.Context, workerID WorkerID) (Head, error)

	// AppendEntry persists an entry. Fails with ErrConcurrentModification when
	// entry.Seq does not directly follow the current head.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	// Entries returns the worker's entries ordered by Seq.
	Entries(ctx context.Context, workerID WorkerID) ([]LedgerEntry, error)

	// EntriesBySource returns every entry tagged with the snapshot id, ordered
	// by worker then Seq.
	EntriesBySource(ctx context.Context, snapshotID SnapshotID) ([]LedgerEntry, error)

	// EnsureSnapshot inserts the snapshot header unless it already exists.
	EnsureSnapshot(ctx context.Context, header HistorySnapshot) error

	// AppendSnapshotLine adds a frozen line to an existing snapshot.
	AppendSnapshotLine(ctx context.Context, snapshotID SnapshotID, line SnapshotLine) error

	// GetSnapshot returns ErrSnapshotNotFound when the id is unknown.
	GetSnapshot(ctx context.Context, id SnapshotID) (*HistorySnapshot, error)

	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]HistorySnapshot, error)

	MarkSnapshotDeleted(ctx context.Context, id SnapshotID, at time.Time) error

	// FindLock returns the non-deleted snapshot of the given kind that has a
	// line for the worker and overlaps the period, or nil.
	FindLock(ctx context.Context, workerID WorkerID, kind SettlementKind, period Period) (*PeriodLock, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// WORKER STORE
// =============================================================================

type WorkerStore interface {
	// CreateWorker fails with ErrWorkerExists on a duplicate id.
	CreateWorker(ctx context.Context, w Worker) error

	// UpdateWorker fails with ErrWorkerNotFound on an unknown id.
	UpdateWorker(ctx context.Context, w Worker) error

	GetWorker(ctx context.Context, id WorkerID) (*Worker, error)
	ListWorkers(ctx context.Context, activeOnly bool) ([]Worker, error)
}

// Repository is everything the engine persists.
type Repository interface {
	TxStore
	WorkerStore
}
