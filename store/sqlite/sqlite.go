/*
Package sqlite provides a SQLite-backed implementation of the payroll stores.

PURPOSE:
  Implements payroll.Repository (ledger, snapshots, workers) and
  payroll.AttendanceSource using SQLite. The same schema runs on PostgreSQL
  with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - Corrections via compensating entries only
  - snapshots only ever get deleted_at stamped; lines are never rewritten

OPTIMISTIC HEAD CHECK:
  ledger_entries carries UNIQUE(worker_id, seq). Two writers that read the
  same head both try to insert seq = head+1; the loser hits the constraint
  and gets payroll.ErrConcurrentModification.

KEY TABLES:
  workers:          pay attributes and the active flag
  ledger_entries:   immutable advances and deposits with balance_after
  attendance:       one row per worker-day, fed by the attendance adapter
  snapshots:        committed settlement headers
  snapshot_lines:   frozen draft lines, one per committed worker

CONCURRENCY:
  The pool is capped at one connection, so ":memory:" stays a single
  database and writes are serialized by SQLite itself. Reads inside WithTx
  go through the open sql.Tx, never back to the pool.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := payroll.NewEngine(store, store, payroll.Options{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/payroll"
)

// Store implements payroll.Repository and payroll.AttendanceSource.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an existing handle without migrating it.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hourly_rate TEXT NOT NULL,
		daily_working_hours TEXT NOT NULL,
		overtime_rate TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('advance', 'deposit')),
		amount TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		notes TEXT,
		balance_after TEXT NOT NULL,
		source_commit_id TEXT,
		reverses_entry_id TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (worker_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_source
		ON ledger_entries(source_commit_id) WHERE source_commit_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS attendance (
		worker_id TEXT NOT NULL,
		day TEXT NOT NULL,
		status TEXT NOT NULL,
		hours_worked TEXT NOT NULL,
		hourly_rate TEXT NOT NULL,
		PRIMARY KEY (worker_id, day)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		saved_at TEXT NOT NULL,
		confirmed_by TEXT,
		locked INTEGER NOT NULL DEFAULT 1,
		deleted_at TEXT
	);

	-- Hot path for the period lock check
	CREATE INDEX IF NOT EXISTS idx_snapshots_live
		ON snapshots(kind, period_start, period_end) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS snapshot_lines (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
		worker_id TEXT NOT NULL,
		line_json TEXT NOT NULL,
		deposit_entry_id TEXT,
		PRIMARY KEY (snapshot_id, worker_id)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_lines_worker
		ON snapshot_lines(worker_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER (payroll.Store)
// =============================================================================

func (s *Store) Head(ctx context.Context, workerID payroll.WorkerID) (payroll.Head, error) {
	return head(ctx, s.db, workerID)
}

func head(ctx context.Context, q querier, workerID payroll.WorkerID) (payroll.Head, error) {
	var (
		seq     int64
		balance string
	)
	err := q.QueryRowContext(ctx,
		`SELECT seq, balance_after FROM ledger_entries WHERE worker_id = ? ORDER BY seq DESC LIMIT 1`,
		workerID,
	).Scan(&seq, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Head{WorkerID: workerID}, nil
	}
	if err != nil {
		return payroll.Head{}, fmt.Errorf("failed to read ledger head: %w", err)
	}
	return payroll.Head{WorkerID: workerID, Balance: parseMoney(balance), Seq: seq}, nil
}

func (s *Store) AppendEntry(ctx context.Context, e payroll.LedgerEntry) error {
	return appendEntry(ctx, s.db, e)
}

// appendEntry inserts the entry only if its seq directly follows the head.
// The head check and the insert are one statement; the unique index catches
// writers that raced past it.
func appendEntry(ctx context.Context, q querier, e payroll.LedgerEntry) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, worker_id, seq, kind, amount, entry_date, notes, balance_after,
		 source_commit_id, reverses_entry_id, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM ledger_entries WHERE worker_id = ?) = ? - 1
	`,
		e.ID,
		e.WorkerID,
		e.Seq,
		e.Kind,
		e.Amount.Value.String(),
		e.Date.String(),
		nullString(e.Notes),
		e.BalanceAfter.Value.String(),
		nullString(string(e.SourceCommitID)),
		nullString(string(e.ReversesEntryID)),
		formatTime(e.CreatedAt),
		e.WorkerID,
		e.Seq,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s seq %d already taken", payroll.ErrConcurrentModification, e.WorkerID, e.Seq)
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s head moved before seq %d", payroll.ErrConcurrentModification, e.WorkerID, e.Seq)
	}
	return nil
}

const entryColumns = `id, worker_id, seq, kind, amount, entry_date, notes, balance_after,
	source_commit_id, reverses_entry_id, created_at`

func (s *Store) Entries(ctx context.Context, workerID payroll.WorkerID) ([]payroll.LedgerEntry, error) {
	return queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE worker_id = ? ORDER BY seq ASC`, workerID)
}

func (s *Store) EntriesBySource(ctx context.Context, id payroll.SnapshotID) ([]payroll.LedgerEntry, error) {
	return queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE source_commit_id = ? ORDER BY worker_id ASC, seq ASC`, id)
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]payroll.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []payroll.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (payroll.LedgerEntry, error) {
	var (
		e            payroll.LedgerEntry
		amount       string
		entryDate    string
		notes        sql.NullString
		balanceAfter string
		source       sql.NullString
		reverses     sql.NullString
		createdAt    string
	)
	err := rows.Scan(&e.ID, &e.WorkerID, &e.Seq, &e.Kind, &amount, &entryDate, &notes,
		&balanceAfter, &source, &reverses, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.Amount = parseMoney(amount)
	e.Date, _ = payroll.ParseDate(entryDate)
	e.Notes = notes.String
	e.BalanceAfter = parseMoney(balanceAfter)
	e.SourceCommitID = payroll.SnapshotID(source.String)
	e.ReversesEntryID = payroll.EntryID(reverses.String)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// SNAPSHOTS (payroll.Store)
// =============================================================================

func (s *Store) EnsureSnapshot(ctx context.Context, header payroll.HistorySnapshot) error {
	return ensureSnapshot(ctx, s.db, header)
}

func ensureSnapshot(ctx context.Context, q querier, h payroll.HistorySnapshot) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO snapshots (id, kind, period_start, period_end, saved_at, confirmed_by, locked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		h.ID, h.Kind, h.Period.Start.String(), h.Period.End.String(),
		formatTime(h.SavedAt), nullString(h.ConfirmedBy), h.Locked,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Store) AppendSnapshotLine(ctx context.Context, id payroll.SnapshotID, line payroll.SnapshotLine) error {
	return appendSnapshotLine(ctx, s.db, id, line)
}

func appendSnapshotLine(ctx context.Context, q querier, id payroll.SnapshotID, line payroll.SnapshotLine) error {
	lineJSON, err := json.Marshal(line.DraftLine)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot line: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO snapshot_lines (snapshot_id, worker_id, line_json, deposit_entry_id)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM snapshots WHERE id = ? AND deleted_at IS NULL)
	`, id, line.WorkerID, string(lineJSON), nullString(string(line.DepositEntryID)), id)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", payroll.ErrSnapshotNotFound, id)
		}
		return fmt.Errorf("failed to save snapshot line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save snapshot line: %w", err)
	}
	if n == 0 {
		snap, err := getSnapshot(ctx, q, id)
		if err != nil {
			return err
		}
		if snap.Deleted() {
			return fmt.Errorf("%w: %s", payroll.ErrSnapshotDeleted, id)
		}
		return fmt.Errorf("failed to save snapshot line for %s", line.WorkerID)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id payroll.SnapshotID) (*payroll.HistorySnapshot, error) {
	return getSnapshot(ctx, s.db, id)
}

const snapshotColumns = `id, kind, period_start, period_end, saved_at, confirmed_by, locked, deleted_at`

func getSnapshot(ctx context.Context, q querier, id payroll.SnapshotID) (*payroll.HistorySnapshot, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s", payroll.ErrSnapshotNotFound, id)
	}
	if err := loadLines(ctx, q, &snaps[0]); err != nil {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *Store) ListSnapshots(ctx context.Context, filter payroll.SnapshotFilter) ([]payroll.HistorySnapshot, error) {
	return listSnapshots(ctx, s.db, filter)
}

func listSnapshots(ctx context.Context, q querier, filter payroll.SnapshotFilter) ([]payroll.HistorySnapshot, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.WorkerID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM snapshot_lines l WHERE l.snapshot_id = snapshots.id AND l.worker_id = ?)")
		args = append(args, filter.WorkerID)
	}
	query := `SELECT ` + snapshotColumns + ` FROM snapshots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY saved_at DESC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		if err := loadLines(ctx, q, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func scanSnapshots(rows *sql.Rows) ([]payroll.HistorySnapshot, error) {
	defer rows.Close()
	snaps := []payroll.HistorySnapshot{}
	for rows.Next() {
		var (
			snap        payroll.HistorySnapshot
			start, end  string
			savedAt     string
			confirmedBy sql.NullString
			deletedAt   sql.NullString
		)
		if err := rows.Scan(&snap.ID, &snap.Kind, &start, &end, &savedAt, &confirmedBy, &snap.Locked, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Period.Start, _ = payroll.ParseDate(start)
		snap.Period.End, _ = payroll.ParseDate(end)
		snap.SavedAt = parseTime(savedAt)
		snap.ConfirmedBy = confirmedBy.String
		if deletedAt.Valid {
			at := parseTime(deletedAt.String)
			snap.DeletedAt = &at
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func loadLines(ctx context.Context, q querier, snap *payroll.HistorySnapshot) error {
	rows, err := q.QueryContext(ctx,
		`SELECT line_json, deposit_entry_id FROM snapshot_lines WHERE snapshot_id = ? ORDER BY worker_id ASC`, snap.ID)
	if err != nil {
		return fmt.Errorf("failed to query snapshot lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lineJSON string
			deposit  sql.NullString
			line     payroll.SnapshotLine
		)
		if err := rows.Scan(&lineJSON, &deposit); err != nil {
			return fmt.Errorf("failed to scan snapshot line: %w", err)
		}
		if err := json.Unmarshal([]byte(lineJSON), &line.DraftLine); err != nil {
			return fmt.Errorf("failed to decode snapshot line: %w", err)
		}
		line.DepositEntryID = payroll.EntryID(deposit.String)
		snap.Lines = append(snap.Lines, line)
	}
	return rows.Err()
}

func (s *Store) MarkSnapshotDeleted(ctx context.Context, id payroll.SnapshotID, at time.Time) error {
	return markSnapshotDeleted(ctx, s.db, id, at)
}

func markSnapshotDeleted(ctx context.Context, q querier, id payroll.SnapshotID, at time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE snapshots SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := getSnapshot(ctx, q, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", payroll.ErrSnapshotDeleted, id)
}

func (s *Store) FindLock(ctx context.Context, workerID payroll.WorkerID, kind payroll.SettlementKind, period payroll.Period) (*payroll.PeriodLock, error) {
	return findLock(ctx, s.db, workerID, kind, period)
}

func findLock(ctx context.Context, q querier, workerID payroll.WorkerID, kind payroll.SettlementKind, period payroll.Period) (*payroll.PeriodLock, error) {
	var id, start, end string
	err := q.QueryRowContext(ctx, `
		SELECT s.id, s.period_start, s.period_end
		FROM snapshots s
		JOIN snapshot_lines l ON l.snapshot_id = s.id
		WHERE l.worker_id = ? AND s.kind = ? AND s.deleted_at IS NULL
		  AND s.period_start <= ? AND s.period_end >= ?
		ORDER BY s.saved_at ASC, s.id ASC
		LIMIT 1
	`, workerID, kind, period.End.String(), period.Start.String()).Scan(&id, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check period lock: %w", err)
	}
	lock := &payroll.PeriodLock{SnapshotID: payroll.SnapshotID(id)}
	lock.Period.Start, _ = payroll.ParseDate(start)
	lock.Period.End, _ = payroll.ParseDate(end)
	return lock, nil
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Head(ctx context.Context, workerID payroll.WorkerID) (payroll.Head, error) {
	return head(ctx, ts.tx, workerID)
}

func (ts *txStore) AppendEntry(ctx context.Context, e payroll.LedgerEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Entries(ctx context.Context, workerID payroll.WorkerID) ([]payroll.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE worker_id = ? ORDER BY seq ASC`, workerID)
}

func (ts *txStore) EntriesBySource(ctx context.Context, id payroll.SnapshotID) ([]payroll.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE source_commit_id = ? ORDER BY worker_id ASC, seq ASC`, id)
}

func (ts *txStore) EnsureSnapshot(ctx context.Context, header payroll.HistorySnapshot) error {
	return ensureSnapshot(ctx, ts.tx, header)
}

func (ts *txStore) AppendSnapshotLine(ctx context.Context, id payroll.SnapshotID, line payroll.SnapshotLine) error {
	return appendSnapshotLine(ctx, ts.tx, id, line)
}

func (ts *txStore) GetSnapshot(ctx context.Context, id payroll.SnapshotID) (*payroll.HistorySnapshot, error) {
	return getSnapshot(ctx, ts.tx, id)
}

func (ts *txStore) ListSnapshots(ctx context.Context, filter payroll.SnapshotFilter) ([]payroll.HistorySnapshot, error) {
	return listSnapshots(ctx, ts.tx, filter)
}

func (ts *txStore) MarkSnapshotDeleted(ctx context.Context, id payroll.SnapshotID, at time.Time) error {
	return markSnapshotDeleted(ctx, ts.tx, id, at)
}

func (ts *txStore) FindLock(ctx context.Context, workerID payroll.WorkerID, kind payroll.SettlementKind, period payroll.Period) (*payroll.PeriodLock, error) {
	return findLock(ctx, ts.tx, workerID, kind, period)
}

// =============================================================================
// WORKER STORE
// =============================================================================

func (s *Store) CreateWorker(ctx context.Context, w payroll.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, name, hourly_rate, daily_working_hours, overtime_rate, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, w.HourlyRate.Value.String(), w.DailyWorkingHours.String(), w.OvertimeRate.String(),
		w.IsActive, formatTime(w.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", payroll.ErrWorkerExists, w.ID)
		}
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (s *Store) UpdateWorker(ctx context.Context, w payroll.Worker) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET name = ?, hourly_rate = ?, daily_working_hours = ?, overtime_rate = ?, is_active = ?
		WHERE id = ?
	`, w.Name, w.HourlyRate.Value.String(), w.DailyWorkingHours.String(), w.OvertimeRate.String(), w.IsActive, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update worker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", payroll.ErrWorkerNotFound, w.ID)
	}
	return nil
}

const workerColumns = `id, name, hourly_rate, daily_working_hours, overtime_rate, is_active, created_at`

func (s *Store) GetWorker(ctx context.Context, id payroll.WorkerID) (*payroll.Worker, error) {
	workers, err := s.queryWorkers(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: %s", payroll.ErrWorkerNotFound, id)
	}
	return &workers[0], nil
}

func (s *Store) ListWorkers(ctx context.Context, activeOnly bool) ([]payroll.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	return s.queryWorkers(ctx, query+` ORDER BY id ASC`)
}

func (s *Store) queryWorkers(ctx context.Context, query string, args ...any) ([]payroll.Worker, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	workers := []payroll.Worker{}
	for rows.Next() {
		var (
			w                     payroll.Worker
			rate, daily, overtime string
			createdAt             string
		)
		if err := rows.Scan(&w.ID, &w.Name, &rate, &daily, &overtime, &w.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		w.HourlyRate = parseMoney(rate)
		w.DailyWorkingHours = parseDecimal(daily)
		w.OvertimeRate = parseDecimal(overtime)
		w.CreatedAt = parseTime(createdAt)
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// =============================================================================
// ATTENDANCE (payroll.AttendanceSource)
// =============================================================================

// AddAttendance records or replaces the worker's record for that day.
func (s *Store) AddAttendance(ctx context.Context, r payroll.AttendanceRecord) error {
	if !r.Status.Valid() {
		return fmt.Errorf("invalid attendance status %q", r.Status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (worker_id, day, status, hours_worked, hourly_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(worker_id, day) DO UPDATE SET
			status = excluded.status,
			hours_worked = excluded.hours_worked,
			hourly_rate = excluded.hourly_rate
	`, r.WorkerID, r.Date.String(), r.Status, r.HoursWorked.String(), r.HourlyRate.Value.String())
	if err != nil {
		return fmt.Errorf("failed to save attendance: %w", err)
	}
	return nil
}

func (s *Store) ListAttendance(ctx context.Context, workerID payroll.WorkerID, period payroll.Period) ([]payroll.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, day, status, hours_worked, hourly_rate
		FROM attendance
		WHERE worker_id = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`, workerID, period.Start.String(), period.End.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", payroll.ErrAttendanceUnavailable, err)
	}
	defer rows.Close()

	records := []payroll.AttendanceRecord{}
	for rows.Next() {
		var (
			r                payroll.AttendanceRecord
			day, hours, rate string
		)
		if err := rows.Scan(&r.WorkerID, &day, &r.Status, &hours, &rate); err != nil {
			return nil, fmt.Errorf("%w: %w", payroll.ErrAttendanceUnavailable, err)
		}
		r.Date, _ = payroll.ParseDate(day)
		r.HoursWorked = parseDecimal(hours)
		r.HourlyRate = parseMoney(rate)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", payroll.ErrAttendanceUnavailable, err)
	}
	return records, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMoney(value string) payroll.Money {
	return payroll.MoneyFromDecimal(parseDecimal(value))
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, value)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var (
	_ payroll.Repository       = (*Store)(nil)
	_ payroll.AttendanceSource = (*Store)(nil)
	_ payroll.Store            = (*txStore)(nil)
)
