// Package store provides in-memory implementations of the payroll stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements payroll.Repository and payroll.AttendanceSource.
type Memory struct {
	mu         sync.RWMutex
	workers    map[payroll.WorkerID]payroll.Worker
	entries    map[payroll.WorkerID][]payroll.LedgerEntry
	snapshots  map[payroll.SnapshotID]*payroll.HistorySnapshot
	order      []payroll.SnapshotID
	attendance map[payroll.WorkerID]map[string]payroll.AttendanceRecord
}

func NewMemory() *Memory {
	return &Memory{
		workers:    make(map[payroll.WorkerID]payroll.Worker),
		entries:    make(map[payroll.WorkerID][]payroll.LedgerEntry),
		snapshots:  make(map[payroll.SnapshotID]*payroll.HistorySnapshot),
		attendance: make(map[payroll.WorkerID]map[string]payroll.AttendanceRecord),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) Head(_ context.Context, workerID payroll.WorkerID) (payroll.Head, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.headLocked(workerID), nil
}

func (m *Memory) headLocked(workerID payroll.WorkerID) payroll.Head {
	es := m.entries[workerID]
	if len(es) == 0 {
		return payroll.Head{WorkerID: workerID}
	}
	last := es[len(es)-1]
	return payroll.Head{WorkerID: workerID, Balance: last.BalanceAfter, Seq: last.Seq}
}

func (m *Memory) AppendEntry(_ context.Context, e payroll.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e payroll.LedgerEntry) error {
	head := m.headLocked(e.WorkerID)
	if e.Seq != head.Seq+1 {
		return fmt.Errorf("%w: %s expected seq %d, got %d", payroll.ErrConcurrentModification, e.WorkerID, head.Seq+1, e.Seq)
	}
	m.entries[e.WorkerID] = append(m.entries[e.WorkerID], e)
	return nil
}

func (m *Memory) Entries(_ context.Context, workerID payroll.WorkerID) ([]payroll.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(workerID), nil
}

func (m *Memory) entriesLocked(workerID payroll.WorkerID) []payroll.LedgerEntry {
	return append([]payroll.LedgerEntry{}, m.entries[workerID]...)
}

func (m *Memory) EntriesBySource(_ context.Context, id payroll.SnapshotID) ([]payroll.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesBySourceLocked(id), nil
}

func (m *Memory) entriesBySourceLocked(id payroll.SnapshotID) []payroll.LedgerEntry {
	workers := make([]payroll.WorkerID, 0, len(m.entries))
	for w := range m.entries {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })

	var out []payroll.LedgerEntry
	for _, w := range workers {
		for _, e := range m.entries[w] {
			if e.SourceCommitID == id {
				out = append(out, e)
			}
		}
	}
	return out
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) EnsureSnapshot(_ context.Context, header payroll.HistorySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSnapshotLocked(header)
	return nil
}

func (m *Memory) ensureSnapshotLocked(header payroll.HistorySnapshot) {
	if _, ok := m.snapshots[header.ID]; ok {
		return
	}
	s := header.Clone()
	s.Lines = nil
	m.snapshots[header.ID] = &s
	m.order = append(m.order, header.ID)
}

func (m *Memory) AppendSnapshotLine(_ context.Context, id payroll.SnapshotID, line payroll.SnapshotLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendSnapshotLineLocked(id, line)
}

func (m *Memory) appendSnapshotLineLocked(id payroll.SnapshotID, line payroll.SnapshotLine) error {
	s, ok := m.snapshots[id]
	if !ok {
		return fmt.Errorf("%w: %s", payroll.ErrSnapshotNotFound, id)
	}
	if s.Deleted() {
		return fmt.Errorf("%w: %s", payroll.ErrSnapshotDeleted, id)
	}
	if _, dup := s.Line(line.WorkerID); dup {
		return fmt.Errorf("snapshot %s already has a line for %s", id, line.WorkerID)
	}
	s.Lines = append(s.Lines, line)
	sort.Slice(s.Lines, func(i, j int) bool { return s.Lines[i].WorkerID < s.Lines[j].WorkerID })
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, id payroll.SnapshotID) (*payroll.HistorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSnapshotLocked(id)
}

func (m *Memory) getSnapshotLocked(id payroll.SnapshotID) (*payroll.HistorySnapshot, error) {
	s, ok := m.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payroll.ErrSnapshotNotFound, id)
	}
	out := s.Clone()
	return &out, nil
}

func (m *Memory) ListSnapshots(_ context.Context, filter payroll.SnapshotFilter) ([]payroll.HistorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSnapshotsLocked(filter), nil
}

// listSnapshotsLocked returns matches newest first.
func (m *Memory) listSnapshotsLocked(filter payroll.SnapshotFilter) []payroll.HistorySnapshot {
	out := []payroll.HistorySnapshot{}
	for _, id := range m.order {
		if s := m.snapshots[id]; filter.Match(*s) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) MarkSnapshotDeleted(_ context.Context, id payroll.SnapshotID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markDeletedLocked(id, at)
}

func (m *Memory) markDeletedLocked(id payroll.SnapshotID, at time.Time) error {
	s, ok := m.snapshots[id]
	if !ok {
		return fmt.Errorf("%w: %s", payroll.ErrSnapshotNotFound, id)
	}
	if s.Deleted() {
		return fmt.Errorf("%w: %s", payroll.ErrSnapshotDeleted, id)
	}
	s.DeletedAt = &at
	return nil
}

func (m *Memory) FindLock(_ context.Context, workerID payroll.WorkerID, kind payroll.SettlementKind, period payroll.Period) (*payroll.PeriodLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLockLocked(workerID, kind, period), nil
}

func (m *Memory) findLockLocked(workerID payroll.WorkerID, kind payroll.SettlementKind, period payroll.Period) *payroll.PeriodLock {
	for _, id := range m.order {
		s := m.snapshots[id]
		if s.Deleted() || s.Kind != kind || !s.Period.Overlaps(period) {
			continue
		}
		if _, ok := s.Line(workerID); ok {
			return &payroll.PeriodLock{SnapshotID: s.ID, Period: s.Period}
		}
	}
	return nil
}

// =============================================================================
// WORKERS
// =============================================================================

func (m *Memory) CreateWorker(_ context.Context, w payroll.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[w.ID]; ok {
		return fmt.Errorf("%w: %s", payroll.ErrWorkerExists, w.ID)
	}
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) UpdateWorker(_ context.Context, w payroll.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[w.ID]; !ok {
		return fmt.Errorf("%w: %s", payroll.ErrWorkerNotFound, w.ID)
	}
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) GetWorker(_ context.Context, id payroll.WorkerID) (*payroll.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payroll.ErrWorkerNotFound, id)
	}
	return &w, nil
}

func (m *Memory) ListWorkers(_ context.Context, activeOnly bool) ([]payroll.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []payroll.Worker{}
	for _, w := range m.workers {
		if activeOnly && !w.IsActive {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// AddAttendance records or replaces the worker's record for that day.
func (m *Memory) AddAttendance(_ context.Context, r payroll.AttendanceRecord) error {
	if !r.Status.Valid() {
		return fmt.Errorf("invalid attendance status %q", r.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	days, ok := m.attendance[r.WorkerID]
	if !ok {
		days = make(map[string]payroll.AttendanceRecord)
		m.attendance[r.WorkerID] = days
	}
	days[r.Date.String()] = r
	return nil
}

func (m *Memory) ListAttendance(_ context.Context, workerID payroll.WorkerID, period payroll.Period) ([]payroll.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []payroll.AttendanceRecord{}
	for _, r := range m.attendance[workerID] {
		if period.Contains(r.Date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(payroll.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries   map[payroll.WorkerID][]payroll.LedgerEntry
	snapshots map[payroll.SnapshotID]*payroll.HistorySnapshot
	order     []payroll.SnapshotID
}

func (m *Memory) snapshot() memorySnapshot {
	entries := make(map[payroll.WorkerID][]payroll.LedgerEntry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]payroll.LedgerEntry{}, v...)
	}
	snaps := make(map[payroll.SnapshotID]*payroll.HistorySnapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		c := v.Clone()
		snaps[k] = &c
	}
	return memorySnapshot{
		entries:   entries,
		snapshots: snaps,
		order:     append([]payroll.SnapshotID{}, m.order...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.snapshots = s.snapshots
	m.order = s.order
}

// txView is the Store handed to WithTx callbacks. The parent mutex is
// already held, so it calls the *Locked helpers directly.
type txView struct {
	m *Memory
}

func (v *txView) Head(_ context.Context, workerID payroll.WorkerID) (payroll.Head, error) {
	return v.m.headLocked(workerID), nil
}

func (v *txView) AppendEntry(_ context.Context, e payroll.LedgerEntry) error {
	return v.m.appendEntryLocked(e)
}

func (v *txView) Entries(_ context.Context, workerID payroll.WorkerID) ([]payroll.LedgerEntry, error) {
	return v.m.entriesLocked(workerID), nil
}

func (v *txView) EntriesBySource(_ context.Context, id payroll.SnapshotID) ([]payroll.LedgerEntry, error) {
	return v.m.entriesBySourceLocked(id), nil
}

func (v *txView) EnsureSnapshot(_ context.Context, header payroll.HistorySnapshot) error {
	v.m.ensureSnapshotLocked(header)
	return nil
}

func (v *txView) AppendSnapshotLine(_ context.Context, id payroll.SnapshotID, line payroll.SnapshotLine) error {
	return v.m.appendSnapshotLineLocked(id, line)
}

func (v *txView) GetSnapshot(_ context.Context, id payroll.SnapshotID) (*payroll.HistorySnapshot, error) {
	return v.m.getSnapshotLocked(id)
}

func (v *txView) ListSnapshots(_ context.Context, filter payroll.SnapshotFilter) ([]payroll.HistorySnapshot, error) {
	return v.m.listSnapshotsLocked(filter), nil
}

func (v *txView) MarkSnapshotDeleted(_ context.Context, id payroll.SnapshotID, at time.Time) error {
	return v.m.markDeletedLocked(id, at)
}

func (v *txView) FindLock(_ context.Context, workerID payroll.WorkerID, kind payroll.SettlementKind, period payroll.Period) (*payroll.PeriodLock, error) {
	return v.m.findLockLocked(workerID, kind, period), nil
}

var (
	_ payroll.Repository       = (*Memory)(nil)
	_ payroll.AttendanceSource = (*Memory)(nil)
	_ payroll.Store            = (*txView)(nil)
)
