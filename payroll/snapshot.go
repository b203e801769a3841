package payroll

import (
	"sort"
	"time"
)

// =============================================================================
// HISTORY SNAPSHOT - Frozen, locked record of a committed settlement
// =============================================================================

// SnapshotLine is a copy of the draft line taken at commit time plus the id of
// the deposit entry it produced, if any. Later edits to the worker never reach
// it.
type SnapshotLine struct {
	DraftLine
	DepositEntryID EntryID `json:"deposit_entry_id,omitempty"`
}

// HistorySnapshot is immutable once created. Deleting it reverses its ledger
// effect and stamps DeletedAt; it is never edited in place.
type HistorySnapshot struct {
	ID          SnapshotID
	Kind        SettlementKind
	Period      Period
	SavedAt     time.Time
	ConfirmedBy string
	Lines       []SnapshotLine
	Locked      bool
	DeletedAt   *time.Time
}

func (s HistorySnapshot) Deleted() bool { return s.DeletedAt != nil }

// Line returns the frozen line for the worker.
func (s HistorySnapshot) Line(workerID WorkerID) (SnapshotLine, bool) {
	for _, l := range s.Lines {
		if l.WorkerID == workerID {
			return l, true
		}
	}
	return SnapshotLine{}, false
}

func (s HistorySnapshot) WorkerIDs() []WorkerID {
	ids := make([]WorkerID, 0, len(s.Lines))
	for _, l := range s.Lines {
		ids = append(ids, l.WorkerID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s HistorySnapshot) Totals() Totals {
	lines := make([]DraftLine, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = l.DraftLine
	}
	return sumLines(lines)
}

// Clone deep-copies the snapshot so stores never hand out shared slices.
func (s HistorySnapshot) Clone() HistorySnapshot {
	out := s
	out.Lines = append([]SnapshotLine(nil), s.Lines...)
	if s.DeletedAt != nil {
		at := *s.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

// SnapshotFilter narrows ListSnapshots. Zero values match everything except
// deleted snapshots.
type SnapshotFilter struct {
	WorkerID       WorkerID
	Kind           SettlementKind
	IncludeDeleted bool
}

func (f SnapshotFilter) Match(s HistorySnapshot) bool {
	if s.Deleted() && !f.IncludeDeleted {
		return false
	}
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if f.WorkerID != "" {
		if _, ok := s.Line(f.WorkerID); !ok {
			return false
		}
	}
	return true
}

// PeriodLock identifies the snapshot holding a worker's period.
type PeriodLock struct {
	SnapshotID SnapshotID
	Period     Period
}

// =============================================================================
// PERIOD STATE
// =============================================================================

// PeriodState is the server-visible lifecycle of a (worker, kind, period).
// Drafts live with the caller, so the server sees Open until a commit lands.
//
//	Open -> Committed -> Deleted -> (Open again for a fresh commit)
type PeriodState string

const (
	PeriodOpen      PeriodState = "open"
	PeriodCommitted PeriodState = "committed"
	PeriodDeleted   PeriodState = "deleted"
)

// PeriodStatus reports the state plus the snapshot that determines it.
type PeriodStatus struct {
	State      PeriodState
	SnapshotID SnapshotID
}
