/*
errors.go - Error taxonomy for the ledger and settlement engine

ERROR CATEGORIES:
  1. Amount errors      - InvalidAmount, InsufficientBalance
  2. Settlement errors  - PeriodAlreadyLocked, InvalidDraft, AttendanceUnavailable
  3. Concurrency errors - ConcurrentModification (retryable)
  4. Lookup errors      - WorkerNotFound, SnapshotNotFound

Every per-worker failure in a calculation or commit batch is reported as a
*SettlementError carrying the worker and period, so a caller can build an
exact retry list. Sentinels stay reachable through errors.Is.
*/
package payroll

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive or non-finite amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a deposit or reversal would drive
	// a worker's balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPeriodAlreadyLocked is returned when a non-deleted snapshot of the same
	// kind already covers the period for a worker.
	ErrPeriodAlreadyLocked = errors.New("period already locked")

	// ErrConcurrentModification is returned when the optimistic head check fails.
	// Re-read the balance and retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAttendanceUnavailable is returned when attendance could not be read or
	// is inconsistent for the requested range.
	ErrAttendanceUnavailable = errors.New("attendance unavailable")

	ErrWorkerNotFound   = errors.New("worker not found")
	ErrWorkerInactive   = errors.New("worker inactive")
	ErrWorkerExists     = errors.New("worker already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotDeleted  = errors.New("snapshot already deleted")
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrInvalidDraft     = errors.New("invalid draft settlement")
	ErrInvalidKind      = errors.New("invalid kind")

	// ErrLedgerInconsistent is returned by Reconcile when the stored running
	// balances disagree with the entries.
	ErrLedgerInconsistent = errors.New("ledger inconsistent")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	WorkerID  WorkerID
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, shortfall %s",
		e.WorkerID, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// PeriodLockedError names the snapshot that already covers the period.
type PeriodLockedError struct {
	WorkerID   WorkerID
	SnapshotID SnapshotID
	Locked     Period
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period already locked for %s by snapshot %s %s", e.WorkerID, e.SnapshotID, e.Locked)
}

func (e *PeriodLockedError) Unwrap() error {
	return ErrPeriodAlreadyLocked
}

// SettlementError is a per-worker failure inside a calculation or commit batch.
type SettlementError struct {
	WorkerID WorkerID
	Kind     SettlementKind
	Period   Period
	Err      error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Period, e.WorkerID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Code returns the taxonomy name of the underlying failure.
func (e *SettlementError) Code() string { return ErrorCode(e.Err) }

// ErrorCode maps an error onto its taxonomy name.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, ErrPeriodAlreadyLocked):
		return "PeriodAlreadyLocked"
	case errors.Is(err, ErrConcurrentModification):
		return "ConcurrentModification"
	case errors.Is(err, ErrAttendanceUnavailable):
		return "AttendanceUnavailable"
	case errors.Is(err, ErrWorkerNotFound):
		return "WorkerNotFound"
	case errors.Is(err, ErrWorkerInactive):
		return "WorkerInactive"
	case errors.Is(err, ErrSnapshotNotFound):
		return "SnapshotNotFound"
	case errors.Is(err, ErrSnapshotDeleted):
		return "SnapshotDeleted"
	case errors.Is(err, ErrInvalidPeriod):
		return "InvalidPeriod"
	case errors.Is(err, ErrInvalidDraft):
		return "InvalidDraft"
	case errors.Is(err, ErrInvalidKind):
		return "InvalidKind"
	case errors.Is(err, ErrWorkerExists):
		return "WorkerExists"
	case errors.Is(err, ErrLedgerInconsistent):
		return "LedgerInconsistent"
	default:
		return "Internal"
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrAttendanceUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPeriodAlreadyLocked) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidDraft) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrWorkerInactive) ||
		errors.Is(err, ErrWorkerExists) ||
		errors.Is(err, ErrSnapshotDeleted)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkerNotFound) ||
		errors.Is(err, ErrSnapshotNotFound)
}
