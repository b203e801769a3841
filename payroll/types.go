/*
Package payroll provides the worker ledger and period-settlement engine.

PURPOSE:
  Tracks, for every worker, an append-only money ledger of advances given and
  deposits repaid, and computes bonus/salary settlements over arbitrary date
  ranges. Settlements are previewed as side-effect-free drafts and committed
  once, atomically, into an immutable HistorySnapshot.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amount of the single operating currency
  - LedgerEntry: an immutable advance or deposit with the balance after it
  - Worker: pay attributes of a worker (rate, daily hours, active flag)
  - Head: the O(1) running total of a worker's ledger

DESIGN PRINCIPLES:
  1. Immutability: entries are never modified, only compensated
  2. Precision: decimal.Decimal everywhere, no float money
  3. Single balance: only the ledger head answers "what is owed"
  4. Auditability: every settlement-produced entry carries its commit id

SEE ALSO:
  - ledger.go: Append / BalanceOf / HistoryOf
  - calculator.go: draft settlements
  - committer.go: commit and snapshot deletion
*/
package payroll

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is an amount in the operating currency. The zero value is 0.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money               { return Money{Value: decimal.NewFromInt(value)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }

// ParseMoney parses a decimal string such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for constants; it panics on bad input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromFloat converts an external float, rejecting NaN and infinities.
func MoneyFromFloat(f float64) (Money, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Money{}, fmt.Errorf("%w: non-finite value", ErrInvalidAmount)
	}
	return Money{Value: decimal.NewFromFloat(f)}, nil
}

func (m Money) Add(o Money) Money              { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money              { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(d decimal.Decimal) Money    { return Money{Value: m.Value.Mul(d)} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool             { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool       { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool          { return m.Value.LessThan(o.Value) }
func (m Money) String() string                 { return m.Value.StringFixed(2) }
func (m Money) Float64() float64               { return m.Value.InexactFloat64() }

// Round rounds half away from zero to whole cents.
func (m Money) Round() Money { return Money{Value: m.Value.Round(2)} }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return Money{}
	}
	return m
}

// MarshalJSON emits the canonical two-decimal string so drafts serialise
// identically regardless of how the decimal was built.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Value.UnmarshalJSON(b)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkerID string
type EntryID string
type SnapshotID string

// =============================================================================
// WORKER
// =============================================================================

// Worker holds the pay attributes the engine needs. Display details (bank,
// phone) are the exporter's concern.
type Worker struct {
	ID                WorkerID
	Name              string
	HourlyRate        Money
	DailyWorkingHours decimal.Decimal
	// OvertimeRate multiplies the hourly rate for hours beyond
	// DailyWorkingHours in salary runs. Zero is treated as 1.
	OvertimeRate decimal.Decimal
	IsActive     bool
	CreatedAt    time.Time
}

func (w Worker) overtimeMultiplier() decimal.Decimal {
	if w.OvertimeRate.IsPositive() {
		return w.OvertimeRate
	}
	return decimal.NewFromInt(1)
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryKind string

const (
	EntryAdvance EntryKind = "advance" // money given ahead of pay; increases balance owed
	EntryDeposit EntryKind = "deposit" // money repaid; decreases balance owed
)

func (k EntryKind) Valid() bool { return k == EntryAdvance || k == EntryDeposit }

// Opposite is the kind of the compensating entry.
func (k EntryKind) Opposite() EntryKind {
	if k == EntryAdvance {
		return EntryDeposit
	}
	return EntryAdvance
}

// LedgerEntry is immutable once appended.
type LedgerEntry struct {
	ID       EntryID
	WorkerID WorkerID
	// Seq is the 1-based insertion sequence within the worker's ledger. It
	// doubles as the optimistic version of the account.
	Seq          int64
	Kind         EntryKind
	Amount       Money
	Date         Date
	Notes        string
	BalanceAfter Money

	SourceCommitID  SnapshotID // settlement that produced the entry, if any
	ReversesEntryID EntryID    // set on compensating entries

	CreatedAt time.Time
}

// Signed returns the entry's effect on the balance.
func (e LedgerEntry) Signed() Money {
	if e.Kind == EntryDeposit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Head is the running total of a worker's ledger: the BalanceAfter and Seq of
// the last entry, or zero values for an empty ledger.
type Head struct {
	WorkerID WorkerID
	Balance  Money
	Seq      int64
}

// Next builds the entry that would follow this head.
func (h Head) Next(kind EntryKind, amount Money) (seq int64, balanceAfter Money) {
	if kind == EntryDeposit {
		return h.Seq + 1, h.Balance.Sub(amount)
	}
	return h.Seq + 1, h.Balance.Add(amount)
}
