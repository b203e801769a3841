package payroll

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// =============================================================================
// SETTLEMENT KIND
// =============================================================================

type SettlementKind string

const (
	KindBonus  SettlementKind = "bonus"
	KindSalary SettlementKind = "salary"
)

func (k SettlementKind) Valid() bool { return k == KindBonus || k == KindSalary }

func ParseSettlementKind(s string) (SettlementKind, error) {
	k := SettlementKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// =============================================================================
// ADJUSTMENT - Caller-supplied inputs to a draft line
// =============================================================================

type Adjustment struct {
	// PenaltyPerAbsentDay applies to bonus runs only.
	PenaltyPerAbsentDay Money `json:"penalty_per_absent_day"`
	// DeductAdvance shows the outstanding advance as a bonus reduction. It is
	// display-only and never posts to the ledger.
	DeductAdvance   bool   `json:"deduct_advance"`
	ExtraAmount     Money  `json:"extra_amount"`
	ProposedDeposit Money  `json:"proposed_deposit"`
	DepositNotes    string `json:"deposit_notes,omitempty"`
}

func (a Adjustment) validate() error {
	switch {
	case a.PenaltyPerAbsentDay.IsNegative():
		return fmt.Errorf("%w: penalty per absent day is negative", ErrInvalidAmount)
	case a.ExtraAmount.IsNegative():
		return fmt.Errorf("%w: extra amount is negative", ErrInvalidAmount)
	case a.ProposedDeposit.IsNegative():
		return fmt.Errorf("%w: proposed deposit is negative", ErrInvalidAmount)
	}
	return nil
}

// =============================================================================
// DRAFT SETTLEMENT - Ephemeral, recomputable preview
// =============================================================================

// DraftLine is one worker's computed settlement.
type DraftLine struct {
	WorkerID    WorkerID `json:"worker_id"`
	HourlyRate  Money    `json:"hourly_rate"`
	DaysPresent int      `json:"days_present"`
	DaysAbsent  int      `json:"days_absent"`
	DaysHalf    int      `json:"days_half"`
	DaysHoliday int      `json:"days_holiday"`
	HoursWorked string   `json:"hours_worked"`
	// RegularHours and OvertimeHours split HoursWorked; OvertimePay is the
	// part of the attendance pay earned at the overtime multiplier.
	RegularHours  string `json:"regular_hours"`
	OvertimeHours string `json:"overtime_hours"`
	RegularPay    Money  `json:"regular_pay"`
	OvertimePay   Money  `json:"overtime_pay"`

	BaseAmount           Money  `json:"base_amount"`
	PenaltyAmount        Money  `json:"penalty_amount"`
	AdvanceDeduction     Money  `json:"advance_deduction"`
	ExtraAmount          Money  `json:"extra_amount"`
	ProposedDeposit      Money  `json:"proposed_deposit"`
	DepositNotes         string `json:"deposit_notes,omitempty"`
	AdvanceBalanceAtCalc Money  `json:"advance_balance_at_calc"`
	FinalAmount          Money  `json:"final_amount"`
}

type Totals struct {
	RegularPay       Money `json:"regular_pay"`
	OvertimePay      Money `json:"overtime_pay"`
	BaseAmount       Money `json:"base_amount"`
	PenaltyAmount    Money `json:"penalty_amount"`
	AdvanceDeduction Money `json:"advance_deduction"`
	ExtraAmount      Money `json:"extra_amount"`
	ProposedDeposit  Money `json:"proposed_deposit"`
	FinalAmount      Money `json:"final_amount"`
}

func sumLines(lines []DraftLine) Totals {
	var t Totals
	for _, l := range lines {
		t.RegularPay = t.RegularPay.Add(l.RegularPay)
		t.OvertimePay = t.OvertimePay.Add(l.OvertimePay)
		t.BaseAmount = t.BaseAmount.Add(l.BaseAmount)
		t.PenaltyAmount = t.PenaltyAmount.Add(l.PenaltyAmount)
		t.AdvanceDeduction = t.AdvanceDeduction.Add(l.AdvanceDeduction)
		t.ExtraAmount = t.ExtraAmount.Add(l.ExtraAmount)
		t.ProposedDeposit = t.ProposedDeposit.Add(l.ProposedDeposit)
		t.FinalAmount = t.FinalAmount.Add(l.FinalAmount)
	}
	return t
}

// DraftSettlement is never persisted and holds no lock. ID is a fingerprint
// of the content, so identical inputs give identical ids.
type DraftSettlement struct {
	ID     string         `json:"id"`
	Kind   SettlementKind `json:"kind"`
	Period Period         `json:"period"`
	Lines  []DraftLine    `json:"lines"`
	Totals Totals         `json:"totals"`

	// Errors lists workers the draft could not be computed for.
	Errors []*SettlementError `json:"-"`
}

func (d *DraftSettlement) Line(workerID WorkerID) (DraftLine, bool) {
	for _, l := range d.Lines {
		if l.WorkerID == workerID {
			return l, true
		}
	}
	return DraftLine{}, false
}

// Seal sorts lines, recomputes totals and stamps the fingerprint.
func (d *DraftSettlement) Seal() {
	sort.Slice(d.Lines, func(i, j int) bool { return d.Lines[i].WorkerID < d.Lines[j].WorkerID })
	sort.Slice(d.Errors, func(i, j int) bool { return d.Errors[i].WorkerID < d.Errors[j].WorkerID })
	d.Totals = sumLines(d.Lines)
	d.ID = d.Fingerprint()
}

// Fingerprint hashes kind, period and lines.
func (d *DraftSettlement) Fingerprint() string {
	payload, _ := json.Marshal(struct {
		Kind   SettlementKind `json:"kind"`
		Period Period         `json:"period"`
		Lines  []DraftLine    `json:"lines"`
	}{d.Kind, d.Period, d.Lines})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// Validate checks the structure of a draft handed back for commit.
func (d *DraftSettlement) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil draft", ErrInvalidDraft)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidDraft, ErrInvalidKind)
	}
	if err := d.Period.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}
	if len(d.Lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrInvalidDraft)
	}
	seen := make(map[WorkerID]bool, len(d.Lines))
	for _, l := range d.Lines {
		if l.WorkerID == "" {
			return fmt.Errorf("%w: line without worker id", ErrInvalidDraft)
		}
		if seen[l.WorkerID] {
			return fmt.Errorf("%w: duplicate line for %s", ErrInvalidDraft, l.WorkerID)
		}
		seen[l.WorkerID] = true
		for _, m := range []Money{l.RegularPay, l.OvertimePay, l.BaseAmount, l.PenaltyAmount, l.AdvanceDeduction, l.ExtraAmount, l.ProposedDeposit, l.FinalAmount} {
			if m.IsNegative() {
				return fmt.Errorf("%w: negative amount on line %s", ErrInvalidDraft, l.WorkerID)
			}
		}
	}
	return nil
}
