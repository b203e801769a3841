/*
calculator.go - Draft settlement computation

PURPOSE:
  Computes bonus and salary drafts from attendance, the current ledger balance
  and caller-supplied adjustments. Calculation is pure: it reads attendance,
  ledger heads and period locks, and writes nothing. Calling it any number of
  times with the same inputs returns the same draft, down to the ID.

BONUS (per worker):
  base     = 30 x 8 x hourlyRate
  penalty  = absentDays x penaltyPerAbsentDay
  advDed   = min(balance, base - penalty), only when DeductAdvance is set
  final    = max(0, base - penalty - advDed + extra - deposit)

SALARY (per worker):
  base     = sum of dailyPay over the attendance records in the period
  final    = max(0, base + extra - deposit)

In both, deposit must not exceed the balance at calculation time.

FAILURES:
  A failing worker is reported in DraftSettlement.Errors and left out of
  Lines. The other workers are unaffected.
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/settlement-engine/monitoring"
)

const (
	bonusNotionalDays  = 30
	bonusNotionalHours = 8

	// DefaultDepositNotes labels settlement deposits that carry no notes.
	DefaultDepositNotes = "Deposit towards advance repayment"
)

// CalculateInput selects the workers and adjustments of a draft. An empty
// WorkerIDs means every active worker. A per-worker entry in Adjustments
// replaces Defaults for that worker.
type CalculateInput struct {
	Kind        SettlementKind
	Period      Period
	WorkerIDs   []WorkerID
	Defaults    Adjustment
	Adjustments map[WorkerID]Adjustment
}

func (in CalculateInput) adjustmentFor(id WorkerID) Adjustment {
	if adj, ok := in.Adjustments[id]; ok {
		return adj
	}
	return in.Defaults
}

type Calculator struct {
	repo        Repository
	attendance  AttendanceSource
	concurrency int
	logger      logrus.FieldLogger
	metrics     *monitoring.Metrics
}

// Calculate builds a draft. It returns an error only for malformed input or
// when the worker list itself cannot be read; per-worker failures land in
// the draft's Errors.
func (c *Calculator) Calculate(ctx context.Context, in CalculateInput) (*DraftSettlement, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	if err := in.Period.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer c.metrics.ObserveCalculate(string(in.Kind), start)

	ids, err := c.workerIDs(ctx, in.WorkerIDs)
	if err != nil {
		return nil, err
	}

	lines := make([]*DraftLine, len(ids))
	failures := make([]*SettlementError, len(ids))

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			line, err := c.calculateLine(ctx, in.Kind, in.Period, id, in.adjustmentFor(id))
			if err != nil {
				failures[i] = &SettlementError{WorkerID: id, Kind: in.Kind, Period: in.Period, Err: err}
				return nil
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	draft := &DraftSettlement{Kind: in.Kind, Period: in.Period, Lines: []DraftLine{}}
	for i := range ids {
		if lines[i] != nil {
			draft.Lines = append(draft.Lines, *lines[i])
		}
		if failures[i] != nil {
			draft.Errors = append(draft.Errors, failures[i])
			c.logger.WithFields(logrus.Fields{
				"worker_id": failures[i].WorkerID,
				"kind":      in.Kind,
				"period":    in.Period.String(),
				"code":      failures[i].Code(),
			}).WithError(failures[i].Err).Warn("worker left out of draft")
		}
	}
	draft.Seal()
	return draft, nil
}

func (c *Calculator) workerIDs(ctx context.Context, requested []WorkerID) ([]WorkerID, error) {
	if len(requested) == 0 {
		workers, err := c.repo.ListWorkers(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list active workers: %w", err)
		}
		ids := make([]WorkerID, len(workers))
		for i, w := range workers {
			ids[i] = w.ID
		}
		requested = ids
	}

	seen := make(map[WorkerID]bool, len(requested))
	out := make([]WorkerID, 0, len(requested))
	for _, id := range requested {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (c *Calculator) calculateLine(ctx context.Context, kind SettlementKind, period Period, id WorkerID, adj Adjustment) (*DraftLine, error) {
	if err := adj.validate(); err != nil {
		return nil, err
	}

	w, err := c.repo.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if !w.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrWorkerInactive, id)
	}

	held, err := c.repo.FindLock(ctx, id, kind, period)
	if err != nil {
		return nil, err
	}
	if held != nil {
		return nil, &PeriodLockedError{WorkerID: id, SnapshotID: held.SnapshotID, Locked: held.Period}
	}

	head, err := c.repo.Head(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	deposit := adj.ProposedDeposit.Round()
	if deposit.GreaterThan(head.Balance) {
		return nil, &InsufficientBalanceError{WorkerID: id, Available: head.Balance, Requested: deposit}
	}

	records, err := c.readAttendance(ctx, id, period)
	if err != nil {
		return nil, err
	}

	line := &DraftLine{
		WorkerID:             id,
		HourlyRate:           w.HourlyRate,
		ExtraAmount:          adj.ExtraAmount.Round(),
		ProposedDeposit:      deposit,
		AdvanceBalanceAtCalc: head.Balance,
	}
	if deposit.IsPositive() {
		line.DepositNotes = adj.DepositNotes
		if line.DepositNotes == "" {
			line.DepositNotes = DefaultDepositNotes
		}
	}

	var pay DayPay
	for _, r := range records {
		switch r.Status {
		case StatusPresent:
			line.DaysPresent++
		case StatusAbsent:
			line.DaysAbsent++
		case StatusHalfDay:
			line.DaysHalf++
		case StatusHoliday:
			line.DaysHoliday++
		}
		pay = pay.add(dailyPay(*w, r))
	}
	line.HoursWorked = pay.Hours().StringFixed(2)
	line.RegularHours = pay.RegularHours.StringFixed(2)
	line.OvertimeHours = pay.OvertimeHours.StringFixed(2)
	line.RegularPay = pay.RegularPay.Round()
	line.OvertimePay = pay.OvertimePay.Round()

	switch kind {
	case KindBonus:
		applyBonus(line, *w, adj)
	case KindSalary:
		line.BaseAmount = pay.Pay().Round()
		line.FinalAmount = line.BaseAmount.Add(line.ExtraAmount).Sub(line.ProposedDeposit).ClampZero()
	}
	return line, nil
}

// readAttendance reads and checks the worker's records for the period. Any
// source failure surfaces as ErrAttendanceUnavailable.
func (c *Calculator) readAttendance(ctx context.Context, id WorkerID, period Period) ([]AttendanceRecord, error) {
	records, err := c.attendance.ListAttendance(ctx, id, period)
	if err != nil {
		if errors.Is(err, ErrAttendanceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAttendanceUnavailable, err)
	}
	return checkAttendance(id, period, records)
}

func applyBonus(line *DraftLine, w Worker, adj Adjustment) {
	line.BaseAmount = w.HourlyRate.Mul(decimal.NewFromInt(bonusNotionalDays * bonusNotionalHours)).Round()
	line.PenaltyAmount = adj.PenaltyPerAbsentDay.Mul(decimal.NewFromInt(int64(line.DaysAbsent))).Round()

	net := line.BaseAmount.Sub(line.PenaltyAmount)
	if adj.DeductAdvance {
		line.AdvanceDeduction = line.AdvanceBalanceAtCalc.Min(net).ClampZero()
	}

	line.FinalAmount = net.
		Sub(line.AdvanceDeduction).
		Add(line.ExtraAmount).
		Sub(line.ProposedDeposit).
		ClampZero()
}
