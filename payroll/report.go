package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// REPORTS - Read-only views over priced attendance
// =============================================================================

// DayWork is one priced attendance record.
type DayWork struct {
	Date   Date
	Status AttendanceStatus
	DayPay
}

// WorkerSummary totals a worker's priced attendance over a period. It does
// not look at the ledger or at locks, and deactivated workers are reported
// like any other.
type WorkerSummary struct {
	WorkerID WorkerID
	Period   Period
	Days     []DayWork
	Total    DayPay
}

func (s WorkerSummary) TotalPay() Money { return s.Total.Pay().Round() }

// WorkerOvertime lists the days a worker earned overtime in a period.
type WorkerOvertime struct {
	WorkerID WorkerID
	Name     string
	Days     []DayWork
	Hours    decimal.Decimal
	Pay      Money
}

// OvertimeReport covers every active worker with at least one overtime day.
type OvertimeReport struct {
	Period  Period
	Workers []WorkerOvertime
	Errors  []*SettlementError
}

// Summary prices the worker's attendance in the period.
func (c *Calculator) Summary(ctx context.Context, id WorkerID, period Period) (*WorkerSummary, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	w, err := c.repo.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	records, err := c.readAttendance(ctx, id, period)
	if err != nil {
		return nil, err
	}

	out := &WorkerSummary{WorkerID: id, Period: period, Days: make([]DayWork, 0, len(records))}
	for _, r := range records {
		pay := dailyPay(*w, r)
		out.Days = append(out.Days, DayWork{Date: r.Date, Status: r.Status, DayPay: pay})
		out.Total = out.Total.add(pay)
	}
	return out, nil
}

// MonthlyOvertime builds the overtime report for a calendar month. A worker
// whose attendance cannot be read is listed in Errors; the rest proceed.
func (c *Calculator) MonthlyOvertime(ctx context.Context, year int, month time.Month) (*OvertimeReport, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	period := MonthPeriod(year, month)

	workers, err := c.repo.ListWorkers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active workers: %w", err)
	}

	rows := make([]*WorkerOvertime, len(workers))
	failures := make([]*SettlementError, len(workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, w := range workers {
		g.Go(func() error {
			s, err := c.Summary(gctx, w.ID, period)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures[i] = &SettlementError{WorkerID: w.ID, Period: period, Err: err}
				return nil
			}
			row := &WorkerOvertime{WorkerID: w.ID, Name: w.Name, Hours: decimal.Zero}
			for _, d := range s.Days {
				if d.OvertimeHours.IsPositive() {
					row.Days = append(row.Days, d)
				}
			}
			if len(row.Days) > 0 {
				row.Hours = s.Total.OvertimeHours
				row.Pay = s.Total.OvertimePay.Round()
				rows[i] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &OvertimeReport{Period: period, Workers: []WorkerOvertime{}}
	for i := range workers {
		if rows[i] != nil {
			report.Workers = append(report.Workers, *rows[i])
		}
		if failures[i] != nil {
			report.Errors = append(report.Errors, failures[i])
		}
	}
	return report, nil
}
