package payroll

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ATTENDANCE - Read-only input owned by an external collaborator
// =============================================================================

type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusHoliday AttendanceStatus = "holiday"
	StatusHalfDay AttendanceStatus = "half-day"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusHoliday, StatusHalfDay:
		return true
	}
	return false
}

// AttendanceRecord is one worker-day. HourlyRate is the rate in effect that
// day, captured at entry time so historical settlements stay rate-stable.
type AttendanceRecord struct {
	WorkerID    WorkerID
	Date        Date
	Status      AttendanceStatus
	HoursWorked decimal.Decimal
	HourlyRate  Money
}

// AttendanceSource returns daily attendance for a worker over a period.
// Days without a record are neither worked nor absent.
type AttendanceSource interface {
	ListAttendance(ctx context.Context, workerID WorkerID, period Period) ([]AttendanceRecord, error)
}

// checkAttendance rejects data that cannot belong to the requested range: a
// foreign worker, a day outside the period, a duplicated day or an unknown
// status. Such data is treated as a partial read, never as zero hours.
func checkAttendance(workerID WorkerID, period Period, records []AttendanceRecord) ([]AttendanceRecord, error) {
	out := append([]AttendanceRecord(nil), records...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	seen := make(map[string]bool, len(out))
	for _, r := range out {
		day := r.Date.String()
		switch {
		case r.WorkerID != workerID:
			return nil, fmt.Errorf("%w: record for %s returned for %s", ErrAttendanceUnavailable, r.WorkerID, workerID)
		case !period.Contains(r.Date):
			return nil, fmt.Errorf("%w: %s outside %s", ErrAttendanceUnavailable, day, period)
		case seen[day]:
			return nil, fmt.Errorf("%w: duplicate record on %s", ErrAttendanceUnavailable, day)
		case !r.Status.Valid():
			return nil, fmt.Errorf("%w: unknown status %q on %s", ErrAttendanceUnavailable, r.Status, day)
		case r.HoursWorked.IsNegative() || r.HourlyRate.IsNegative():
			return nil, fmt.Errorf("%w: negative hours or rate on %s", ErrAttendanceUnavailable, day)
		}
		seen[day] = true
	}
	return out, nil
}

// DayPay splits one record's hours and pay into the regular part and the
// part paid at the overtime multiplier.
type DayPay struct {
	RegularHours  decimal.Decimal
	OvertimeHours decimal.Decimal
	RegularPay    Money
	OvertimePay   Money
}

func (p DayPay) Hours() decimal.Decimal { return p.RegularHours.Add(p.OvertimeHours) }
func (p DayPay) Pay() Money             { return p.RegularPay.Add(p.OvertimePay) }

func (p DayPay) add(o DayPay) DayPay {
	return DayPay{
		RegularHours:  p.RegularHours.Add(o.RegularHours),
		OvertimeHours: p.OvertimeHours.Add(o.OvertimeHours),
		RegularPay:    p.RegularPay.Add(o.RegularPay),
		OvertimePay:   p.OvertimePay.Add(o.OvertimePay),
	}
}

// dailyPay prices one record.
// Hours beyond the worker's daily hours on a present/holiday day are paid at
// the overtime multiplier. Half-days are paid a fixed half of the daily hours
// regardless of what was entered.
func dailyPay(w Worker, r AttendanceRecord) DayPay {
	switch r.Status {
	case StatusPresent, StatusHoliday:
		regular, overtime := r.HoursWorked, decimal.Zero
		if w.DailyWorkingHours.IsPositive() && regular.GreaterThan(w.DailyWorkingHours) {
			regular = w.DailyWorkingHours
			overtime = r.HoursWorked.Sub(w.DailyWorkingHours)
		}
		return DayPay{
			RegularHours:  regular,
			OvertimeHours: overtime,
			RegularPay:    r.HourlyRate.Mul(regular),
			OvertimePay:   r.HourlyRate.Mul(overtime).Mul(w.overtimeMultiplier()),
		}
	case StatusHalfDay:
		hours := w.DailyWorkingHours.Div(decimal.NewFromInt(2))
		return DayPay{RegularHours: hours, OvertimeHours: decimal.Zero, RegularPay: r.HourlyRate.Mul(hours)}
	default:
		return DayPay{RegularHours: decimal.Zero, OvertimeHours: decimal.Zero}
	}
}
