package payroll_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/payroll"
)

// overtimeWorker registers a worker on 8h days with overtime at 1.5x.
func (f *fixture) overtimeWorker(t *testing.T, id string, rate int64) payroll.WorkerID {
	t.Helper()
	w, err := f.eng.Accounts.Register(f.ctx, payroll.Worker{
		ID: payroll.WorkerID(id), Name: id, HourlyRate: money(rate),
		DailyWorkingHours: decimal.NewFromInt(8), OvertimeRate: decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)
	return w.ID
}

// =============================================================================
// WORKER SUMMARY
// =============================================================================

func TestSummary_SplitsRegularAndOvertime(t *testing.T) {
	// GIVEN: 8h @50, 10h @50, half-day @50 and an absence
	// THEN: regular 20h / 1000, overtime 2h / 150, total 1150
	f := newFixture(t)
	w := f.overtimeWorker(t, "w1", 50)
	f.attend(t, w, date(2025, time.March, 3), payroll.StatusPresent, 8, 50)
	f.attend(t, w, date(2025, time.March, 4), payroll.StatusPresent, 10, 50)
	f.attend(t, w, date(2025, time.March, 5), payroll.StatusHalfDay, 8, 50)
	f.attend(t, w, date(2025, time.March, 6), payroll.StatusAbsent, 0, 50)

	s, err := f.eng.Calculator.Summary(f.ctx, w, march2025())
	require.NoError(t, err)

	require.Len(t, s.Days, 4)
	assert.Equal(t, "2025-03-04", s.Days[1].Date.String())
	assert.Equal(t, "2.00", s.Days[1].OvertimeHours.StringFixed(2))
	assert.Equal(t, "150.00", s.Days[1].OvertimePay.String())

	assert.Equal(t, "20.00", s.Total.RegularHours.StringFixed(2))
	assert.Equal(t, "2.00", s.Total.OvertimeHours.StringFixed(2))
	assert.Equal(t, "22.00", s.Total.Hours().StringFixed(2))
	assert.Equal(t, "1000.00", s.Total.RegularPay.String())
	assert.Equal(t, "150.00", s.Total.OvertimePay.String())
	assert.Equal(t, "1150.00", s.TotalPay().String())
}

func TestSummary_MatchesSalaryBase(t *testing.T) {
	f := newFixture(t)
	w := f.overtimeWorker(t, "w1", 40)
	f.attend(t, w, date(2025, time.March, 3), payroll.StatusPresent, 9.5, 40)
	f.attend(t, w, date(2025, time.March, 4), payroll.StatusHoliday, 11, 45)

	s, err := f.eng.Calculator.Summary(f.ctx, w, march2025())
	require.NoError(t, err)
	draft := f.calculate(t, payroll.CalculateInput{Kind: payroll.KindSalary, Period: march2025(), WorkerIDs: []payroll.WorkerID{w}})
	line, ok := draft.Line(w)
	require.True(t, ok)

	assert.Equal(t, line.BaseAmount.String(), s.TotalPay().String())
	assert.Equal(t, line.OvertimeHours, s.Total.OvertimeHours.StringFixed(2))
}

func TestSummary_ReadOnlyAndCoversInactiveWorkers(t *testing.T) {
	f := newFixture(t)
	w := f.overtimeWorker(t, "w1", 50)
	f.advance(t, w, 100)
	f.attend(t, w, date(2025, time.March, 3), payroll.StatusPresent, 8, 50)
	_, err := f.eng.Accounts.Deactivate(f.ctx, w)
	require.NoError(t, err)

	s, err := f.eng.Calculator.Summary(f.ctx, w, march2025())
	require.NoError(t, err)
	assert.Equal(t, "400.00", s.TotalPay().String())
	assert.Len(t, f.entries(t, w), 1, "summary writes nothing")
}

func TestSummary_Errors(t *testing.T) {
	f := newFixture(t)
	w := f.overtimeWorker(t, "w1", 50)

	_, err := f.eng.Calculator.Summary(f.ctx, "ghost", march2025())
	assert.ErrorIs(t, err, payroll.ErrWorkerNotFound)

	_, err = f.eng.Calculator.Summary(f.ctx, w, payroll.Period{Start: date(2025, time.March, 9), End: date(2025, time.March, 1)})
	assert.ErrorIs(t, err, payroll.ErrInvalidPeriod)

	eng := payroll.NewEngine(f.mem, &flakySource{inner: f.mem, fail: map[payroll.WorkerID]bool{w: true}}, testOptions())
	_, err = eng.Calculator.Summary(f.ctx, w, march2025())
	assert.ErrorIs(t, err, payroll.ErrAttendanceUnavailable)
}

// =============================================================================
// MONTHLY OVERTIME
// =============================================================================

func TestMonthlyOvertime_ListsOnlyWorkersWithOvertime(t *testing.T) {
	// GIVEN: w1 with one overtime day, w2 with none, w3 whose attendance fails
	// THEN: the report lists w1 alone and reports w3 as an error
	f := newFixture(t)
	w1 := f.overtimeWorker(t, "w1", 50)
	w2 := f.overtimeWorker(t, "w2", 50)
	w3 := f.overtimeWorker(t, "w3", 50)
	f.attend(t, w1, date(2025, time.March, 3), payroll.StatusPresent, 8, 50)
	f.attend(t, w1, date(2025, time.March, 4), payroll.StatusPresent, 12, 50)
	f.attend(t, w1, date(2025, time.April, 1), payroll.StatusPresent, 12, 50)
	f.attend(t, w2, date(2025, time.March, 3), payroll.StatusPresent, 8, 50)

	eng := payroll.NewEngine(f.mem, &flakySource{inner: f.mem, fail: map[payroll.WorkerID]bool{w3: true}}, testOptions())
	report, err := eng.Calculator.MonthlyOvertime(f.ctx, 2025, time.March)
	require.NoError(t, err)

	assert.Equal(t, march2025(), report.Period)
	require.Len(t, report.Workers, 1)
	row := report.Workers[0]
	assert.Equal(t, w1, row.WorkerID)
	assert.Equal(t, "w1", row.Name)
	require.Len(t, row.Days, 1, "only days with overtime, only in March")
	assert.Equal(t, "2025-03-04", row.Days[0].Date.String())
	assert.Equal(t, "4.00", row.Hours.StringFixed(2))
	assert.Equal(t, "300.00", row.Pay.String())

	require.Len(t, report.Errors, 1)
	assert.Equal(t, w3, report.Errors[0].WorkerID)
	assert.ErrorIs(t, report.Errors[0], payroll.ErrAttendanceUnavailable)
}

func TestMonthlyOvertime_RejectsBadMonth(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Calculator.MonthlyOvertime(f.ctx, 2025, 13)
	assert.ErrorIs(t, err, payroll.ErrInvalidPeriod)
}
