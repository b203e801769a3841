/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payroll model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  Handler.decode, which rejects unknown kinds, malformed dates and
  non-numeric amounts before anything reaches the engine. Amounts travel as
  decimal strings so no float ever touches money.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/draft.go: DraftLine and Totals are serialized as-is
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// WORKERS
// =============================================================================

// CreateWorkerRequest onboards a worker. An empty id is assigned by the server.
type CreateWorkerRequest struct {
	ID                string `json:"id" validate:"omitempty,max=64"`
	Name              string `json:"name" validate:"required,max=200"`
	HourlyRate        string `json:"hourly_rate" validate:"required,numeric"`
	DailyWorkingHours string `json:"daily_working_hours" validate:"omitempty,numeric"`
	OvertimeRate      string `json:"overtime_rate" validate:"omitempty,numeric"`
}

// ChangeRateRequest replaces the worker's hourly rate.
type ChangeRateRequest struct {
	HourlyRate string `json:"hourly_rate" validate:"required,numeric"`
}

// WorkerDTO represents a worker in API responses.
type WorkerDTO struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	HourlyRate        payroll.Money `json:"hourly_rate"`
	DailyWorkingHours string        `json:"daily_working_hours"`
	OvertimeRate      string        `json:"overtime_rate"`
	IsActive          bool          `json:"is_active"`
	CreatedAt         string        `json:"created_at,omitempty"`
}

// AccountDTO is a worker plus the outstanding advance balance.
type AccountDTO struct {
	WorkerDTO
	Balance payroll.Money `json:"balance"`
	Version int64         `json:"version"`
}

func toWorkerDTO(w payroll.Worker) WorkerDTO {
	dto := WorkerDTO{
		ID:                string(w.ID),
		Name:              w.Name,
		HourlyRate:        w.HourlyRate,
		DailyWorkingHours: w.DailyWorkingHours.String(),
		OvertimeRate:      w.OvertimeRate.String(),
		IsActive:          w.IsActive,
	}
	if !w.CreatedAt.IsZero() {
		dto.CreatedAt = w.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// LEDGER
// =============================================================================

// PostEntryRequest records a manual advance or repayment.
type PostEntryRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=advance deposit"`
	Amount string `json:"amount" validate:"required,numeric"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Notes  string `json:"notes" validate:"max=500"`
}

// LedgerEntryDTO represents one ledger entry in API responses.
type LedgerEntryDTO struct {
	ID              string        `json:"id"`
	Seq             int64         `json:"seq"`
	Date            payroll.Date  `json:"date"`
	Kind            string        `json:"kind"`
	Amount          payroll.Money `json:"amount"`
	BalanceAfter    payroll.Money `json:"balance_after"`
	Notes           string        `json:"notes,omitempty"`
	SourceCommitID  string        `json:"source_commit_id,omitempty"`
	ReversesEntryID string        `json:"reverses_entry_id,omitempty"`
}

func toLedgerEntryDTOs(entries []payroll.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:              string(e.ID),
			Seq:             e.Seq,
			Date:            e.Date,
			Kind:            string(e.Kind),
			Amount:          e.Amount,
			BalanceAfter:    e.BalanceAfter,
			Notes:           e.Notes,
			SourceCommitID:  string(e.SourceCommitID),
			ReversesEntryID: string(e.ReversesEntryID),
		}
	}
	return dtos
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// AttendanceRequest feeds one worker-day. An empty hourly_rate captures the
// worker's current rate.
type AttendanceRequest struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Status      string `json:"status" validate:"required,oneof=present absent holiday half-day"`
	HoursWorked string `json:"hours_worked" validate:"omitempty,numeric"`
	HourlyRate  string `json:"hourly_rate" validate:"omitempty,numeric"`
}

// AttendanceDTO represents one worker-day in API responses.
type AttendanceDTO struct {
	Date        payroll.Date  `json:"date"`
	Status      string        `json:"status"`
	HoursWorked string        `json:"hours_worked"`
	HourlyRate  payroll.Money `json:"hourly_rate"`
}

func toAttendanceDTOs(records []payroll.AttendanceRecord) []AttendanceDTO {
	dtos := make([]AttendanceDTO, len(records))
	for i, r := range records {
		dtos[i] = AttendanceDTO{
			Date:        r.Date,
			Status:      string(r.Status),
			HoursWorked: r.HoursWorked.String(),
			HourlyRate:  r.HourlyRate,
		}
	}
	return dtos
}

// =============================================================================
// REPORTS
// =============================================================================

// DayWorkDTO is one priced worker-day.
type DayWorkDTO struct {
	Date          payroll.Date  `json:"date"`
	Status        string        `json:"status"`
	HoursWorked   string        `json:"hours_worked"`
	RegularHours  string        `json:"regular_hours"`
	OvertimeHours string        `json:"overtime_hours"`
	RegularPay    payroll.Money `json:"regular_pay"`
	OvertimePay   payroll.Money `json:"overtime_pay"`
	Pay           payroll.Money `json:"pay"`
}

func toDayWorkDTOs(days []payroll.DayWork) []DayWorkDTO {
	dtos := make([]DayWorkDTO, len(days))
	for i, d := range days {
		dtos[i] = DayWorkDTO{
			Date:          d.Date,
			Status:        string(d.Status),
			HoursWorked:   d.Hours().StringFixed(2),
			RegularHours:  d.RegularHours.StringFixed(2),
			OvertimeHours: d.OvertimeHours.StringFixed(2),
			RegularPay:    d.RegularPay.Round(),
			OvertimePay:   d.OvertimePay.Round(),
			Pay:           d.Pay().Round(),
		}
	}
	return dtos
}

// WorkerSummaryDTO totals a worker's attendance pay over a period.
type WorkerSummaryDTO struct {
	WorkerID           string         `json:"worker_id"`
	Period             payroll.Period `json:"period"`
	TotalEntries       int            `json:"total_entries"`
	TotalHoursWorked   string         `json:"total_hours_worked"`
	TotalRegularHours  string         `json:"total_regular_hours"`
	TotalOvertimeHours string         `json:"total_overtime_hours"`
	TotalRegularPay    payroll.Money  `json:"total_regular_pay"`
	TotalOvertimePay   payroll.Money  `json:"total_overtime_pay"`
	TotalPay           payroll.Money  `json:"total_pay"`
	Entries            []DayWorkDTO   `json:"entries"`
}

func toWorkerSummaryDTO(s *payroll.WorkerSummary) WorkerSummaryDTO {
	return WorkerSummaryDTO{
		WorkerID:           string(s.WorkerID),
		Period:             s.Period,
		TotalEntries:       len(s.Days),
		TotalHoursWorked:   s.Total.Hours().StringFixed(2),
		TotalRegularHours:  s.Total.RegularHours.StringFixed(2),
		TotalOvertimeHours: s.Total.OvertimeHours.StringFixed(2),
		TotalRegularPay:    s.Total.RegularPay.Round(),
		TotalOvertimePay:   s.Total.OvertimePay.Round(),
		TotalPay:           s.TotalPay(),
		Entries:            toDayWorkDTOs(s.Days),
	}
}

// WorkerOvertimeDTO is one row of the monthly overtime report.
type WorkerOvertimeDTO struct {
	WorkerID           string        `json:"worker_id"`
	Name               string        `json:"name"`
	TotalOvertimeHours string        `json:"total_overtime_hours"`
	TotalOvertimePay   payroll.Money `json:"total_overtime_pay"`
	Entries            []DayWorkDTO  `json:"entries"`
}

// OvertimeReportDTO lists every active worker with overtime in a month.
type OvertimeReportDTO struct {
	Year   int                  `json:"year"`
	Month  int                  `json:"month"`
	Report []WorkerOvertimeDTO  `json:"report"`
	Errors []SettlementErrorDTO `json:"errors"`
}

func toOvertimeReportDTO(r *payroll.OvertimeReport) OvertimeReportDTO {
	rows := make([]WorkerOvertimeDTO, len(r.Workers))
	for i, w := range r.Workers {
		rows[i] = WorkerOvertimeDTO{
			WorkerID:           string(w.WorkerID),
			Name:               w.Name,
			TotalOvertimeHours: w.Hours.StringFixed(2),
			TotalOvertimePay:   w.Pay,
			Entries:            toDayWorkDTOs(w.Days),
		}
	}
	return OvertimeReportDTO{
		Year:   r.Period.Start.Time.Year(),
		Month:  int(r.Period.Start.Time.Month()),
		Report: rows,
		Errors: toSettlementErrorDTOs(r.Errors),
	}
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// AdjustmentDTO carries the caller-supplied inputs of a draft line.
type AdjustmentDTO struct {
	PenaltyPerAbsentDay string `json:"penalty_per_absent_day" validate:"omitempty,numeric"`
	DeductAdvance       bool   `json:"deduct_advance"`
	ExtraAmount         string `json:"extra_amount" validate:"omitempty,numeric"`
	ProposedDeposit     string `json:"proposed_deposit" validate:"omitempty,numeric"`
	DepositNotes        string `json:"deposit_notes" validate:"max=500"`
}

func (a AdjustmentDTO) toAdjustment() (payroll.Adjustment, error) {
	penalty, err := optionalMoney(a.PenaltyPerAbsentDay)
	if err != nil {
		return payroll.Adjustment{}, err
	}
	extra, err := optionalMoney(a.ExtraAmount)
	if err != nil {
		return payroll.Adjustment{}, err
	}
	deposit, err := optionalMoney(a.ProposedDeposit)
	if err != nil {
		return payroll.Adjustment{}, err
	}
	return payroll.Adjustment{
		PenaltyPerAbsentDay: penalty,
		DeductAdvance:       a.DeductAdvance,
		ExtraAmount:         extra,
		ProposedDeposit:     deposit,
		DepositNotes:        a.DepositNotes,
	}, nil
}

// CalculateRequest asks for a draft. An empty worker_ids means every active
// worker; adjustments keyed by worker id replace the defaults.
type CalculateRequest struct {
	Kind        string                   `json:"kind" validate:"required,oneof=bonus salary"`
	Start       string                   `json:"start" validate:"required,datetime=2006-01-02"`
	End         string                   `json:"end" validate:"required,datetime=2006-01-02"`
	WorkerIDs   []string                 `json:"worker_ids" validate:"dive,required"`
	Defaults    AdjustmentDTO            `json:"defaults"`
	Adjustments map[string]AdjustmentDTO `json:"adjustments" validate:"dive"`
}

// SettlementErrorDTO is one worker that could not be calculated or committed.
type SettlementErrorDTO struct {
	WorkerID string `json:"worker_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func toSettlementErrorDTOs(errs []*payroll.SettlementError) []SettlementErrorDTO {
	dtos := make([]SettlementErrorDTO, len(errs))
	for i, e := range errs {
		dtos[i] = SettlementErrorDTO{WorkerID: string(e.WorkerID), Code: e.Code(), Message: e.Err.Error()}
	}
	return dtos
}

// DraftDTO is a calculated, unpersisted settlement.
type DraftDTO struct {
	ID     string               `json:"id"`
	Kind   string               `json:"kind"`
	Period payroll.Period       `json:"period"`
	Lines  []payroll.DraftLine  `json:"lines"`
	Totals payroll.Totals       `json:"totals"`
	Errors []SettlementErrorDTO `json:"errors"`
}

func toDraftDTO(d *payroll.DraftSettlement) DraftDTO {
	lines := d.Lines
	if lines == nil {
		lines = []payroll.DraftLine{}
	}
	return DraftDTO{
		ID:     d.ID,
		Kind:   string(d.Kind),
		Period: d.Period,
		Lines:  lines,
		Totals: d.Totals,
		Errors: toSettlementErrorDTOs(d.Errors),
	}
}

// CommitRequest carries the draft exactly as Calculate returned it.
type CommitRequest struct {
	Draft       *payroll.DraftSettlement `json:"draft" validate:"required"`
	ConfirmedBy string                   `json:"confirmed_by" validate:"max=200"`
}

// CommitResponse lists what made it into the snapshot. snapshot_id is empty
// when every worker was rejected.
type CommitResponse struct {
	SnapshotID         string               `json:"snapshot_id,omitempty"`
	CommittedWorkerIDs []string             `json:"committed_worker_ids"`
	Rejected           []SettlementErrorDTO `json:"rejected"`
}

// SnapshotDTO represents a committed settlement in API responses.
type SnapshotDTO struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Period      payroll.Period         `json:"period"`
	SavedAt     string                 `json:"saved_at"`
	ConfirmedBy string                 `json:"confirmed_by,omitempty"`
	Locked      bool                   `json:"locked"`
	DeletedAt   *string                `json:"deleted_at,omitempty"`
	Lines       []payroll.SnapshotLine `json:"lines"`
	Totals      payroll.Totals         `json:"totals"`
}

func toSnapshotDTO(s payroll.HistorySnapshot) SnapshotDTO {
	dto := SnapshotDTO{
		ID:          string(s.ID),
		Kind:        string(s.Kind),
		Period:      s.Period,
		SavedAt:     s.SavedAt.UTC().Format(time.RFC3339),
		ConfirmedBy: s.ConfirmedBy,
		Locked:      s.Locked && !s.Deleted(),
		Lines:       s.Lines,
		Totals:      s.Totals(),
	}
	if dto.Lines == nil {
		dto.Lines = []payroll.SnapshotLine{}
	}
	if s.DeletedAt != nil {
		at := s.DeletedAt.UTC().Format(time.RFC3339)
		dto.DeletedAt = &at
	}
	return dto
}

// PeriodStatusDTO reports where a worker's period stands.
type PeriodStatusDTO struct {
	WorkerID   string         `json:"worker_id"`
	Kind       string         `json:"kind"`
	Period     payroll.Period `json:"period"`
	State      string         `json:"state"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Helper functions

func optionalMoney(s string) (payroll.Money, error) {
	if s == "" {
		return payroll.Money{}, nil
	}
	return payroll.ParseMoney(s)
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
