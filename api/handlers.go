/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the engine.

ENDPOINTS:
  Workers:
    GET    /api/workers                      List workers (?active=true)
    POST   /api/workers                      Register worker
    GET    /api/workers/{id}                 Worker with outstanding balance
    POST   /api/workers/{id}/deactivate      Deactivate worker
    PUT    /api/workers/{id}/rate            Change hourly rate

  Ledger:
    GET    /api/workers/{id}/ledger          Entries with running balance
    POST   /api/workers/{id}/ledger          Manual advance or deposit
    GET    /api/workers/{id}/ledger/verify   Replay and check the ledger

  Attendance:
    GET    /api/workers/{id}/attendance      Records in ?start=&end=
    POST   /api/workers/{id}/attendance      Record one day

  Reports:
    GET    /api/workers/{id}/summary         Regular/overtime hours and pay (?start=&end=)
    GET    /api/reports/overtime/{year}/{month}  Overtime of every active worker

  Settlements:
    POST   /api/settlements/calculate        Draft (nothing persisted)
    POST   /api/settlements/commit           Commit a draft
    GET    /api/workers/{id}/periods         Period state (?kind=&start=&end=)

  History:
    GET    /api/history                      Snapshots (?worker_id=&kind=&include_deleted=)
    GET    /api/history/{id}                 One snapshot
    DELETE /api/history/{id}                 Reverse and delete

ERROR HANDLING:
  Errors are returned as JSON with the taxonomy code:
  - 400: Validation errors, InvalidAmount, InvalidPeriod, InvalidDraft
  - 404: WorkerNotFound, SnapshotNotFound
  - 409: PeriodAlreadyLocked, SnapshotDeleted, ConcurrentModification
  - 422: InsufficientBalance
  - 503: AttendanceUnavailable
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Put the service behind a gateway that
  enforces who may commit and delete settlements.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AttendanceStore is the attendance adapter the API feeds and reads.
type AttendanceStore interface {
	payroll.AttendanceSource
	AddAttendance(ctx context.Context, record payroll.AttendanceRecord) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine     *payroll.Engine
	attendance AttendanceStore
	validate   *validator.Validate
	logger     logrus.FieldLogger
}

// NewHandler creates a new handler over the engine and attendance adapter.
func NewHandler(engine *payroll.Engine, attendance AttendanceStore, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		engine:     engine,
		attendance: attendance,
		validate:   validator.New(),
		logger:     logger,
	}
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// ListWorkers returns all workers, or only active ones with ?active=true.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	workers, err := h.engine.Accounts.List(r.Context(), activeOnly)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list workers", err)
		return
	}

	dtos := make([]WorkerDTO, len(workers))
	for i, wk := range workers {
		dtos[i] = toWorkerDTO(wk)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateWorker registers a worker.
func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if !h.decode(w, r, &req) {
		return
	}

	rate, err := payroll.ParseMoney(req.HourlyRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hourly_rate", err)
		return
	}
	daily, err := optionalDecimal(req.DailyWorkingHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid daily_working_hours", err)
		return
	}
	overtime, err := optionalDecimal(req.OvertimeRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid overtime_rate", err)
		return
	}

	worker, err := h.engine.Accounts.Register(r.Context(), payroll.Worker{
		ID:                payroll.WorkerID(req.ID),
		Name:              req.Name,
		HourlyRate:        rate,
		DailyWorkingHours: daily,
		OvertimeRate:      overtime,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerDTO(*worker))
}

// GetWorker returns the worker with its outstanding balance.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	account, err := h.engine.Accounts.Get(r.Context(), workerParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get worker", err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{
		WorkerDTO: toWorkerDTO(account.Worker),
		Balance:   account.Balance,
		Version:   account.Version,
	})
}

// DeactivateWorker marks the worker inactive.
func (h *Handler) DeactivateWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.engine.Accounts.Deactivate(r.Context(), workerParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to deactivate worker", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(*worker))
}

// ChangeRate updates the worker's hourly rate.
func (h *Handler) ChangeRate(w http.ResponseWriter, r *http.Request) {
	var req ChangeRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := payroll.ParseMoney(req.HourlyRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hourly_rate", err)
		return
	}

	worker, err := h.engine.Accounts.ChangeRate(r.Context(), workerParam(r), rate)
	if err != nil {
		h.writeDomainError(w, r, "Failed to change rate", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(*worker))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetLedger returns the worker's entries in insertion order.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Accounts.History(r.Context(), workerParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// PostEntry records a manual advance or deposit.
func (h *Handler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var req PostEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := payroll.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	var date payroll.Date
	if req.Date != "" {
		if date, err = payroll.ParseDate(req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
	}

	entry, err := h.engine.Ledger.Append(r.Context(), workerParam(r), payroll.EntryKind(req.Kind), amount, req.Notes, date)
	if err != nil {
		h.writeDomainError(w, r, "Failed to post ledger entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerEntryDTOs([]payroll.LedgerEntry{entry})[0])
}

// VerifyLedger replays the worker's ledger against its stored balances.
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	id := workerParam(r)
	if _, err := h.engine.Accounts.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to verify ledger", err)
		return
	}
	if err := h.engine.Ledger.Reconcile(r.Context(), id); err != nil {
		if errors.Is(err, payroll.ErrLedgerInconsistent) {
			writeJSON(w, http.StatusOK, map[string]any{"consistent": false, "details": err.Error()})
			return
		}
		h.writeDomainError(w, r, "Failed to verify ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consistent": true})
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// ListAttendance returns the worker's records within ?start=&end=.
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	period, err := periodQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	records, err := h.attendance.ListAttendance(r.Context(), workerParam(r), period)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTOs(records))
}

// RecordAttendance stores one worker-day.
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	account, err := h.engine.Accounts.Get(r.Context(), workerParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to record attendance", err)
		return
	}

	date, err := payroll.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	hours, err := optionalDecimal(req.HoursWorked)
	if err != nil || hours.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid hours_worked", err)
		return
	}
	rate := account.HourlyRate
	if req.HourlyRate != "" {
		if rate, err = payroll.ParseMoney(req.HourlyRate); err != nil || rate.IsNegative() {
			writeError(w, http.StatusBadRequest, "Invalid hourly_rate", err)
			return
		}
	}

	record := payroll.AttendanceRecord{
		WorkerID:    account.ID,
		Date:        date,
		Status:      payroll.AttendanceStatus(req.Status),
		HoursWorked: hours,
		HourlyRate:  rate,
	}
	if err := h.attendance.AddAttendance(r.Context(), record); err != nil {
		h.writeDomainError(w, r, "Failed to record attendance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceDTOs([]payroll.AttendanceRecord{record})[0])
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// WorkerSummary returns the worker's regular and overtime hours and pay
// within ?start=&end=.
func (h *Handler) WorkerSummary(w http.ResponseWriter, r *http.Request) {
	period, err := periodQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	summary, err := h.engine.Calculator.Summary(r.Context(), workerParam(r), period)
	if err != nil {
		h.writeDomainError(w, r, "Failed to build worker summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerSummaryDTO(summary))
}

// MonthlyOvertime returns the overtime report for /{year}/{month}.
func (h *Handler) MonthlyOvertime(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", fmt.Errorf("%w: %w", payroll.ErrInvalidPeriod, err))
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", fmt.Errorf("%w: %w", payroll.ErrInvalidPeriod, err))
		return
	}
	report, err := h.engine.Calculator.MonthlyOvertime(r.Context(), year, time.Month(month))
	if err != nil {
		h.writeDomainError(w, r, "Failed to build overtime report", err)
		return
	}
	writeJSON(w, http.StatusOK, toOvertimeReportDTO(report))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// Calculate builds a draft settlement. Nothing is persisted.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := req.toInput()
	if err != nil {
		h.writeDomainError(w, r, "Invalid calculation request", err)
		return
	}
	draft, err := h.engine.Calculator.Calculate(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to calculate settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(draft))
}

func (req CalculateRequest) toInput() (payroll.CalculateInput, error) {
	kind, err := payroll.ParseSettlementKind(req.Kind)
	if err != nil {
		return payroll.CalculateInput{}, err
	}
	period, err := parsePeriod(req.Start, req.End)
	if err != nil {
		return payroll.CalculateInput{}, err
	}
	defaults, err := req.Defaults.toAdjustment()
	if err != nil {
		return payroll.CalculateInput{}, err
	}

	in := payroll.CalculateInput{Kind: kind, Period: period, Defaults: defaults}
	for _, id := range req.WorkerIDs {
		in.WorkerIDs = append(in.WorkerIDs, payroll.WorkerID(id))
	}
	if len(req.Adjustments) > 0 {
		in.Adjustments = make(map[payroll.WorkerID]payroll.Adjustment, len(req.Adjustments))
		for id, dto := range req.Adjustments {
			adj, err := dto.toAdjustment()
			if err != nil {
				return payroll.CalculateInput{}, fmt.Errorf("adjustment for %s: %w", id, err)
			}
			in.Adjustments[payroll.WorkerID(id)] = adj
		}
	}
	return in, nil
}

// Commit applies a draft. Per-worker rejections are reported in the body; the
// request itself only fails for a malformed or altered draft.
//
// The draft must carry the id returned by calculate, and the id must match
// its content. The id is an unkeyed hash, so this catches drafts edited by
// mistake, not a client that recomputes the hash on purpose. Deposits are
// still re-checked against the live balance at commit time.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Draft.ID == "" {
		writeError(w, http.StatusBadRequest, "Draft id is required",
			fmt.Errorf("%w: missing id", payroll.ErrInvalidDraft))
		return
	}
	if req.Draft.ID != req.Draft.Fingerprint() {
		writeError(w, http.StatusBadRequest, "Draft was altered after calculation",
			fmt.Errorf("%w: id %s does not match content", payroll.ErrInvalidDraft, req.Draft.ID))
		return
	}

	result, err := h.engine.Committer.Commit(r.Context(), req.Draft, payroll.CommitOptions{ConfirmedBy: req.ConfirmedBy})
	if err != nil {
		h.writeDomainError(w, r, "Failed to commit settlement", err)
		return
	}

	resp := CommitResponse{
		SnapshotID:         string(result.SnapshotID),
		CommittedWorkerIDs: make([]string, len(result.Committed)),
		Rejected:           toSettlementErrorDTOs(result.Rejected),
	}
	for i, id := range result.Committed {
		resp.CommittedWorkerIDs[i] = string(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPeriodState reports whether a worker's period is open, committed or
// deleted for ?kind=&start=&end=.
func (h *Handler) GetPeriodState(w http.ResponseWriter, r *http.Request) {
	kind, err := payroll.ParseSettlementKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid kind", err)
		return
	}
	period, err := periodQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	id := workerParam(r)
	status, err := h.engine.Committer.PeriodState(r.Context(), id, kind, period)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get period state", err)
		return
	}
	writeJSON(w, http.StatusOK, PeriodStatusDTO{
		WorkerID:   string(id),
		Kind:       string(kind),
		Period:     period,
		State:      string(status.State),
		SnapshotID: string(status.SnapshotID),
	})
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

// ListHistory returns committed snapshots, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payroll.SnapshotFilter{WorkerID: payroll.WorkerID(q.Get("worker_id"))}
	if k := q.Get("kind"); k != "" {
		kind, err := payroll.ParseSettlementKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid kind", err)
			return
		}
		filter.Kind = kind
	}
	filter.IncludeDeleted, _ = strconv.ParseBool(q.Get("include_deleted"))

	snaps, err := h.engine.Committer.History(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list history", err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSnapshot returns one snapshot, deleted or not.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Committer.Snapshot(r.Context(), payroll.SnapshotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(*snap))
}

// DeleteSnapshot reverses the snapshot's ledger effect and releases its lock.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Committer.DeleteSnapshot(r.Context(), payroll.SnapshotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to delete snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(*snap))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 response itself
// and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			resp := ErrorResponse{Error: "Validation failed", Code: "InvalidRequest", Fields: map[string]string{}}
			for _, fe := range verrs {
				resp.Fields[fe.Field()] = fmt.Sprintf("failed on '%s'", fe.Tag())
			}
			writeJSON(w, http.StatusBadRequest, resp)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func workerParam(r *http.Request) payroll.WorkerID {
	return payroll.WorkerID(chi.URLParam(r, "id"))
}

func periodQuery(r *http.Request) (payroll.Period, error) {
	return parsePeriod(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
}

func parsePeriod(start, end string) (payroll.Period, error) {
	s, err := payroll.ParseDate(start)
	if err != nil {
		return payroll.Period{}, fmt.Errorf("%w: %w", payroll.ErrInvalidPeriod, err)
	}
	e, err := payroll.ParseDate(end)
	if err != nil {
		return payroll.Period{}, fmt.Errorf("%w: %w", payroll.ErrInvalidPeriod, err)
	}
	return payroll.NewPeriod(s, e)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payroll.ErrPeriodAlreadyLocked),
		errors.Is(err, payroll.ErrSnapshotDeleted),
		errors.Is(err, payroll.ErrConcurrentModification),
		errors.Is(err, payroll.ErrWorkerExists):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrAttendanceUnavailable):
		return http.StatusServiceUnavailable
	case payroll.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error(message)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: payroll.ErrorCode(err), Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "InvalidRequest"}
	if err != nil {
		resp.Details = err.Error()
		if code := payroll.ErrorCode(err); code != "Internal" {
			resp.Code = code
		}
	}
	writeJSON(w, status, resp)
}
