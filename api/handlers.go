/*
handlers.go - HTTP API handlers for the consumption ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to consumption.Service.

ENDPOINTS:
  Configuration:
    PUT    /api/config/{year}/{month}/rice     Save rice configuration
    PUT    /api/config/{year}/{month}/amount   Save amount configuration
    PUT    /api/config/{year}/{month}/preset   Apply a JSON preset (factory schema)
    GET    /api/config/{year}/{month}          Both configurations

  Daily entries:
    POST   /api/entries                        Create entry
    PUT    /api/entries/{date}                 Update entry
    DELETE /api/entries/{date}                 Delete entry

  Months:
    GET    /api/months/current                 Summary of the clock's month
    GET    /api/months/{year}/{month}          Month summary
    POST   /api/months/{year}/{month}/complete Complete month
    POST   /api/months/{year}/{month}/reopen   Reopen month
    POST   /api/months/{year}/{month}/lock     Lock month
    POST   /api/months/{year}/{month}/unlock   Unlock month
    GET    /api/months/{year}/{month}/completions  Completion revisions
    POST   /api/months/{year}/{month}/reports/{kind}  Generate report
    GET    /api/months/{year}/{month}/reports/{kind}  Stored report
    GET    /api/months/{year}/{month}/audit    Audit trail

  Demo:
    GET    /api/scenarios                      Available scenarios
    POST   /api/scenarios/load                 Load a scenario

SCHOOL IDENTITY:
  Every /api route reads the school from the X-School-ID header set by the
  authentication layer in front of this service.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, incomplete configuration, stale report request
  - 404: Entry, month or report not found
  - 409: Duplicate entry, invalid transition, lock held elsewhere
  - 423: Month locked
  - 500: Internal errors

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
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *consumption.Service
	Log      *zap.Logger
	validate *validator.Validate

	// Ping reports storage health for /healthz; nil means always healthy.
	Ping func(context.Context) error
}

func NewHandler(svc *consumption.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Log:      log,
		validate: validator.New(),
	}
}

type ctxKey int

const schoolKey ctxKey = iota

// SchoolHeader carries the authenticated school's identifier.
const SchoolHeader = "X-School-ID"

// RequireSchool rejects requests without a school identity.
func RequireSchool(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		school := r.Header.Get(SchoolHeader)
		if school == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+SchoolHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), schoolKey, generic.SchoolID(school))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func schoolFrom(r *http.Request) generic.SchoolID {
	s, _ := r.Context().Value(schoolKey).(generic.SchoolID)
	return s
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// SaveRiceConfig creates or replaces the month's rice configuration.
func (h *Handler) SaveRiceConfig(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req RiceConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.Service.SaveRiceConfig(r.Context(), consumption.RiceConfig{
		School:   schoolFrom(r),
		Month:    month,
		Rate:     req.Rate.bySegment(generic.UnitKilograms),
		Opening:  req.Opening.bySegment(generic.UnitKilograms),
		Lifted:   req.Lifted.bySegment(generic.UnitKilograms),
		Arranged: req.Arranged.bySegment(generic.UnitKilograms),
	}, req.Actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRiceConfigDTO(cfg))
}

// SaveAmountConfig creates or replaces the month's amount configuration.
// A draft whose salt percentages do not sum to 100 comes back with
// confirmed=false.
func (h *Handler) SaveAmountConfig(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req AmountConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.Service.SaveAmountConfig(r.Context(), consumption.AmountConfig{
		School:  schoolFrom(r),
		Month:   month,
		Primary: *req.Primary,
		Middle:  *req.Middle,
		Salt:    *req.Salt,
	}, req.Actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAmountConfigDTO(cfg))
}

// ApplyPreset saves the rice and amount sections of a JSON preset. The two
// sections are saved one after the other; if the amount section is rejected
// the rice section stays saved.
func (h *Handler) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.applyPreset(r.Context(), schoolFrom(r), month, string(body)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.GetConfig(w, r)
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	rice, amount, err := h.Service.GetConfig(r.Context(), schoolFrom(r), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigDTO{
		Month:  month.String(),
		Rice:   toRiceConfigDTO(rice),
		Amount: toAmountConfigDTO(amount),
	})
}

// =============================================================================
// DAILY ENTRY HANDLERS
// =============================================================================

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeEntry(w, r, req, http.StatusCreated, h.Service.CreateDailyEntry)
}

// UpdateEntry replaces the served counts and remarks of an existing day.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Date = chi.URLParam(r, "date")
	if !h.check(w, &req) {
		return
	}
	h.writeEntry(w, r, req, http.StatusOK, h.Service.UpdateDailyEntry)
}

func (h *Handler) writeEntry(w http.ResponseWriter, r *http.Request, req EntryRequest, status int,
	write func(context.Context, consumption.EntryInput) (*consumption.EntryResult, error)) {
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	res, err := write(r.Context(), consumption.EntryInput{
		School:        schoolFrom(r),
		Date:          date,
		ServedPrimary: req.ServedPrimary,
		ServedMiddle:  req.ServedMiddle,
		Remarks:       req.Remarks,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, EntryResultDTO{
		Entry:            toEntryDTO(res.Entry),
		RiceConsumed:     res.RiceConsumed().Value,
		RiceBalanceAfter: res.RiceBalanceAfter().Value,
		AmountConsumed:   res.AmountConsumed().Value,
		Anomalies:        toAnomalyDTOs(res.Anomalies),
	})
}

func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	date, err := generic.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	res, err := h.Service.DeleteDailyEntry(r.Context(), schoolFrom(r), date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{
		Available: toSegmentDTO(res.Available),
		Closing:   toSegmentDTO(res.Closing),
		Amount:    res.Cumulative.Value,
		Entries:   toEntryDTOs(res.Entries),
		Anomalies: toAnomalyDTOs(res.Anomalies),
	})
}

// =============================================================================
// MONTH HANDLERS
// =============================================================================

func (h *Handler) GetCurrentMonth(w http.ResponseWriter, r *http.Request) {
	month := generic.Today(r.Context(), h.Service.Clock()).MonthKey()
	h.writeSummary(w, r, month)
}

func (h *Handler) GetMonth(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	h.writeSummary(w, r, month)
}

func (h *Handler) writeSummary(w http.ResponseWriter, r *http.Request, month generic.MonthKey) {
	sum, err := h.Service.GetMonthSummary(r.Context(), schoolFrom(r), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthSummaryDTO(sum))
}

func (h *Handler) CompleteMonth(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req CompleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.Service.CompleteMonth(r.Context(), consumption.CompleteInput{
		School:      schoolFrom(r),
		Month:       month,
		CompletedBy: req.CompletedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionDTO(snap))
}

func (h *Handler) ReopenMonth(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req ReopenRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Service.ReopenMonth(r.Context(), schoolFrom(r), month, req.Actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthDTO(rec))
}

func (h *Handler) LockMonth(w http.ResponseWriter, r *http.Request)   { h.toggleLock(w, r, true) }
func (h *Handler) UnlockMonth(w http.ResponseWriter, r *http.Request) { h.toggleLock(w, r, false) }

func (h *Handler) toggleLock(w http.ResponseWriter, r *http.Request, lock bool) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req LockRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Service.ToggleLock(r.Context(), schoolFrom(r), month, lock, req.Reason, req.Actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthDTO(rec))
}

func (h *Handler) ListCompletions(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	snaps, err := h.Service.ListCompletions(r.Context(), schoolFrom(r), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]*CompletionDTO, len(snaps))
	for i := range snaps {
		dtos[i] = toCompletionDTO(&snaps[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	entries, err := h.Service.ListAudit(r.Context(), schoolFrom(r), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]AuditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditDTO{
			ID:     e.ID,
			At:     e.At.Format(time.RFC3339),
			Actor:  e.Actor,
			Action: string(e.Action),
			Detail: e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GenerateReport builds (or rebuilds) and stores the month's report.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req ReportRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	report, err := h.Service.GenerateReport(r.Context(), schoolFrom(r), month,
		consumption.ReportKind(chi.URLParam(r, "kind")), req.Actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	kind := consumption.ReportKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown report kind", fmt.Errorf("%q", kind))
		return
	}
	report, err := h.Service.GetReport(r.Context(), schoolFrom(r), month, kind)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// OPERATIONAL
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) monthParam(w http.ResponseWriter, r *http.Request) (generic.MonthKey, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return generic.MonthKey{}, false
	}
	m, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return generic.MonthKey{}, false
	}
	key := generic.NewMonthKey(year, time.Month(m))
	if !key.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid month", fmt.Errorf("%04d-%02d", year, m))
		return generic.MonthKey{}, false
	}
	return key, true
}

// decode reads the JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "invalid_input", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid input", err)
		return false
	}
	return true
}

// writeServiceError maps ledger errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *generic.ConfigurationIncompleteError
	if errors.As(err, &cfgErr) {
		details := map[string]any{"missing": cfgErr.Missing}
		if cfgErr.PercentageSum != nil {
			details["percentage_sum"] = cfgErr.PercentageSum.String()
		}
		if cfgErr.Shortfall != nil {
			details["shortfall"] = cfgErr.Shortfall.String()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(), Code: "configuration_incomplete", Details: details,
		})
		return
	}

	var status int
	var code string
	switch {
	case errors.Is(err, generic.ErrMonthLocked):
		status, code = http.StatusLocked, "month_locked"
	case errors.Is(err, generic.ErrDuplicateEntry):
		status, code = http.StatusConflict, "duplicate_entry"
	case errors.Is(err, generic.ErrStaleReportRequest):
		status, code = http.StatusBadRequest, "stale_report_request"
	case errors.Is(err, generic.ErrLockNotObtained):
		status, code = http.StatusConflict, "busy"
	case generic.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case generic.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	case generic.IsClientError(err):
		status, code = http.StatusBadRequest, "invalid_input"
	default:
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("school", string(schoolFrom(r))),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
