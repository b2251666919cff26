/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave.Service via a REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the service.
  No authorization logic lives here: the service checks the actor.

ENDPOINTS:
  Requests:
    POST   /api/requests                   Apply for leave
    GET    /api/requests                   Own requests (?status=&year=)
    GET    /api/requests?inbox=true        Pending requests the caller may decide
    GET    /api/requests/{id}              Request details
    PUT    /api/requests/{id}              Edit a pending request
    POST   /api/requests/{id}/decision     Approve or reject
    POST   /api/requests/{id}/cancel       Cancel

  Balances:
    GET    /api/balances/{userID}?year=                      Balance entries
    GET    /api/balances/{userID}/ledger?leave_type=&year=   Audit trail

  Admin:
    DELETE /api/admin/requests/{id}        Permanently delete a request
    POST   /api/admin/balances/allocate    Set allocation for one user
    POST   /api/admin/balances/reset       Zero usage for one user and year
    POST   /api/admin/balances/bulk        Allocate every member for a year

REQUEST FLOW:
  1. Read the actor placed by the auth middleware
  2. Decode and shape-check the body
  3. Call the service
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  - 400: Validation, insufficient balance, no allocation
  - 401: Missing or invalid token (auth middleware)
  - 403: Actor not allowed
  - 404: Unknown request, user or leave type
  - 409: Illegal transition, already processed
  - 503: Write conflict after retries, safe to retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	Store   leave.TxStore
	Logger  *zap.Logger

	// Now is the clock used for default years.
	Now func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around service and its store.
func NewHandler(service *leave.Service, store leave.TxStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service: service,
		Store:   store,
		Logger:  logger,
		Now:     time.Now,
	}
}

// =============================================================================
// LEAVE REQUEST ENDPOINTS
// =============================================================================

// ApplyLeave files a request for the caller and charges it.
func (h *Handler) ApplyLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req ApplyLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	result, err := h.Service.Apply(r.Context(), actor, leave.ApplyInput{
		LeaveTypeID:    req.LeaveTypeID,
		StartDate:      start,
		EndDate:        end,
		IsStartHalfDay: req.IsStartHalfDay,
		IsEndHalfDay:   req.IsEndHalfDay,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	days, _ := result.WorkingDays.Float64()
	writeJSON(w, http.StatusCreated, ApplyResponse{
		Request:     toLeaveRequestDTO(result.Request),
		WorkingDays: days,
		Balance:     toBalanceEntryDTO(result.Balance),
	})
}

// ListLeave returns the caller's requests, or their approval inbox.
func (h *Handler) ListLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := leave.ListQuery{Status: leave.Status(q.Get("status"))}
	if v := q.Get("inbox"); v != "" {
		inbox, err := strconv.ParseBool(v)
		if err != nil {
			h.writeDomainError(w, generic.Invalid("inbox", "must be true or false"))
			return
		}
		query.Inbox = inbox
	}
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			h.writeDomainError(w, generic.Invalid("year", "must be a number"))
			return
		}
		query.Year = year
	}

	requests, err := h.Service.List(r.Context(), actor, query)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTOs(requests))
}

// GetLeave returns one request the caller may see.
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.Service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*req))
}

// EditLeave changes the dates of a pending request.
func (h *Handler) EditLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req EditLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	updated, err := h.Service.Edit(r.Context(), actor, chi.URLParam(r, "id"), leave.EditInput{
		StartDate:      start,
		EndDate:        end,
		IsStartHalfDay: req.IsStartHalfDay,
		IsEndHalfDay:   req.IsEndHalfDay,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*updated))
}

// DecideLeave approves or rejects a pending request.
func (h *Handler) DecideLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var decision leave.Decision
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "approve", "approved":
		decision = leave.DecisionApproved
	case "reject", "rejected":
		decision = leave.DecisionRejected
	default:
		h.writeDomainError(w, generic.Invalid("decision", "must be approve or reject"))
		return
	}

	updated, err := h.Service.Decide(r.Context(), actor, chi.URLParam(r, "id"), decision, req.Comments)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*updated))
}

// CancelLeave cancels a pending or approved request.
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	updated, err := h.Service.Cancel(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*updated))
}

// DeleteLeave removes a request for good (admin only).
func (h *Handler) DeleteLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Service.AdminDelete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: true})
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

// GetBalances returns every balance entry of a user for a year.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	year, err := h.yearParam(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	entries, err := h.Service.Balances(r.Context(), actor, userID, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:   userID,
		Year:     year,
		Balances: toBalanceEntryDTOs(entries),
	})
}

// GetLedger returns the audit trail of one balance entry.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	year, err := h.yearParam(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	txs, err := h.Service.LedgerHistory(r.Context(), actor, chi.URLParam(r, "userID"), r.URL.Query().Get("leave_type"), year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// AllocateBalance sets the allocation of one balance entry.
func (h *Handler) AllocateBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	entry, err := h.Service.Allocate(r.Context(), actor, leave.AllocateInput{
		UserID:      req.UserID,
		LeaveTypeID: req.LeaveTypeID,
		Year:        req.Year,
		Amount:      decimal.NewFromFloat(req.Amount),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceEntryDTO(*entry))
}

// ResetBalances zeroes usage on every entry a user holds for a year.
func (h *Handler) ResetBalances(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req ResetBalancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	entries, err := h.Service.ResetBalances(r.Context(), actor, req.UserID, req.Year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:   req.UserID,
		Year:     req.Year,
		Balances: toBalanceEntryDTOs(entries),
	})
}

// BulkAllocate allocates every member for a year. The body is optional and
// defaults to the current year.
func (h *Handler) BulkAllocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	req := BulkAllocateRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	if req.Year == 0 {
		req.Year = h.Now().Year()
	}

	result, err := h.Service.BulkAllocate(r.Context(), actor, req.Year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BulkAllocateResponse{
		Year:    result.Year,
		Members: result.Members,
		Created: result.Created,
		Skipped: result.Skipped,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (leave.Actor, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated", nil)
	}
	return actor, ok
}

// yearParam reads ?year=, defaulting to the current year.
func (h *Handler) yearParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return h.Now().Year(), nil
	}
	year, err := strconv.Atoi(v)
	if err != nil || year <= 0 {
		return 0, generic.Invalid("year", "must be a positive number")
	}
	return year, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := generic.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, generic.Invalid("start_date", "must be YYYY-MM-DD")
	}
	e, err := generic.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, generic.Invalid("end_date", "must be YYYY-MM-DD")
	}
	return s, e, nil
}

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, generic.ErrNoAllocation):
		return http.StatusBadRequest, "no_allocation"
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrIllegalState):
		return http.StatusConflict, "illegal_state"
	case errors.Is(err, generic.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusServiceUnavailable, "concurrent_modification"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: code})
		return
	}
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var insufficient *generic.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		available, _ := insufficient.Available.Float64()
		requested, _ := insufficient.Requested.Float64()
		resp.Details = map[string]float64{"available": available, "requested": requested}
	}
	writeJSON(w, status, resp)
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
