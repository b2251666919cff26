/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types keep the
  domain model (decimals, typed ids, pointer timestamps) out of the wire
  contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Leave requests:
    ApplyLeaveRequest, EditLeaveRequest, DecisionRequest, CancelRequest
    LeaveRequestDTO, ApprovalDTO, ApplyResponse

  Balances:
    BalanceEntryDTO, BalanceResponse, TransactionDTO
    AllocateRequest, ResetBalancesRequest, BulkAllocateRequest, BulkAllocateResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

FORMATS:
  Dates are "2006-01-02". Timestamps are RFC 3339 in UTC.
  Day counts are JSON numbers; half days come out as .5.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type ApplyLeaveRequest struct {
	LeaveTypeID    string `json:"leave_type_id"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	IsStartHalfDay bool   `json:"is_start_half_day"`
	IsEndHalfDay   bool   `json:"is_end_half_day"`
	Reason         string `json:"reason"`
}

type EditLeaveRequest struct {
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	IsStartHalfDay bool   `json:"is_start_half_day"`
	IsEndHalfDay   bool   `json:"is_end_half_day"`
	Reason         string `json:"reason,omitempty"`
}

// DecisionRequest accepts "approve" or "reject".
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comments string `json:"comments,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AllocateRequest struct {
	UserID      string  `json:"user_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Amount      float64 `json:"amount"`
}

type ResetBalancesRequest struct {
	UserID string `json:"user_id"`
	Year   int    `json:"year"`
}

type BulkAllocateRequest struct {
	Year int `json:"year"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DeleteResponse confirms an administrative delete.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

type ApprovalDTO struct {
	ApproverID   string     `json:"approver_id"`
	ApproverRole string     `json:"approver_role"`
	Decision     string     `json:"decision"`
	Comments     string     `json:"comments,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Level        int        `json:"level"`
}

type LeaveRequestDTO struct {
	ID             string        `json:"id"`
	ApplicantID    string        `json:"applicant_id"`
	ApplicantRole  string        `json:"applicant_role"`
	DepartmentID   string        `json:"department_id,omitempty"`
	LeaveTypeID    string        `json:"leave_type_id"`
	StartDate      string        `json:"start_date"`
	EndDate        string        `json:"end_date"`
	IsStartHalfDay bool          `json:"is_start_half_day"`
	IsEndHalfDay   bool          `json:"is_end_half_day"`
	TotalDays      int           `json:"total_days"`
	WorkingDays    float64       `json:"working_days"`
	Year           int           `json:"year"`
	Reason         string        `json:"reason"`
	Status         string        `json:"status"`
	Approvals      []ApprovalDTO `json:"approvals"`
	AppliedAt      time.Time     `json:"applied_at"`
	ProcessedAt    *time.Time    `json:"processed_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
	CancelledBy    string        `json:"cancelled_by,omitempty"`
}

type BalanceEntryDTO struct {
	UserID      string    `json:"user_id"`
	LeaveTypeID string    `json:"leave_type_id"`
	Year        int       `json:"year"`
	Allocated   float64   `json:"allocated"`
	Used        float64   `json:"used"`
	Remaining   float64   `json:"remaining"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ApplyResponse echoes the computed working days and the balance after
// the charge.
type ApplyResponse struct {
	Request     LeaveRequestDTO `json:"request"`
	WorkingDays float64         `json:"working_days"`
	Balance     BalanceEntryDTO `json:"balance"`
}

type BalanceResponse struct {
	UserID   string            `json:"user_id"`
	Year     int               `json:"year"`
	Balances []BalanceEntryDTO `json:"balances"`
}

type TransactionDTO struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Delta          float64   `json:"delta"`
	UsedAfter      float64   `json:"used_after"`
	AllocatedAfter float64   `json:"allocated_after"`
	RequestID      string    `json:"request_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type BulkAllocateResponse struct {
	Year    int `json:"year"`
	Members int `json:"members"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLeaveRequestDTO(r leave.Request) LeaveRequestDTO {
	days, _ := r.WorkingDays.Float64()
	approvals := make([]ApprovalDTO, 0, len(r.Approvals))
	for _, a := range r.Approvals {
		approvals = append(approvals, ApprovalDTO{
			ApproverID:   a.ApproverID,
			ApproverRole: string(a.ApproverRole),
			Decision:     string(a.Decision),
			Comments:     a.Comments,
			DecidedAt:    a.DecidedAt,
			Level:        a.Level,
		})
	}
	return LeaveRequestDTO{
		ID:             r.ID,
		ApplicantID:    r.ApplicantID,
		ApplicantRole:  string(r.ApplicantRole),
		DepartmentID:   r.DepartmentID,
		LeaveTypeID:    r.LeaveTypeID,
		StartDate:      r.StartDate.Format(generic.DateLayout),
		EndDate:        r.EndDate.Format(generic.DateLayout),
		IsStartHalfDay: r.IsStartHalfDay,
		IsEndHalfDay:   r.IsEndHalfDay,
		TotalDays:      r.TotalDays,
		WorkingDays:    days,
		Year:           r.Year,
		Reason:         r.Reason,
		Status:         string(r.Status),
		Approvals:      approvals,
		AppliedAt:      r.AppliedAt,
		ProcessedAt:    r.ProcessedAt,
		CancelledAt:    r.CancelledAt,
		CancelReason:   r.CancelReason,
		CancelledBy:    r.CancelledBy,
	}
}

func toLeaveRequestDTOs(rs []leave.Request) []LeaveRequestDTO {
	out := make([]LeaveRequestDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toLeaveRequestDTO(r))
	}
	return out
}

func toBalanceEntryDTO(e generic.BalanceEntry) BalanceEntryDTO {
	allocated, _ := e.Allocated.Float64()
	used, _ := e.Used.Float64()
	remaining, _ := e.Remaining.Float64()
	return BalanceEntryDTO{
		UserID:      string(e.Key.EntityID),
		LeaveTypeID: string(e.Key.PolicyID),
		Year:        e.Key.Year,
		Allocated:   allocated,
		Used:        used,
		Remaining:   remaining,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toBalanceEntryDTOs(es []generic.BalanceEntry) []BalanceEntryDTO {
	out := make([]BalanceEntryDTO, 0, len(es))
	for _, e := range es {
		out = append(out, toBalanceEntryDTO(e))
	}
	return out
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	delta, _ := tx.Delta.Float64()
	used, _ := tx.UsedAfter.Float64()
	allocated, _ := tx.AllocatedAfter.Float64()
	return TransactionDTO{
		ID:             string(tx.ID),
		Type:           string(tx.Type),
		Delta:          delta,
		UsedAfter:      used,
		AllocatedAfter: allocated,
		RequestID:      tx.ReferenceID,
		Reason:         tx.Reason,
		CreatedBy:      tx.CreatedBy,
		CreatedAt:      tx.CreatedAt,
	}
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	return out
}
