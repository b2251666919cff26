/*
Package leave implements the leave request lifecycle on top of the
generic balance ledger.

PURPOSE:
  A leave request is charged against the applicant's balance the moment it
  is submitted, routed to the one role allowed to decide it, and either kept
  charged (approved) or released (rejected, cancelled, deleted). This
  package owns that state machine, the role capability matrix, and the
  storage boundary it needs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Role / Actor: Who is acting, and in which department
  - Request: The leave request aggregate, with its approval entries
  - LeaveTypeConfig: Read-only leave-type reference data
  - Member: Read-only staff directory entry

CHARGED FLAG:
  Request.Charged records whether the request currently holds working days
  in the ledger. It is set on apply and cleared by exactly one compensating
  restore. Every transition checks it before touching the ledger, so a
  charge is never released twice.

SEE ALSO:
  - router.go: Who may decide or cancel what
  - service.go: Apply / Decide / Cancel / AdminDelete
  - edit.go: Editing a pending request
  - store.go: Storage boundary
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// MaxReasonLength is the maximum length of a request reason, in characters.
const MaxReasonLength = 500

// =============================================================================
// ROLES & ACTORS
// =============================================================================

type Role string

const (
	RoleFaculty   Role = "faculty"
	RoleHOD       Role = "hod"
	RolePrincipal Role = "principal"
	RoleAdmin     Role = "admin"

	// RoleSystem marks approvals the engine records by itself.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleFaculty, RoleHOD, RolePrincipal, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID           string
	Role         Role
	DepartmentID string
}

// System is the actor recorded on approvals the engine makes by itself.
var System = Actor{ID: "system", Role: RoleSystem}

// =============================================================================
// REQUEST
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approval is one entry of a request's approval chain.
// Level 1 is the HOD step, level 2 the principal step, level 0 the system.
type Approval struct {
	ApproverID   string
	ApproverRole Role
	Decision     Decision
	Comments     string
	DecidedAt    *time.Time
	Level        int
}

type Request struct {
	ID            string
	ApplicantID   string
	ApplicantRole Role
	DepartmentID  string
	LeaveTypeID   string

	StartDate      time.Time
	EndDate        time.Time
	IsStartHalfDay bool
	IsEndHalfDay   bool
	TotalDays      int
	WorkingDays    decimal.Decimal
	Year           int

	Reason    string
	Status    Status
	Approvals []Approval

	AppliedAt    time.Time
	ProcessedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason string
	CancelledBy  string

	Charged  bool
	Revision int
}

// BalanceKey is the ledger entry this request is charged against.
func (r *Request) BalanceKey() generic.BalanceKey {
	return generic.BalanceKey{
		EntityID: generic.EntityID(r.ApplicantID),
		PolicyID: generic.PolicyID(r.LeaveTypeID),
		Year:     r.Year,
	}
}

// Clone returns a copy that shares no slices or pointers with r.
func (r Request) Clone() Request {
	out := r
	if r.Approvals != nil {
		out.Approvals = make([]Approval, len(r.Approvals))
		for i, a := range r.Approvals {
			if a.DecidedAt != nil {
				t := *a.DecidedAt
				a.DecidedAt = &t
			}
			out.Approvals[i] = a
		}
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		out.ProcessedAt = &t
	}
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		out.CancelledAt = &t
	}
	return out
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// LeaveTypeConfig is read-only to the engine.
type LeaveTypeConfig struct {
	ID               string
	Name             string
	Code             string
	MaxDaysPerYear   decimal.Decimal
	AllowHalfDay     bool
	RequiresApproval bool
	ApplicableRoles  []Role // empty means every role that can apply
}

func (lt LeaveTypeConfig) AppliesTo(role Role) bool {
	if len(lt.ApplicableRoles) == 0 {
		return true
	}
	for _, r := range lt.ApplicableRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Member is a staff directory entry.
type Member struct {
	ID           string
	Name         string
	Role         Role
	DepartmentID string
}

func (m Member) Actor() Actor {
	return Actor{ID: m.ID, Role: m.Role, DepartmentID: m.DepartmentID}
}
