/*
router.go - Role capability matrix

PURPOSE:
  Answers "may this actor do this to this request?" in one place, evaluated
  once per transition. The service never branches on roles itself.

MATRIX:
  | role      | apply | decide                                  | cancel                      | delete |
  |-----------|-------|-----------------------------------------|-----------------------------|--------|
  | faculty   | self  | no                                      | own                         | no     |
  | hod       | self  | faculty applicant in own dept, not self | own, or what it may decide  | no     |
  | principal | self  | hod applicant, any dept                 | own, or what it may decide  | no     |
  | admin     | no    | never                                   | any                         | any    |

ESCALATION:
  A faculty request is decided by its department's HOD (level 1). An HOD
  request is decided by the principal (level 2). A principal has nobody
  above them, so their requests need no decision (see RequiresDecision).
  Each decision is final: there is no second step after level 1.

SEE ALSO:
  - service.go: Consults the router before every transition
*/
package leave

const (
	LevelSystem    = 0
	LevelHOD       = 1
	LevelPrincipal = 2
)

type Router struct{}

// CanApply reports whether actor may hold a balance and submit requests.
func (Router) CanApply(actor Actor) bool {
	switch actor.Role {
	case RoleFaculty, RoleHOD, RolePrincipal:
		return true
	}
	return false
}

// CanDecide reports whether actor may approve or reject r.
func (Router) CanDecide(actor Actor, r *Request) bool {
	if actor.ID == r.ApplicantID {
		return false
	}
	switch actor.Role {
	case RoleHOD:
		return r.ApplicantRole == RoleFaculty &&
			actor.DepartmentID != "" &&
			actor.DepartmentID == r.DepartmentID
	case RolePrincipal:
		return r.ApplicantRole == RoleHOD
	default:
		return false
	}
}

// CanCancel reports whether actor may cancel r.
func (rt Router) CanCancel(actor Actor, r *Request) bool {
	if actor.Role == RoleAdmin {
		return true
	}
	if actor.ID == r.ApplicantID {
		return true
	}
	return rt.CanDecide(actor, r)
}

// CanDelete reports whether actor may permanently remove requests.
func (Router) CanDelete(actor Actor) bool {
	return actor.Role == RoleAdmin
}

// CanEdit reports whether actor may change r's dates and flags.
func (Router) CanEdit(actor Actor, r *Request) bool {
	return actor.ID == r.ApplicantID
}

// CanManageBalances reports whether actor may allocate or reset balances.
// The System actor qualifies so scheduled allocation can run unattended;
// tokens can never carry the system role.
func (Router) CanManageBalances(actor Actor) bool {
	return actor.Role == RoleAdmin || actor.Role == RoleSystem
}

// CanViewBalances reports whether actor may read userID's balances.
func (Router) CanViewBalances(actor Actor, userID string) bool {
	return actor.ID == userID || actor.Role == RoleAdmin ||
		actor.Role == RoleHOD || actor.Role == RolePrincipal
}

// CanView reports whether actor may read r.
func (rt Router) CanView(actor Actor, r *Request) bool {
	switch {
	case actor.ID == r.ApplicantID, actor.Role == RoleAdmin:
		return true
	case actor.Role == RolePrincipal:
		return true
	case actor.Role == RoleHOD:
		return actor.DepartmentID != "" && actor.DepartmentID == r.DepartmentID
	}
	return false
}

// RequiresDecision reports whether a request by an applicant of this role
// has anyone above it to decide.
func (Router) RequiresDecision(applicant Role) bool {
	return applicant != RolePrincipal
}

// ApprovalLevel is the level recorded for a decision by role.
func (Router) ApprovalLevel(role Role) int {
	switch role {
	case RoleHOD:
		return LevelHOD
	case RolePrincipal:
		return LevelPrincipal
	}
	return LevelSystem
}

// Inbox is the filter for requests actor may currently decide.
// The result still needs CanDecide applied per request.
func (Router) Inbox(actor Actor) (RequestFilter, bool) {
	switch actor.Role {
	case RoleHOD:
		return RequestFilter{Status: StatusPending, DepartmentID: actor.DepartmentID, ApplicantRole: RoleFaculty}, true
	case RolePrincipal:
		return RequestFilter{Status: StatusPending, ApplicantRole: RoleHOD}, true
	}
	return RequestFilter{}, false
}
