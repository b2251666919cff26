/*
store.go - Storage boundary of the leave engine

PURPOSE:
  The service needs four things from storage: the balance ledger rows,
  leave requests, the staff directory and the leave-type catalog. Store
  composes them; TxStore adds WithTx so one transition (ledger write +
  request write) commits or rolls back as a unit.

TRANSACTION SCOPE:
  Inside WithTx, use ONLY the Store passed to fn. Implementations serialize
  transactions, and going back to the outer store from inside fn would
  either deadlock or escape the transaction.

DELETION:
  DeleteRequest removes a request and leaves a tombstone behind, so a
  second delete of the same id is answered with AlreadyProcessed instead
  of NotFound.

IMPLEMENTATIONS:
  - store/memory
  - store/sqlite
  - store/postgres
*/
package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// RequestFilter selects requests for listing. Zero fields match everything.
type RequestFilter struct {
	ApplicantID   string
	DepartmentID  string
	ApplicantRole Role
	Status        Status
	Year          int
}

func (f RequestFilter) Match(r Request) bool {
	if f.ApplicantID != "" && r.ApplicantID != f.ApplicantID {
		return false
	}
	if f.DepartmentID != "" && r.DepartmentID != f.DepartmentID {
		return false
	}
	if f.ApplicantRole != "" && r.ApplicantRole != f.ApplicantRole {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Year != 0 && r.Year != f.Year {
		return false
	}
	return true
}

type RequestStore interface {
	// GetRequest returns the request or a NotFoundError.
	GetRequest(ctx context.Context, id string) (*Request, error)
	// SaveRequest inserts or replaces a request together with its approvals.
	SaveRequest(ctx context.Context, r Request) error
	// DeleteRequest removes a request and records a tombstone for its id.
	DeleteRequest(ctx context.Context, id string) error
	IsDeleted(ctx context.Context, id string) (bool, error)
	// ListRequests returns matching requests, most recently applied first.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// Directory serves staff reference data.
type Directory interface {
	GetMember(ctx context.Context, id string) (*Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
	PutMember(ctx context.Context, m Member) error
}

// Catalog serves leave-type reference data.
type Catalog interface {
	GetLeaveType(ctx context.Context, id string) (*LeaveTypeConfig, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveTypeConfig, error)
	PutLeaveType(ctx context.Context, lt LeaveTypeConfig) error
}

type Store interface {
	generic.BalanceStore
	RequestStore
	Directory
	Catalog
}

type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
