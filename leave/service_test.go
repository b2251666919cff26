package leave_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	facultyCSE  = leave.Actor{ID: "fac-cse", Role: leave.RoleFaculty, DepartmentID: "cse"}
	faculty2CSE = leave.Actor{ID: "fac-cse-2", Role: leave.RoleFaculty, DepartmentID: "cse"}
	facultyECE  = leave.Actor{ID: "fac-ece", Role: leave.RoleFaculty, DepartmentID: "ece"}
	hodCSE      = leave.Actor{ID: "hod-cse", Role: leave.RoleHOD, DepartmentID: "cse"}
	hodECE      = leave.Actor{ID: "hod-ece", Role: leave.RoleHOD, DepartmentID: "ece"}
	principal   = leave.Actor{ID: "principal", Role: leave.RolePrincipal}
	admin       = leave.Actor{ID: "admin", Role: leave.RoleAdmin}
)

var testNow = time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func day(m time.Month, d int) time.Time { return generic.NewDate(2024, m, d) }

type fixture struct {
	svc   *leave.Service
	store *memory.Memory
	ctx   context.Context
}

func seed(t *testing.T, store leave.TxStore) {
	t.Helper()
	ctx := context.Background()
	types := []leave.LeaveTypeConfig{
		{ID: "casual", Name: "Casual Leave", MaxDaysPerYear: dec("12"), AllowHalfDay: true, RequiresApproval: true},
		{ID: "earned", Name: "Earned Leave", MaxDaysPerYear: dec("15"), AllowHalfDay: false, RequiresApproval: true},
		{ID: "duty", Name: "On Duty", MaxDaysPerYear: dec("30"), AllowHalfDay: true, RequiresApproval: false},
		{ID: "research", Name: "Research Leave", MaxDaysPerYear: dec("5"), RequiresApproval: true, ApplicableRoles: []leave.Role{leave.RoleFaculty}},
	}
	members := []leave.Member{
		{ID: facultyCSE.ID, Name: "Anita", Role: leave.RoleFaculty, DepartmentID: "cse"},
		{ID: faculty2CSE.ID, Name: "Vikram", Role: leave.RoleFaculty, DepartmentID: "cse"},
		{ID: facultyECE.ID, Name: "Meera", Role: leave.RoleFaculty, DepartmentID: "ece"},
		{ID: hodCSE.ID, Name: "Natarajan", Role: leave.RoleHOD, DepartmentID: "cse"},
		{ID: hodECE.ID, Name: "Kulkarni", Role: leave.RoleHOD, DepartmentID: "ece"},
		{ID: principal.ID, Name: "Menon", Role: leave.RolePrincipal},
		{ID: admin.ID, Name: "Office", Role: leave.RoleAdmin},
	}
	require.NoError(t, store.WithTx(ctx, func(tx leave.Store) error {
		for _, lt := range types {
			if err := tx.PutLeaveType(ctx, lt); err != nil {
				return err
			}
		}
		for _, m := range members {
			if err := tx.PutMember(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}))
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("req-%d", n.Add(1)) }
}

func newFixture(t *testing.T, opts ...leave.Option) *fixture {
	t.Helper()
	store := memory.New()
	seed(t, store)
	opts = append([]leave.Option{
		leave.WithClock(func() time.Time { return testNow }),
		leave.WithIDGenerator(sequentialIDs()),
	}, opts...)
	return &fixture{svc: leave.NewService(store, opts...), store: store, ctx: context.Background()}
}

func (f *fixture) allocate(t *testing.T, userID, leaveType string, year int, amount string) {
	t.Helper()
	_, err := f.svc.Allocate(f.ctx, admin, leave.AllocateInput{
		UserID: userID, LeaveTypeID: leaveType, Year: year, Amount: dec(amount),
	})
	require.NoError(t, err)
}

func (f *fixture) apply(t *testing.T, actor leave.Actor, leaveType string, start, end time.Time) *leave.ApplyResult {
	t.Helper()
	res, err := f.svc.Apply(f.ctx, actor, leave.ApplyInput{
		LeaveTypeID: leaveType, StartDate: start, EndDate: end, Reason: "personal work",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) balance(t *testing.T, userID, leaveType string, year int) generic.BalanceEntry {
	t.Helper()
	e, err := f.store.GetBalance(f.ctx, generic.BalanceKey{
		EntityID: generic.EntityID(userID), PolicyID: generic.PolicyID(leaveType), Year: year,
	})
	require.NoError(t, err)
	return *e
}

func assertBalance(t *testing.T, e generic.BalanceEntry, alloc, used, remaining string) {
	t.Helper()
	assert.True(t, dec(alloc).Equal(e.Allocated), "allocated: want %s, got %s", alloc, e.Allocated)
	assert.True(t, dec(used).Equal(e.Used), "used: want %s, got %s", used, e.Used)
	assert.True(t, dec(remaining).Equal(e.Remaining), "remaining: want %s, got %s", remaining, e.Remaining)
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_FacultyRejectedByHOD(t *testing.T) {
	// GIVEN: faculty with allocated=12, used=0
	// WHEN: they apply for 3 working days and their HOD rejects
	// THEN: used 0 -> 3 -> 0 and the rejection is recorded with its comment

	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 14))
	assert.True(t, dec("3").Equal(res.WorkingDays))
	assert.Equal(t, leave.StatusPending, res.Request.Status)
	assert.Equal(t, "cse", res.Request.DepartmentID)
	assert.Equal(t, 3, res.Request.TotalDays)
	assertBalance(t, res.Balance, "12", "3", "9")
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "3", "9")

	rejected, err := f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionRejected, "clashes with exam duty")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.ProcessedAt)
	require.Len(t, rejected.Approvals, 1)
	assert.Equal(t, hodCSE.ID, rejected.Approvals[0].ApproverID)
	assert.Equal(t, leave.DecisionRejected, rejected.Approvals[0].Decision)
	assert.Equal(t, "clashes with exam duty", rejected.Approvals[0].Comments)
	assert.Equal(t, leave.LevelHOD, rejected.Approvals[0].Level)

	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")
}

func TestScenario_HODApprovedByPrincipalThenCancelled(t *testing.T) {
	// GIVEN: HOD with allocated=10
	// WHEN: they apply for 2 days, the principal approves, then they cancel
	// THEN: approval does not charge again; cancel restores the 2 days

	f := newFixture(t)
	f.allocate(t, hodCSE.ID, "casual", 2024, "10")

	res := f.apply(t, hodCSE, "casual", day(8, 12), day(8, 13))
	assert.Equal(t, leave.StatusPending, res.Request.Status)

	approved, err := f.svc.Decide(f.ctx, principal, res.Request.ID, leave.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, leave.LevelPrincipal, approved.Approvals[0].Level)
	assertBalance(t, f.balance(t, hodCSE.ID, "casual", 2024), "10", "2", "8")

	cancelled, err := f.svc.Cancel(f.ctx, hodCSE, res.Request.ID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)
	assert.Equal(t, "plans changed", cancelled.CancelReason)
	assert.Equal(t, hodCSE.ID, cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancelledAt)
	assertBalance(t, f.balance(t, hodCSE.ID, "casual", 2024), "10", "0", "10")
}

// =============================================================================
// NO DOUBLE CHARGE
// =============================================================================

func TestNoDoubleRestore_RejectThenDeleteTwice(t *testing.T) {
	// GIVEN: a request that was applied and rejected
	// WHEN: an admin deletes it, then deletes it again
	// THEN: the balance was restored exactly once and the second delete
	//       reports the request as already processed

	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 14))
	f.apply(t, facultyCSE, "casual", day(9, 2), day(9, 2))

	_, err := f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionRejected, "no")
	require.NoError(t, err)

	require.NoError(t, f.svc.AdminDelete(f.ctx, admin, res.Request.ID))
	err = f.svc.AdminDelete(f.ctx, admin, res.Request.ID)
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)

	// Only the other request's charge remains.
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "1", "11")

	txs, err := f.store.Transactions(f.ctx, res.Request.BalanceKey())
	require.NoError(t, err)
	var reserves, restores int
	for _, tx := range txs {
		if tx.ReferenceID != res.Request.ID {
			continue
		}
		switch tx.Type {
		case generic.TxReserve:
			reserves++
		case generic.TxRestore:
			restores++
		}
	}
	assert.Equal(t, 1, reserves)
	assert.Equal(t, 1, restores)
}

func TestAdminDelete_PendingRestores(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 16))
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "5", "7")

	require.NoError(t, f.svc.AdminDelete(f.ctx, admin, res.Request.ID))
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")

	// Reads treat the deleted id as gone; transitions see the tombstone.
	_, err := f.svc.Get(f.ctx, facultyCSE, res.Request.ID)
	assert.True(t, generic.IsNotFound(err))
	assert.NotErrorIs(t, err, generic.ErrAlreadyProcessed)
	_, err = f.svc.Cancel(f.ctx, facultyCSE, res.Request.ID, "")
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)
}

func TestAdminDelete_ApprovedKeepsCharge(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 13))
	_, err := f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionApproved, "ok")
	require.NoError(t, err)

	require.NoError(t, f.svc.AdminDelete(f.ctx, admin, res.Request.ID))
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "2", "10")
}

func TestAdminDelete_CancelledDoesNotRestoreAgain(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	f.apply(t, facultyCSE, "casual", day(8, 19), day(8, 19))
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 13))

	_, err := f.svc.Cancel(f.ctx, facultyCSE, res.Request.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.AdminDelete(f.ctx, admin, res.Request.ID))

	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "1", "11")
}

func TestAdminDelete_NotFoundAndUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))

	err := f.svc.AdminDelete(f.ctx, admin, "missing")
	assert.True(t, generic.IsNotFound(err))

	for _, a := range []leave.Actor{facultyCSE, hodCSE, principal} {
		err := f.svc.AdminDelete(f.ctx, a, res.Request.ID)
		assert.ErrorIs(t, err, generic.ErrUnauthorized, a.ID)
	}
}

// =============================================================================
// AUTHORIZATION MATRIX
// =============================================================================

func TestDecide_Authorization(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	f.allocate(t, hodCSE.ID, "casual", 2024, "12")
	facReq := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))
	hodReq := f.apply(t, hodCSE, "casual", day(8, 12), day(8, 12))

	tests := []struct {
		name  string
		actor leave.Actor
		id    string
	}{
		{"hod of another department", hodECE, facReq.Request.ID},
		{"principal on faculty request", principal, facReq.Request.ID},
		{"admin on faculty request", admin, facReq.Request.ID},
		{"admin on hod request", admin, hodReq.Request.ID},
		{"hod on own request", hodCSE, hodReq.Request.ID},
		{"peer faculty", faculty2CSE, facReq.Request.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Decide(f.ctx, tt.actor, tt.id, leave.DecisionApproved, "")
			var authErr *generic.AuthorizationError
			assert.ErrorAs(t, err, &authErr)
		})
	}

	// Nothing changed.
	got, err := f.svc.Get(f.ctx, facultyCSE, facReq.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, got.Status)
	assert.Empty(t, got.Approvals)
}

func TestApply_AdminCannotApply(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Apply(f.ctx, admin, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 12), Reason: "x",
	})
	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))

	_, err := f.svc.Cancel(f.ctx, faculty2CSE, res.Request.ID, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)
	_, err = f.svc.Cancel(f.ctx, hodECE, res.Request.ID, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	// The HOD who may decide it may also cancel it.
	cancelled, err := f.svc.Cancel(f.ctx, hodCSE, res.Request.ID, "department event")
	require.NoError(t, err)
	assert.Equal(t, hodCSE.ID, cancelled.CancelledBy)
}

func TestCancel_AdminCancelsApproved(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 13))
	_, err := f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionApproved, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, admin, res.Request.ID, "duplicate entry")
	require.NoError(t, err)
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestDecide_AlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 13))

	_, err := f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionRejected, "")
	require.NoError(t, err)

	for _, d := range []leave.Decision{leave.DecisionRejected, leave.DecisionApproved} {
		_, err = f.svc.Decide(f.ctx, hodCSE, res.Request.ID, d, "")
		var processed *generic.AlreadyProcessedError
		require.ErrorAs(t, err, &processed)
		assert.Equal(t, string(leave.StatusRejected), processed.Status)
	}

	// A replayed rejection does not restore a second time.
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")
}

func TestDecide_InvalidDecision(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))

	_, err := f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionPending, "")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionApproved, strings.Repeat("x", leave.MaxReasonLength+1))
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.Decide(f.ctx, hodCSE, "missing", leave.DecisionApproved, "")
	assert.True(t, generic.IsNotFound(err))
}

func TestCancel_TerminalStates(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	rejected := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))
	cancelled := f.apply(t, facultyCSE, "casual", day(8, 13), day(8, 13))

	_, err := f.svc.Decide(f.ctx, hodCSE, rejected.Request.ID, leave.DecisionRejected, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(f.ctx, facultyCSE, rejected.Request.ID, "")
	var illegal *generic.IllegalStateError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, string(leave.StatusRejected), illegal.Status)

	_, err = f.svc.Cancel(f.ctx, facultyCSE, cancelled.Request.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(f.ctx, facultyCSE, cancelled.Request.ID, "")
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)

	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")
}

func TestApply_PrincipalAutoApproved(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, principal.ID, "casual", 2024, "12")

	res := f.apply(t, principal, "casual", day(8, 12), day(8, 13))
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	require.Len(t, res.Request.Approvals, 1)
	a := res.Request.Approvals[0]
	assert.Equal(t, leave.System.ID, a.ApproverID)
	assert.Equal(t, leave.RoleSystem, a.ApproverRole)
	assert.Equal(t, leave.LevelSystem, a.Level)
	assert.Equal(t, leave.DecisionApproved, a.Decision)
	assertBalance(t, f.balance(t, principal.ID, "casual", 2024), "12", "2", "10")

	// Still cancellable, which restores.
	_, err := f.svc.Cancel(f.ctx, principal, res.Request.ID, "")
	require.NoError(t, err)
	assertBalance(t, f.balance(t, principal.ID, "casual", 2024), "12", "0", "12")
}

func TestApply_LeaveTypeWithoutApproval(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "duty", 2024, "30")

	res := f.apply(t, facultyCSE, "duty", day(8, 12), day(8, 12))
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assertBalance(t, f.balance(t, facultyCSE.ID, "duty", 2024), "30", "1", "29")
}

// =============================================================================
// APPLY VALIDATION
// =============================================================================

func TestApply_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	// GIVEN: 2 days allocated
	// WHEN: applying for 3 working days
	// THEN: InsufficientBalanceError; no request stored, ledger unchanged

	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "2")

	_, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 14), Reason: "trip",
	})
	var insufficient *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, dec("2").Equal(insufficient.Available))
	assert.True(t, dec("3").Equal(insufficient.Requested))

	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "2", "0", "2")
	requests, err := f.svc.List(f.ctx, facultyCSE, leave.ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, requests)

	txs, err := f.store.Transactions(f.ctx, generic.BalanceKey{EntityID: "fac-cse", PolicyID: "casual", Year: 2024})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestApply_NoAllocation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 12), Reason: "x",
	})
	assert.ErrorIs(t, err, generic.ErrNoAllocation)
}

func TestApply_SingleWeekendDayChargesOne(t *testing.T) {
	// GIVEN: 12 casual days
	// WHEN: faculty applies for Saturday 2024-08-10 alone
	// THEN: the single day counts as one working day and is charged
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	res, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 10), EndDate: day(8, 10), Reason: "weekend exam invigilation swap",
	})
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(res.WorkingDays))
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "1", "11")
}

func TestApply_HalfDays(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	res, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 14),
		IsStartHalfDay: true, IsEndHalfDay: true, Reason: "appointments",
	})
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(res.WorkingDays))

	res, err = f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 20), EndDate: day(8, 20),
		IsStartHalfDay: true, Reason: "appointment",
	})
	require.NoError(t, err)
	assert.True(t, dec("0.5").Equal(res.WorkingDays))
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "2.5", "9.5")
}

func TestApply_Validation(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	f.allocate(t, facultyCSE.ID, "earned", 2024, "15")
	f.allocate(t, hodCSE.ID, "research", 2024, "5")

	tests := []struct {
		name  string
		actor leave.Actor
		in    leave.ApplyInput
	}{
		{"missing leave type", facultyCSE, leave.ApplyInput{StartDate: day(8, 12), EndDate: day(8, 12), Reason: "x"}},
		{"missing start", facultyCSE, leave.ApplyInput{LeaveTypeID: "casual", EndDate: day(8, 12), Reason: "x"}},
		{"end before start", facultyCSE, leave.ApplyInput{LeaveTypeID: "casual", StartDate: day(8, 13), EndDate: day(8, 12), Reason: "x"}},
		{"blank reason", facultyCSE, leave.ApplyInput{LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 12), Reason: "   "}},
		{"reason too long", facultyCSE, leave.ApplyInput{LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 12), Reason: strings.Repeat("r", leave.MaxReasonLength+1)}},
		{"weekend only range", facultyCSE, leave.ApplyInput{LeaveTypeID: "casual", StartDate: day(8, 10), EndDate: day(8, 11), Reason: "x"}},
		{"half day not allowed", facultyCSE, leave.ApplyInput{LeaveTypeID: "earned", StartDate: day(8, 12), EndDate: day(8, 13), IsEndHalfDay: true, Reason: "x"}},
		{"above yearly maximum", facultyCSE, leave.ApplyInput{LeaveTypeID: "casual", StartDate: day(8, 1), EndDate: day(8, 30), Reason: "x"}},
		{"type not for role", hodCSE, leave.ApplyInput{LeaveTypeID: "research", StartDate: day(8, 12), EndDate: day(8, 12), Reason: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Apply(f.ctx, tt.actor, tt.in)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "unknown", StartDate: day(8, 12), EndDate: day(8, 12), Reason: "x",
	})
	assert.True(t, generic.IsNotFound(err))

	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")
}

func TestApply_ReasonAtLimitAccepted(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	_, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 12),
		Reason: strings.Repeat("é", leave.MaxReasonLength),
	})
	assert.NoError(t, err)
}

func TestApply_YearFromStartDate(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	res := f.apply(t, facultyCSE, "casual", generic.NewDate(2024, 12, 30), generic.NewDate(2025, 1, 2))
	assert.Equal(t, 2024, res.Request.Year)
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "4", "8")
}

// =============================================================================
// READS
// =============================================================================

func TestList_OwnAndInbox(t *testing.T) {
	f := newFixture(t)
	for _, a := range []leave.Actor{facultyCSE, faculty2CSE, facultyECE, hodCSE} {
		f.allocate(t, a.ID, "casual", 2024, "12")
	}
	r1 := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))
	r2 := f.apply(t, faculty2CSE, "casual", day(8, 13), day(8, 13))
	f.apply(t, facultyECE, "casual", day(8, 14), day(8, 14))
	r4 := f.apply(t, hodCSE, "casual", day(8, 15), day(8, 15))

	own, err := f.svc.List(f.ctx, facultyCSE, leave.ListQuery{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, r1.Request.ID, own[0].ID)

	inbox, err := f.svc.List(f.ctx, hodCSE, leave.ListQuery{Inbox: true})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range inbox {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{r1.Request.ID, r2.Request.ID}, ids)

	inbox, err = f.svc.List(f.ctx, principal, leave.ListQuery{Inbox: true})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, r4.Request.ID, inbox[0].ID)

	inbox, err = f.svc.List(f.ctx, facultyCSE, leave.ListQuery{Inbox: true})
	require.NoError(t, err)
	assert.Empty(t, inbox)

	all, err := f.svc.List(f.ctx, admin, leave.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// Decided requests leave the inbox.
	_, err = f.svc.Decide(f.ctx, hodCSE, r1.Request.ID, leave.DecisionApproved, "")
	require.NoError(t, err)
	inbox, err = f.svc.List(f.ctx, hodCSE, leave.ListQuery{Inbox: true})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, r2.Request.ID, inbox[0].ID)

	approved, err := f.svc.List(f.ctx, facultyCSE, leave.ListQuery{Status: leave.StatusApproved, Year: 2024})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")
	res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 12))

	for _, a := range []leave.Actor{facultyCSE, hodCSE, principal, admin} {
		_, err := f.svc.Get(f.ctx, a, res.Request.ID)
		assert.NoError(t, err, a.ID)
	}
	for _, a := range []leave.Actor{faculty2CSE, hodECE} {
		_, err := f.svc.Get(f.ctx, a, res.Request.ID)
		assert.ErrorIs(t, err, generic.ErrUnauthorized, a.ID)
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApply_ConcurrentNeverOvercharges(t *testing.T) {
	// GIVEN: 12 days allocated
	// WHEN: 20 one-day applications race
	// THEN: exactly 12 succeed and used equals the sum of successful charges

	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Apply(f.ctx, facultyCSE, leave.ApplyInput{
				LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 12), Reason: "race",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case generic.IsClientError(err):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 12, ok.Load())
	assert.EqualValues(t, 8, insufficient.Load())
	assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "12", "0")

	requests, err := f.svc.List(f.ctx, facultyCSE, leave.ListQuery{})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, r := range requests {
		sum = sum.Add(r.WorkingDays)
	}
	assert.True(t, dec("12").Equal(sum))
}

func TestRejectRacingCancel_RestoresOnce(t *testing.T) {
	// GIVEN: a pending 3 day request
	// WHEN: the HOD rejects while the applicant cancels, over many rounds
	// THEN: one transition wins each round and the days come back exactly once

	f := newFixture(t)
	f.allocate(t, facultyCSE.ID, "casual", 2024, "12")

	const rounds = 50
	for i := 0; i < rounds; i++ {
		res := f.apply(t, facultyCSE, "casual", day(8, 12), day(8, 14))

		var (
			wg                   sync.WaitGroup
			rejectErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, rejectErr = f.svc.Decide(f.ctx, hodCSE, res.Request.ID, leave.DecisionRejected, "clashes with exam duty")
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.svc.Cancel(f.ctx, facultyCSE, res.Request.ID, "plans changed")
		}()
		wg.Wait()

		require.True(t, (rejectErr == nil) != (cancelErr == nil), "reject=%v cancel=%v", rejectErr, cancelErr)
		if rejectErr != nil {
			assert.ErrorIs(t, rejectErr, generic.ErrAlreadyProcessed)
		} else {
			assert.ErrorIs(t, cancelErr, generic.ErrIllegalState)
		}
		assertBalance(t, f.balance(t, facultyCSE.ID, "casual", 2024), "12", "0", "12")
	}

	txs, err := f.svc.LedgerHistory(f.ctx, admin, facultyCSE.ID, "casual", 2024)
	require.NoError(t, err)
	restores := 0
	for _, tx := range txs {
		if tx.Type == generic.TxRestore {
			restores++
		}
	}
	assert.Equal(t, rounds, restores)
}

// =============================================================================
// RETRIES
// =============================================================================

// conflictStore makes the first n balance writes lose a version race.
type conflictStore struct {
	*memory.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return c.Memory.WithTx(ctx, func(tx leave.Store) error {
		return fn(&conflictTx{Store: tx, parent: c})
	})
}

type conflictTx struct {
	leave.Store
	parent *conflictStore
}

func (t *conflictTx) PutBalance(ctx context.Context, e generic.BalanceEntry) error {
	t.parent.mu.Lock()
	fail := t.parent.conflicts > 0
	if fail {
		t.parent.conflicts--
	}
	t.parent.mu.Unlock()
	if fail {
		return generic.ErrConcurrentModification
	}
	return t.Store.PutBalance(ctx, e)
}

type countingRecorder struct {
	mu       sync.Mutex
	retries  int
	outcomes map[string]int
}

func (r *countingRecorder) ObserveTransition(action, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[action+"/"+outcome]++
}

func (r *countingRecorder) LedgerRetry(string) {
	r.mu.Lock()
	r.retries++
	r.mu.Unlock()
}

func newConflictFixture(t *testing.T, rec *countingRecorder) (*leave.Service, *conflictStore) {
	t.Helper()
	store := &conflictStore{Memory: memory.New()}
	seed(t, store)
	svc := leave.NewService(store,
		leave.WithClock(func() time.Time { return testNow }),
		leave.WithIDGenerator(sequentialIDs()),
		leave.WithMetrics(rec),
		leave.WithMaxRetries(3),
	)
	_, err := svc.Allocate(context.Background(), admin, leave.AllocateInput{
		UserID: facultyCSE.ID, LeaveTypeID: "casual", Year: 2024, Amount: dec("12"),
	})
	require.NoError(t, err)
	return svc, store
}

func TestApply_RetriesOnConflict(t *testing.T) {
	rec := &countingRecorder{}
	svc, store := newConflictFixture(t, rec)
	store.conflicts = 2

	res, err := svc.Apply(context.Background(), facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 13), Reason: "x",
	})
	require.NoError(t, err)
	assertBalance(t, res.Balance, "12", "2", "10")
	assert.Equal(t, 2, rec.retries)
	assert.Equal(t, 1, rec.outcomes["apply/ok"])

	requests, err := svc.List(context.Background(), facultyCSE, leave.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, requests, 1, "failed attempts leave nothing behind")
}

func TestApply_GivesUpAfterMaxRetries(t *testing.T) {
	rec := &countingRecorder{}
	svc, store := newConflictFixture(t, rec)
	store.conflicts = 100

	_, err := svc.Apply(context.Background(), facultyCSE, leave.ApplyInput{
		LeaveTypeID: "casual", StartDate: day(8, 12), EndDate: day(8, 13), Reason: "x",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.Contains(t, err.Error(), "giving up after 4 attempts")
	assert.Equal(t, 3, rec.retries)
	assert.Equal(t, 1, rec.outcomes["apply/conflict"])

	e, err := store.GetBalance(context.Background(), generic.BalanceKey{EntityID: "fac-cse", PolicyID: "casual", Year: 2024})
	require.NoError(t, err)
	assertBalance(t, *e, "12", "0", "12")
}
