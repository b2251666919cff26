/*
service.go - Leave request state machine

PURPOSE:
  Orchestrates the request lifecycle. Every operation that touches the
  ledger runs as one store transaction, so the balance entry, its audit
  transaction and the request row commit together or not at all.

STATES:
  pending  -> approved | rejected | cancelled
  approved -> cancelled
  rejected, cancelled: terminal

LEDGER EFFECTS (charge at apply time):
  apply          reserve workingDays
  approve        none (already charged)
  reject         restore
  cancel         restore
  admin delete   restore only while pending, then remove
  edit           reserve or restore the delta

RETRIES:
  A balance write that loses a version race returns
  ErrConcurrentModification. The whole transition is re-run from a fresh
  read up to MaxRetries times before the conflict is surfaced.
  A retry of decide/cancel/delete on a request that is already resolved
  returns AlreadyProcessedError and never reaches the ledger.

SEE ALSO:
  - router.go: Capability matrix
  - edit.go: Edit of a pending request
  - generic/ledger.go: Balance mutations
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// DefaultMaxRetries bounds how often a conflicting transition is re-run.
const DefaultMaxRetries = 3

// Recorder receives transition outcomes. See the metrics package.
type Recorder interface {
	ObserveTransition(action, outcome string, elapsed time.Duration)
	LedgerRetry(action string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, string, time.Duration) {}
func (nopRecorder) LedgerRetry(string)                              {}

type Service struct {
	store      TxStore
	router     Router
	logger     *zap.Logger
	metrics    Recorder
	now        func() time.Time
	newID      func() string
	maxRetries int
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(r Recorder) Option { return func(s *Service) { s.metrics = r } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     zap.NewNop(),
		metrics:    nopRecorder{},
		now:        time.Now,
		newID:      uuid.NewString,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Router() Router { return s.router }

// =============================================================================
// APPLY
// =============================================================================

type ApplyInput struct {
	LeaveTypeID    string
	StartDate      time.Time
	EndDate        time.Time
	IsStartHalfDay bool
	IsEndHalfDay   bool
	Reason         string
}

type ApplyResult struct {
	Request     Request
	WorkingDays decimal.Decimal
	Balance     generic.BalanceEntry
}

func (in ApplyInput) validate() error {
	if strings.TrimSpace(in.LeaveTypeID) == "" {
		return generic.Invalid("leave_type_id", "is required")
	}
	if err := validateRange(in.StartDate, in.EndDate); err != nil {
		return err
	}
	return validateReason(in.Reason, true)
}

func validateRange(start, end time.Time) error {
	if start.IsZero() {
		return generic.Invalid("start_date", "is required")
	}
	if end.IsZero() {
		return generic.Invalid("end_date", "is required")
	}
	if generic.Date(end).Before(generic.Date(start)) {
		return generic.Invalid("end_date", "must not be before start_date")
	}
	return nil
}

func validateReason(reason string, required bool) error {
	trimmed := strings.TrimSpace(reason)
	if required && trimmed == "" {
		return generic.Invalid("reason", "is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxReasonLength {
		return generic.Invalid("reason", "must be at most %d characters", MaxReasonLength)
	}
	return nil
}

// chargeableDays validates the request shape against its leave type and
// returns the working days to charge.
func chargeableDays(lt *LeaveTypeConfig, start, end time.Time, startHalf, endHalf bool) (decimal.Decimal, error) {
	if (startHalf || endHalf) && !lt.AllowHalfDay {
		return decimal.Zero, generic.Invalid("half_day", "leave type %s does not allow half days", lt.ID)
	}
	days := generic.WorkingDays(start, end, startHalf, endHalf)
	if !days.IsPositive() {
		return decimal.Zero, generic.Invalid("end_date", "range contains no working days")
	}
	if lt.MaxDaysPerYear.IsPositive() && days.GreaterThan(lt.MaxDaysPerYear) {
		return decimal.Zero, generic.Invalid("end_date", "%s working days exceeds the yearly maximum of %s", days, lt.MaxDaysPerYear)
	}
	return days, nil
}

// Apply submits a leave request for actor and charges it immediately.
func (s *Service) Apply(ctx context.Context, actor Actor, in ApplyInput) (*ApplyResult, error) {
	if !s.router.CanApply(actor) {
		return nil, &generic.AuthorizationError{Action: "apply for"}
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var result *ApplyResult
	err := s.transition(ctx, "apply", func(tx Store, ledger *generic.Ledger) error {
		lt, err := tx.GetLeaveType(ctx, in.LeaveTypeID)
		if err != nil {
			return err
		}
		if !lt.AppliesTo(actor.Role) {
			return generic.Invalid("leave_type_id", "leave type %s is not available for role %s", lt.ID, actor.Role)
		}
		days, err := chargeableDays(lt, in.StartDate, in.EndDate, in.IsStartHalfDay, in.IsEndHalfDay)
		if err != nil {
			return err
		}

		dept, err := s.departmentOf(ctx, tx, actor)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		req := Request{
			ID:             s.newID(),
			ApplicantID:    actor.ID,
			ApplicantRole:  actor.Role,
			DepartmentID:   dept,
			LeaveTypeID:    lt.ID,
			StartDate:      generic.Date(in.StartDate),
			EndDate:        generic.Date(in.EndDate),
			IsStartHalfDay: in.IsStartHalfDay,
			IsEndHalfDay:   in.IsEndHalfDay,
			TotalDays:      generic.CalendarDays(in.StartDate, in.EndDate),
			WorkingDays:    days,
			Year:           in.StartDate.Year(),
			Reason:         strings.TrimSpace(in.Reason),
			Status:         StatusPending,
			Approvals:      []Approval{},
			AppliedAt:      now,
		}

		entry, err := ledger.Reserve(ctx, req.BalanceKey(), days, generic.Reference{
			RequestID:      req.ID,
			ActorID:        actor.ID,
			Reason:         "apply",
			IdempotencyKey: chargeKey("reserve", req.ID, req.Revision),
		})
		if err != nil {
			return err
		}
		req.Charged = true

		if !lt.RequiresApproval || !s.router.RequiresDecision(actor.Role) {
			req.Status = StatusApproved
			req.ProcessedAt = &now
			req.Approvals = append(req.Approvals, Approval{
				ApproverID:   System.ID,
				ApproverRole: System.Role,
				Decision:     DecisionApproved,
				Comments:     "approved automatically",
				DecidedAt:    &now,
				Level:        LevelSystem,
			})
		}

		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		result = &ApplyResult{Request: req, WorkingDays: days, Balance: *entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("leave applied",
		zap.String("request_id", result.Request.ID),
		zap.String("applicant_id", actor.ID),
		zap.String("leave_type_id", result.Request.LeaveTypeID),
		zap.String("working_days", result.WorkingDays.String()),
		zap.String("status", string(result.Request.Status)),
	)
	return result, nil
}

// departmentOf prefers the directory's department over the token's.
func (s *Service) departmentOf(ctx context.Context, tx Store, actor Actor) (string, error) {
	m, err := tx.GetMember(ctx, actor.ID)
	if err != nil {
		if generic.IsNotFound(err) {
			return actor.DepartmentID, nil
		}
		return "", err
	}
	return m.DepartmentID, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide approves or rejects a pending request.
func (s *Service) Decide(ctx context.Context, actor Actor, requestID string, decision Decision, comments string) (*Request, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, generic.Invalid("decision", "must be approve or reject")
	}
	if err := validateReason(comments, false); err != nil {
		return nil, generic.Invalid("comments", "must be at most %d characters", MaxReasonLength)
	}

	var out *Request
	err := s.transition(ctx, "decide", func(tx Store, ledger *generic.Ledger) error {
		req, err := s.load(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !s.router.CanDecide(actor, req) {
			return &generic.AuthorizationError{Action: "decide"}
		}
		if req.Status != StatusPending {
			return &generic.AlreadyProcessedError{RequestID: req.ID, Status: string(req.Status)}
		}

		now := s.now().UTC()
		recordDecision(req, Approval{
			ApproverID:   actor.ID,
			ApproverRole: actor.Role,
			Decision:     decision,
			Comments:     strings.TrimSpace(comments),
			DecidedAt:    &now,
			Level:        s.router.ApprovalLevel(actor.Role),
		})

		if decision == DecisionRejected {
			if err := s.release(ctx, ledger, req, actor, "reject"); err != nil {
				return err
			}
			req.Status = StatusRejected
		} else {
			req.Status = StatusApproved
		}
		req.ProcessedAt = &now

		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("leave decided",
		zap.String("request_id", out.ID),
		zap.String("actor_id", actor.ID),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// recordDecision fills in the matching pending approval, or appends one.
func recordDecision(req *Request, a Approval) {
	for i := range req.Approvals {
		if req.Approvals[i].Decision == DecisionPending && req.Approvals[i].Level == a.Level {
			req.Approvals[i].ApproverID = a.ApproverID
			req.Approvals[i].ApproverRole = a.ApproverRole
			req.Approvals[i].Decision = a.Decision
			req.Approvals[i].Comments = a.Comments
			req.Approvals[i].DecidedAt = a.DecidedAt
			return
		}
	}
	req.Approvals = append(req.Approvals, a)
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a pending or approved request and releases its charge.
func (s *Service) Cancel(ctx context.Context, actor Actor, requestID, reason string) (*Request, error) {
	if err := validateReason(reason, false); err != nil {
		return nil, err
	}

	var out *Request
	err := s.transition(ctx, "cancel", func(tx Store, ledger *generic.Ledger) error {
		req, err := s.load(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !s.router.CanCancel(actor, req) {
			return &generic.AuthorizationError{Action: "cancel"}
		}
		switch req.Status {
		case StatusCancelled:
			return &generic.AlreadyProcessedError{RequestID: req.ID, Status: string(req.Status)}
		case StatusRejected:
			return &generic.IllegalStateError{Action: "cancel", Status: string(req.Status)}
		}

		if err := s.release(ctx, ledger, req, actor, "cancel"); err != nil {
			return err
		}

		now := s.now().UTC()
		req.Status = StatusCancelled
		req.CancelledAt = &now
		req.CancelReason = strings.TrimSpace(reason)
		req.CancelledBy = actor.ID

		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("leave cancelled",
		zap.String("request_id", out.ID),
		zap.String("actor_id", actor.ID),
	)
	return out, nil
}

// =============================================================================
// ADMIN DELETE
// =============================================================================

// AdminDelete permanently removes a request. A pending request is still
// charged and is restored first; a resolved one already has the balance
// its own transition left it with.
func (s *Service) AdminDelete(ctx context.Context, actor Actor, requestID string) error {
	if !s.router.CanDelete(actor) {
		return &generic.AuthorizationError{Action: "delete"}
	}

	err := s.transition(ctx, "delete", func(tx Store, ledger *generic.Ledger) error {
		req, err := s.load(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status == StatusPending {
			if err := s.release(ctx, ledger, req, actor, "admin delete"); err != nil {
				return err
			}
		}
		return tx.DeleteRequest(ctx, req.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("leave deleted",
		zap.String("request_id", requestID),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one request. A deleted request is simply not found here; only
// transitions report it as already processed.
func (s *Service) Get(ctx context.Context, actor Actor, requestID string) (*Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !s.router.CanView(actor, req) {
		return nil, &generic.AuthorizationError{Action: "view"}
	}
	return req, nil
}

type ListQuery struct {
	Inbox  bool
	Status Status
	Year   int
}

// List returns the actor's own requests, or with Inbox set the pending
// requests the actor may decide. Admins see every request.
func (s *Service) List(ctx context.Context, actor Actor, q ListQuery) ([]Request, error) {
	if q.Inbox {
		filter, ok := s.router.Inbox(actor)
		if !ok {
			return []Request{}, nil
		}
		filter.Year = q.Year
		all, err := s.store.ListRequests(ctx, filter)
		if err != nil {
			return nil, err
		}
		out := make([]Request, 0, len(all))
		for i := range all {
			if s.router.CanDecide(actor, &all[i]) {
				out = append(out, all[i])
			}
		}
		return out, nil
	}

	filter := RequestFilter{ApplicantID: actor.ID, Status: q.Status, Year: q.Year}
	if actor.Role == RoleAdmin {
		filter.ApplicantID = ""
	}
	return s.store.ListRequests(ctx, filter)
}

// =============================================================================
// INTERNALS
// =============================================================================

// transition runs fn in a store transaction, re-running it on write conflicts.
func (s *Service) transition(ctx context.Context, action string, fn func(tx Store, ledger *generic.Ledger) error) error {
	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = s.store.WithTx(ctx, func(tx Store) error {
			return fn(tx, s.ledger(tx))
		})
		if err == nil || !generic.IsRetryable(err) {
			break
		}
		if attempt >= s.maxRetries {
			err = fmt.Errorf("%s: giving up after %d attempts: %w", action, attempt+1, err)
			break
		}
		s.metrics.LedgerRetry(action)
		s.logger.Warn("ledger write conflict, retrying",
			zap.String("action", action),
			zap.Int("attempt", attempt+1),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	s.metrics.ObserveTransition(action, outcome(err), time.Since(start))
	return err
}

func (s *Service) ledger(tx Store) *generic.Ledger {
	l := generic.NewLedger(tx)
	l.Now = s.now
	return l
}

// load fetches a request, telling a deleted id apart from an unknown one.
func (s *Service) load(ctx context.Context, st Store, id string) (*Request, error) {
	req, err := st.GetRequest(ctx, id)
	if err == nil {
		return req, nil
	}
	if !generic.IsNotFound(err) {
		return nil, err
	}
	deleted, derr := st.IsDeleted(ctx, id)
	if derr != nil {
		return nil, derr
	}
	if deleted {
		return nil, &generic.AlreadyProcessedError{RequestID: id, Status: "deleted"}
	}
	return nil, err
}

// release restores a request's charge exactly once.
func (s *Service) release(ctx context.Context, ledger *generic.Ledger, req *Request, actor Actor, reason string) error {
	if !req.Charged {
		return nil
	}
	_, err := ledger.Restore(ctx, req.BalanceKey(), req.WorkingDays, generic.Reference{
		RequestID:      req.ID,
		ActorID:        actor.ID,
		Reason:         reason,
		IdempotencyKey: chargeKey("restore", req.ID, req.Revision),
	})
	if err != nil && !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return err
	}
	req.Charged = false
	return nil
}

func chargeKey(kind, requestID string, revision int) string {
	return fmt.Sprintf("%s:%s:%d", kind, requestID, revision)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case generic.IsNotFound(err):
		return "not_found"
	case generic.IsRetryable(err):
		return "conflict"
	case generic.IsClientError(err):
		return "denied"
	default:
		return "error"
	}
}
