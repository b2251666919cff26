package leave

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// EditInput replaces the dates and half-day flags of a pending request.
// An empty Reason keeps the current one.
type EditInput struct {
	StartDate      time.Time
	EndDate        time.Time
	IsStartHalfDay bool
	IsEndHalfDay   bool
	Reason         string
}

// Edit changes a pending request with re-apply semantics: working days are
// recomputed and only the difference is charged or released. When the start
// date moves into another year, the old year's entry gets the full charge
// back and the new year's entry is charged in full.
func (s *Service) Edit(ctx context.Context, actor Actor, requestID string, in EditInput) (*Request, error) {
	if err := validateRange(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	if err := validateReason(in.Reason, false); err != nil {
		return nil, err
	}

	var out *Request
	err := s.transition(ctx, "edit", func(tx Store, ledger *generic.Ledger) error {
		req, err := s.load(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !s.router.CanEdit(actor, req) {
			return &generic.AuthorizationError{Action: "edit"}
		}
		if req.Status != StatusPending {
			return &generic.IllegalStateError{Action: "edit", Status: string(req.Status)}
		}

		lt, err := tx.GetLeaveType(ctx, req.LeaveTypeID)
		if err != nil {
			return err
		}
		days, err := chargeableDays(lt, in.StartDate, in.EndDate, in.IsStartHalfDay, in.IsEndHalfDay)
		if err != nil {
			return err
		}

		oldKey := req.BalanceKey()
		oldDays := req.WorkingDays
		rev := req.Revision + 1

		req.StartDate = generic.Date(in.StartDate)
		req.EndDate = generic.Date(in.EndDate)
		req.IsStartHalfDay = in.IsStartHalfDay
		req.IsEndHalfDay = in.IsEndHalfDay
		req.TotalDays = generic.CalendarDays(in.StartDate, in.EndDate)
		req.WorkingDays = days
		req.Year = req.StartDate.Year()
		if r := strings.TrimSpace(in.Reason); r != "" {
			req.Reason = r
		}
		newKey := req.BalanceKey()

		ref := func(kind string) generic.Reference {
			return generic.Reference{
				RequestID:      req.ID,
				ActorID:        actor.ID,
				Reason:         "edit",
				IdempotencyKey: chargeKey("edit-"+kind, req.ID, rev),
			}
		}

		if newKey == oldKey {
			delta := days.Sub(oldDays)
			switch {
			case delta.IsPositive():
				_, err = ledger.Reserve(ctx, newKey, delta, ref("reserve"))
			case delta.IsNegative():
				_, err = ledger.Restore(ctx, oldKey, delta.Neg(), ref("restore"))
			}
			if err != nil {
				return err
			}
		} else {
			if _, err := ledger.Reserve(ctx, newKey, days, ref("reserve")); err != nil {
				return err
			}
			if _, err := ledger.Restore(ctx, oldKey, oldDays, ref("restore")); err != nil {
				return err
			}
		}

		req.Revision = rev
		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("leave edited",
		zap.String("request_id", out.ID),
		zap.String("working_days", out.WorkingDays.String()),
		zap.Int("revision", out.Revision),
	)
	return out, nil
}
