package leave

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCE QUERIES
// =============================================================================

func (s *Service) Balances(ctx context.Context, actor Actor, userID string, year int) ([]generic.BalanceEntry, error) {
	if !s.router.CanViewBalances(actor, userID) {
		return nil, &generic.AuthorizationError{Action: "view balances of"}
	}
	if year <= 0 {
		return nil, generic.Invalid("year", "must be positive")
	}
	entries, err := s.store.ListBalances(ctx, generic.EntityID(userID), year)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []generic.BalanceEntry{}
	}
	return entries, nil
}

// LedgerHistory returns the audit trail of one balance entry.
func (s *Service) LedgerHistory(ctx context.Context, actor Actor, userID, leaveTypeID string, year int) ([]generic.Transaction, error) {
	if !s.router.CanViewBalances(actor, userID) {
		return nil, &generic.AuthorizationError{Action: "view balances of"}
	}
	if strings.TrimSpace(leaveTypeID) == "" {
		return nil, generic.Invalid("leave_type", "is required")
	}
	key := generic.BalanceKey{
		EntityID: generic.EntityID(userID),
		PolicyID: generic.PolicyID(leaveTypeID),
		Year:     year,
	}
	txs, err := s.store.Transactions(ctx, key)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []generic.Transaction{}
	}
	return txs, nil
}

// =============================================================================
// ADMINISTRATIVE MAINTENANCE
// =============================================================================

type AllocateInput struct {
	UserID      string
	LeaveTypeID string
	Year        int
	Amount      decimal.Decimal
}

// Allocate grants amount days of a leave type to a user for a year.
func (s *Service) Allocate(ctx context.Context, actor Actor, in AllocateInput) (*generic.BalanceEntry, error) {
	if !s.router.CanManageBalances(actor) {
		return nil, &generic.AuthorizationError{Action: "allocate"}
	}
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return nil, generic.Invalid("user_id", "is required")
	case strings.TrimSpace(in.LeaveTypeID) == "":
		return nil, generic.Invalid("leave_type_id", "is required")
	case in.Year <= 0:
		return nil, generic.Invalid("year", "must be positive")
	case in.Amount.IsNegative():
		return nil, generic.Invalid("amount", "must not be negative")
	}

	var out *generic.BalanceEntry
	err := s.transition(ctx, "allocate", func(tx Store, ledger *generic.Ledger) error {
		member, err := tx.GetMember(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !s.router.CanApply(member.Actor()) {
			return generic.Invalid("user_id", "role %s does not hold a leave balance", member.Role)
		}
		if _, err := tx.GetLeaveType(ctx, in.LeaveTypeID); err != nil {
			return err
		}

		key := generic.BalanceKey{
			EntityID: generic.EntityID(in.UserID),
			PolicyID: generic.PolicyID(in.LeaveTypeID),
			Year:     in.Year,
		}
		out, err = ledger.Allocate(ctx, key, in.Amount, generic.Reference{ActorID: actor.ID, Reason: "allocate"})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance allocated",
		zap.String("user_id", in.UserID),
		zap.String("leave_type_id", in.LeaveTypeID),
		zap.Int("year", in.Year),
		zap.String("amount", in.Amount.String()),
	)
	return out, nil
}

// ResetBalances zeroes usage on every entry a user holds for a year.
func (s *Service) ResetBalances(ctx context.Context, actor Actor, userID string, year int) ([]generic.BalanceEntry, error) {
	if !s.router.CanManageBalances(actor) {
		return nil, &generic.AuthorizationError{Action: "reset"}
	}
	if strings.TrimSpace(userID) == "" {
		return nil, generic.Invalid("user_id", "is required")
	}
	if year <= 0 {
		return nil, generic.Invalid("year", "must be positive")
	}

	var out []generic.BalanceEntry
	err := s.transition(ctx, "reset", func(tx Store, ledger *generic.Ledger) error {
		out = out[:0]
		entries, err := tx.ListBalances(ctx, generic.EntityID(userID), year)
		if err != nil {
			return err
		}
		for _, e := range entries {
			reset, err := ledger.Reset(ctx, e.Key, generic.Reference{ActorID: actor.ID, Reason: "reset"})
			if err != nil {
				return err
			}
			out = append(out, *reset)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []generic.BalanceEntry{}
	}

	s.logger.Info("balances reset",
		zap.String("user_id", userID),
		zap.Int("year", year),
		zap.Int("entries", len(out)),
	)
	return out, nil
}

type BulkResult struct {
	Year    int
	Members int
	Created int
	Skipped int
}

// BulkAllocate gives every member that can apply an entry for each leave
// type applicable to their role, at the leave type's yearly maximum.
// Existing entries are left untouched, so running it twice is harmless.
func (s *Service) BulkAllocate(ctx context.Context, actor Actor, year int) (*BulkResult, error) {
	if !s.router.CanManageBalances(actor) {
		return nil, &generic.AuthorizationError{Action: "allocate"}
	}
	if year <= 0 {
		return nil, generic.Invalid("year", "must be positive")
	}

	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	types, err := s.store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{Year: year}
	for _, m := range members {
		if !s.router.CanApply(m.Actor()) {
			continue
		}
		result.Members++

		var created, skipped int
		err := s.transition(ctx, "bulk_allocate", func(tx Store, ledger *generic.Ledger) error {
			created, skipped = 0, 0
			for _, lt := range types {
				if !lt.AppliesTo(m.Role) || !lt.MaxDaysPerYear.IsPositive() {
					continue
				}
				key := generic.BalanceKey{
					EntityID: generic.EntityID(m.ID),
					PolicyID: generic.PolicyID(lt.ID),
					Year:     year,
				}
				_, err := tx.GetBalance(ctx, key)
				if err == nil {
					skipped++
					continue
				}
				if !generic.IsNotFound(err) {
					return err
				}
				if _, err := ledger.Allocate(ctx, key, lt.MaxDaysPerYear, generic.Reference{
					ActorID: actor.ID,
					Reason:  "bulk allocate",
				}); err != nil {
					return err
				}
				created++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		result.Created += created
		result.Skipped += skipped
	}

	s.logger.Info("bulk allocation finished",
		zap.Int("year", year),
		zap.Int("members", result.Members),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
