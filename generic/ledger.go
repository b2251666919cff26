/*
ledger.go - Keyed balance ledger

PURPOSE:
  The Ledger owns every mutation of a BalanceEntry. Reserve is the single
  deduction path; Restore is its compensating action; Allocate and Reset
  are administrative maintenance. Each mutation writes the entry through a
  version compare-and-swap and appends an audit Transaction.

CRITICAL INVARIANTS:
  1. Remaining == max(0, Allocated - Used) after every call
  2. Used never goes below zero
  3. A charge never exceeds Remaining (no silent clamping)

DOUBLE RESTORE:
  The ledger does not know which request produced a charge. Guarding
  against restoring the same charge twice is the caller's job (the leave
  state machine tracks it per request). Callers may additionally pass an
  idempotency key; a repeated key is refused with ErrDuplicateIdempotencyKey
  before anything is written.

ATOMICITY:
  The ledger is not transactional by itself. Run it over the Store view
  handed out by a WithTx call so the entry write, the transaction append,
  and the request write commit together.

EXAMPLE FLOW:
  1. Allocate 12 days:         allocated=12 used=0 remaining=12
  2. Reserve 3 (apply):        allocated=12 used=3 remaining=9
  3. Restore 3 (reject):       allocated=12 used=0 remaining=12

SEE ALSO:
  - balance.go: BalanceEntry
  - store.go: BalanceStore contract
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Ledger struct {
	Store BalanceStore
	Now   func() time.Time
	NewID func() TransactionID
}

func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{
		Store: store,
		Now:   time.Now,
		NewID: func() TransactionID { return TransactionID(uuid.NewString()) },
	}
}

// Entry returns the balance for key, or a NotFoundError.
func (l *Ledger) Entry(ctx context.Context, key BalanceKey) (*BalanceEntry, error) {
	return l.Store.GetBalance(ctx, key)
}

// Balances returns all entries of an entity for a year.
func (l *Ledger) Balances(ctx context.Context, entityID EntityID, year int) ([]BalanceEntry, error) {
	return l.Store.ListBalances(ctx, entityID, year)
}

// Transactions returns the audit trail for key.
func (l *Ledger) Transactions(ctx context.Context, key BalanceKey) ([]Transaction, error) {
	return l.Store.Transactions(ctx, key)
}

// =============================================================================
// RESERVE / RESTORE
// =============================================================================

// Reserve charges days against key.
func (l *Ledger) Reserve(ctx context.Context, key BalanceKey, days decimal.Decimal, ref Reference) (*BalanceEntry, error) {
	if !days.IsPositive() {
		return nil, Invalid("days", "must be positive, got %s", days)
	}
	if err := l.checkIdempotency(ctx, ref); err != nil {
		return nil, err
	}

	entry, err := l.Store.GetBalance(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NoAllocationError{Key: key}
		}
		return nil, err
	}
	if !entry.HasAllocation() {
		return nil, &NoAllocationError{Key: key}
	}
	if days.GreaterThan(entry.Remaining) {
		return nil, &InsufficientBalanceError{Key: key, Available: entry.Remaining, Requested: days}
	}

	entry.Used = entry.Used.Add(days)
	entry.recompute()

	if err := l.commit(ctx, entry, Transaction{
		Type:  TxReserve,
		Delta: days,
	}, ref); err != nil {
		return nil, err
	}
	return entry, nil
}

// Restore releases days previously charged against key. Used is floored at 0.
func (l *Ledger) Restore(ctx context.Context, key BalanceKey, days decimal.Decimal, ref Reference) (*BalanceEntry, error) {
	if days.IsNegative() {
		return nil, Invalid("days", "must not be negative, got %s", days)
	}
	if err := l.checkIdempotency(ctx, ref); err != nil {
		return nil, err
	}

	entry, err := l.Store.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}

	released := decimal.Min(days, entry.Used)
	entry.Used = entry.Used.Sub(released)
	entry.recompute()

	if err := l.commit(ctx, entry, Transaction{
		Type:  TxRestore,
		Delta: released.Neg(),
	}, ref); err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// ADMINISTRATIVE MAINTENANCE
// =============================================================================

// Allocate sets the allocation for key, creating the entry if needed.
// Existing usage is kept and Remaining recomputed against it.
func (l *Ledger) Allocate(ctx context.Context, key BalanceKey, amount decimal.Decimal, ref Reference) (*BalanceEntry, error) {
	if amount.IsNegative() {
		return nil, Invalid("amount", "must not be negative, got %s", amount)
	}

	entry, err := l.Store.GetBalance(ctx, key)
	switch {
	case IsNotFound(err):
		created := NewBalanceEntry(key, amount)
		entry = &created
		if err := l.commit(ctx, entry, Transaction{Type: TxAllocate, Delta: amount}, ref); err != nil {
			return nil, err
		}
		return entry, nil
	case err != nil:
		return nil, err
	}

	delta := amount.Sub(entry.Allocated)
	entry.Allocated = amount
	entry.recompute()

	if err := l.commit(ctx, entry, Transaction{Type: TxAllocate, Delta: delta}, ref); err != nil {
		return nil, err
	}
	return entry, nil
}

// Reset zeroes usage for key.
func (l *Ledger) Reset(ctx context.Context, key BalanceKey, ref Reference) (*BalanceEntry, error) {
	entry, err := l.Store.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}

	delta := entry.Used.Neg()
	entry.Used = decimal.Zero
	entry.recompute()

	if err := l.commit(ctx, entry, Transaction{Type: TxReset, Delta: delta}, ref); err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) checkIdempotency(ctx context.Context, ref Reference) error {
	if ref.IdempotencyKey == "" {
		return nil
	}
	exists, err := l.Store.TransactionExists(ctx, ref.IdempotencyKey)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotencyKey
	}
	return nil
}

func (l *Ledger) commit(ctx context.Context, entry *BalanceEntry, tx Transaction, ref Reference) error {
	entry.UpdatedAt = l.Now().UTC()
	if err := l.Store.PutBalance(ctx, *entry); err != nil {
		return err
	}
	entry.Version++

	tx.ID = l.NewID()
	tx.Key = entry.Key
	tx.UsedAfter = entry.Used
	tx.AllocatedAfter = entry.Allocated
	tx.ReferenceID = ref.RequestID
	tx.Reason = ref.Reason
	tx.IdempotencyKey = ref.IdempotencyKey
	tx.CreatedBy = ref.ActorID
	tx.CreatedAt = entry.UpdatedAt

	return l.Store.AppendTransaction(ctx, tx)
}
