/*
Package generic provides the core balance ledger engine.

PURPOSE:
  This package contains the domain-agnostic pieces of leave accounting:
  working-day arithmetic, the keyed balance ledger, its audit transaction
  log, and the error taxonomy shared by every layer above it. It knows
  nothing about roles, departments or approval chains.

KEY CONCEPTS IN THIS FILE (types.go):
  - EntityID / PolicyID: Type-safe identifiers (user, leave type)
  - BalanceKey: The (entity, policy, year) tuple a ledger entry is keyed by
  - Transaction: An immutable audit record of one ledger mutation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so half days never drift
  2. Type Safety: Strong typing for IDs prevents mixing user/leave-type IDs
  3. Auditability: Every mutation has reason, reference, and idempotency key

USAGE:
  key := generic.BalanceKey{EntityID: "fac-1", PolicyID: "casual", Year: 2024}
  entry, err := ledger.Reserve(ctx, key, decimal.NewFromInt(3), generic.Reference{
      RequestID: "req-1",
      ActorID:   "fac-1",
  })

SEE ALSO:
  - calendar.go: Working-day computation
  - balance.go: BalanceEntry and its invariant
  - ledger.go: Reserve / Restore / Allocate / Reset
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type PolicyID string
type TransactionID string

// BalanceKey identifies one ledger entry. It is the unit of contention:
// every mutation of the same key must be serialized.
type BalanceKey struct {
	EntityID EntityID
	PolicyID PolicyID
	Year     int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EntityID, k.PolicyID, k.Year)
}

// =============================================================================
// TRANSACTION - Audit record of a ledger mutation
// =============================================================================

type TransactionType string

const (
	TxAllocate TransactionType = "allocate" // Administrative grant (sets allocated)
	TxReserve  TransactionType = "reserve"  // Charge for a request
	TxRestore  TransactionType = "restore"  // Compensating release of a charge
	TxReset    TransactionType = "reset"    // Usage zeroed by an administrator
)

// Transaction is append-only. The balance entry is the authoritative state;
// transactions explain how it got there.
type Transaction struct {
	ID             TransactionID
	Key            BalanceKey
	Type           TransactionType
	Delta          decimal.Decimal // change to Used (reserve/restore) or Allocated (allocate)
	UsedAfter      decimal.Decimal
	AllocatedAfter decimal.Decimal
	ReferenceID    string
	Reason         string
	IdempotencyKey string

	CreatedBy string
	CreatedAt time.Time
}

// Reference ties a ledger mutation to the request and actor that caused it.
type Reference struct {
	RequestID      string
	ActorID        string
	Reason         string
	IdempotencyKey string
}

// MustParseDecimal parses a literal amount and panics if it is malformed.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("generic: bad decimal %q: %v", s, err))
	}
	return d
}

// DecimalParser parses several stored amounts and keeps the first error, so
// a row decoder checks once after filling a struct.
type DecimalParser struct {
	Err error
}

func (p *DecimalParser) Parse(field, s string) decimal.Decimal {
	if p.Err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.Err = fmt.Errorf("corrupt %s %q: %w", field, s, err)
		return decimal.Zero
	}
	return d
}
