/*
balance.go - The per-user, per-leave-type, per-year balance entry

PURPOSE:
  A BalanceEntry is the authoritative allocated / used / remaining triple
  for one BalanceKey. Only the Ledger mutates it, always through
  recompute() so the invariant below holds after every write.

INVARIANT:
  Remaining == max(0, Allocated - Used)
  Used >= 0

CONCURRENCY:
  Version is bumped on every write. Stores compare-and-swap on it, so two
  writers racing on the same key cannot both win.

SEE ALSO:
  - ledger.go: The only mutation path
  - store.go: BalanceStore persistence contract
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

type BalanceEntry struct {
	Key       BalanceKey
	Allocated decimal.Decimal
	Used      decimal.Decimal
	Remaining decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

func NewBalanceEntry(key BalanceKey, allocated decimal.Decimal) BalanceEntry {
	e := BalanceEntry{Key: key, Allocated: allocated, Used: decimal.Zero}
	e.recompute()
	return e
}

func (e *BalanceEntry) recompute() {
	if e.Used.IsNegative() {
		e.Used = decimal.Zero
	}
	e.Remaining = decimal.Max(decimal.Zero, e.Allocated.Sub(e.Used))
}

// HasAllocation reports whether anything can be charged against this entry.
func (e BalanceEntry) HasAllocation() bool {
	return e.Allocated.IsPositive()
}

// Consistent checks the entry invariant. Used by tests and store loaders.
func (e BalanceEntry) Consistent() bool {
	if e.Used.IsNegative() || e.Allocated.IsNegative() {
		return false
	}
	return e.Remaining.Equal(decimal.Max(decimal.Zero, e.Allocated.Sub(e.Used)))
}
