/*
store.go - Persistence interface for balance entries and ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage; the leave
  package composes this with request storage into one transactional store.

KEY INTERFACES:
  BalanceStore: Keyed balance entries (CAS writes) + transaction log

COMPARE-AND-SWAP:
  PutBalance succeeds only when the stored Version equals entry.Version
  (0 for an entry that does not exist yet). The stored row then carries
  Version+1. A mismatch returns ErrConcurrentModification, which callers
  treat as retryable.

IDEMPOTENCY:
  AppendTransaction rejects a second transaction with the same non-empty
  idempotency key with ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - store/memory:   In-memory, for tests and the "memory" driver
  - store/sqlite:   SQLite via mattn/go-sqlite3
  - store/postgres: PostgreSQL via pgx

SEE ALSO:
  - ledger.go: Higher-level operations using BalanceStore
  - leave/store.go: The full transactional store
*/
package generic

import "context"

// BalanceStore persists balance entries and their audit trail.
type BalanceStore interface {
	// GetBalance returns the entry for key, or a NotFoundError.
	GetBalance(ctx context.Context, key BalanceKey) (*BalanceEntry, error)

	// PutBalance writes entry if the stored version still equals entry.Version.
	PutBalance(ctx context.Context, entry BalanceEntry) error

	// ListBalances returns every entry of an entity for a year, ordered by policy.
	ListBalances(ctx context.Context, entityID EntityID, year int) ([]BalanceEntry, error)

	// AppendTransaction records a ledger mutation. Append-only.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// TransactionExists checks if an idempotency key has been used.
	TransactionExists(ctx context.Context, idempotencyKey string) (bool, error)

	// Transactions returns the audit trail of a key, oldest first.
	Transactions(ctx context.Context, key BalanceKey) ([]Transaction, error)
}
