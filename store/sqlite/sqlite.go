/*
Package sqlite provides a SQLite-backed implementation of leave.TxStore.

PURPOSE:
  Persists balance entries, the ledger audit trail, leave requests with
  their approval chains, and the read-only reference data (members, leave
  types) in one SQLite database.

KEY TABLES:
  balances:            One row per (entity, policy, year), version-stamped
  ledger_transactions: Append-only audit of every balance mutation
  leave_requests:      Request aggregate
  leave_approvals:     Approval chain, removed with its request
  request_tombstones:  Ids of administratively deleted requests
  members, leave_types: Reference data

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_transactions
  - idempotency_key is UNIQUE, so a repeated compensating action fails

COMPARE-AND-SWAP:
  PutBalance inserts when entry.Version is 0, otherwise updates
  "WHERE version = ?". Zero rows affected (or a duplicate insert) means
  another writer won and surfaces as ErrConcurrentModification.

CONCURRENCY:
  The pool is limited to one connection and WithTx holds a mutex for the
  life of the transaction, so transactions are fully serialized. Inside
  fn, always use the Store passed in; it is bound to the sql.Tx.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

var _ leave.TxStore = (*Store)(nil)

// Store implements leave.TxStore using SQLite.
type Store struct {
	view
	db *sql.DB
	mu sync.Mutex
}

// querier is the part of *sql.DB and *sql.Tx the views need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view runs every Store operation against either the pool or a transaction.
type view struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{view: view{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		department_id TEXT
	);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		max_days_per_year TEXT NOT NULL,
		allow_half_day INTEGER NOT NULL DEFAULT 0,
		requires_approval INTEGER NOT NULL DEFAULT 1,
		applicable_roles TEXT
	);

	-- Balances (one authoritative row per key)
	CREATE TABLE IF NOT EXISTS balances (
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		allocated TEXT NOT NULL,
		used TEXT NOT NULL,
		remaining TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (entity_id, policy_id, year)
	);

	-- Ledger audit trail (append-only)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		used_after TEXT NOT NULL,
		allocated_after TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_key
		ON ledger_transactions(entity_id, policy_id, year);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger_transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		applicant_id TEXT NOT NULL,
		applicant_role TEXT NOT NULL,
		department_id TEXT,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		is_start_half_day INTEGER NOT NULL DEFAULT 0,
		is_end_half_day INTEGER NOT NULL DEFAULT 0,
		total_days INTEGER NOT NULL,
		working_days TEXT NOT NULL,
		year INTEGER NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		processed_at TEXT,
		cancelled_at TEXT,
		cancel_reason TEXT,
		cancelled_by TEXT,
		charged INTEGER NOT NULL DEFAULT 0,
		revision INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_requests_applicant
		ON leave_requests(applicant_id, applied_at DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_status_department
		ON leave_requests(status, department_id);

	CREATE TABLE IF NOT EXISTS leave_approvals (
		request_id TEXT NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		approver_id TEXT NOT NULL,
		approver_role TEXT NOT NULL,
		decision TEXT NOT NULL,
		comments TEXT,
		decided_at TEXT,
		level INTEGER NOT NULL,
		PRIMARY KEY (request_id, position)
	);

	CREATE TABLE IF NOT EXISTS request_tombstones (
		id TEXT PRIMARY KEY,
		deleted_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&view{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// BALANCES (generic.BalanceStore interface)
// =============================================================================

func (v *view) GetBalance(ctx context.Context, key generic.BalanceKey) (*generic.BalanceEntry, error) {
	query := `
		SELECT allocated, used, remaining, version, updated_at
		FROM balances
		WHERE entity_id = ? AND policy_id = ? AND year = ?
	`

	e := generic.BalanceEntry{Key: key}
	var allocated, used, remaining, updatedAt string
	err := v.q.QueryRowContext(ctx, query, key.EntityID, key.PolicyID, key.Year).
		Scan(&allocated, &used, &remaining, &e.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "balance", ID: key.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}

	var dp generic.DecimalParser
	e.Allocated = dp.Parse("allocated", allocated)
	e.Used = dp.Parse("used", used)
	e.Remaining = dp.Parse("remaining", remaining)
	if dp.Err != nil {
		return nil, dp.Err
	}
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func (v *view) PutBalance(ctx context.Context, entry generic.BalanceEntry) error {
	k := entry.Key
	if entry.Version == 0 {
		_, err := v.q.ExecContext(ctx, `
			INSERT INTO balances (entity_id, policy_id, year, allocated, used, remaining, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		`, k.EntityID, k.PolicyID, k.Year,
			entry.Allocated.String(), entry.Used.String(), entry.Remaining.String(),
			formatTime(entry.UpdatedAt))
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	res, err := v.q.ExecContext(ctx, `
		UPDATE balances
		SET allocated = ?, used = ?, remaining = ?, version = version + 1, updated_at = ?
		WHERE entity_id = ? AND policy_id = ? AND year = ? AND version = ?
	`, entry.Allocated.String(), entry.Used.String(), entry.Remaining.String(),
		formatTime(entry.UpdatedAt), k.EntityID, k.PolicyID, k.Year, entry.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (v *view) ListBalances(ctx context.Context, entityID generic.EntityID, year int) ([]generic.BalanceEntry, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT policy_id, allocated, used, remaining, version, updated_at
		FROM balances
		WHERE entity_id = ? AND year = ?
		ORDER BY policy_id ASC
	`, entityID, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var entries []generic.BalanceEntry
	for rows.Next() {
		e := generic.BalanceEntry{Key: generic.BalanceKey{EntityID: entityID, Year: year}}
		var allocated, used, remaining, updatedAt string
		if err := rows.Scan(&e.Key.PolicyID, &allocated, &used, &remaining, &e.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		var dp generic.DecimalParser
		e.Allocated = dp.Parse("allocated", allocated)
		e.Used = dp.Parse("used", used)
		e.Remaining = dp.Parse("remaining", remaining)
		if dp.Err != nil {
			return nil, dp.Err
		}
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// LEDGER TRANSACTIONS
// =============================================================================

func (v *view) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	query := `
		INSERT INTO ledger_transactions
		(id, entity_id, policy_id, year, tx_type, delta, used_after, allocated_after,
		 reference_id, reason, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := v.q.ExecContext(ctx, query,
		tx.ID,
		tx.Key.EntityID,
		tx.Key.PolicyID,
		tx.Key.Year,
		tx.Type,
		tx.Delta.String(),
		tx.UsedAfter.String(),
		tx.AllocatedAfter.String(),
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		nullString(tx.CreatedBy),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// TransactionExists checks if an idempotency key exists.
func (v *view) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := v.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (v *view) Transactions(ctx context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, tx_type, delta, used_after, allocated_after,
		       reference_id, reason, idempotency_key, created_by, created_at
		FROM ledger_transactions
		WHERE entity_id = ? AND policy_id = ? AND year = ?
		ORDER BY seq ASC
	`, key.EntityID, key.PolicyID, key.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		tx := generic.Transaction{Key: key}
		var (
			delta, usedAfter, allocatedAfter, createdAt        string
			referenceID, reason, idempotencyKey, createdBy sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.Type, &delta, &usedAfter, &allocatedAfter,
			&referenceID, &reason, &idempotencyKey, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		var dp generic.DecimalParser
		tx.Delta = dp.Parse("delta", delta)
		tx.UsedAfter = dp.Parse("used_after", usedAfter)
		tx.AllocatedAfter = dp.Parse("allocated_after", allocatedAfter)
		if dp.Err != nil {
			return nil, dp.Err
		}
		tx.ReferenceID = referenceID.String
		tx.Reason = reason.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt = parseTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS (leave.RequestStore interface)
// =============================================================================

const requestColumns = `
	id, applicant_id, applicant_role, department_id, leave_type_id,
	start_date, end_date, is_start_half_day, is_end_half_day, total_days,
	working_days, year, reason, status, applied_at, processed_at,
	cancelled_at, cancel_reason, cancelled_by, charged, revision
`

// SaveRequest upserts the request row and rewrites its approval chain.
func (v *view) SaveRequest(ctx context.Context, r leave.Request) error {
	query := `
		INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			is_start_half_day = excluded.is_start_half_day,
			is_end_half_day = excluded.is_end_half_day,
			total_days = excluded.total_days,
			working_days = excluded.working_days,
			year = excluded.year,
			reason = excluded.reason,
			status = excluded.status,
			processed_at = excluded.processed_at,
			cancelled_at = excluded.cancelled_at,
			cancel_reason = excluded.cancel_reason,
			cancelled_by = excluded.cancelled_by,
			charged = excluded.charged,
			revision = excluded.revision
	`

	_, err := v.q.ExecContext(ctx, query,
		r.ID, r.ApplicantID, r.ApplicantRole, nullString(r.DepartmentID), r.LeaveTypeID,
		formatDate(r.StartDate), formatDate(r.EndDate), r.IsStartHalfDay, r.IsEndHalfDay, r.TotalDays,
		r.WorkingDays.String(), r.Year, r.Reason, r.Status, formatTime(r.AppliedAt),
		nullTime(r.ProcessedAt), nullTime(r.CancelledAt), nullString(r.CancelReason),
		nullString(r.CancelledBy), r.Charged, r.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}

	if _, err := v.q.ExecContext(ctx, "DELETE FROM leave_approvals WHERE request_id = ?", r.ID); err != nil {
		return fmt.Errorf("failed to clear approvals: %w", err)
	}
	for i, a := range r.Approvals {
		_, err := v.q.ExecContext(ctx, `
			INSERT INTO leave_approvals
			(request_id, position, approver_id, approver_role, decision, comments, decided_at, level)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, i, a.ApproverID, a.ApproverRole, a.Decision, nullString(a.Comments), nullTime(a.DecidedAt), a.Level)
		if err != nil {
			return fmt.Errorf("failed to save approval: %w", err)
		}
	}
	return nil
}

// GetRequest retrieves a request by ID.
func (v *view) GetRequest(ctx context.Context, id string) (*leave.Request, error) {
	reqs, err := v.queryRequests(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, &generic.NotFoundError{Kind: "request", ID: id}
	}
	return &reqs[0], nil
}

// DeleteRequest removes the request (approvals cascade) and records a tombstone.
func (v *view) DeleteRequest(ctx context.Context, id string) error {
	res, err := v.q.ExecContext(ctx, "DELETE FROM leave_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Kind: "request", ID: id}
	}
	_, err = v.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO request_tombstones (id, deleted_at) VALUES (?, ?)",
		id, formatTime(time.Now()))
	return err
}

func (v *view) IsDeleted(ctx context.Context, id string) (bool, error) {
	var count int
	err := v.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_tombstones WHERE id = ?", id).Scan(&count)
	return count > 0, err
}

func (v *view) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	var (
		where []string
		args  []any
	)
	if f.ApplicantID != "" {
		where = append(where, "applicant_id = ?")
		args = append(args, f.ApplicantID)
	}
	if f.DepartmentID != "" {
		where = append(where, "department_id = ?")
		args = append(args, f.DepartmentID)
	}
	if f.ApplicantRole != "" {
		where = append(where, "applicant_role = ?")
		args = append(args, f.ApplicantRole)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}

	query := "SELECT " + requestColumns + " FROM leave_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY applied_at DESC, id DESC"

	reqs, err := v.queryRequests(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []leave.Request{}
	}
	return reqs, nil
}

// queryRequests scans requests, then loads approvals once the rows are closed.
func (v *view) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}

	var requests []leave.Request
	for rows.Next() {
		var (
			r                                               leave.Request
			dept, processedAt, cancelledAt, cancelReason    sql.NullString
			cancelledBy                                     sql.NullString
			startDate, endDate, workingDays, appliedAt      string
		)
		if err := rows.Scan(
			&r.ID, &r.ApplicantID, &r.ApplicantRole, &dept, &r.LeaveTypeID,
			&startDate, &endDate, &r.IsStartHalfDay, &r.IsEndHalfDay, &r.TotalDays,
			&workingDays, &r.Year, &r.Reason, &r.Status, &appliedAt, &processedAt,
			&cancelledAt, &cancelReason, &cancelledBy, &r.Charged, &r.Revision,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.DepartmentID = dept.String
		r.StartDate = parseDate(startDate)
		r.EndDate = parseDate(endDate)
		var dp generic.DecimalParser
		r.WorkingDays = dp.Parse("working_days", workingDays)
		if dp.Err != nil {
			rows.Close()
			return nil, dp.Err
		}
		r.AppliedAt = parseTime(appliedAt)
		r.ProcessedAt = parseNullTime(processedAt)
		r.CancelledAt = parseNullTime(cancelledAt)
		r.CancelReason = cancelReason.String
		r.CancelledBy = cancelledBy.String
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range requests {
		approvals, err := v.approvals(ctx, requests[i].ID)
		if err != nil {
			return nil, err
		}
		requests[i].Approvals = approvals
	}
	return requests, nil
}

func (v *view) approvals(ctx context.Context, requestID string) ([]leave.Approval, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT approver_id, approver_role, decision, comments, decided_at, level
		FROM leave_approvals
		WHERE request_id = ?
		ORDER BY position ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	out := []leave.Approval{}
	for rows.Next() {
		var a leave.Approval
		var comments, decidedAt sql.NullString
		if err := rows.Scan(&a.ApproverID, &a.ApproverRole, &a.Decision, &comments, &decidedAt, &a.Level); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.Comments = comments.String
		a.DecidedAt = parseNullTime(decidedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// REFERENCE DATA (leave.Directory, leave.Catalog)
// =============================================================================

func (v *view) PutMember(ctx context.Context, m leave.Member) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO members (id, name, role, department_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			department_id = excluded.department_id
	`, m.ID, m.Name, m.Role, nullString(m.DepartmentID))
	return err
}

func (v *view) GetMember(ctx context.Context, id string) (*leave.Member, error) {
	var m leave.Member
	var dept sql.NullString
	err := v.q.QueryRowContext(ctx,
		"SELECT id, name, role, department_id FROM members WHERE id = ?", id,
	).Scan(&m.ID, &m.Name, &m.Role, &dept)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return nil, err
	}
	m.DepartmentID = dept.String
	return &m, nil
}

func (v *view) ListMembers(ctx context.Context) ([]leave.Member, error) {
	rows, err := v.q.QueryContext(ctx, "SELECT id, name, role, department_id FROM members ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []leave.Member
	for rows.Next() {
		var m leave.Member
		var dept sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &m.Role, &dept); err != nil {
			return nil, err
		}
		m.DepartmentID = dept.String
		members = append(members, m)
	}
	return members, rows.Err()
}

func (v *view) PutLeaveType(ctx context.Context, lt leave.LeaveTypeConfig) error {
	roles, err := json.Marshal(lt.ApplicableRoles)
	if err != nil {
		return err
	}
	_, err = v.q.ExecContext(ctx, `
		INSERT INTO leave_types (id, name, code, max_days_per_year, allow_half_day, requires_approval, applicable_roles)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			max_days_per_year = excluded.max_days_per_year,
			allow_half_day = excluded.allow_half_day,
			requires_approval = excluded.requires_approval,
			applicable_roles = excluded.applicable_roles
	`, lt.ID, lt.Name, nullString(lt.Code), lt.MaxDaysPerYear.String(),
		lt.AllowHalfDay, lt.RequiresApproval, string(roles))
	return err
}

func (v *view) GetLeaveType(ctx context.Context, id string) (*leave.LeaveTypeConfig, error) {
	types, err := v.queryLeaveTypes(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, &generic.NotFoundError{Kind: "leave type", ID: id}
	}
	return &types[0], nil
}

func (v *view) ListLeaveTypes(ctx context.Context) ([]leave.LeaveTypeConfig, error) {
	return v.queryLeaveTypes(ctx, "ORDER BY id")
}

func (v *view) queryLeaveTypes(ctx context.Context, clause string, args ...any) ([]leave.LeaveTypeConfig, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, name, code, max_days_per_year, allow_half_day, requires_approval, applicable_roles
		FROM leave_types `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.LeaveTypeConfig
	for rows.Next() {
		var lt leave.LeaveTypeConfig
		var code, roles sql.NullString
		var maxDays string
		if err := rows.Scan(&lt.ID, &lt.Name, &code, &maxDays, &lt.AllowHalfDay, &lt.RequiresApproval, &roles); err != nil {
			return nil, err
		}
		lt.Code = code.String
		var dp generic.DecimalParser
		lt.MaxDaysPerYear = dp.Parse("max_days_per_year", maxDays)
		if dp.Err != nil {
			return nil, dp.Err
		}
		if roles.Valid && roles.String != "" {
			if err := json.Unmarshal([]byte(roles.String), &lt.ApplicableRoles); err != nil {
				return nil, fmt.Errorf("leave type %s: bad applicable_roles: %w", lt.ID, err)
			}
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"leave_approvals", "leave_requests", "request_tombstones",
		"ledger_transactions", "balances", "leave_types", "members",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(t time.Time) string { return t.Format(generic.DateLayout) }

func parseDate(s string) time.Time {
	t, _ := generic.ParseDate(s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
