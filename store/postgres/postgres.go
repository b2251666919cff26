/*
Package postgres provides a PostgreSQL-backed implementation of leave.TxStore.

PURPOSE:
  Same contract and table layout as store/sqlite, for deployments that run
  more than one engine process against one database.

CONCURRENCY:
  Transactions run at READ COMMITTED. Inside WithTx, balance and request
  reads take row locks (SELECT ... FOR UPDATE), so two transitions on the
  same key queue up behind each other instead of both reading the same
  version. The version compare-and-swap in PutBalance stays as the last
  line of defence. Serialization failures and deadlocks (SQLSTATE 40001,
  40P01) and lost CAS races all surface as ErrConcurrentModification, which
  the service retries.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite: Single-process implementation
  - leave/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

var _ leave.TxStore = (*Store)(nil)

type Store struct {
	view
	pool *pgxpool.Pool
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// view binds the store operations to the pool or to one transaction.
// lock is set inside transactions and adds FOR UPDATE to aggregate reads.
type view struct {
	q    querier
	lock bool
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &Store{view: view{q: pool}, pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
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
		max_days_per_year NUMERIC NOT NULL CHECK (max_days_per_year >= 0),
		allow_half_day BOOLEAN NOT NULL DEFAULT FALSE,
		requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
		applicable_roles TEXT[] NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS balances (
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		allocated NUMERIC NOT NULL CHECK (allocated >= 0),
		used NUMERIC NOT NULL CHECK (used >= 0),
		remaining NUMERIC NOT NULL CHECK (remaining >= 0),
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (entity_id, policy_id, year)
	);

	CREATE TABLE IF NOT EXISTS ledger_transactions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		delta NUMERIC NOT NULL,
		used_after NUMERIC NOT NULL,
		allocated_after NUMERIC NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_key
		ON ledger_transactions(entity_id, policy_id, year);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		applicant_id TEXT NOT NULL,
		applicant_role TEXT NOT NULL,
		department_id TEXT,
		leave_type_id TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		is_start_half_day BOOLEAN NOT NULL DEFAULT FALSE,
		is_end_half_day BOOLEAN NOT NULL DEFAULT FALSE,
		total_days INTEGER NOT NULL,
		working_days NUMERIC NOT NULL,
		year INTEGER NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		cancel_reason TEXT,
		cancelled_by TEXT,
		charged BOOLEAN NOT NULL DEFAULT FALSE,
		revision INTEGER NOT NULL DEFAULT 0,
		CHECK (start_date <= end_date)
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
		decided_at TIMESTAMPTZ,
		level INTEGER NOT NULL,
		PRIMARY KEY (request_id, position)
	);

	CREATE TABLE IF NOT EXISTS request_tombstones (
		id TEXT PRIMARY KEY,
		deleted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// WithTx runs fn in a READ COMMITTED transaction with locking reads.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&view{q: tx, lock: true}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE leave_approvals, leave_requests, request_tombstones,
		ledger_transactions, balances, leave_types, members`)
	return err
}

func (v *view) forUpdate() string {
	if v.lock {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// BALANCES
// =============================================================================

func (v *view) GetBalance(ctx context.Context, key generic.BalanceKey) (*generic.BalanceEntry, error) {
	e := generic.BalanceEntry{Key: key}
	var allocated, used, remaining string
	err := v.q.QueryRow(ctx, `
		SELECT allocated::text, used::text, remaining::text, version, updated_at
		FROM balances
		WHERE entity_id = $1 AND policy_id = $2 AND year = $3`+v.forUpdate(),
		string(key.EntityID), string(key.PolicyID), key.Year,
	).Scan(&allocated, &used, &remaining, &e.Version, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "balance", ID: key.String()}
	}
	if err != nil {
		return nil, mapError(err)
	}
	var dp generic.DecimalParser
	e.Allocated = dp.Parse("allocated", allocated)
	e.Used = dp.Parse("used", used)
	e.Remaining = dp.Parse("remaining", remaining)
	if dp.Err != nil {
		return nil, dp.Err
	}
	return &e, nil
}

func (v *view) PutBalance(ctx context.Context, entry generic.BalanceEntry) error {
	k := entry.Key
	if entry.Version == 0 {
		_, err := v.q.Exec(ctx, `
			INSERT INTO balances (entity_id, policy_id, year, allocated, used, remaining, version, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, 1, $7)
		`, string(k.EntityID), string(k.PolicyID), k.Year,
			entry.Allocated.String(), entry.Used.String(), entry.Remaining.String(), entry.UpdatedAt)
		if isUniqueViolation(err) {
			return generic.ErrConcurrentModification
		}
		return mapError(err)
	}

	tag, err := v.q.Exec(ctx, `
		UPDATE balances
		SET allocated = $1::numeric, used = $2::numeric, remaining = $3::numeric,
		    version = version + 1, updated_at = $4
		WHERE entity_id = $5 AND policy_id = $6 AND year = $7 AND version = $8
	`, entry.Allocated.String(), entry.Used.String(), entry.Remaining.String(), entry.UpdatedAt,
		string(k.EntityID), string(k.PolicyID), k.Year, entry.Version)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (v *view) ListBalances(ctx context.Context, entityID generic.EntityID, year int) ([]generic.BalanceEntry, error) {
	rows, err := v.q.Query(ctx, `
		SELECT policy_id, allocated::text, used::text, remaining::text, version, updated_at
		FROM balances
		WHERE entity_id = $1 AND year = $2
		ORDER BY policy_id ASC
	`, string(entityID), year)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []generic.BalanceEntry
	for rows.Next() {
		e := generic.BalanceEntry{Key: generic.BalanceKey{EntityID: entityID, Year: year}}
		var policyID, allocated, used, remaining string
		if err := rows.Scan(&policyID, &allocated, &used, &remaining, &e.Version, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Key.PolicyID = generic.PolicyID(policyID)
		var dp generic.DecimalParser
		e.Allocated = dp.Parse("allocated", allocated)
		e.Used = dp.Parse("used", used)
		e.Remaining = dp.Parse("remaining", remaining)
		if dp.Err != nil {
			return nil, dp.Err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER TRANSACTIONS
// =============================================================================

func (v *view) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	_, err := v.q.Exec(ctx, `
		INSERT INTO ledger_transactions
		(id, entity_id, policy_id, year, tx_type, delta, used_after, allocated_after,
		 reference_id, reason, idempotency_key, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric,
		        NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)
	`, string(tx.ID), string(tx.Key.EntityID), string(tx.Key.PolicyID), tx.Key.Year, string(tx.Type),
		tx.Delta.String(), tx.UsedAfter.String(), tx.AllocatedAfter.String(),
		tx.ReferenceID, tx.Reason, tx.IdempotencyKey, tx.CreatedBy, tx.CreatedAt)
	if isUniqueViolation(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	return mapError(err)
}

func (v *view) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := v.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE idempotency_key = $1)",
		idempotencyKey,
	).Scan(&exists)
	return exists, mapError(err)
}

func (v *view) Transactions(ctx context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	rows, err := v.q.Query(ctx, `
		SELECT id, tx_type, delta::text, used_after::text, allocated_after::text,
		       COALESCE(reference_id, ''), COALESCE(reason, ''), COALESCE(idempotency_key, ''),
		       COALESCE(created_by, ''), created_at
		FROM ledger_transactions
		WHERE entity_id = $1 AND policy_id = $2 AND year = $3
		ORDER BY seq ASC
	`, string(key.EntityID), string(key.PolicyID), key.Year)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		tx := generic.Transaction{Key: key}
		var id, txType, delta, usedAfter, allocatedAfter string
		if err := rows.Scan(&id, &txType, &delta, &usedAfter, &allocatedAfter,
			&tx.ReferenceID, &tx.Reason, &tx.IdempotencyKey, &tx.CreatedBy, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.ID = generic.TransactionID(id)
		tx.Type = generic.TransactionType(txType)
		var dp generic.DecimalParser
		tx.Delta = dp.Parse("delta", delta)
		tx.UsedAfter = dp.Parse("used_after", usedAfter)
		tx.AllocatedAfter = dp.Parse("allocated_after", allocatedAfter)
		if dp.Err != nil {
			return nil, dp.Err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `
	id, applicant_id, applicant_role, COALESCE(department_id, ''), leave_type_id,
	start_date, end_date, is_start_half_day, is_end_half_day, total_days,
	working_days::text, year, reason, status, applied_at, processed_at,
	cancelled_at, COALESCE(cancel_reason, ''), COALESCE(cancelled_by, ''), charged, revision
`

func (v *view) SaveRequest(ctx context.Context, r leave.Request) error {
	_, err := v.q.Exec(ctx, `
		INSERT INTO leave_requests (
			id, applicant_id, applicant_role, department_id, leave_type_id,
			start_date, end_date, is_start_half_day, is_end_half_day, total_days,
			working_days, year, reason, status, applied_at, processed_at,
			cancelled_at, cancel_reason, cancelled_by, charged, revision)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14,
		        $15, $16, $17, NULLIF($18, ''), NULLIF($19, ''), $20, $21)
		ON CONFLICT (id) DO UPDATE SET
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
	`, r.ID, r.ApplicantID, string(r.ApplicantRole), r.DepartmentID, r.LeaveTypeID,
		r.StartDate, r.EndDate, r.IsStartHalfDay, r.IsEndHalfDay, r.TotalDays,
		r.WorkingDays.String(), r.Year, r.Reason, string(r.Status), r.AppliedAt, r.ProcessedAt,
		r.CancelledAt, r.CancelReason, r.CancelledBy, r.Charged, r.Revision)
	if err != nil {
		return mapError(err)
	}

	if _, err := v.q.Exec(ctx, "DELETE FROM leave_approvals WHERE request_id = $1", r.ID); err != nil {
		return mapError(err)
	}
	for i, a := range r.Approvals {
		_, err := v.q.Exec(ctx, `
			INSERT INTO leave_approvals
			(request_id, position, approver_id, approver_role, decision, comments, decided_at, level)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		`, r.ID, i, a.ApproverID, string(a.ApproverRole), string(a.Decision), a.Comments, a.DecidedAt, a.Level)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (v *view) GetRequest(ctx context.Context, id string) (*leave.Request, error) {
	reqs, err := v.queryRequests(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = $1"+v.forUpdate(), id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, &generic.NotFoundError{Kind: "request", ID: id}
	}
	return &reqs[0], nil
}

func (v *view) DeleteRequest(ctx context.Context, id string) error {
	tag, err := v.q.Exec(ctx, "DELETE FROM leave_requests WHERE id = $1", id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return &generic.NotFoundError{Kind: "request", ID: id}
	}
	_, err = v.q.Exec(ctx, "INSERT INTO request_tombstones (id) VALUES ($1) ON CONFLICT DO NOTHING", id)
	return mapError(err)
}

func (v *view) IsDeleted(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := v.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM request_tombstones WHERE id = $1)", id).Scan(&exists)
	return exists, mapError(err)
}

func (v *view) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ApplicantID != "" {
		add("applicant_id = $%d", f.ApplicantID)
	}
	if f.DepartmentID != "" {
		add("department_id = $%d", f.DepartmentID)
	}
	if f.ApplicantRole != "" {
		add("applicant_role = $%d", string(f.ApplicantRole))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Year != 0 {
		add("year = $%d", f.Year)
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

func (v *view) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := v.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}

	var requests []leave.Request
	for rows.Next() {
		var r leave.Request
		var role, status, workingDays string
		if err := rows.Scan(
			&r.ID, &r.ApplicantID, &role, &r.DepartmentID, &r.LeaveTypeID,
			&r.StartDate, &r.EndDate, &r.IsStartHalfDay, &r.IsEndHalfDay, &r.TotalDays,
			&workingDays, &r.Year, &r.Reason, &status, &r.AppliedAt, &r.ProcessedAt,
			&r.CancelledAt, &r.CancelReason, &r.CancelledBy, &r.Charged, &r.Revision,
		); err != nil {
			rows.Close()
			return nil, err
		}
		r.ApplicantRole = leave.Role(role)
		r.Status = leave.Status(status)
		var dp generic.DecimalParser
		r.WorkingDays = dp.Parse("working_days", workingDays)
		if dp.Err != nil {
			rows.Close()
			return nil, dp.Err
		}
		requests = append(requests, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

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
	rows, err := v.q.Query(ctx, `
		SELECT approver_id, approver_role, decision, COALESCE(comments, ''), decided_at, level
		FROM leave_approvals
		WHERE request_id = $1
		ORDER BY position ASC
	`, requestID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []leave.Approval{}
	for rows.Next() {
		var a leave.Approval
		var role, decision string
		if err := rows.Scan(&a.ApproverID, &role, &decision, &a.Comments, &a.DecidedAt, &a.Level); err != nil {
			return nil, err
		}
		a.ApproverRole = leave.Role(role)
		a.Decision = leave.Decision(decision)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (v *view) PutMember(ctx context.Context, m leave.Member) error {
	_, err := v.q.Exec(ctx, `
		INSERT INTO members (id, name, role, department_id) VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, role = excluded.role, department_id = excluded.department_id
	`, m.ID, m.Name, string(m.Role), m.DepartmentID)
	return mapError(err)
}

func (v *view) GetMember(ctx context.Context, id string) (*leave.Member, error) {
	var m leave.Member
	var role string
	err := v.q.QueryRow(ctx,
		"SELECT id, name, role, COALESCE(department_id, '') FROM members WHERE id = $1", id,
	).Scan(&m.ID, &m.Name, &role, &m.DepartmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return nil, mapError(err)
	}
	m.Role = leave.Role(role)
	return &m, nil
}

func (v *view) ListMembers(ctx context.Context) ([]leave.Member, error) {
	rows, err := v.q.Query(ctx, "SELECT id, name, role, COALESCE(department_id, '') FROM members ORDER BY id")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []leave.Member
	for rows.Next() {
		var m leave.Member
		var role string
		if err := rows.Scan(&m.ID, &m.Name, &role, &m.DepartmentID); err != nil {
			return nil, err
		}
		m.Role = leave.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (v *view) PutLeaveType(ctx context.Context, lt leave.LeaveTypeConfig) error {
	roles := make([]string, len(lt.ApplicableRoles))
	for i, r := range lt.ApplicableRoles {
		roles[i] = string(r)
	}
	_, err := v.q.Exec(ctx, `
		INSERT INTO leave_types (id, name, code, max_days_per_year, allow_half_day, requires_approval, applicable_roles)
		VALUES ($1, $2, NULLIF($3, ''), $4::numeric, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			max_days_per_year = excluded.max_days_per_year,
			allow_half_day = excluded.allow_half_day,
			requires_approval = excluded.requires_approval,
			applicable_roles = excluded.applicable_roles
	`, lt.ID, lt.Name, lt.Code, lt.MaxDaysPerYear.String(), lt.AllowHalfDay, lt.RequiresApproval, roles)
	return mapError(err)
}

func (v *view) GetLeaveType(ctx context.Context, id string) (*leave.LeaveTypeConfig, error) {
	types, err := v.queryLeaveTypes(ctx, "WHERE id = $1", id)
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
	rows, err := v.q.Query(ctx, `
		SELECT id, name, COALESCE(code, ''), max_days_per_year::text, allow_half_day, requires_approval, applicable_roles
		FROM leave_types `+clause, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []leave.LeaveTypeConfig
	for rows.Next() {
		var lt leave.LeaveTypeConfig
		var maxDays string
		var roles []string
		if err := rows.Scan(&lt.ID, &lt.Name, &lt.Code, &maxDays, &lt.AllowHalfDay, &lt.RequiresApproval, &roles); err != nil {
			return nil, err
		}
		var dp generic.DecimalParser
		lt.MaxDaysPerYear = dp.Parse("max_days_per_year", maxDays)
		if dp.Err != nil {
			return nil, dp.Err
		}
		for _, r := range roles {
			lt.ApplicableRoles = append(lt.ApplicableRoles, leave.Role(r))
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// mapError turns lock conflicts into the retryable domain error.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
	}
	return err
}
