// Package memory provides an in-memory leave.TxStore (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

var (
	_ leave.TxStore = (*Memory)(nil)
	_ leave.Store   = (*state)(nil)
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory serializes every call, including whole WithTx transactions, on one
// mutex. Transactions snapshot the state up front and put it back on error.
type Memory struct {
	mu sync.Mutex
	st *state
}

type state struct {
	balances     map[generic.BalanceKey]generic.BalanceEntry
	transactions map[generic.BalanceKey][]generic.Transaction
	idempotency  map[string]bool
	requests     map[string]leave.Request
	tombstones   map[string]bool
	members      map[string]leave.Member
	leaveTypes   map[string]leave.LeaveTypeConfig
}

func New() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		balances:     make(map[generic.BalanceKey]generic.BalanceEntry),
		transactions: make(map[generic.BalanceKey][]generic.Transaction),
		idempotency:  make(map[string]bool),
		requests:     make(map[string]leave.Request),
		tombstones:   make(map[string]bool),
		members:      make(map[string]leave.Member),
		leaveTypes:   make(map[string]leave.LeaveTypeConfig),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = append([]generic.Transaction(nil), v...)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	// Stored requests are never mutated in place, so sharing them is safe.
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.tombstones {
		c.tombstones[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.leaveTypes {
		c.leaveTypes[k] = v
	}
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) GetBalance(ctx context.Context, key generic.BalanceKey) (*generic.BalanceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetBalance(ctx, key)
}

func (m *Memory) PutBalance(ctx context.Context, entry generic.BalanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PutBalance(ctx, entry)
}

func (m *Memory) ListBalances(ctx context.Context, entityID generic.EntityID, year int) ([]generic.BalanceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListBalances(ctx, entityID, year)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendTransaction(ctx, tx)
}

func (m *Memory) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.TransactionExists(ctx, idempotencyKey)
}

func (m *Memory) Transactions(ctx context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Transactions(ctx, key)
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetRequest(ctx, id)
}

func (m *Memory) SaveRequest(ctx context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveRequest(ctx, r)
}

func (m *Memory) DeleteRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteRequest(ctx, id)
}

func (m *Memory) IsDeleted(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.IsDeleted(ctx, id)
}

func (m *Memory) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListRequests(ctx, filter)
}

func (m *Memory) GetMember(ctx context.Context, id string) (*leave.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetMember(ctx, id)
}

func (m *Memory) ListMembers(ctx context.Context) ([]leave.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListMembers(ctx)
}

func (m *Memory) PutMember(ctx context.Context, member leave.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PutMember(ctx, member)
}

func (m *Memory) GetLeaveType(ctx context.Context, id string) (*leave.LeaveTypeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetLeaveType(ctx, id)
}

func (m *Memory) ListLeaveTypes(ctx context.Context) ([]leave.LeaveTypeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListLeaveTypes(ctx)
}

func (m *Memory) PutLeaveType(ctx context.Context, lt leave.LeaveTypeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PutLeaveType(ctx, lt)
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// STATE - unlocked implementation, also the view handed to WithTx
// =============================================================================

func (s *state) GetBalance(_ context.Context, key generic.BalanceKey) (*generic.BalanceEntry, error) {
	e, ok := s.balances[key]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "balance", ID: key.String()}
	}
	return &e, nil
}

func (s *state) PutBalance(_ context.Context, entry generic.BalanceEntry) error {
	current, ok := s.balances[entry.Key]
	var version int64
	if ok {
		version = current.Version
	}
	if version != entry.Version {
		return generic.ErrConcurrentModification
	}
	entry.Version++
	s.balances[entry.Key] = entry
	return nil
}

func (s *state) ListBalances(_ context.Context, entityID generic.EntityID, year int) ([]generic.BalanceEntry, error) {
	var out []generic.BalanceEntry
	for k, e := range s.balances {
		if k.EntityID == entityID && k.Year == year {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.PolicyID < out[j].Key.PolicyID })
	return out, nil
}

func (s *state) AppendTransaction(_ context.Context, tx generic.Transaction) error {
	if tx.IdempotencyKey != "" {
		if s.idempotency[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		s.idempotency[tx.IdempotencyKey] = true
	}
	s.transactions[tx.Key] = append(s.transactions[tx.Key], tx)
	return nil
}

func (s *state) TransactionExists(_ context.Context, idempotencyKey string) (bool, error) {
	return s.idempotency[idempotencyKey], nil
}

func (s *state) Transactions(_ context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	return append([]generic.Transaction(nil), s.transactions[key]...), nil
}

func (s *state) GetRequest(_ context.Context, id string) (*leave.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "request", ID: id}
	}
	c := r.Clone()
	return &c, nil
}

func (s *state) SaveRequest(_ context.Context, r leave.Request) error {
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *state) DeleteRequest(_ context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return &generic.NotFoundError{Kind: "request", ID: id}
	}
	delete(s.requests, id)
	s.tombstones[id] = true
	return nil
}

func (s *state) IsDeleted(_ context.Context, id string) (bool, error) {
	return s.tombstones[id], nil
}

func (s *state) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	out := []leave.Request{}
	for _, r := range s.requests {
		if filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AppliedAt.After(out[j].AppliedAt)
	})
	return out, nil
}

func (s *state) GetMember(_ context.Context, id string) (*leave.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "user", ID: id}
	}
	return &m, nil
}

func (s *state) ListMembers(_ context.Context) ([]leave.Member, error) {
	out := make([]leave.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) PutMember(_ context.Context, m leave.Member) error {
	s.members[m.ID] = m
	return nil
}

func (s *state) GetLeaveType(_ context.Context, id string) (*leave.LeaveTypeConfig, error) {
	lt, ok := s.leaveTypes[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "leave type", ID: id}
	}
	return &lt, nil
}

func (s *state) ListLeaveTypes(_ context.Context) ([]leave.LeaveTypeConfig, error) {
	out := make([]leave.LeaveTypeConfig, 0, len(s.leaveTypes))
	for _, lt := range s.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) PutLeaveType(_ context.Context, lt leave.LeaveTypeConfig) error {
	lt.ApplicableRoles = append([]leave.Role(nil), lt.ApplicableRoles...)
	s.leaveTypes[lt.ID] = lt
	return nil
}
