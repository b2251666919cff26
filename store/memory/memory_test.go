package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

var key = generic.BalanceKey{EntityID: "fac-cse", PolicyID: "casual", Year: 2024}

func TestMemory_VersionCheck(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	entry := generic.NewBalanceEntry(key, generic.MustParseDecimal("12"))
	require.NoError(t, m.PutBalance(ctx, entry))
	assert.ErrorIs(t, m.PutBalance(ctx, entry), generic.ErrConcurrentModification)

	got, err := m.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx leave.Store) error {
		require.NoError(t, tx.PutBalance(ctx, generic.NewBalanceEntry(key, generic.MustParseDecimal("12"))))
		require.NoError(t, tx.AppendTransaction(ctx, generic.Transaction{ID: "tx-1", Key: key, IdempotencyKey: "k"}))
		require.NoError(t, tx.SaveRequest(ctx, leave.Request{ID: "req-1", ApplicantID: "fac-cse", AppliedAt: time.Now()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.GetBalance(ctx, key)
	assert.True(t, generic.IsNotFound(err))
	exists, err := m.TransactionExists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = m.GetRequest(ctx, "req-1")
	assert.True(t, generic.IsNotFound(err))
}

func TestMemory_RequestsAreCopied(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	req := leave.Request{ID: "req-1", ApplicantID: "fac-cse", Status: leave.StatusPending, Approvals: []leave.Approval{}}
	require.NoError(t, m.SaveRequest(ctx, req))

	got, err := m.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	got.Status = leave.StatusApproved
	got.Approvals = append(got.Approvals, leave.Approval{ApproverID: "hod-cse"})

	again, err := m.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, again.Status)
	assert.Empty(t, again.Approvals)
}

func TestMemory_DeleteAndReset(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	require.NoError(t, m.SaveRequest(ctx, leave.Request{ID: "req-1"}))
	require.NoError(t, m.PutMember(ctx, leave.Member{ID: "fac-cse", Role: leave.RoleFaculty}))

	require.NoError(t, m.DeleteRequest(ctx, "req-1"))
	deleted, err := m.IsDeleted(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.True(t, generic.IsNotFound(m.DeleteRequest(ctx, "req-1")))

	require.NoError(t, m.Reset(ctx))
	deleted, err = m.IsDeleted(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, deleted)
	members, err := m.ListMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}
