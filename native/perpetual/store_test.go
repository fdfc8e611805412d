package perpetual

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hedgeline/storage"
)

func TestStoreRoundTripsLedger(t *testing.T) {
	db := storage.NewMemDB()
	h := newHarness(t)
	require.NoError(t, h.engine.SetState(NewStore(db)))

	first := h.open(alice, 100, 500)
	second := h.open(bob, 200, 800)
	require.NoError(t, h.engine.SetApprovalForAll(alice, carol, true))
	require.NoError(t, h.engine.Approve(bob, alice, second))
	require.NoError(t, h.engine.SetLockTime(governor, 42))
	h.setRate(90)
	_, err := h.engine.LiquidatePerpetuals(context.Background(), keeper, []uint64{first})
	require.NoError(t, err)

	reloaded, err := NewEngine(testParams())
	require.NoError(t, err)
	require.NoError(t, reloaded.SetState(NewStore(db)))

	require.Equal(t, h.engine.ListPerpetuals(), reloaded.ListPerpetuals())
	require.Equal(t, h.engine.Globals(), reloaded.Globals())
	require.Equal(t, uint64(42), reloaded.Params().LockTime)
	require.True(t, reloaded.IsApprovedForAll(alice, carol))
	approved, err := reloaded.GetApproved(second)
	require.NoError(t, err)
	require.Equal(t, alice, approved)
	bal, err := reloaded.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bal)
}

type flakyState struct {
	Store
	fail bool
}

func (f *flakyState) CommitLedger(cs *ChangeSet) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.CommitLedger(cs)
}

func TestFailedCommitLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	state := &flakyState{Store: Store{db: storage.NewMemDB()}}
	require.NoError(t, h.engine.SetState(state))
	id := h.open(alice, 100, 500)
	h.advance(time.Hour)

	state.fail = true
	_, err := h.engine.CreatePerpetual(context.Background(), bob, big.NewInt(100), big.NewInt(500), nil)
	require.Error(t, err)
	require.Error(t, h.engine.RemoveFromPerpetual(context.Background(), alice, id, big.NewInt(10)))
	h.setRate(90)
	_, err = h.engine.LiquidatePerpetuals(context.Background(), keeper, []uint64{id})
	require.Error(t, err)

	require.Len(t, h.engine.ListPerpetuals(), 1)
	require.Equal(t, int64(100), h.position(id).Margin.Int64())
	require.Equal(t, uint64(2), h.engine.Globals().NextID)
	require.Zero(t, h.pool.Snapshot().Proceeds.Sign())
}
