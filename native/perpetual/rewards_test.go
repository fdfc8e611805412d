package perpetual

import (
	"context"
	"math/big"
	"testing"
	"time"

	"hedgeline/core/events"
)

type recordingAccrual struct {
	opened map[uint64]*big.Int
	closed []uint64
	claims int
}

func (r *recordingAccrual) Open(id uint64, committed *big.Int, _ uint64) {
	if r.opened == nil {
		r.opened = make(map[uint64]*big.Int)
	}
	r.opened[id] = new(big.Int).Set(committed)
}

func (r *recordingAccrual) Close(id uint64, _ uint64) { r.closed = append(r.closed, id) }

func (r *recordingAccrual) Earned(id uint64, _ uint64) *big.Int {
	if _, ok := r.opened[id]; !ok {
		return big.NewInt(0)
	}
	return big.NewInt(7)
}

func (r *recordingAccrual) Claim(id uint64, at uint64) *big.Int {
	r.claims++
	return r.Earned(id, at)
}

func TestRewardHooksFollowLifecycle(t *testing.T) {
	h := newHarness(t)
	acc := new(recordingAccrual)
	h.engine.SetRewards(acc)

	id := h.open(alice, 100, 500)
	if got := acc.opened[id]; got == nil || got.Int64() != 500 {
		t.Fatalf("open hook not called with committed amount: %v", got)
	}
	earned, err := h.engine.Earned(id)
	if err != nil || earned.Int64() != 7 {
		t.Fatalf("unexpected earned %v %v", earned, err)
	}
	if _, err := h.engine.GetReward(bob, id); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if amount, err := h.engine.GetReward(alice, id); err != nil || amount.Int64() != 7 {
		t.Fatalf("unexpected claim %v %v", amount, err)
	}

	h.advance(time.Hour)
	if _, err := h.engine.CashOutPerpetual(context.Background(), alice, id, alice, nil); err != nil {
		t.Fatalf("cash out: %v", err)
	}
	if len(acc.closed) != 1 || acc.closed[0] != id {
		t.Fatalf("close hook not called: %v", acc.closed)
	}
	var rewardEvents int
	for _, typ := range h.rec.Types() {
		if typ == events.TypePerpetualReward {
			rewardEvents++
		}
	}
	if rewardEvents != 2 {
		t.Fatalf("expected a reward event for the claim and the close, got %d", rewardEvents)
	}
}

func TestFailedCallDoesNotTouchRewards(t *testing.T) {
	h := newHarness(t)
	acc := new(recordingAccrual)
	h.engine.SetRewards(acc)
	if _, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(10), big.NewInt(500), nil); err == nil {
		t.Fatalf("expected leverage failure")
	}
	if len(acc.opened) != 0 || acc.claims != 0 {
		t.Fatalf("rewards touched by failed call")
	}
}
