package perpetual

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
	"hedgeline/native/feecurve"
)

func TestCreatePerpetualRecordsPosition(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	p := h.position(id)
	if p.Owner != alice || p.Margin.Int64() != 100 || p.Committed.Int64() != 500 || p.EntryRate.Int64() != 100 {
		t.Fatalf("unexpected position %+v", p)
	}
	if p.CreatedAt != uint64(h.now.Unix()) {
		t.Fatalf("unexpected created at %d", p.CreatedAt)
	}
	g := h.engine.Globals()
	if g.NextID != 2 || g.Open != 1 || g.TotalHedge.Int64() != 50_000 || g.TotalMargin.Int64() != 100 {
		t.Fatalf("unexpected globals %+v", g)
	}
	if bal, _ := h.engine.BalanceOf(alice); bal != 1 {
		t.Fatalf("expected balance 1, got %d", bal)
	}
	types := h.rec.Types()
	if len(types) != 2 || types[0] != events.TypePerpetualTransfer || types[1] != events.TypePerpetualCreated {
		t.Fatalf("unexpected events %v", types)
	}
	if second := h.open(bob, 100, 500); second != 2 {
		t.Fatalf("ids must be assigned monotonically, got %d", second)
	}
}

func TestCreatePerpetualUsesUpperRateForSlippage(t *testing.T) {
	h := newHarness(t)
	h.primary.Set(big.NewInt(100))
	h.secondary.Set(big.NewInt(105))
	_, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(100), big.NewInt(500), big.NewInt(104))
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	id, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(100), big.NewInt(500), big.NewInt(105))
	if err != nil {
		t.Fatalf("create within bound: %v", err)
	}
	if rate := h.position(id).EntryRate.Int64(); rate != 105 {
		t.Fatalf("expected entry at upper rate 105, got %d", rate)
	}
}

func TestCreatePerpetualLeverageBounds(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name              string
		margin, committed int64
		want              error
	}{
		{"above max", 10, 500, ErrLeverageExceeded},
		{"below one", 600, 500, ErrLeverageExceeded},
		{"zero margin", 0, 500, ErrInvalidAmount},
		{"zero committed", 10, 0, ErrInvalidAmount},
		{"at max", 50, 500, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(tc.margin), big.NewInt(tc.committed), nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	h.assertLeverageBounds()
}

func TestCreatePerpetualHedgeLimit(t *testing.T) {
	h := newHarness(t)
	// limit is 95% of 1,000,000 stock: 9,500 committed at rate 100.
	if _, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(2_000), big.NewInt(9_501), nil); !errors.Is(err, ErrHedgeLimit) {
		t.Fatalf("expected ErrHedgeLimit, got %v", err)
	}
	h.open(alice, 2_000, 9_500)
}

func TestCreatePerpetualChargesDepositFee(t *testing.T) {
	params := testParams()
	params.HAFeesDeposit = feecurve.Constant(1 * pct)
	h := newHarnessWithParams(t, params)
	id := h.open(alice, 100, 500)
	if margin := h.position(id).Margin.Int64(); margin != 95 {
		t.Fatalf("expected margin net of 5 fee, got %d", margin)
	}
	if fees := h.pool.Snapshot().Fees.Int64(); fees != 5 {
		t.Fatalf("expected pool fee credit 5, got %d", fees)
	}
	if _, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(5), big.NewInt(500), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected fee-exhausted margin rejection, got %v", err)
	}
}

func TestLiquidationThresholdExample(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	q, err := h.engine.GetCashOutAmount(id, big.NewInt(91))
	if err != nil {
		t.Fatalf("cash out at 91: %v", err)
	}
	if q.CashOut.Int64() != 51 || q.ReachedMaintenance {
		t.Fatalf("expected healthy cash-out 51, got %+v", q)
	}
	q, _ = h.engine.GetCashOutAmount(id, big.NewInt(90))
	if q.CashOut.Int64() != 45 || !q.ReachedMaintenance {
		t.Fatalf("expected liquidatable cash-out 45, got %+v", q)
	}
	q, _ = h.engine.GetCashOutAmount(id, big.NewInt(80))
	if q.CashOut.Sign() != 0 || !q.ReachedMaintenance {
		t.Fatalf("expected wiped position, got %+v", q)
	}
}

func TestCashOutMonotonicInRate(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	prev := big.NewInt(-1)
	prevEligible := true
	for r := int64(50); r <= 400; r++ {
		q, err := h.engine.GetCashOutAmount(id, big.NewInt(r))
		if err != nil {
			t.Fatalf("rate %d: %v", r, err)
		}
		if q.CashOut.Cmp(prev) < 0 {
			t.Fatalf("cash-out decreased at rate %d: %s < %s", r, q.CashOut, prev)
		}
		if q.ReachedMaintenance && !prevEligible {
			t.Fatalf("eligibility not monotonic at rate %d", r)
		}
		prev, prevEligible = q.CashOut, q.ReachedMaintenance
	}
}

func TestRemoveFromPerpetualLockActive(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	h.advance(3599 * time.Second)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(1), big.NewInt(1_000_000)} {
		if err := h.engine.RemoveFromPerpetual(context.Background(), alice, id, amount); !errors.Is(err, ErrLockActive) {
			t.Fatalf("amount %v: expected ErrLockActive, got %v", amount, err)
		}
	}
	if margin := h.position(id).Margin.Int64(); margin != 100 {
		t.Fatalf("margin changed during lock: %d", margin)
	}
}

func TestLockHoldsForMaximalLockTime(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	if err := h.engine.SetLockTime(governor, math.MaxUint64); err != nil {
		t.Fatalf("set lock time: %v", err)
	}
	h.advance(24 * time.Hour)
	ctx := context.Background()
	if err := h.engine.RemoveFromPerpetual(ctx, alice, id, big.NewInt(1)); !errors.Is(err, ErrLockActive) {
		t.Fatalf("expected ErrLockActive, got %v", err)
	}
	if _, err := h.engine.CashOutPerpetual(ctx, alice, id, alice, nil); !errors.Is(err, ErrLockActive) {
		t.Fatalf("expected ErrLockActive on cash out, got %v", err)
	}
}

func TestLockActive(t *testing.T) {
	cases := []struct {
		at, created, lock uint64
		want              bool
	}{
		{at: 100, created: 100, lock: 0, want: false},
		{at: 100, created: 100, lock: 1, want: true},
		{at: 160, created: 100, lock: 60, want: false},
		{at: 159, created: 100, lock: 60, want: true},
		{at: 99, created: 100, lock: 0, want: true},
		{at: math.MaxUint64, created: 1, lock: math.MaxUint64, want: true},
	}
	for _, c := range cases {
		if got := lockActive(c.at, c.created, c.lock); got != c.want {
			t.Fatalf("lockActive(%d, %d, %d) = %v, want %v", c.at, c.created, c.lock, got, c.want)
		}
	}
}

func TestRemoveFromPerpetual(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	h.advance(time.Hour)
	ctx := context.Background()
	if err := h.engine.RemoveFromPerpetual(ctx, bob, id, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.RemoveFromPerpetual(ctx, alice, id, big.NewInt(20)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if margin := h.position(id).Margin.Int64(); margin != 80 {
		t.Fatalf("expected margin 80, got %d", margin)
	}
	if err := h.engine.RemoveFromPerpetual(ctx, alice, id, big.NewInt(40)); !errors.Is(err, ErrLeverageExceeded) {
		t.Fatalf("expected ErrLeverageExceeded, got %v", err)
	}
	if err := h.engine.RemoveFromPerpetual(ctx, alice, id, big.NewInt(80)); !errors.Is(err, ErrLeverageExceeded) {
		t.Fatalf("expected ErrLeverageExceeded on full withdrawal, got %v", err)
	}
	h.assertLeverageBounds()
}

func TestAddToPerpetualRebases(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	h.setRate(110)
	if err := h.engine.AddToPerpetual(context.Background(), bob, id, big.NewInt(10)); err != nil {
		t.Fatalf("add: %v", err)
	}
	p := h.position(id)
	if p.Margin.Int64() != 156 || p.EntryRate.Int64() != 110 {
		t.Fatalf("unexpected rebased position margin=%s entry=%s", p.Margin, p.EntryRate)
	}
	if total := h.engine.Globals().TotalHedge.Int64(); total != 55_000 {
		t.Fatalf("expected hedge re-based to 55000, got %d", total)
	}
	if err := h.engine.AddToPerpetual(context.Background(), alice, 42, big.NewInt(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	h.assertLeverageBounds()
}

func TestAddToPerpetualRejectsUnderwater(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	h.setRate(90)
	if err := h.engine.AddToPerpetual(context.Background(), alice, id, big.NewInt(1_000)); !errors.Is(err, ErrPositionUnderwater) {
		t.Fatalf("expected ErrPositionUnderwater, got %v", err)
	}
}

func TestCashOutPerpetual(t *testing.T) {
	params := testParams()
	params.HAFeesWithdraw = feecurve.Constant(1 * pct)
	h := newHarnessWithParams(t, params)
	id := h.open(alice, 100, 500)
	ctx := context.Background()
	if _, err := h.engine.CashOutPerpetual(ctx, alice, id, alice, nil); !errors.Is(err, ErrLockActive) {
		t.Fatalf("expected ErrLockActive, got %v", err)
	}
	h.advance(time.Hour)
	h.setRate(120)
	if _, err := h.engine.CashOutPerpetual(ctx, bob, id, bob, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.engine.CashOutPerpetual(ctx, alice, id, alice, big.NewInt(121)); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	payout, err := h.engine.CashOutPerpetual(ctx, alice, id, carol, big.NewInt(120))
	if err != nil {
		t.Fatalf("cash out: %v", err)
	}
	// 600 - 500*100/120 = 184, minus a 1% fee on 500 committed.
	if payout.Int64() != 179 {
		t.Fatalf("expected payout 179, got %s", payout)
	}
	if _, err := h.engine.Perpetual(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("position should be closed, got %v", err)
	}
	if bal, _ := h.engine.BalanceOf(alice); bal != 0 {
		t.Fatalf("expected zero balance after burn, got %d", bal)
	}
	g := h.engine.Globals()
	if g.Open != 0 || g.TotalHedge.Sign() != 0 || g.TotalMargin.Sign() != 0 {
		t.Fatalf("globals not cleared %+v", g)
	}
}

func TestCashOutUnderwaterClosesWithoutPayout(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	h.setRate(90)
	payout, err := h.engine.CashOutPerpetual(context.Background(), alice, id, alice, nil)
	if err != nil {
		t.Fatalf("cash out: %v", err)
	}
	if payout.Sign() != 0 {
		t.Fatalf("expected zero payout, got %s", payout)
	}
	if proceeds := h.pool.Snapshot().Proceeds.Int64(); proceeds != 45 {
		t.Fatalf("expected 45 reported to pool, got %d", proceeds)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t)
	id := h.open(alice, 100, 500)
	if err := h.gov.Pause(guardian, nativecommon.ModulePerpetual); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := h.engine.CreatePerpetual(context.Background(), alice, big.NewInt(100), big.NewInt(500), nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := h.engine.AddToPerpetual(context.Background(), alice, id, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := h.engine.GetCashOutAmount(id, big.NewInt(100)); err != nil {
		t.Fatalf("reads must work while paused: %v", err)
	}
}

func TestLeverageInvariantAcrossMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := []uint64{h.open(alice, 100, 500), h.open(bob, 60, 600), h.open(carol, 300, 400)}
	h.advance(time.Hour)
	rates := []int64{100, 104, 97, 111, 95, 120, 101}
	for step, r := range rates {
		h.setRate(r)
		for _, id := range ids {
			amount := big.NewInt(int64(step*7 + 3))
			_ = h.engine.AddToPerpetual(ctx, alice, id, amount)
			h.assertLeverageBounds()
			p, err := h.engine.Perpetual(id)
			if err != nil {
				continue
			}
			_ = h.engine.RemoveFromPerpetual(ctx, p.Owner, id, amount)
			h.assertLeverageBounds()
		}
	}
}
