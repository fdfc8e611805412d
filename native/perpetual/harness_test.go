package perpetual

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
	"hedgeline/native/feecurve"
	"hedgeline/native/governance"
	"hedgeline/native/oracle"
	"hedgeline/native/pool"
)

var (
	alice    = ethcommon.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = ethcommon.HexToAddress("0x00000000000000000000000000000000000ca401")
	keeper   = ethcommon.HexToAddress("0x000000000000000000000000000000000000bee1")
	governor = ethcommon.HexToAddress("0x000000000000000000000000000000000000900d")
	guardian = ethcommon.HexToAddress("0x000000000000000000000000000000000000ca7e")
)

const pct = nativecommon.BaseParams / 100

// testParams uses a collateral base of 1 so hedge values are committed*rate.
func testParams() Params {
	return Params{
		MaxLeverage:                10 * nativecommon.BaseParams,
		MaintenanceMargin:          10 * pct,
		LockTime:                   3600,
		TargetHAHedge:              90 * pct,
		LimitHAHedge:               95 * pct,
		KeeperFeesLiquidationRatio: 20 * pct,
		KeeperFeesLiquidationCap:   big.NewInt(1_000_000),
		KeeperFeesClosingRatio:     25 * pct,
		KeeperFeesClosingCap:       big.NewInt(1_000_000),
		HAFeesDeposit:              feecurve.Constant(0),
		HAFeesWithdraw:             feecurve.Constant(0),
		CollateralBase:             big.NewInt(1),
	}
}

type harness struct {
	t         *testing.T
	engine    *Engine
	primary   *oracle.StaticSource
	secondary *oracle.StaticSource
	pool      *pool.Pool
	gov       *governance.Registry
	rec       *events.Recorder
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithParams(t, testParams())
}

func newHarnessWithParams(t *testing.T, params Params) *harness {
	t.Helper()
	engine, err := NewEngine(params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h := &harness{
		t:         t,
		engine:    engine,
		primary:   oracle.NewStaticSource("primary", big.NewInt(100)),
		secondary: oracle.NewStaticSource("secondary", big.NewInt(100)),
		pool:      pool.New(),
		rec:       new(events.Recorder),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	agg, err := oracle.NewAggregator(h.primary, h.secondary, params.CollateralBase)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	h.gov, err = governance.NewRegistry([]ethcommon.Address{governor}, guardian)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := h.pool.SetStocksUsers(big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	engine.SetOracle(agg)
	engine.SetPool(h.pool)
	engine.SetGovernance(h.gov)
	engine.SetPauses(h.gov)
	engine.SetEmitter(h.rec)
	engine.SetNowFunc(func() time.Time { return h.now })
	return h
}

func (h *harness) setRate(v int64) {
	h.primary.Set(big.NewInt(v))
	h.secondary.Set(big.NewInt(v))
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) open(owner ethcommon.Address, margin, committed int64) uint64 {
	h.t.Helper()
	id, err := h.engine.CreatePerpetual(context.Background(), owner, big.NewInt(margin), big.NewInt(committed), nil)
	if err != nil {
		h.t.Fatalf("create perpetual: %v", err)
	}
	return id
}

func (h *harness) position(id uint64) *Perpetual {
	h.t.Helper()
	p, err := h.engine.Perpetual(id)
	if err != nil {
		h.t.Fatalf("load perpetual %d: %v", id, err)
	}
	return p
}

// assertLeverageBounds checks every open position satisfies 1x <= leverage <= max.
func (h *harness) assertLeverageBounds() {
	h.t.Helper()
	max := h.engine.Params().MaxLeverage
	for _, p := range h.engine.ListPerpetuals() {
		if !leverageOK(p.Margin, p.Committed, max) {
			h.t.Fatalf("position %d leverage out of bounds: margin=%s committed=%s", p.ID, p.Margin, p.Committed)
		}
	}
}
