package feecurve

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

const pct = nativecommon.BaseParams / 100

var (
	governor  = ethcommon.HexToAddress("0x000000000000000000000000000000000000900d")
	errDenied = errors.New("denied")
)

type onlyGovernor struct{}

func (onlyGovernor) Authorize(caller ethcommon.Address) error {
	if caller != governor {
		return errDenied
	}
	return nil
}

type fixedRatio uint64

func (f *fixedRatio) CoverageRatio() (uint64, error) { return uint64(*f), nil }

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestManagerDefaultsAreNeutral(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)
	dep, wd := m.HAMultipliers()
	require.Equal(t, nativecommon.BaseParams, dep)
	require.Equal(t, nativecommon.BaseParams, wd)
	_, err = m.UpdateHA()
	require.ErrorIs(t, err, errNoRatioSource)
}

func TestUpdateHAInterpolatesCoverage(t *testing.T) {
	deposit, err := NewSchedule([]uint64{0, 50 * pct, 100 * pct}, []uint64{0, 5 * pct, 20 * pct})
	require.NoError(t, err)
	m, err := NewManager(map[Kind]Schedule{KindHAFeeDeposit: deposit})
	require.NoError(t, err)
	ratio := fixedRatio(75 * pct)
	m.SetRatioSource(&ratio)
	rec := new(events.Recorder)
	m.SetEmitter(rec)

	got, err := m.UpdateHA()
	require.NoError(t, err)
	require.Equal(t, uint64(125*pct/10), got.HAFeeDeposit)
	require.Equal(t, nativecommon.BaseParams, got.HAFeeWithdraw)
	require.Equal(t, uint64(75*pct), got.HACoverage)

	// Multipliers only move when recomputed.
	ratio = fixedRatio(100 * pct)
	dep, _ := m.HAMultipliers()
	require.Equal(t, uint64(125*pct/10), dep)
	_, err = m.UpdateHA()
	require.NoError(t, err)
	dep, _ = m.HAMultipliers()
	require.Equal(t, 20*pct, dep)
	require.Equal(t, []string{events.TypeFeesUpdated, events.TypeFeesUpdated}, rec.Types())
}

func TestUpdateUsersSLP(t *testing.T) {
	mint, _ := NewSchedule([]uint64{0, nativecommon.BaseParams}, []uint64{80 * pct, 120 * pct})
	m, err := NewManager(map[Kind]Schedule{KindBonusMalusMint: mint, KindSlippage: Constant(3 * pct)})
	require.NoError(t, err)
	ratio := fixedRatio(50 * pct)
	m.SetRatioSource(&ratio)
	got, err := m.UpdateUsersSLP()
	require.NoError(t, err)
	require.Equal(t, 100*pct, got.BonusMalusMint)
	require.Equal(t, 3*pct, got.Slippage)
	require.Equal(t, nativecommon.BaseParams, got.BonusMalusBurn)
	require.Equal(t, nativecommon.BaseParams, got.HAFeeDeposit)
}

func TestSetFeesRequiresGovernor(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)
	require.ErrorIs(t, m.SetFees(governor, KindSlippage, Constant(1)), errUnauthorized)
	m.SetGovernance(onlyGovernor{})
	require.ErrorIs(t, m.SetFees(ethcommon.Address{}, KindSlippage, Constant(1)), errDenied)
	require.ErrorIs(t, m.SetFees(governor, Kind("bogus"), Constant(1)), errUnknownKind)
	require.Error(t, m.SetFees(governor, KindSlippage, Schedule{}))
	require.NoError(t, m.SetFees(governor, KindSlippage, Constant(1)))
	s, err := m.Schedule(KindSlippage)
	require.NoError(t, err)
	require.Equal(t, Constant(1), s)
	require.Len(t, m.Schedules(), len(Kinds()))
}

func TestUpdatesRespectPause(t *testing.T) {
	m, _ := NewManager(nil)
	ratio := fixedRatio(0)
	m.SetRatioSource(&ratio)
	m.SetPauses(pauseAll{})
	_, err := m.UpdateUsersSLP()
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestNewManagerRejectsInvalidSchedule(t *testing.T) {
	_, err := NewManager(map[Kind]Schedule{KindSlippageFee: {Thresholds: []uint64{2, 1}, Values: []uint64{0, 0}}})
	require.Error(t, err)
	_, err = NewManager(map[Kind]Schedule{Kind("x"): Constant(1)})
	require.ErrorIs(t, err, errUnknownKind)
}
