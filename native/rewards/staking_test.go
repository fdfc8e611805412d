package rewards

import (
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	gov       = ethcommon.HexToAddress("0x0000000000000000000000000000000000000f01")
	errDenied = errors.New("denied")
)

type allowOne ethcommon.Address

func (a allowOne) Authorize(caller ethcommon.Address) error {
	if caller != ethcommon.Address(a) {
		return errDenied
	}
	return nil
}

func newFunded(t *testing.T, start time.Time) *Staking {
	t.Helper()
	s := NewStaking(allowOne(gov))
	s.SetNowFunc(func() time.Time { return start })
	require.NoError(t, s.NotifyRewardAmount(gov, big.NewInt(1_000), 100*time.Second))
	return s
}

func TestStakingSplitsProRata(t *testing.T) {
	start := time.Unix(1_000, 0)
	s := newFunded(t, start)
	t0 := uint64(start.Unix())

	s.Open(1, big.NewInt(100), t0)
	s.Open(2, big.NewInt(300), t0)
	// 10 tokens per second for 100 seconds split 1:3.
	require.Equal(t, int64(250), s.Earned(1, t0+100).Int64())
	require.Equal(t, int64(750), s.Earned(2, t0+100).Int64())
	// Accrual stops at the end of the period.
	require.Equal(t, int64(250), s.Earned(1, t0+500).Int64())
}

func TestStakingClaimAndClose(t *testing.T) {
	start := time.Unix(1_000, 0)
	s := newFunded(t, start)
	t0 := uint64(start.Unix())

	s.Open(1, big.NewInt(100), t0)
	require.Equal(t, int64(500), s.Claim(1, t0+50).Int64())
	require.Zero(t, s.Earned(1, t0+50).Sign())
	s.Open(2, big.NewInt(100), t0+50)
	s.Close(1, t0+60)
	require.Zero(t, s.Earned(1, t0+100).Sign())
	// Position 2 shares 50..60 then holds the whole stream until 100.
	require.Equal(t, int64(450), s.Earned(2, t0+100).Int64())
	require.Equal(t, 1, s.Status().Positions)
	require.Equal(t, int64(500), s.Status().Distributed.Int64())
}

func TestNotifyRewardAmountValidation(t *testing.T) {
	s := NewStaking(allowOne(gov))
	require.ErrorIs(t, s.NotifyRewardAmount(ethcommon.Address{}, big.NewInt(1), time.Second), errDenied)
	require.ErrorIs(t, s.NotifyRewardAmount(gov, big.NewInt(0), time.Second), errInvalidAmount)
	require.ErrorIs(t, s.NotifyRewardAmount(gov, big.NewInt(1), 0), errInvalidDuration)
	require.ErrorIs(t, s.NotifyRewardAmount(gov, big.NewInt(1), time.Hour), errRateTooLow)
}
