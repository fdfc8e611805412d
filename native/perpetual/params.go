package perpetual

import (
	"fmt"
	"math/big"

	nativecommon "hedgeline/native/common"
	"hedgeline/native/feecurve"
)

// Params holds the governance-controlled risk and fee parameters. Ratios are
// expressed in BaseParams.
type Params struct {
	MaxLeverage                uint64            `json:"maxLeverage" toml:"max_leverage"`
	MaintenanceMargin          uint64            `json:"maintenanceMargin" toml:"maintenance_margin"`
	LockTime                   uint64            `json:"lockTime" toml:"lock_time"`
	TargetHAHedge              uint64            `json:"targetHAHedge" toml:"target_ha_hedge"`
	LimitHAHedge               uint64            `json:"limitHAHedge" toml:"limit_ha_hedge"`
	KeeperFeesLiquidationRatio uint64            `json:"keeperFeesLiquidationRatio" toml:"keeper_fees_liquidation_ratio"`
	KeeperFeesLiquidationCap   *big.Int          `json:"keeperFeesLiquidationCap" toml:"-"`
	KeeperFeesClosingRatio     uint64            `json:"keeperFeesClosingRatio" toml:"keeper_fees_closing_ratio"`
	KeeperFeesClosingCap       *big.Int          `json:"keeperFeesClosingCap" toml:"-"`
	HAFeesDeposit              feecurve.Schedule `json:"haFeesDeposit" toml:"ha_fees_deposit"`
	HAFeesWithdraw             feecurve.Schedule `json:"haFeesWithdraw" toml:"ha_fees_withdraw"`
	CollateralBase             *big.Int          `json:"collateralBase" toml:"-"`
}

// DefaultParams returns conservative parameters for a collateral with the
// given number of decimals.
func DefaultParams(decimals uint8) Params {
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return Params{
		MaxLeverage:                3 * nativecommon.BaseParams,
		MaintenanceMargin:          nativecommon.BaseParams / 16,
		LockTime:                   3600,
		TargetHAHedge:              nativecommon.BaseParams * 9 / 10,
		LimitHAHedge:               nativecommon.BaseParams * 95 / 100,
		KeeperFeesLiquidationRatio: nativecommon.BaseParams / 5,
		KeeperFeesLiquidationCap:   new(big.Int).Mul(base, big.NewInt(100)),
		KeeperFeesClosingRatio:     nativecommon.BaseParams / 4,
		KeeperFeesClosingCap:       new(big.Int).Mul(base, big.NewInt(10)),
		HAFeesDeposit:              feecurve.Constant(nativecommon.BaseParams / 1000),
		HAFeesWithdraw:             feecurve.Constant(nativecommon.BaseParams / 1000),
		CollateralBase:             base,
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	out := p
	out.KeeperFeesLiquidationCap = nativecommon.CopyBig(p.KeeperFeesLiquidationCap)
	out.KeeperFeesClosingCap = nativecommon.CopyBig(p.KeeperFeesClosingCap)
	out.CollateralBase = nativecommon.CopyBig(p.CollateralBase)
	out.HAFeesDeposit = p.HAFeesDeposit.Clone()
	out.HAFeesWithdraw = p.HAFeesWithdraw.Clone()
	return out
}

// Validate ensures the parameters are internally consistent.
func (p Params) Validate() error {
	if p.MaxLeverage < nativecommon.BaseParams {
		return fmt.Errorf("%w: max leverage below 1x", ErrInvalidParams)
	}
	if p.MaintenanceMargin == 0 || p.MaintenanceMargin > nativecommon.BaseParams {
		return fmt.Errorf("%w: maintenance margin must be in (0, 1]", ErrInvalidParams)
	}
	if err := validateHedge(p.TargetHAHedge, p.LimitHAHedge); err != nil {
		return err
	}
	if p.KeeperFeesLiquidationRatio > nativecommon.BaseParams || p.KeeperFeesClosingRatio > nativecommon.BaseParams {
		return fmt.Errorf("%w: keeper fee ratio above 100%%", ErrInvalidParams)
	}
	if err := validateCap(p.KeeperFeesLiquidationCap); err != nil {
		return err
	}
	if err := validateCap(p.KeeperFeesClosingCap); err != nil {
		return err
	}
	if err := validateFeeSchedule(p.HAFeesDeposit); err != nil {
		return err
	}
	if err := validateFeeSchedule(p.HAFeesWithdraw); err != nil {
		return err
	}
	if p.CollateralBase == nil || p.CollateralBase.Sign() <= 0 {
		return fmt.Errorf("%w: collateral base must be positive", ErrInvalidParams)
	}
	return nil
}

func validateHedge(target, limit uint64) error {
	if target > limit || limit > nativecommon.BaseParams {
		return fmt.Errorf("%w: require target <= limit <= 100%%", ErrInvalidParams)
	}
	return nil
}

func validateCap(cap *big.Int) error {
	if cap == nil || cap.Sign() < 0 {
		return fmt.Errorf("%w: keeper fee cap must be non-negative", ErrInvalidParams)
	}
	return nil
}

func validateFeeSchedule(s feecurve.Schedule) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	for _, v := range s.Values {
		if v > nativecommon.BaseParams {
			return fmt.Errorf("%w: fee value above 100%%", ErrInvalidParams)
		}
	}
	return nil
}
