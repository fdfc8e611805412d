package perpetual

import (
	"math/big"

	nativecommon "hedgeline/native/common"
)

// cashOutAmount settles p at rate. The position is long collateral: the
// committed amount bought at EntryRate is worth committed*EntryRate/rate
// collateral once the hedge is unwound, and the remainder of
// committed+margin is returned. The boolean reports that the cash-out fell
// strictly below the maintenance fraction of the committed amount.
func cashOutAmount(p *Perpetual, rate *big.Int, maintenanceMargin uint64) (*big.Int, bool) {
	if rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0), true
	}
	newCommit := nativecommon.MulDiv(p.Committed, p.EntryRate, rate)
	total := new(big.Int).Add(p.Committed, p.Margin)
	if newCommit.Cmp(total) >= 0 {
		return big.NewInt(0), true
	}
	cashOut := total.Sub(total, newCommit)
	threshold := new(big.Int).Mul(p.Committed, new(big.Int).SetUint64(maintenanceMargin))
	scaled := new(big.Int).Mul(cashOut, nativecommon.BaseParamsInt())
	return cashOut, scaled.Cmp(threshold) < 0
}

// leverageOK reports whether margin <= committed <= margin*maxLeverage.
func leverageOK(margin, committed *big.Int, maxLeverage uint64) bool {
	if margin == nil || committed == nil || margin.Sign() <= 0 || committed.Sign() <= 0 {
		return false
	}
	if committed.Cmp(margin) < 0 {
		return false
	}
	lhs := new(big.Int).Mul(committed, nativecommon.BaseParamsInt())
	rhs := new(big.Int).Mul(margin, new(big.Int).SetUint64(maxLeverage))
	return lhs.Cmp(rhs) <= 0
}

// hedgeValue converts committed collateral to stable units at rate.
func hedgeValue(committed, rate, collateralBase *big.Int) *big.Int {
	return nativecommon.MulDiv(committed, rate, collateralBase)
}

// coverageRatio returns totalHedge/stocksUsers in BaseParams. With no user
// stock any outstanding hedge reports full saturation.
func coverageRatio(totalHedge, stocksUsers *big.Int) uint64 {
	if totalHedge == nil || totalHedge.Sign() <= 0 {
		return 0
	}
	if stocksUsers == nil || stocksUsers.Sign() <= 0 {
		return ^uint64(0)
	}
	ratio := nativecommon.MulDiv(totalHedge, nativecommon.BaseParamsInt(), stocksUsers)
	if !ratio.IsUint64() {
		return ^uint64(0)
	}
	return ratio.Uint64()
}

// feeAmount applies a curve value and a multiplier, both in BaseParams, to amount.
func feeAmount(amount *big.Int, curveValue, multiplier uint64) *big.Int {
	fee := nativecommon.ApplyRatio(amount, curveValue)
	return nativecommon.ApplyRatio(fee, multiplier)
}

// keeperFee returns min(amount*ratio, cap).
func keeperFee(amount *big.Int, ratio uint64, cap *big.Int) *big.Int {
	fee := nativecommon.ApplyRatio(amount, ratio)
	if cap != nil && fee.Cmp(cap) > 0 {
		return new(big.Int).Set(cap)
	}
	return fee
}
