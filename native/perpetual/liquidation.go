package perpetual

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

// LiquidatePerpetuals closes every position in ids whose cash-out at the lower
// rate is below the maintenance margin. Unknown, closed, healthy and repeated
// ids are skipped. The keeper earns min(cashOut*ratio, cap) per position and
// the remainder is reported to the collateral pool. When nothing qualifies
// the call fails with ErrNotEligible and no state changes.
func (e *Engine) LiquidatePerpetuals(ctx context.Context, keeper ethcommon.Address, ids []uint64) (LiquidationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return LiquidationResult{}, err
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return LiquidationResult{}, err
	}
	rate := reading.Lower()
	result := LiquidationResult{KeeperFee: big.NewInt(0), Proceeds: big.NewInt(0), Rate: rate}
	tx := e.begin()
	for _, id := range ids {
		p, ok := tx.view(id)
		if !ok {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		cashOut, liquidatable := cashOutAmount(p, rate, e.params.MaintenanceMargin)
		if !liquidatable {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		fee := keeperFee(cashOut, e.params.KeeperFeesLiquidationRatio, e.params.KeeperFeesLiquidationCap)
		proceeds := new(big.Int).Sub(cashOut, fee)
		tx.close(p)
		tx.proceeds.Add(tx.proceeds, proceeds)
		result.KeeperFee.Add(result.KeeperFee, fee)
		result.Proceeds.Add(result.Proceeds, proceeds)
		result.Liquidated = append(result.Liquidated, id)
		tx.emit(events.PerpetualTransfer{ID: id, From: p.Owner})
		tx.emit(events.PerpetualLiquidated{ID: id, Owner: p.Owner, Keeper: keeper, Rate: rate, CashOut: cashOut, KeeperFee: fee, Proceeds: proceeds})
	}
	if len(result.Liquidated) == 0 {
		return LiquidationResult{}, ErrNotEligible
	}
	if err := tx.commit(); err != nil {
		return LiquidationResult{}, err
	}
	return result, nil
}

// ForceCashOutPerpetuals closes healthy positions at the upper rate while the
// hedge coverage exceeds LimitHAHedge, stopping once it is back at or below
// TargetHAHedge. The call fails with ErrNotEligible when coverage is within
// the limit or when none of ids could be closed.
func (e *Engine) ForceCashOutPerpetuals(ctx context.Context, keeper ethcommon.Address, ids []uint64) (ForceCashOutResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return ForceCashOutResult{}, err
	}
	stocks, err := e.stocksUsers()
	if err != nil {
		return ForceCashOutResult{}, err
	}
	before := coverageRatio(e.globals.TotalHedge, stocks)
	if before <= e.params.LimitHAHedge {
		return ForceCashOutResult{}, ErrNotEligible
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return ForceCashOutResult{}, err
	}
	rate := reading.Upper()
	result := ForceCashOutResult{KeeperFee: big.NewInt(0), Payouts: big.NewInt(0), Rate: rate, CoverageBefore: before}
	target := nativecommon.ApplyRatio(stocks, e.params.TargetHAHedge)
	tx := e.begin()
	for i, id := range ids {
		if tx.globals.TotalHedge.Cmp(target) <= 0 {
			result.Skipped = append(result.Skipped, ids[i:]...)
			break
		}
		p, ok := tx.view(id)
		if !ok {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		cashOut, liquidatable := cashOutAmount(p, rate, e.params.MaintenanceMargin)
		tx.close(p)
		tx.emit(events.PerpetualTransfer{ID: id, From: p.Owner})
		if liquidatable {
			fee := keeperFee(cashOut, e.params.KeeperFeesLiquidationRatio, e.params.KeeperFeesLiquidationCap)
			proceeds := new(big.Int).Sub(cashOut, fee)
			tx.proceeds.Add(tx.proceeds, proceeds)
			result.KeeperFee.Add(result.KeeperFee, fee)
			result.Liquidated = append(result.Liquidated, id)
			tx.emit(events.PerpetualLiquidated{ID: id, Owner: p.Owner, Keeper: keeper, Rate: rate, CashOut: cashOut, KeeperFee: fee, Proceeds: proceeds})
			continue
		}
		fee := keeperFee(cashOut, e.params.KeeperFeesClosingRatio, e.params.KeeperFeesClosingCap)
		payout := new(big.Int).Sub(cashOut, fee)
		result.KeeperFee.Add(result.KeeperFee, fee)
		result.Payouts.Add(result.Payouts, payout)
		result.Closed = append(result.Closed, id)
		tx.emit(events.PerpetualForceClosed{ID: id, Owner: p.Owner, Keeper: keeper, Rate: rate, Payout: payout, KeeperFee: fee})
	}
	if len(result.Closed)+len(result.Liquidated) == 0 {
		return ForceCashOutResult{}, ErrNotEligible
	}
	result.CoverageAfter = coverageRatio(tx.globals.TotalHedge, stocks)
	if err := tx.commit(); err != nil {
		return ForceCashOutResult{}, err
	}
	return result, nil
}
