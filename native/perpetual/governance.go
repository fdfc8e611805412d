package perpetual

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	"hedgeline/native/feecurve"
)

// updateParams authorises caller, applies mutate to a copy of the parameters,
// validates the result and commits it.
func (e *Engine) updateParams(caller ethcommon.Address, name string, mutate func(*Params), values map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gov == nil {
		return ErrUnauthorized
	}
	if err := e.gov.Authorize(caller); err != nil {
		return err
	}
	next := e.params.Clone()
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	tx := e.begin()
	tx.params = &next
	tx.emit(events.PerpetualParams{Caller: caller, Name: name, Values: values})
	return tx.commit()
}

func fmtUint(v uint64) string { return strconv.FormatUint(v, 10) }

// SetBoundsPerpetual updates the maximum leverage and maintenance margin.
func (e *Engine) SetBoundsPerpetual(caller ethcommon.Address, maxLeverage, maintenanceMargin uint64) error {
	return e.updateParams(caller, "bounds", func(p *Params) {
		p.MaxLeverage = maxLeverage
		p.MaintenanceMargin = maintenanceMargin
	}, map[string]string{"maxLeverage": fmtUint(maxLeverage), "maintenanceMargin": fmtUint(maintenanceMargin)})
}

// SetTargetAndLimitHAHedge updates the coverage target and the force-close limit.
func (e *Engine) SetTargetAndLimitHAHedge(caller ethcommon.Address, target, limit uint64) error {
	return e.updateParams(caller, "hedge", func(p *Params) {
		p.TargetHAHedge = target
		p.LimitHAHedge = limit
	}, map[string]string{"target": fmtUint(target), "limit": fmtUint(limit)})
}

// SetKeeperFeesLiquidationRatio updates the share of cash-out paid to liquidators.
func (e *Engine) SetKeeperFeesLiquidationRatio(caller ethcommon.Address, ratio uint64) error {
	return e.updateParams(caller, "keeperFeesLiquidationRatio", func(p *Params) {
		p.KeeperFeesLiquidationRatio = ratio
	}, map[string]string{"ratio": fmtUint(ratio)})
}

// SetKeeperFeesClosingRatio updates the share of cash-out paid to force-closers.
func (e *Engine) SetKeeperFeesClosingRatio(caller ethcommon.Address, ratio uint64) error {
	return e.updateParams(caller, "keeperFeesClosingRatio", func(p *Params) {
		p.KeeperFeesClosingRatio = ratio
	}, map[string]string{"ratio": fmtUint(ratio)})
}

// SetKeeperFeesCap updates the per-position keeper fee caps.
func (e *Engine) SetKeeperFeesCap(caller ethcommon.Address, liquidationCap, closingCap *big.Int) error {
	if liquidationCap == nil || closingCap == nil {
		return ErrInvalidParams
	}
	return e.updateParams(caller, "keeperFeesCap", func(p *Params) {
		p.KeeperFeesLiquidationCap = new(big.Int).Set(liquidationCap)
		p.KeeperFeesClosingCap = new(big.Int).Set(closingCap)
	}, map[string]string{"liquidationCap": liquidationCap.String(), "closingCap": closingCap.String()})
}

// SetKeeperFees applies any subset of the keeper fee ratios and caps in one
// update. Nil arguments keep the current value.
func (e *Engine) SetKeeperFees(caller ethcommon.Address, liquidationRatio, closingRatio *uint64, liquidationCap, closingCap *big.Int) error {
	if liquidationRatio == nil && closingRatio == nil && liquidationCap == nil && closingCap == nil {
		return ErrInvalidParams
	}
	values := make(map[string]string, 4)
	if liquidationRatio != nil {
		values["liquidationRatio"] = fmtUint(*liquidationRatio)
	}
	if closingRatio != nil {
		values["closingRatio"] = fmtUint(*closingRatio)
	}
	if liquidationCap != nil {
		values["liquidationCap"] = liquidationCap.String()
	}
	if closingCap != nil {
		values["closingCap"] = closingCap.String()
	}
	return e.updateParams(caller, "keeperFees", func(p *Params) {
		if liquidationRatio != nil {
			p.KeeperFeesLiquidationRatio = *liquidationRatio
		}
		if closingRatio != nil {
			p.KeeperFeesClosingRatio = *closingRatio
		}
		if liquidationCap != nil {
			p.KeeperFeesLiquidationCap = new(big.Int).Set(liquidationCap)
		}
		if closingCap != nil {
			p.KeeperFeesClosingCap = new(big.Int).Set(closingCap)
		}
	}, values)
}

// SetLockTime updates the minimum holding period before margin can be withdrawn.
func (e *Engine) SetLockTime(caller ethcommon.Address, seconds uint64) error {
	return e.updateParams(caller, "lockTime", func(p *Params) {
		p.LockTime = seconds
	}, map[string]string{"lockTime": fmtUint(seconds)})
}

// SetHAFees replaces the deposit (deposit=true) or withdraw fee schedule.
func (e *Engine) SetHAFees(caller ethcommon.Address, schedule feecurve.Schedule, deposit bool) error {
	kind := "withdraw"
	if deposit {
		kind = "deposit"
	}
	return e.updateParams(caller, "haFees", func(p *Params) {
		if deposit {
			p.HAFeesDeposit = schedule.Clone()
		} else {
			p.HAFeesWithdraw = schedule.Clone()
		}
	}, map[string]string{"kind": kind, "points": strconv.Itoa(len(schedule.Thresholds))})
}
