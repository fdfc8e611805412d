package perpetual

import (
	"context"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

// CreatePerpetual opens a position for owner. The entry rate is the upper
// oracle rate; the call fails with ErrSlippageExceeded when it is above
// maxOracleRate (nil disables the bound). The deposit fee is taken from
// margin before the leverage check.
func (e *Engine) CreatePerpetual(ctx context.Context, owner ethcommon.Address, margin, committed, maxOracleRate *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if owner == (ethcommon.Address{}) {
		return 0, ErrZeroAddress
	}
	if margin == nil || committed == nil || margin.Sign() <= 0 || committed.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return 0, err
	}
	rate := reading.Upper()
	if maxOracleRate != nil && rate.Cmp(maxOracleRate) > 0 {
		return 0, fmt.Errorf("%w: rate %s above max %s", ErrSlippageExceeded, rate, maxOracleRate)
	}
	stocks, err := e.stocksUsers()
	if err != nil {
		return 0, err
	}

	tx := e.begin()
	hedge := hedgeValue(committed, rate, e.params.CollateralBase)
	totalAfter := new(big.Int).Add(tx.globals.TotalHedge, hedge)
	limit := nativecommon.ApplyRatio(stocks, e.params.LimitHAHedge)
	if totalAfter.Cmp(limit) > 0 {
		return 0, ErrHedgeLimit
	}

	depositMult, _ := e.multipliers()
	coverage := coverageRatio(totalAfter, stocks)
	fee := feeAmount(committed, e.params.HAFeesDeposit.Interpolate(coverage), depositMult)
	if fee.Cmp(margin) >= 0 {
		return 0, fmt.Errorf("%w: margin does not cover the entry fee", ErrInvalidAmount)
	}
	net := new(big.Int).Sub(margin, fee)
	if !leverageOK(net, committed, e.params.MaxLeverage) {
		return 0, ErrLeverageExceeded
	}

	at := e.now()
	id := tx.globals.NextID
	tx.globals.NextID++
	p := &Perpetual{
		ID:             id,
		Owner:          owner,
		Margin:         net,
		Committed:      new(big.Int).Set(committed),
		EntryRate:      rate,
		EntryTimestamp: at,
		CreatedAt:      at,
	}
	tx.open(p)
	tx.fees.Add(tx.fees, fee)
	tx.emit(events.PerpetualTransfer{ID: id, To: owner})
	tx.emit(events.PerpetualCreated{ID: id, Owner: owner, Margin: net, Committed: p.Committed, EntryRate: rate, Fee: fee})
	if err := tx.commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// AddToPerpetual tops up a position. Unrealised PnL at the lower rate is folded
// into the margin and the entry rate is reset to that rate.
func (e *Engine) AddToPerpetual(ctx context.Context, caller ethcommon.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	tx := e.begin()
	p, ok := tx.get(id)
	if !ok {
		return ErrNotFound
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return err
	}
	rate := reading.Lower()
	cashOut, liquidatable := cashOutAmount(p, rate, e.params.MaintenanceMargin)
	if liquidatable {
		return ErrPositionUnderwater
	}
	margin := new(big.Int).Add(cashOut, amount)
	if !leverageOK(margin, p.Committed, e.params.MaxLeverage) {
		return ErrLeverageExceeded
	}
	tx.rebase(p, margin, rate, e.now())
	tx.emit(events.PerpetualUpdated{ID: id, Action: "add", Amount: amount, Margin: p.Margin, EntryRate: rate})
	return tx.commit()
}

// RemoveFromPerpetual withdraws amount of margin. The lock time is checked
// before anything about the amount so an early withdrawal always reports
// ErrLockActive.
func (e *Engine) RemoveFromPerpetual(ctx context.Context, caller ethcommon.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	tx := e.begin()
	p, ok := tx.get(id)
	if !ok {
		return ErrNotFound
	}
	if !e.isApprovedOrOwner(caller, p) {
		return ErrUnauthorized
	}
	at := e.now()
	if lockActive(at, p.CreatedAt, e.params.LockTime) {
		return ErrLockActive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return err
	}
	rate := reading.Lower()
	cashOut, liquidatable := cashOutAmount(p, rate, e.params.MaintenanceMargin)
	if liquidatable {
		return ErrPositionUnderwater
	}
	margin := new(big.Int).Sub(cashOut, amount)
	if !leverageOK(margin, p.Committed, e.params.MaxLeverage) {
		return ErrLeverageExceeded
	}
	tx.rebase(p, margin, rate, at)
	if _, under := cashOutAmount(p, rate, e.params.MaintenanceMargin); under {
		return ErrPositionUnderwater
	}
	tx.emit(events.PerpetualUpdated{ID: id, Action: "remove", Amount: amount, Margin: p.Margin, EntryRate: rate})
	return tx.commit()
}

// CashOutPerpetual closes a position at the lower rate and returns the amount
// paid to to. A position found liquidatable is closed as a liquidation with no
// keeper reward and a zero payout.
func (e *Engine) CashOutPerpetual(ctx context.Context, caller ethcommon.Address, id uint64, to ethcommon.Address, minOracleRate *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if to == (ethcommon.Address{}) {
		return nil, ErrZeroAddress
	}
	tx := e.begin()
	p, ok := tx.view(id)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.isApprovedOrOwner(caller, p) {
		return nil, ErrUnauthorized
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return nil, err
	}
	rate := reading.Lower()
	if minOracleRate != nil && rate.Cmp(minOracleRate) < 0 {
		return nil, fmt.Errorf("%w: rate %s below min %s", ErrSlippageExceeded, rate, minOracleRate)
	}
	cashOut, liquidatable := cashOutAmount(p, rate, e.params.MaintenanceMargin)
	if liquidatable {
		tx.close(p)
		tx.proceeds.Add(tx.proceeds, cashOut)
		tx.emit(events.PerpetualTransfer{ID: id, From: p.Owner})
		tx.emit(events.PerpetualLiquidated{ID: id, Owner: p.Owner, Rate: rate, CashOut: cashOut, KeeperFee: big.NewInt(0), Proceeds: cashOut})
		if err := tx.commit(); err != nil {
			return nil, err
		}
		return big.NewInt(0), nil
	}
	if lockActive(e.now(), p.CreatedAt, e.params.LockTime) {
		return nil, ErrLockActive
	}

	stocks, err := e.stocksUsers()
	if err != nil {
		return nil, err
	}
	tx.close(p)
	_, withdrawMult := e.multipliers()
	coverage := coverageRatio(tx.globals.TotalHedge, stocks)
	fee := nativecommon.MinBig(feeAmount(p.Committed, e.params.HAFeesWithdraw.Interpolate(coverage), withdrawMult), cashOut)
	payout := new(big.Int).Sub(cashOut, fee)
	tx.fees.Add(tx.fees, fee)
	tx.emit(events.PerpetualTransfer{ID: id, From: p.Owner})
	tx.emit(events.PerpetualCashedOut{ID: id, Owner: p.Owner, To: to, Rate: rate, Payout: payout, Fee: fee})
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return payout, nil
}

// GetCashOutAmount previews the settlement of position id at rate.
func (e *Engine) GetCashOutAmount(id uint64, rate *big.Int) (CashOutQuote, error) {
	if rate == nil || rate.Sign() <= 0 {
		return CashOutQuote{}, ErrInvalidAmount
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.perps[id]
	if !ok {
		return CashOutQuote{}, ErrNotFound
	}
	cashOut, reached := cashOutAmount(p, rate, e.params.MaintenanceMargin)
	return CashOutQuote{CashOut: cashOut, ReachedMaintenance: reached}, nil
}

// IsLiquidatable evaluates position id against the current lower rate.
func (e *Engine) IsLiquidatable(ctx context.Context, id uint64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.perps[id]
	if !ok {
		return false, ErrNotFound
	}
	reading, err := e.readRates(ctx)
	if err != nil {
		return false, err
	}
	_, liquidatable := cashOutAmount(p, reading.Lower(), e.params.MaintenanceMargin)
	return liquidatable, nil
}

// lockActive reports whether a position opened at createdAt is still inside
// the holding period at time at.
func lockActive(at, createdAt, lockTime uint64) bool {
	if at < createdAt {
		return true
	}
	return at-createdAt < lockTime
}
