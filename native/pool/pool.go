package pool

import (
	"errors"
	"math/big"
	"sync"

	nativecommon "hedgeline/native/common"
)

var errNegativeAmount = errors.New("pool: amount must be non-negative")

// Pool is an in-memory stand-in for the collateral pool that backs stablecoin
// issuance. It tracks the aggregates the perpetual ledger reads and
// accumulates the proceeds the ledger reports back.
type Pool struct {
	mu                 sync.RWMutex
	balance            *big.Int
	totalManagedAssets *big.Int
	stocksUsers        *big.Int
	estimatedAPR       uint64
	proceeds           *big.Int
	fees               *big.Int
}

// Snapshot is a point-in-time view of the pool aggregates.
type Snapshot struct {
	Balance            *big.Int `json:"balance"`
	TotalManagedAssets *big.Int `json:"totalManagedAssets"`
	StocksUsers        *big.Int `json:"stocksUsers"`
	EstimatedAPR       uint64   `json:"estimatedApr"`
	Proceeds           *big.Int `json:"proceeds"`
	Fees               *big.Int `json:"fees"`
}

// New constructs an empty pool.
func New() *Pool {
	return &Pool{
		balance:            big.NewInt(0),
		totalManagedAssets: big.NewInt(0),
		stocksUsers:        big.NewInt(0),
		proceeds:           big.NewInt(0),
		fees:               big.NewInt(0),
	}
}

// Balance returns the collateral held directly by the pool.
func (p *Pool) Balance() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.balance)
}

// TotalManagedAssets returns collateral held plus collateral lent to strategies.
func (p *Pool) TotalManagedAssets() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.totalManagedAssets)
}

// EstimatedAPR returns the strategy yield estimate in BaseParams.
func (p *Pool) EstimatedAPR() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.estimatedAPR
}

// StocksUsers returns the stable value brought by users, the amount hedging
// agents are meant to cover.
func (p *Pool) StocksUsers() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.stocksUsers)
}

// ReportPerpetualProceeds credits collateral recovered from closed positions.
func (p *Pool) ReportPerpetualProceeds(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	p.proceeds.Add(p.proceeds, amount)
	p.balance.Add(p.balance, amount)
	p.totalManagedAssets.Add(p.totalManagedAssets, amount)
	p.mu.Unlock()
}

// ReportPerpetualFees credits fees retained when positions are opened or closed.
func (p *Pool) ReportPerpetualFees(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	p.fees.Add(p.fees, amount)
	p.balance.Add(p.balance, amount)
	p.totalManagedAssets.Add(p.totalManagedAssets, amount)
	p.mu.Unlock()
}

// SetStocksUsers overrides the user stock aggregate.
func (p *Pool) SetStocksUsers(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errNegativeAmount
	}
	p.mu.Lock()
	p.stocksUsers = new(big.Int).Set(amount)
	p.mu.Unlock()
	return nil
}

// Deposit records a user deposit of collateral worth stableValue.
func (p *Pool) Deposit(collateral, stableValue *big.Int) error {
	if collateral == nil || stableValue == nil || collateral.Sign() < 0 || stableValue.Sign() < 0 {
		return errNegativeAmount
	}
	p.mu.Lock()
	p.balance.Add(p.balance, collateral)
	p.totalManagedAssets.Add(p.totalManagedAssets, collateral)
	p.stocksUsers.Add(p.stocksUsers, stableValue)
	p.mu.Unlock()
	return nil
}

// SetEstimatedAPR records the yield estimate.
func (p *Pool) SetEstimatedAPR(apr uint64) {
	p.mu.Lock()
	p.estimatedAPR = apr
	p.mu.Unlock()
}

// Snapshot returns copies of every aggregate.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Balance:            nativecommon.CopyBig(p.balance),
		TotalManagedAssets: nativecommon.CopyBig(p.totalManagedAssets),
		StocksUsers:        nativecommon.CopyBig(p.stocksUsers),
		EstimatedAPR:       p.estimatedAPR,
		Proceeds:           nativecommon.CopyBig(p.proceeds),
		Fees:               nativecommon.CopyBig(p.fees),
	}
}
