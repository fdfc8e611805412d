package perpetual

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

// RewardAccrual is the pluggable reward strategy. The ledger notifies it after
// every committed open and close; rewards accrued by a position are claimed
// on its behalf when it closes.
type RewardAccrual interface {
	Open(id uint64, committed *big.Int, at uint64)
	Close(id uint64, at uint64)
	Earned(id uint64, at uint64) *big.Int
	Claim(id uint64, at uint64) *big.Int
}

type noopAccrual struct{}

func (noopAccrual) Open(uint64, *big.Int, uint64)  {}
func (noopAccrual) Close(uint64, uint64)           {}
func (noopAccrual) Earned(uint64, uint64) *big.Int { return big.NewInt(0) }
func (noopAccrual) Claim(uint64, uint64) *big.Int  { return big.NewInt(0) }

// Earned returns the rewards accrued so far by position id.
func (e *Engine) Earned(id uint64) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.perps[id]; !ok {
		return nil, ErrNotFound
	}
	return nativecommon.CopyBig(e.rewards.Earned(id, e.now())), nil
}

// GetReward claims the rewards of position id for its owner.
func (e *Engine) GetReward(caller ethcommon.Address, id uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleRewards); err != nil {
		return nil, err
	}
	p, ok := e.perps[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.isApprovedOrOwner(caller, p) {
		return nil, ErrUnauthorized
	}
	amount := nativecommon.CopyBig(e.rewards.Claim(id, e.now()))
	if amount.Sign() > 0 {
		e.emitter.Emit(events.PerpetualReward{ID: id, To: p.Owner, Amount: amount})
	}
	return amount, nil
}
