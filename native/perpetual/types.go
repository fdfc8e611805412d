package perpetual

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	nativecommon "hedgeline/native/common"
)

// Perpetual is an open hedging position. Margin and Committed are collateral
// base units; EntryRate is the 1e18-scaled oracle rate the position was last
// re-based at.
type Perpetual struct {
	ID             uint64            `json:"id"`
	Owner          ethcommon.Address `json:"owner"`
	Approved       ethcommon.Address `json:"approved"`
	Margin         *big.Int          `json:"margin"`
	Committed      *big.Int          `json:"committed"`
	EntryRate      *big.Int          `json:"entryRate"`
	EntryTimestamp uint64            `json:"entryTimestamp"`
	CreatedAt      uint64            `json:"createdAt"`
}

// Clone returns a deep copy of the position.
func (p *Perpetual) Clone() *Perpetual {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Margin = nativecommon.CopyBig(p.Margin)
	clone.Committed = nativecommon.CopyBig(p.Committed)
	clone.EntryRate = nativecommon.CopyBig(p.EntryRate)
	return &clone
}

// Leverage returns committed/margin in BaseParams. A zero margin reports zero.
func (p *Perpetual) Leverage() uint64 {
	if p == nil || p.Margin == nil || p.Margin.Sign() == 0 {
		return 0
	}
	lev := nativecommon.MulDiv(p.Committed, nativecommon.BaseParamsInt(), p.Margin)
	if !lev.IsUint64() {
		return ^uint64(0)
	}
	return lev.Uint64()
}

// Globals aggregates open interest across every position.
type Globals struct {
	NextID      uint64   `json:"nextId"`
	Open        uint64   `json:"open"`
	TotalHedge  *big.Int `json:"totalHedge"`
	TotalMargin *big.Int `json:"totalMargin"`
}

// Clone returns a deep copy of the aggregates.
func (g *Globals) Clone() *Globals {
	if g == nil {
		return nil
	}
	return &Globals{
		NextID:      g.NextID,
		Open:        g.Open,
		TotalHedge:  nativecommon.CopyBig(g.TotalHedge),
		TotalMargin: nativecommon.CopyBig(g.TotalMargin),
	}
}

func newGlobals() *Globals {
	return &Globals{NextID: 1, TotalHedge: big.NewInt(0), TotalMargin: big.NewInt(0)}
}

// OperatorGrant records an ERC721-style operator approval.
type OperatorGrant struct {
	Owner    ethcommon.Address
	Operator ethcommon.Address
	Approved bool
}

// LiquidationResult summarises a keeper liquidation batch.
type LiquidationResult struct {
	Liquidated []uint64 `json:"liquidated"`
	Skipped    []uint64 `json:"skipped"`
	KeeperFee  *big.Int `json:"keeperFee"`
	Proceeds   *big.Int `json:"proceeds"`
	Rate       *big.Int `json:"rate"`
}

// ForceCashOutResult summarises a forced close-out batch.
type ForceCashOutResult struct {
	Closed         []uint64 `json:"closed"`
	Liquidated     []uint64 `json:"liquidated"`
	Skipped        []uint64 `json:"skipped"`
	KeeperFee      *big.Int `json:"keeperFee"`
	Payouts        *big.Int `json:"payouts"`
	Rate           *big.Int `json:"rate"`
	CoverageBefore uint64   `json:"coverageBefore"`
	CoverageAfter  uint64   `json:"coverageAfter"`
}

// CashOutQuote is the settlement preview returned by GetCashOutAmount.
type CashOutQuote struct {
	CashOut            *big.Int `json:"cashOut"`
	ReachedMaintenance bool     `json:"reachedMaintenance"`
}
