package events

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/types"
)

const (
	TypePerpetualCreated    = "perpetual.created"
	TypePerpetualUpdated    = "perpetual.updated"
	TypePerpetualCashedOut  = "perpetual.cashed_out"
	TypePerpetualLiquidated = "perpetual.liquidated"
	TypePerpetualForced     = "perpetual.force_closed"
	TypePerpetualTransfer   = "perpetual.transfer"
	TypePerpetualApproval   = "perpetual.approval"
	TypePerpetualOperator   = "perpetual.operator"
	TypePerpetualParams     = "perpetual.params"
	TypePerpetualReward     = "perpetual.reward"
)

// PerpetualCreated is emitted when a hedging agent opens a position.
type PerpetualCreated struct {
	ID        uint64
	Owner     ethcommon.Address
	Margin    *big.Int
	Committed *big.Int
	EntryRate *big.Int
	Fee       *big.Int
}

func (PerpetualCreated) EventType() string { return TypePerpetualCreated }

func (e PerpetualCreated) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualCreated,
		Attributes: map[string]string{
			"id":        idString(e.ID),
			"owner":     addrString(e.Owner),
			"margin":    bigString(e.Margin),
			"committed": bigString(e.Committed),
			"entryRate": bigString(e.EntryRate),
			"fee":       bigString(e.Fee),
		},
	}
}

// PerpetualUpdated is emitted when margin is added or removed.
type PerpetualUpdated struct {
	ID        uint64
	Action    string
	Amount    *big.Int
	Margin    *big.Int
	EntryRate *big.Int
}

func (PerpetualUpdated) EventType() string { return TypePerpetualUpdated }

func (e PerpetualUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualUpdated,
		Attributes: map[string]string{
			"id":        idString(e.ID),
			"action":    e.Action,
			"amount":    bigString(e.Amount),
			"margin":    bigString(e.Margin),
			"entryRate": bigString(e.EntryRate),
		},
	}
}

// PerpetualCashedOut is emitted when the owner closes a position.
type PerpetualCashedOut struct {
	ID     uint64
	Owner  ethcommon.Address
	To     ethcommon.Address
	Rate   *big.Int
	Payout *big.Int
	Fee    *big.Int
}

func (PerpetualCashedOut) EventType() string { return TypePerpetualCashedOut }

func (e PerpetualCashedOut) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualCashedOut,
		Attributes: map[string]string{
			"id":     idString(e.ID),
			"owner":  addrString(e.Owner),
			"to":     addrString(e.To),
			"rate":   bigString(e.Rate),
			"payout": bigString(e.Payout),
			"fee":    bigString(e.Fee),
		},
	}
}

// PerpetualLiquidated is emitted for every position closed by a keeper or by
// an owner cash-out that found the position underwater.
type PerpetualLiquidated struct {
	ID        uint64
	Owner     ethcommon.Address
	Keeper    ethcommon.Address
	Rate      *big.Int
	CashOut   *big.Int
	KeeperFee *big.Int
	Proceeds  *big.Int
}

func (PerpetualLiquidated) EventType() string { return TypePerpetualLiquidated }

func (e PerpetualLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualLiquidated,
		Attributes: map[string]string{
			"id":        idString(e.ID),
			"owner":     addrString(e.Owner),
			"keeper":    addrString(e.Keeper),
			"rate":      bigString(e.Rate),
			"cashOut":   bigString(e.CashOut),
			"keeperFee": bigString(e.KeeperFee),
			"proceeds":  bigString(e.Proceeds),
		},
	}
}

// PerpetualForceClosed is emitted when a keeper closes a healthy position to
// bring hedge coverage back under target.
type PerpetualForceClosed struct {
	ID        uint64
	Owner     ethcommon.Address
	Keeper    ethcommon.Address
	Rate      *big.Int
	Payout    *big.Int
	KeeperFee *big.Int
}

func (PerpetualForceClosed) EventType() string { return TypePerpetualForced }

func (e PerpetualForceClosed) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualForced,
		Attributes: map[string]string{
			"id":        idString(e.ID),
			"owner":     addrString(e.Owner),
			"keeper":    addrString(e.Keeper),
			"rate":      bigString(e.Rate),
			"payout":    bigString(e.Payout),
			"keeperFee": bigString(e.KeeperFee),
		},
	}
}

// PerpetualTransfer mirrors the ERC721 Transfer log. Mints use a zero From and
// burns a zero To.
type PerpetualTransfer struct {
	ID   uint64
	From ethcommon.Address
	To   ethcommon.Address
}

func (PerpetualTransfer) EventType() string { return TypePerpetualTransfer }

func (e PerpetualTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualTransfer,
		Attributes: map[string]string{
			"id":   idString(e.ID),
			"from": addrString(e.From),
			"to":   addrString(e.To),
		},
	}
}

type PerpetualApproval struct {
	ID       uint64
	Owner    ethcommon.Address
	Approved ethcommon.Address
}

func (PerpetualApproval) EventType() string { return TypePerpetualApproval }

func (e PerpetualApproval) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualApproval,
		Attributes: map[string]string{
			"id":       idString(e.ID),
			"owner":    addrString(e.Owner),
			"approved": addrString(e.Approved),
		},
	}
}

type PerpetualOperator struct {
	Owner    ethcommon.Address
	Operator ethcommon.Address
	Approved bool
}

func (PerpetualOperator) EventType() string { return TypePerpetualOperator }

func (e PerpetualOperator) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualOperator,
		Attributes: map[string]string{
			"owner":    addrString(e.Owner),
			"operator": addrString(e.Operator),
			"approved": strconv.FormatBool(e.Approved),
		},
	}
}

// PerpetualParams records a governance parameter change.
type PerpetualParams struct {
	Caller ethcommon.Address
	Name   string
	Values map[string]string
}

func (PerpetualParams) EventType() string { return TypePerpetualParams }

func (e PerpetualParams) Event() *types.Event {
	attrs := map[string]string{
		"caller": addrString(e.Caller),
		"name":   e.Name,
	}
	for k, v := range e.Values {
		attrs[k] = v
	}
	return &types.Event{Type: TypePerpetualParams, Attributes: attrs}
}

// PerpetualReward is emitted when accrued rewards are claimed for a position.
type PerpetualReward struct {
	ID     uint64
	To     ethcommon.Address
	Amount *big.Int
}

func (PerpetualReward) EventType() string { return TypePerpetualReward }

func (e PerpetualReward) Event() *types.Event {
	return &types.Event{
		Type: TypePerpetualReward,
		Attributes: map[string]string{
			"id":     idString(e.ID),
			"to":     addrString(e.To),
			"amount": bigString(e.Amount),
		},
	}
}
