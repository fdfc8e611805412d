package perpetual

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

var (
	errApproveToOwner  = errors.New("perpetual: approval to current owner")
	errApproveToCaller = errors.New("perpetual: operator is the caller")
	errWrongOwner      = errors.New("perpetual: transfer from incorrect owner")
)

// OwnerOf returns the owner of an open position.
func (e *Engine) OwnerOf(id uint64) (ethcommon.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.perps[id]
	if !ok {
		return ethcommon.Address{}, ErrNotFound
	}
	return p.Owner, nil
}

// BalanceOf returns the number of open positions held by owner.
func (e *Engine) BalanceOf(owner ethcommon.Address) (uint64, error) {
	if owner == (ethcommon.Address{}) {
		return 0, ErrZeroAddress
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances[owner], nil
}

// PerpetualsOf lists the ids owned by owner in ascending order.
func (e *Engine) PerpetualsOf(owner ethcommon.Address) []uint64 {
	var ids []uint64
	for _, p := range e.ListPerpetuals() {
		if p.Owner == owner {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// GetApproved returns the single approved address of a position.
func (e *Engine) GetApproved(id uint64) (ethcommon.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.perps[id]
	if !ok {
		return ethcommon.Address{}, ErrNotFound
	}
	return p.Approved, nil
}

// IsApprovedForAll reports whether operator may manage every position of owner.
func (e *Engine) IsApprovedForAll(owner, operator ethcommon.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.operators[owner][operator]
}

// Approve lets to act on position id. Only the owner or one of its operators
// may approve; the zero address clears the approval.
func (e *Engine) Approve(caller, to ethcommon.Address, id uint64) error {
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
	if to == p.Owner {
		return errApproveToOwner
	}
	if caller != p.Owner && !e.operators[p.Owner][caller] {
		return ErrUnauthorized
	}
	p.Approved = to
	tx.emit(events.PerpetualApproval{ID: id, Owner: p.Owner, Approved: to})
	return tx.commit()
}

// SetApprovalForAll grants or revokes operator rights over every position of caller.
func (e *Engine) SetApprovalForAll(caller, operator ethcommon.Address, approved bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if operator == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if operator == caller {
		return errApproveToCaller
	}
	tx := e.begin()
	tx.operators = append(tx.operators, OperatorGrant{Owner: caller, Operator: operator, Approved: approved})
	tx.emit(events.PerpetualOperator{Owner: caller, Operator: operator, Approved: approved})
	return tx.commit()
}

// TransferFrom moves position id from from to to. The single approval is
// cleared on transfer.
func (e *Engine) TransferFrom(caller, from, to ethcommon.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	tx := e.begin()
	p, ok := tx.get(id)
	if !ok {
		return ErrNotFound
	}
	if p.Owner != from {
		return errWrongOwner
	}
	if !e.isApprovedOrOwner(caller, p) {
		return ErrUnauthorized
	}
	p.Owner = to
	p.Approved = ethcommon.Address{}
	tx.emit(events.PerpetualApproval{ID: id, Owner: from})
	tx.emit(events.PerpetualTransfer{ID: id, From: from, To: to})
	return tx.commit()
}
