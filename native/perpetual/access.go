package perpetual

import ethcommon "github.com/ethereum/go-ethereum/common"

// isApprovedOrOwner mirrors the ERC721 spender check: the owner, the single
// approved address or an operator of the owner may act on the position.
func (e *Engine) isApprovedOrOwner(spender ethcommon.Address, p *Perpetual) bool {
	if spender == (ethcommon.Address{}) {
		return false
	}
	if spender == p.Owner || spender == p.Approved {
		return true
	}
	return e.operators[p.Owner][spender]
}
