package events

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addrString(a ethcommon.Address) string {
	if a == (ethcommon.Address{}) {
		return ""
	}
	return a.Hex()
}

func idString(id uint64) string { return strconv.FormatUint(id, 10) }

func uintString(v uint64) string { return strconv.FormatUint(v, 10) }
