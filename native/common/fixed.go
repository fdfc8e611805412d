package common

import "math/big"

const (
	// BaseParams scales every ratio handled by the protocol: 1e9 is 100% (or 1x).
	BaseParams uint64 = 1_000_000_000
)

var (
	baseParams = new(big.Int).SetUint64(BaseParams)
	// BaseTokens scales oracle rates: stable units per whole collateral unit.
	baseTokens = mustBigInt("1000000000000000000")
)

// BaseParamsInt returns BaseParams as a freshly allocated big integer.
func BaseParamsInt() *big.Int { return new(big.Int).Set(baseParams) }

// BaseTokensInt returns the 1e18 rate base as a freshly allocated big integer.
func BaseTokensInt() *big.Int { return new(big.Int).Set(baseTokens) }

// MulDiv computes a*b/c rounding down. A nil operand or zero divisor yields zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// ApplyRatio scales amount by ratio/BaseParams.
func ApplyRatio(amount *big.Int, ratio uint64) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(ratio), baseParams)
}

// MinBig returns the smaller of a and b as a copy.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// CopyBig returns an independent copy, mapping nil to zero.
func CopyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// ParseBig parses a base-10 integer string, returning false for malformed input.
func ParseBig(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}
