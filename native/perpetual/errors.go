package perpetual

import (
	"errors"

	"hedgeline/native/governance"
)

var (
	// ErrSlippageExceeded is returned when the oracle rate crosses the
	// caller's maxOracleRate or minOracleRate bound.
	ErrSlippageExceeded = errors.New("perpetual: oracle rate outside slippage bound")
	// ErrLeverageExceeded is returned when committed/margin would exceed the
	// maximum leverage or fall below 1x.
	ErrLeverageExceeded = errors.New("perpetual: leverage outside allowed bounds")
	// ErrNotEligible is returned by keeper calls when no position qualifies.
	ErrNotEligible = errors.New("perpetual: no eligible position")
	// ErrUnauthorized is shared with the governance registry so callers can
	// match a single sentinel.
	ErrUnauthorized = governance.ErrUnauthorized
	// ErrLockActive is returned when margin is withdrawn before the lock time.
	ErrLockActive = errors.New("perpetual: lock time not elapsed")

	ErrNotFound           = errors.New("perpetual: position not found")
	ErrInvalidAmount      = errors.New("perpetual: amount must be positive")
	ErrHedgeLimit         = errors.New("perpetual: hedge limit reached")
	ErrPositionUnderwater = errors.New("perpetual: position is liquidatable")
	ErrInvalidParams      = errors.New("perpetual: invalid parameters")
	ErrZeroAddress        = errors.New("perpetual: zero address")

	errNilOracle = errors.New("perpetual: oracle not configured")
	errNilPool   = errors.New("perpetual: collateral pool not configured")
)
