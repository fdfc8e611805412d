package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var errNoPrimary = errors.New("oracle: primary source not configured")

// Reducer selects which rate a consumer reads from a Reading.
type Reducer uint8

const (
	// ReduceFirst returns the primary source rate.
	ReduceFirst Reducer = iota
	// ReduceMin returns the lower of the available rates.
	ReduceMin
	// ReduceMax returns the higher of the available rates.
	ReduceMax
)

func (r Reducer) String() string {
	switch r {
	case ReduceMin:
		return "lower"
	case ReduceMax:
		return "upper"
	default:
		return "primary"
	}
}

// Reading holds one rate per configured source. Secondary is nil when the
// aggregator runs on a single feed.
type Reading struct {
	Primary   Observation
	Secondary *Observation
}

// Reduce applies r to the reading.
func (rd Reading) Reduce(r Reducer) *big.Int {
	primary := rd.Primary.Rate
	if rd.Secondary == nil || rd.Secondary.Rate == nil {
		return new(big.Int).Set(primary)
	}
	secondary := rd.Secondary.Rate
	switch r {
	case ReduceMin:
		if secondary.Cmp(primary) < 0 {
			return new(big.Int).Set(secondary)
		}
	case ReduceMax:
		if secondary.Cmp(primary) > 0 {
			return new(big.Int).Set(secondary)
		}
	}
	return new(big.Int).Set(primary)
}

// Lower is shorthand for Reduce(ReduceMin).
func (rd Reading) Lower() *big.Int { return rd.Reduce(ReduceMin) }

// Upper is shorthand for Reduce(ReduceMax).
func (rd Reading) Upper() *big.Int { return rd.Reduce(ReduceMax) }

// Aggregator combines a primary and an optional secondary feed. Consumers pick
// the lower or upper rate depending on which side the computation must not
// favour. A configured source that fails fails the read.
type Aggregator struct {
	primary   Source
	secondary Source
	inBase    *big.Int
}

// NewAggregator wires the feeds. inBase is one whole collateral unit in base
// units and scales ReadQuote conversions.
func NewAggregator(primary, secondary Source, inBase *big.Int) (*Aggregator, error) {
	if primary == nil {
		return nil, errNoPrimary
	}
	if inBase == nil || inBase.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: collateral base must be positive")
	}
	return &Aggregator{primary: primary, secondary: secondary, inBase: new(big.Int).Set(inBase)}, nil
}

// Sources returns the configured source names, primary first.
func (a *Aggregator) Sources() []string {
	names := []string{a.primary.Name()}
	if a.secondary != nil {
		names = append(names, a.secondary.Name())
	}
	return names
}

// InBase returns the collateral base used for quotes.
func (a *Aggregator) InBase() *big.Int { return new(big.Int).Set(a.inBase) }

// ReadAll queries every configured source.
func (a *Aggregator) ReadAll(ctx context.Context) (Reading, error) {
	primary, err := fetch(ctx, a.primary)
	if err != nil {
		return Reading{}, err
	}
	reading := Reading{Primary: primary}
	if a.secondary != nil {
		secondary, err := fetch(ctx, a.secondary)
		if err != nil {
			return Reading{}, err
		}
		reading.Secondary = &secondary
	}
	return reading, nil
}

func fetch(ctx context.Context, src Source) (Observation, error) {
	obs, err := src.Rate(ctx)
	if err != nil {
		return Observation{}, fmt.Errorf("oracle: read %s: %w", src.Name(), err)
	}
	if obs.Rate == nil || obs.Rate.Sign() <= 0 {
		return Observation{}, fmt.Errorf("oracle: read %s: %w", src.Name(), ErrInvalidRate)
	}
	return obs, nil
}

func (a *Aggregator) reduce(ctx context.Context, r Reducer) (*big.Int, error) {
	reading, err := a.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return reading.Reduce(r), nil
}

// Read returns the primary source rate.
func (a *Aggregator) Read(ctx context.Context) (*big.Int, error) {
	return a.reduce(ctx, ReduceFirst)
}

// ReadLower returns the lowest rate across configured sources.
func (a *Aggregator) ReadLower(ctx context.Context) (*big.Int, error) {
	return a.reduce(ctx, ReduceMin)
}

// ReadUpper returns the highest rate across configured sources.
func (a *Aggregator) ReadUpper(ctx context.Context) (*big.Int, error) {
	return a.reduce(ctx, ReduceMax)
}

func (a *Aggregator) quote(ctx context.Context, amount *big.Int, r Reducer) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("oracle: quote amount must be non-negative")
	}
	rate, err := a.reduce(ctx, r)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amount, rate)
	return out.Quo(out, a.inBase), nil
}

// ReadQuote converts a collateral amount to stable units at the primary rate.
func (a *Aggregator) ReadQuote(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return a.quote(ctx, amount, ReduceFirst)
}

// ReadQuoteLower converts at the lower rate.
func (a *Aggregator) ReadQuoteLower(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return a.quote(ctx, amount, ReduceMin)
}

// ReadQuoteUpper converts at the upper rate.
func (a *Aggregator) ReadQuoteUpper(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return a.quote(ctx, amount, ReduceMax)
}
