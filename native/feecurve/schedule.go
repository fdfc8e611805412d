package feecurve

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	errEmptySchedule     = errors.New("feecurve: schedule requires at least one point")
	errLengthMismatch    = errors.New("feecurve: thresholds and values length mismatch")
	errThresholdOrdering = errors.New("feecurve: thresholds must be strictly ascending")
)

// Schedule is a piecewise-linear curve defined by (threshold, value) points.
// Both axes use the BaseParams scale.
type Schedule struct {
	Thresholds []uint64 `json:"thresholds" toml:"thresholds"`
	Values     []uint64 `json:"values" toml:"values"`
}

// NewSchedule copies the supplied points and validates them.
func NewSchedule(thresholds, values []uint64) (Schedule, error) {
	s := Schedule{
		Thresholds: append([]uint64(nil), thresholds...),
		Values:     append([]uint64(nil), values...),
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Constant returns a single-point schedule that evaluates to value everywhere.
func Constant(value uint64) Schedule {
	return Schedule{Thresholds: []uint64{0}, Values: []uint64{value}}
}

// Validate ensures the schedule is well formed.
func (s Schedule) Validate() error {
	if len(s.Thresholds) == 0 {
		return errEmptySchedule
	}
	if len(s.Thresholds) != len(s.Values) {
		return fmt.Errorf("%w: %d thresholds, %d values", errLengthMismatch, len(s.Thresholds), len(s.Values))
	}
	for i := 1; i < len(s.Thresholds); i++ {
		if s.Thresholds[i] <= s.Thresholds[i-1] {
			return fmt.Errorf("%w: index %d", errThresholdOrdering, i)
		}
	}
	return nil
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	return Schedule{
		Thresholds: append([]uint64(nil), s.Thresholds...),
		Values:     append([]uint64(nil), s.Values...),
	}
}

// Interpolate evaluates the curve at x. Points outside the threshold range
// clamp to the first or last value. An invalid schedule evaluates to zero.
func (s Schedule) Interpolate(x uint64) uint64 {
	if s.Validate() != nil {
		return 0
	}
	last := len(s.Thresholds) - 1
	if x <= s.Thresholds[0] {
		return s.Values[0]
	}
	if x >= s.Thresholds[last] {
		return s.Values[last]
	}
	i := 0
	for x >= s.Thresholds[i+1] {
		i++
	}
	lowerX, upperX := s.Thresholds[i], s.Thresholds[i+1]
	lowerY, upperY := s.Values[i], s.Values[i+1]

	span := uint256.NewInt(upperX - lowerX)
	offset := uint256.NewInt(x - lowerX)
	if upperY >= lowerY {
		delta := new(uint256.Int).Mul(uint256.NewInt(upperY-lowerY), offset)
		delta.Div(delta, span)
		return lowerY + delta.Uint64()
	}
	delta := new(uint256.Int).Mul(uint256.NewInt(lowerY-upperY), offset)
	delta.Div(delta, span)
	return lowerY - delta.Uint64()
}
