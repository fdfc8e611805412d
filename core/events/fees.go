package events

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/types"
)

const (
	// TypeFeesUpdated marks a recomputation of fee multipliers.
	TypeFeesUpdated = "fees.updated"
	// TypeFeesSchedule marks a governance change to a fee schedule.
	TypeFeesSchedule = "fees.schedule"
)

// FeesUpdated records the multipliers derived from the live coverage ratio.
type FeesUpdated struct {
	Scope       string
	Coverage    uint64
	Multipliers map[string]uint64
}

// EventType satisfies the events.Event interface.
func (FeesUpdated) EventType() string { return TypeFeesUpdated }

// Event converts the structured payload into a broadcastable event.
func (e FeesUpdated) Event() *types.Event {
	attrs := map[string]string{
		"scope":    e.Scope,
		"coverage": uintString(e.Coverage),
	}
	for k, v := range e.Multipliers {
		attrs[k] = uintString(v)
	}
	return &types.Event{Type: TypeFeesUpdated, Attributes: attrs}
}

// FeesSchedule records which schedule governance replaced.
type FeesSchedule struct {
	Caller ethcommon.Address
	Kind   string
	Points int
}

func (FeesSchedule) EventType() string { return TypeFeesSchedule }

func (e FeesSchedule) Event() *types.Event {
	return &types.Event{
		Type: TypeFeesSchedule,
		Attributes: map[string]string{
			"caller": addrString(e.Caller),
			"kind":   e.Kind,
			"points": uintString(uint64(e.Points)),
		},
	}
}
