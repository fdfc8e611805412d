package events

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/types"
)

const (
	TypeGovernorAdded   = "governance.governor_added"
	TypeGovernorRemoved = "governance.governor_removed"
	TypeGuardianSet     = "governance.guardian_set"
	TypeModulePaused    = "governance.paused"
	TypeModuleUnpaused  = "governance.unpaused"
)

// GovernanceChanged records a membership or pause transition.
type GovernanceChanged struct {
	Kind    string
	Caller  ethcommon.Address
	Subject ethcommon.Address
	Module  string
}

func (e GovernanceChanged) EventType() string { return e.Kind }

func (e GovernanceChanged) Event() *types.Event {
	attrs := map[string]string{"caller": addrString(e.Caller)}
	if s := addrString(e.Subject); s != "" {
		attrs["subject"] = s
	}
	if e.Module != "" {
		attrs["module"] = e.Module
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}
