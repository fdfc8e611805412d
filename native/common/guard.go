package common

import "errors"

// ErrModulePaused is returned by Guard when governance has halted a module.
var ErrModulePaused = errors.New("module paused")

// Module identifiers recognised by the pause registry.
const (
	ModulePerpetual = "perpetual"
	ModuleFees      = "feecurve"
	ModuleRewards   = "rewards"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// KnownModule reports whether name refers to a module that can be paused.
func KnownModule(name string) bool {
	switch name {
	case ModulePerpetual, ModuleFees, ModuleRewards:
		return true
	default:
		return false
	}
}
