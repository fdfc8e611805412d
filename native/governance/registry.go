package governance

import (
	"errors"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

var (
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("governance: unauthorized")

	errZeroAddress      = errors.New("governance: zero address")
	errLastGovernor     = errors.New("governance: cannot remove the last governor")
	errAlreadyGovernor  = errors.New("governance: already a governor")
	errUnknownGovernor  = errors.New("governance: not a governor")
	errNoGovernors      = errors.New("governance: at least one governor required")
	errGuardianGovernor = errors.New("governance: guardian cannot be a governor")
	errUnknownModule    = errors.New("governance: unknown module")
)

type registryState interface {
	LoadGovernance() (*Snapshot, bool, error)
	SaveGovernance(*Snapshot) error
}

// Registry tracks the governor set, the guardian and module pause flags.
// Governors hold every configuration right; the guardian may only pause and
// unpause modules.
type Registry struct {
	mu        sync.RWMutex
	state     registryState
	emitter   events.Emitter
	governors []ethcommon.Address
	index     map[ethcommon.Address]int
	guardian  ethcommon.Address
	paused    map[string]struct{}
}

// NewRegistry seeds the registry with the genesis governors and guardian.
func NewRegistry(governors []ethcommon.Address, guardian ethcommon.Address) (*Registry, error) {
	r := &Registry{emitter: events.NoopEmitter{}}
	if err := r.load(&Snapshot{Governors: governors, Guardian: guardian}); err != nil {
		return nil, err
	}
	return r, nil
}

// SetState wires the registry to a persistence backend. A stored snapshot, when
// present, replaces the genesis configuration.
func (r *Registry) SetState(state registryState) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	if state == nil {
		return nil
	}
	snap, ok, err := state.LoadGovernance()
	if err != nil {
		return fmt.Errorf("governance: load: %w", err)
	}
	if !ok {
		return state.SaveGovernance(r.snapshotLocked())
	}
	return r.load(snap)
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.mu.Lock()
	r.emitter = emitter
	r.mu.Unlock()
}

func (r *Registry) load(snap *Snapshot) error {
	if snap == nil || len(snap.Governors) == 0 {
		return errNoGovernors
	}
	index := make(map[ethcommon.Address]int, len(snap.Governors))
	governors := make([]ethcommon.Address, 0, len(snap.Governors))
	for _, g := range snap.Governors {
		if g == (ethcommon.Address{}) {
			return errZeroAddress
		}
		if _, dup := index[g]; dup {
			continue
		}
		index[g] = len(governors)
		governors = append(governors, g)
	}
	if _, clash := index[snap.Guardian]; clash {
		return errGuardianGovernor
	}
	paused := make(map[string]struct{}, len(snap.Paused))
	for _, m := range snap.Paused {
		paused[m] = struct{}{}
	}
	r.governors = governors
	r.index = index
	r.guardian = snap.Guardian
	r.paused = paused
	return nil
}

func (r *Registry) snapshotLocked() *Snapshot {
	return &Snapshot{
		Governors: append([]ethcommon.Address(nil), r.governors...),
		Guardian:  r.guardian,
		Paused:    sortedModules(r.paused),
	}
}

// Snapshot returns the current registry contents.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Governors returns the enumerable governor list in insertion order.
func (r *Registry) Governors() []ethcommon.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ethcommon.Address(nil), r.governors...)
}

// Guardian returns the guardian address.
func (r *Registry) Guardian() ethcommon.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guardian
}

func (r *Registry) IsGovernor(addr ethcommon.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[addr]
	return ok
}

func (r *Registry) IsGuardian(addr ethcommon.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return addr != (ethcommon.Address{}) && addr == r.guardian
}

// Authorize returns ErrUnauthorized unless caller is a governor.
func (r *Registry) Authorize(caller ethcommon.Address) error {
	if r == nil || !r.IsGovernor(caller) {
		return ErrUnauthorized
	}
	return nil
}

// AuthorizeGuardian accepts governors and the guardian.
func (r *Registry) AuthorizeGuardian(caller ethcommon.Address) error {
	if r == nil {
		return ErrUnauthorized
	}
	if r.IsGovernor(caller) || r.IsGuardian(caller) {
		return nil
	}
	return ErrUnauthorized
}

// IsPaused implements nativecommon.PauseView.
func (r *Registry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.paused[module]
	return ok
}

// AddGovernor grants governor rights to addr.
func (r *Registry) AddGovernor(caller, addr ethcommon.Address) error {
	if err := r.Authorize(caller); err != nil {
		return err
	}
	if addr == (ethcommon.Address{}) {
		return errZeroAddress
	}
	r.mu.Lock()
	if _, ok := r.index[addr]; ok {
		r.mu.Unlock()
		return errAlreadyGovernor
	}
	if addr == r.guardian {
		r.mu.Unlock()
		return errGuardianGovernor
	}
	next := r.snapshotLocked()
	next.Governors = append(next.Governors, addr)
	return r.commitLocked(next, events.GovernanceChanged{Kind: events.TypeGovernorAdded, Caller: caller, Subject: addr})
}

// RemoveGovernor revokes governor rights. The final governor cannot be removed.
func (r *Registry) RemoveGovernor(caller, addr ethcommon.Address) error {
	if err := r.Authorize(caller); err != nil {
		return err
	}
	r.mu.Lock()
	pos, ok := r.index[addr]
	if !ok {
		r.mu.Unlock()
		return errUnknownGovernor
	}
	if len(r.governors) == 1 {
		r.mu.Unlock()
		return errLastGovernor
	}
	next := r.snapshotLocked()
	next.Governors = append(next.Governors[:pos], next.Governors[pos+1:]...)
	return r.commitLocked(next, events.GovernanceChanged{Kind: events.TypeGovernorRemoved, Caller: caller, Subject: addr})
}

// SetGuardian replaces the guardian. The zero address disables the role.
func (r *Registry) SetGuardian(caller, guardian ethcommon.Address) error {
	if err := r.Authorize(caller); err != nil {
		return err
	}
	r.mu.Lock()
	if _, clash := r.index[guardian]; clash {
		r.mu.Unlock()
		return errGuardianGovernor
	}
	next := r.snapshotLocked()
	next.Guardian = guardian
	return r.commitLocked(next, events.GovernanceChanged{Kind: events.TypeGuardianSet, Caller: caller, Subject: guardian})
}

// Pause halts module. Governors and the guardian may pause.
func (r *Registry) Pause(caller ethcommon.Address, module string) error {
	return r.setPaused(caller, module, true)
}

// Unpause resumes module. Governors and the guardian may unpause.
func (r *Registry) Unpause(caller ethcommon.Address, module string) error {
	return r.setPaused(caller, module, false)
}

func (r *Registry) setPaused(caller ethcommon.Address, module string, paused bool) error {
	if err := r.AuthorizeGuardian(caller); err != nil {
		return err
	}
	if !nativecommon.KnownModule(module) {
		return fmt.Errorf("%w: %q", errUnknownModule, module)
	}
	r.mu.Lock()
	set := make(map[string]struct{}, len(r.paused)+1)
	for m := range r.paused {
		set[m] = struct{}{}
	}
	kind := events.TypeModuleUnpaused
	if paused {
		set[module] = struct{}{}
		kind = events.TypeModulePaused
	} else {
		delete(set, module)
	}
	next := r.snapshotLocked()
	next.Paused = sortedModules(set)
	return r.commitLocked(next, events.GovernanceChanged{Kind: kind, Caller: caller, Module: module})
}

// commitLocked persists next, swaps it in and emits evt. It releases r.mu.
func (r *Registry) commitLocked(next *Snapshot, evt events.Event) error {
	if r.state != nil {
		if err := r.state.SaveGovernance(next); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("governance: persist: %w", err)
		}
	}
	if err := r.load(next); err != nil {
		r.mu.Unlock()
		return err
	}
	emitter := r.emitter
	r.mu.Unlock()
	emitter.Emit(evt)
	return nil
}
