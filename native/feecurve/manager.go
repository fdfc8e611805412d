package feecurve

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
)

var (
	errUnknownKind   = errors.New("feecurve: unknown schedule kind")
	errNoRatioSource = errors.New("feecurve: coverage source not configured")
	errUnauthorized  = errors.New("feecurve: governance not configured")
)

// Kind names a governance-set schedule.
type Kind string

const (
	KindBonusMalusMint Kind = "bonus_malus_mint"
	KindBonusMalusBurn Kind = "bonus_malus_burn"
	KindSlippage       Kind = "slippage"
	KindSlippageFee    Kind = "slippage_fee"
	KindHAFeeDeposit   Kind = "ha_fee_deposit"
	KindHAFeeWithdraw  Kind = "ha_fee_withdraw"
)

var (
	userKinds = []Kind{KindBonusMalusMint, KindBonusMalusBurn, KindSlippage, KindSlippageFee}
	haKinds   = []Kind{KindHAFeeDeposit, KindHAFeeWithdraw}
)

// Kinds lists every supported schedule kind.
func Kinds() []Kind { return append(append([]Kind(nil), userKinds...), haKinds...) }

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errUnknownKind, s)
}

// RatioSource reports the live hedge coverage ratio in BaseParams.
type RatioSource interface {
	CoverageRatio() (uint64, error)
}

// Authorizer gates schedule updates.
type Authorizer interface {
	Authorize(caller ethcommon.Address) error
}

// Multipliers are the values last derived from the schedules. All are in
// BaseParams; BaseParams is neutral.
type Multipliers struct {
	BonusMalusMint uint64    `json:"bonusMalusMint"`
	BonusMalusBurn uint64    `json:"bonusMalusBurn"`
	Slippage       uint64    `json:"slippage"`
	SlippageFee    uint64    `json:"slippageFee"`
	HAFeeDeposit   uint64    `json:"haFeeDeposit"`
	HAFeeWithdraw  uint64    `json:"haFeeWithdraw"`
	UsersCoverage  uint64    `json:"usersCoverage"`
	HACoverage     uint64    `json:"haCoverage"`
	UsersUpdatedAt time.Time `json:"usersUpdatedAt"`
	HAUpdatedAt    time.Time `json:"haUpdatedAt"`
}

// Manager stores the fee schedules and recomputes multipliers on demand.
// Recomputation is never implicit: a keeper or operator calls UpdateHA and
// UpdateUsersSLP.
type Manager struct {
	mu        sync.RWMutex
	gov       Authorizer
	ratio     RatioSource
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	nowFn     func() time.Time
	schedules map[Kind]Schedule
	current   Multipliers
}

// NewManager validates schedules. Kinds without a schedule evaluate to the
// neutral multiplier.
func NewManager(schedules map[Kind]Schedule) (*Manager, error) {
	m := &Manager{
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		schedules: make(map[Kind]Schedule, len(Kinds())),
		current: Multipliers{
			BonusMalusMint: nativecommon.BaseParams,
			BonusMalusBurn: nativecommon.BaseParams,
			Slippage:       nativecommon.BaseParams,
			SlippageFee:    nativecommon.BaseParams,
			HAFeeDeposit:   nativecommon.BaseParams,
			HAFeeWithdraw:  nativecommon.BaseParams,
		},
	}
	for _, k := range Kinds() {
		m.schedules[k] = Constant(nativecommon.BaseParams)
	}
	for k, s := range schedules {
		if _, err := ParseKind(string(k)); err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		m.schedules[k] = s.Clone()
	}
	return m, nil
}

func (m *Manager) SetGovernance(gov Authorizer) {
	m.mu.Lock()
	m.gov = gov
	m.mu.Unlock()
}

func (m *Manager) SetRatioSource(src RatioSource) {
	m.mu.Lock()
	m.ratio = src
	m.mu.Unlock()
}

func (m *Manager) SetPauses(p nativecommon.PauseView) {
	m.mu.Lock()
	m.pauses = p
	m.mu.Unlock()
}

// SetEmitter configures the event emitter. Nil resets it to a no-op.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.mu.Lock()
	m.emitter = emitter
	m.mu.Unlock()
}

// SetNowFunc overrides the clock. Nil restores the default UTC clock.
func (m *Manager) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m.mu.Lock()
	m.nowFn = now
	m.mu.Unlock()
}

// SetFees replaces the schedule for kind. Only governors may call it.
func (m *Manager) SetFees(caller ethcommon.Address, kind Kind, schedule Schedule) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gov == nil {
		return errUnauthorized
	}
	if err := m.gov.Authorize(caller); err != nil {
		return err
	}
	m.schedules[kind] = schedule.Clone()
	m.emitter.Emit(events.FeesSchedule{Caller: caller, Kind: string(kind), Points: len(schedule.Thresholds)})
	return nil
}

// Schedule returns a copy of the schedule for kind.
func (m *Manager) Schedule(kind Kind) (Schedule, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Schedule{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedules[kind].Clone(), nil
}

// Schedules returns a copy of every schedule keyed by kind name.
func (m *Manager) Schedules() map[string]Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Schedule, len(m.schedules))
	for k, s := range m.schedules {
		out[string(k)] = s.Clone()
	}
	return out
}

// Multipliers returns the last computed multipliers.
func (m *Manager) Multipliers() Multipliers {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// HAMultipliers returns the deposit and withdraw multipliers used by the
// perpetual ledger.
func (m *Manager) HAMultipliers() (uint64, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.HAFeeDeposit, m.current.HAFeeWithdraw
}

// coverage reads the ratio without holding m.mu: the source may call back
// into HAMultipliers.
func (m *Manager) coverage() (uint64, error) {
	m.mu.RLock()
	pauses, ratio := m.pauses, m.ratio
	m.mu.RUnlock()
	if err := nativecommon.Guard(pauses, nativecommon.ModuleFees); err != nil {
		return 0, err
	}
	if ratio == nil {
		return 0, errNoRatioSource
	}
	return ratio.CoverageRatio()
}

// UpdateUsersSLP recomputes the user-side multipliers from the live coverage.
func (m *Manager) UpdateUsersSLP() (Multipliers, error) {
	coverage, err := m.coverage()
	if err != nil {
		return Multipliers{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.BonusMalusMint = m.schedules[KindBonusMalusMint].Interpolate(coverage)
	m.current.BonusMalusBurn = m.schedules[KindBonusMalusBurn].Interpolate(coverage)
	m.current.Slippage = m.schedules[KindSlippage].Interpolate(coverage)
	m.current.SlippageFee = m.schedules[KindSlippageFee].Interpolate(coverage)
	m.current.UsersCoverage = coverage
	m.current.UsersUpdatedAt = m.nowFn()
	m.emitter.Emit(events.FeesUpdated{Scope: "users", Coverage: coverage, Multipliers: map[string]uint64{
		"bonusMalusMint": m.current.BonusMalusMint,
		"bonusMalusBurn": m.current.BonusMalusBurn,
		"slippage":       m.current.Slippage,
		"slippageFee":    m.current.SlippageFee,
	}})
	return m.current, nil
}

// UpdateHA recomputes the hedging agent multipliers from the live coverage.
func (m *Manager) UpdateHA() (Multipliers, error) {
	coverage, err := m.coverage()
	if err != nil {
		return Multipliers{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.HAFeeDeposit = m.schedules[KindHAFeeDeposit].Interpolate(coverage)
	m.current.HAFeeWithdraw = m.schedules[KindHAFeeWithdraw].Interpolate(coverage)
	m.current.HACoverage = coverage
	m.current.HAUpdatedAt = m.nowFn()
	m.emitter.Emit(events.FeesUpdated{Scope: "ha", Coverage: coverage, Multipliers: map[string]uint64{
		"haFeeDeposit":  m.current.HAFeeDeposit,
		"haFeeWithdraw": m.current.HAFeeWithdraw,
	}})
	return m.current, nil
}
