package perpetual

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/core/events"
	nativecommon "hedgeline/native/common"
	"hedgeline/native/oracle"
)

const moduleName = nativecommon.ModulePerpetual

// RateReader exposes both oracle rates in a single read.
type RateReader interface {
	ReadAll(ctx context.Context) (oracle.Reading, error)
}

// CollateralPool is the subset of the collateral pool the ledger consults.
// The ledger never moves pool funds directly; it only reports what it
// recovered.
type CollateralPool interface {
	Balance() *big.Int
	TotalManagedAssets() *big.Int
	EstimatedAPR() uint64
	StocksUsers() *big.Int
	ReportPerpetualProceeds(amount *big.Int)
	ReportPerpetualFees(amount *big.Int)
}

// Authorizer gates governance setters.
type Authorizer interface {
	Authorize(caller ethcommon.Address) error
}

// FeeMultipliers supplies the deposit and withdraw multipliers recomputed by
// the fee manager. Both are in BaseParams.
type FeeMultipliers interface {
	HAMultipliers() (deposit, withdraw uint64)
}

type engineState interface {
	LoadLedger() (*LedgerSnapshot, bool, error)
	CommitLedger(cs *ChangeSet) error
}

// LedgerSnapshot is the full persisted ledger.
type LedgerSnapshot struct {
	Perpetuals []*Perpetual
	Globals    *Globals
	Params     *Params
	Operators  []OperatorGrant
}

// ChangeSet carries every write produced by one ledger call.
type ChangeSet struct {
	Puts      []*Perpetual
	Deletes   []uint64
	Globals   *Globals
	Params    *Params
	Operators []OperatorGrant
}

// Engine is the perpetual ledger. Every mutating call is serialised, staged in
// a change set and persisted before in-memory state and events are updated.
type Engine struct {
	mu        sync.RWMutex
	state     engineState
	oracle    RateReader
	pool      CollateralPool
	gov       Authorizer
	fees      FeeMultipliers
	rewards   RewardAccrual
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() time.Time
	params    Params
	globals   *Globals
	perps     map[uint64]*Perpetual
	balances  map[ethcommon.Address]uint64
	operators map[ethcommon.Address]map[ethcommon.Address]bool
}

// NewEngine constructs a ledger with the supplied genesis parameters.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		emitter:   events.NoopEmitter{},
		rewards:   noopAccrual{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		params:    params.Clone(),
		globals:   newGlobals(),
		perps:     make(map[uint64]*Perpetual),
		balances:  make(map[ethcommon.Address]uint64),
		operators: make(map[ethcommon.Address]map[ethcommon.Address]bool),
	}, nil
}

// SetState wires the engine to the persistence layer. A stored ledger replaces
// the in-memory state; otherwise the genesis state is written out.
func (e *Engine) SetState(state engineState) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	if state == nil {
		return nil
	}
	snap, ok, err := state.LoadLedger()
	if err != nil {
		return fmt.Errorf("perpetual: load ledger: %w", err)
	}
	if !ok {
		params := e.params.Clone()
		return state.CommitLedger(&ChangeSet{Globals: e.globals.Clone(), Params: &params})
	}
	return e.restore(snap)
}

func (e *Engine) restore(snap *LedgerSnapshot) error {
	if snap.Params != nil {
		if err := snap.Params.Validate(); err != nil {
			return fmt.Errorf("perpetual: stored params: %w", err)
		}
		e.params = snap.Params.Clone()
	}
	e.globals = newGlobals()
	if snap.Globals != nil {
		e.globals = snap.Globals.Clone()
	}
	e.perps = make(map[uint64]*Perpetual, len(snap.Perpetuals))
	e.balances = make(map[ethcommon.Address]uint64)
	for _, p := range snap.Perpetuals {
		e.perps[p.ID] = p.Clone()
		e.balances[p.Owner]++
	}
	e.operators = make(map[ethcommon.Address]map[ethcommon.Address]bool)
	for _, g := range snap.Operators {
		e.setOperator(g)
	}
	e.replayRewards()
	return nil
}

// SetOracle installs the rate reader used for pricing.
func (e *Engine) SetOracle(o RateReader) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.oracle = o
	e.mu.Unlock()
}

// SetPool installs the collateral pool that receives proceeds and fees.
func (e *Engine) SetPool(p CollateralPool) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pool = p
	e.mu.Unlock()
}

// SetGovernance configures the registry used to authorise parameter changes.
func (e *Engine) SetGovernance(a Authorizer) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.gov = a
	e.mu.Unlock()
}

// SetFeeMultipliers wires the fee manager. Nil restores neutral multipliers.
func (e *Engine) SetFeeMultipliers(f FeeMultipliers) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.fees = f
	e.mu.Unlock()
}

// SetRewards installs the reward accrual strategy. Nil disables accrual.
func (e *Engine) SetRewards(r RewardAccrual) {
	if e == nil {
		return
	}
	if r == nil {
		r = noopAccrual{}
	}
	e.mu.Lock()
	e.rewards = r
	e.replayRewards()
	e.mu.Unlock()
}

// replayRewards registers every open position with the accrual strategy so
// positions restored from storage keep earning.
func (e *Engine) replayRewards() {
	ids := make([]uint64, 0, len(e.perps))
	for id := range e.perps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := e.perps[id]
		e.rewards.Open(p.ID, p.Committed, p.CreatedAt)
	}
}

// SetPauses installs the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetNowFunc overrides the clock. Nil restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e.mu.Lock()
	e.nowFn = now
	e.mu.Unlock()
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) multipliers() (uint64, uint64) {
	if e.fees == nil {
		return nativecommon.BaseParams, nativecommon.BaseParams
	}
	return e.fees.HAMultipliers()
}

func (e *Engine) readRates(ctx context.Context) (oracle.Reading, error) {
	if e.oracle == nil {
		return oracle.Reading{}, errNilOracle
	}
	return e.oracle.ReadAll(ctx)
}

func (e *Engine) stocksUsers() (*big.Int, error) {
	if e.pool == nil {
		return nil, errNilPool
	}
	return e.pool.StocksUsers(), nil
}

func (e *Engine) setOperator(g OperatorGrant) {
	ops := e.operators[g.Owner]
	if !g.Approved {
		if ops != nil {
			delete(ops, g.Operator)
			if len(ops) == 0 {
				delete(e.operators, g.Owner)
			}
		}
		return
	}
	if ops == nil {
		ops = make(map[ethcommon.Address]bool)
		e.operators[g.Owner] = ops
	}
	ops[g.Operator] = true
}

// ledgerTx stages the writes of one call on top of the committed state.
type ledgerTx struct {
	e         *Engine
	staged    map[uint64]*Perpetual
	order     []uint64
	globals   *Globals
	params    *Params
	operators []OperatorGrant
	events    []events.Event
	proceeds  *big.Int
	fees      *big.Int
	opened    []*Perpetual
	closed    []*Perpetual
}

func (e *Engine) begin() *ledgerTx {
	return &ledgerTx{
		e:        e,
		staged:   make(map[uint64]*Perpetual),
		globals:  e.globals.Clone(),
		proceeds: big.NewInt(0),
		fees:     big.NewInt(0),
	}
}

// view returns the position as seen by this transaction without staging it.
// Callers must not mutate the result.
func (tx *ledgerTx) view(id uint64) (*Perpetual, bool) {
	if p, ok := tx.staged[id]; ok {
		return p, p != nil
	}
	p, ok := tx.e.perps[id]
	return p, ok
}

// get returns a mutable copy of the position as seen by this transaction.
func (tx *ledgerTx) get(id uint64) (*Perpetual, bool) {
	if p, ok := tx.staged[id]; ok {
		if p == nil {
			return nil, false
		}
		return p, true
	}
	p, ok := tx.e.perps[id]
	if !ok {
		return nil, false
	}
	clone := p.Clone()
	tx.stage(id, clone)
	return clone, true
}

func (tx *ledgerTx) stage(id uint64, p *Perpetual) {
	if _, seen := tx.staged[id]; !seen {
		tx.order = append(tx.order, id)
	}
	tx.staged[id] = p
}

func (tx *ledgerTx) emit(evt events.Event) { tx.events = append(tx.events, evt) }

func (tx *ledgerTx) open(p *Perpetual) {
	tx.stage(p.ID, p)
	tx.opened = append(tx.opened, p)
	tx.globals.Open++
	tx.globals.TotalHedge.Add(tx.globals.TotalHedge, hedgeValue(p.Committed, p.EntryRate, tx.e.params.CollateralBase))
	tx.globals.TotalMargin.Add(tx.globals.TotalMargin, p.Margin)
}

// rebase moves p to a new margin and entry rate, keeping totals in sync.
func (tx *ledgerTx) rebase(p *Perpetual, margin, rate *big.Int, at uint64) {
	base := tx.e.params.CollateralBase
	subClamped(tx.globals.TotalHedge, hedgeValue(p.Committed, p.EntryRate, base))
	tx.globals.TotalHedge.Add(tx.globals.TotalHedge, hedgeValue(p.Committed, rate, base))
	subClamped(tx.globals.TotalMargin, p.Margin)
	tx.globals.TotalMargin.Add(tx.globals.TotalMargin, margin)
	p.Margin = new(big.Int).Set(margin)
	p.EntryRate = new(big.Int).Set(rate)
	p.EntryTimestamp = at
}

func (tx *ledgerTx) close(p *Perpetual) {
	subClamped(tx.globals.TotalHedge, hedgeValue(p.Committed, p.EntryRate, tx.e.params.CollateralBase))
	subClamped(tx.globals.TotalMargin, p.Margin)
	if tx.globals.Open > 0 {
		tx.globals.Open--
	}
	tx.closed = append(tx.closed, p.Clone())
	tx.stage(p.ID, nil)
}

func subClamped(total, amount *big.Int) {
	total.Sub(total, amount)
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
}

// commit persists the change set then applies it to memory, settles pool
// reports and reward hooks and finally emits the staged events.
func (tx *ledgerTx) commit() error {
	e := tx.e
	cs := &ChangeSet{Globals: tx.globals, Params: tx.params, Operators: tx.operators}
	for _, id := range tx.order {
		if p := tx.staged[id]; p != nil {
			cs.Puts = append(cs.Puts, p)
		} else if _, existed := e.perps[id]; existed {
			cs.Deletes = append(cs.Deletes, id)
		}
	}
	if e.state != nil {
		if err := e.state.CommitLedger(cs); err != nil {
			return fmt.Errorf("perpetual: commit: %w", err)
		}
	}

	for _, id := range tx.order {
		if old, ok := e.perps[id]; ok {
			if e.balances[old.Owner] <= 1 {
				delete(e.balances, old.Owner)
			} else {
				e.balances[old.Owner]--
			}
		}
		p := tx.staged[id]
		if p == nil {
			delete(e.perps, id)
			continue
		}
		e.perps[id] = p.Clone()
		e.balances[p.Owner]++
	}
	e.globals = tx.globals.Clone()
	if tx.params != nil {
		e.params = tx.params.Clone()
	}
	for _, g := range tx.operators {
		e.setOperator(g)
	}

	if e.pool != nil {
		e.pool.ReportPerpetualProceeds(tx.proceeds)
		e.pool.ReportPerpetualFees(tx.fees)
	}
	at := e.now()
	for _, p := range tx.closed {
		if reward := e.rewards.Claim(p.ID, at); reward != nil && reward.Sign() > 0 {
			tx.emit(events.PerpetualReward{ID: p.ID, To: p.Owner, Amount: reward})
		}
		e.rewards.Close(p.ID, at)
	}
	for _, p := range tx.opened {
		e.rewards.Open(p.ID, p.Committed, at)
	}
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	return nil
}

// Perpetual returns a copy of an open position.
func (e *Engine) Perpetual(id uint64) (*Perpetual, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.perps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// ListPerpetuals returns every open position ordered by id.
func (e *Engine) ListPerpetuals() []*Perpetual {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Perpetual, 0, len(e.perps))
	for _, p := range e.perps {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Globals returns a copy of the aggregate counters.
func (e *Engine) Globals() *Globals {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.globals.Clone()
}

// Params returns a copy of the active parameters.
func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Clone()
}

// CoverageRatio returns the share of user stock hedged by open positions, in
// BaseParams.
func (e *Engine) CoverageRatio() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stocks, err := e.stocksUsers()
	if err != nil {
		return 0, err
	}
	return coverageRatio(e.globals.TotalHedge, stocks), nil
}

// PoolStatus reports the read-only collateral pool aggregates.
type PoolStatus struct {
	Balance            *big.Int `json:"balance"`
	TotalManagedAssets *big.Int `json:"totalManagedAssets"`
	EstimatedAPR       uint64   `json:"estimatedApr"`
	StocksUsers        *big.Int `json:"stocksUsers"`
}

func (e *Engine) PoolStatus() (PoolStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return PoolStatus{}, errNilPool
	}
	return PoolStatus{
		Balance:            e.pool.Balance(),
		TotalManagedAssets: e.pool.TotalManagedAssets(),
		EstimatedAPR:       e.pool.EstimatedAPR(),
		StocksUsers:        e.pool.StocksUsers(),
	}, nil
}
