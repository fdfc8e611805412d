package app

import (
	"fmt"
	"math/big"
	"time"

	"hedgeline/config"
	"hedgeline/core/events"
	"hedgeline/native/feecurve"
	"hedgeline/native/governance"
	"hedgeline/native/oracle"
	"hedgeline/native/perpetual"
	"hedgeline/native/pool"
	"hedgeline/native/rewards"
	"hedgeline/storage"
)

// Options describe how to assemble a ledger stack.
type Options struct {
	Protocol  *config.Protocol
	DB        storage.Database
	Primary   oracle.Source
	Secondary oracle.Source
	Emitter   events.Emitter
	// StocksUsers and PoolBalance seed the collateral pool.
	StocksUsers  *big.Int
	PoolBalance  *big.Int
	EstimatedAPR uint64
	Now          func() time.Time
}

// Stack is the fully wired set of ledger components.
type Stack struct {
	Engine     *perpetual.Engine
	Fees       *feecurve.Manager
	Governance *governance.Registry
	Pool       *pool.Pool
	Rewards    *rewards.Staking
	Oracle     *oracle.Aggregator
}

// Build wires governance, fees, rewards, the pool and the perpetual engine
// around the supplied state database and oracle feeds. Persisted governance
// and ledger state take precedence over the protocol file.
func Build(opts Options) (*Stack, error) {
	if opts.Protocol == nil {
		return nil, fmt.Errorf("protocol config required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("state database required")
	}
	if opts.Primary == nil {
		return nil, fmt.Errorf("primary oracle required")
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	governors, err := opts.Protocol.GovernorAddresses()
	if err != nil {
		return nil, err
	}
	guardian, err := opts.Protocol.GuardianAddress()
	if err != nil {
		return nil, err
	}
	gov, err := governance.NewRegistry(governors, guardian)
	if err != nil {
		return nil, err
	}
	if err := gov.SetState(governance.NewStore(opts.DB)); err != nil {
		return nil, err
	}
	gov.SetEmitter(emitter)

	params, err := opts.Protocol.PerpetualParams()
	if err != nil {
		return nil, err
	}
	engine, err := perpetual.NewEngine(params)
	if err != nil {
		return nil, err
	}
	if err := engine.SetState(perpetual.NewStore(opts.DB)); err != nil {
		return nil, err
	}

	agg, err := oracle.NewAggregator(opts.Primary, opts.Secondary, engine.Params().CollateralBase)
	if err != nil {
		return nil, err
	}

	collateral := pool.New()
	if opts.StocksUsers != nil {
		if err := collateral.SetStocksUsers(opts.StocksUsers); err != nil {
			return nil, fmt.Errorf("seed stocks: %w", err)
		}
	}
	if opts.PoolBalance != nil && opts.PoolBalance.Sign() > 0 {
		if err := collateral.Deposit(opts.PoolBalance, big.NewInt(0)); err != nil {
			return nil, fmt.Errorf("seed pool balance: %w", err)
		}
	}

	collateral.SetEstimatedAPR(opts.EstimatedAPR)

	schedules, err := opts.Protocol.FeeSchedules()
	if err != nil {
		return nil, err
	}
	fees, err := feecurve.NewManager(schedules)
	if err != nil {
		return nil, err
	}
	fees.SetGovernance(gov)
	fees.SetRatioSource(engine)
	fees.SetPauses(gov)
	fees.SetEmitter(emitter)

	staking := rewards.NewStaking(gov)

	engine.SetOracle(agg)
	engine.SetPool(collateral)
	engine.SetGovernance(gov)
	engine.SetFeeMultipliers(fees)
	engine.SetRewards(staking)
	engine.SetPauses(gov)
	engine.SetEmitter(emitter)
	if opts.Now != nil {
		engine.SetNowFunc(opts.Now)
		fees.SetNowFunc(opts.Now)
		staking.SetNowFunc(opts.Now)
	}

	return &Stack{
		Engine:     engine,
		Fees:       fees,
		Governance: gov,
		Pool:       collateral,
		Rewards:    staking,
		Oracle:     agg,
	}, nil
}
