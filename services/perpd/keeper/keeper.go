package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	nativecommon "hedgeline/native/common"
	"hedgeline/native/feecurve"
	"hedgeline/native/perpetual"
	"hedgeline/observability"
	"hedgeline/services/perpd/storage"
)

const (
	ActionLiquidate    = "liquidate"
	ActionForceCashOut = "force_cashout"
)

// Ledger is the subset of the perpetual engine the keeper drives.
type Ledger interface {
	ListPerpetuals() []*perpetual.Perpetual
	Globals() *perpetual.Globals
	Params() perpetual.Params
	CoverageRatio() (uint64, error)
	GetCashOutAmount(id uint64, rate *big.Int) (perpetual.CashOutQuote, error)
	LiquidatePerpetuals(ctx context.Context, keeper ethcommon.Address, ids []uint64) (perpetual.LiquidationResult, error)
	ForceCashOutPerpetuals(ctx context.Context, keeper ethcommon.Address, ids []uint64) (perpetual.ForceCashOutResult, error)
}

// Fees refreshes the coverage-dependent multipliers.
type Fees interface {
	UpdateHA() (feecurve.Multipliers, error)
	UpdateUsersSLP() (feecurve.Multipliers, error)
}

// RateReader supplies the conservative rate used to pre-screen positions.
type RateReader interface {
	ReadLower(ctx context.Context) (*big.Int, error)
}

// Recorder persists keeper runs for audit.
type Recorder interface {
	RecordKeeperRun(ctx context.Context, run *storage.KeeperRun) error
}

// Config tunes the keeper loop.
type Config struct {
	Address   ethcommon.Address
	Interval  time.Duration
	BatchSize int
}

// Report summarises one keeper pass.
type Report struct {
	Liquidated []uint64
	Closed     []uint64
	KeeperFee  *big.Int
}

// Keeper scans the ledger on an interval and closes positions that are
// eligible for liquidation or forced cash-out.
type Keeper struct {
	cfg      Config
	ledger   Ledger
	fees     Fees
	rates    RateReader
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	once     sync.Once
}

// New constructs a keeper.
func New(cfg Config, ledger Ledger, fees Fees, rates RateReader, recorder Recorder, logger *slog.Logger) (*Keeper, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rate reader required")
	}
	if cfg.Address == (ethcommon.Address{}) {
		return nil, fmt.Errorf("keeper address required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{cfg: cfg, ledger: ledger, fees: fees, rates: rates, recorder: recorder, logger: logger, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for run timestamps.
func (k *Keeper) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	k.now = now
}

// Run blocks until ctx is cancelled, executing one pass per interval.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("keeper started", "keeper", k.cfg.Address.Hex(), "interval", k.cfg.Interval.String())
	})
	for {
		if _, err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("keeper tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick refreshes fee multipliers, liquidates eligible positions and, when
// coverage exceeds the limit, force-closes the largest hedges first.
func (k *Keeper) Tick(ctx context.Context) (Report, error) {
	report := Report{KeeperFee: big.NewInt(0)}
	k.refreshFees()

	liquidated, fee, err := k.liquidate(ctx)
	report.Liquidated = liquidated
	report.KeeperFee.Add(report.KeeperFee, fee)
	if err != nil {
		return report, err
	}

	closed, fee, err := k.forceCashOut(ctx)
	report.Closed = closed
	report.KeeperFee.Add(report.KeeperFee, fee)
	k.publishExposure()
	if err != nil {
		return report, err
	}
	return report, nil
}

func (k *Keeper) refreshFees() {
	if k.fees == nil {
		return
	}
	if _, err := k.fees.UpdateHA(); err != nil && !errors.Is(err, nativecommon.ErrModulePaused) {
		k.logger.Warn("refresh ha fees", "error", err)
	}
	if _, err := k.fees.UpdateUsersSLP(); err != nil && !errors.Is(err, nativecommon.ErrModulePaused) {
		k.logger.Warn("refresh user fees", "error", err)
	}
}

func (k *Keeper) liquidate(ctx context.Context) ([]uint64, *big.Int, error) {
	started := k.now()
	total := big.NewInt(0)
	rate, err := k.rates.ReadLower(ctx)
	if err != nil {
		k.observe(ActionLiquidate, started, 0, 0, nil, nil, nil, err)
		return nil, total, fmt.Errorf("read lower rate: %w", err)
	}
	open := k.ledger.ListPerpetuals()
	candidates := make([]uint64, 0)
	for _, p := range open {
		quote, err := k.ledger.GetCashOutAmount(p.ID, rate)
		if err != nil {
			continue
		}
		if quote.ReachedMaintenance {
			candidates = append(candidates, p.ID)
		}
	}
	if len(candidates) == 0 {
		k.observe(ActionLiquidate, started, len(open), 0, nil, rate, nil, nil)
		return nil, total, nil
	}

	var liquidated []uint64
	var records []storage.LiquidationRecord
	for start := 0; start < len(candidates); start += k.cfg.BatchSize {
		end := start + k.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		res, err := k.ledger.LiquidatePerpetuals(ctx, k.cfg.Address, candidates[start:end])
		if errors.Is(err, perpetual.ErrNotEligible) {
			// the rate moved or another keeper got there first
			continue
		}
		if err != nil {
			k.observe(ActionLiquidate, started, len(open), len(liquidated), total, rate, records, err)
			return liquidated, total, fmt.Errorf("liquidate batch: %w", err)
		}
		liquidated = append(liquidated, res.Liquidated...)
		total.Add(total, res.KeeperFee)
		for _, id := range res.Liquidated {
			records = append(records, storage.LiquidationRecord{PerpetualID: id, Kind: "liquidated"})
		}
	}
	k.observe(ActionLiquidate, started, len(open), len(liquidated), total, rate, records, nil)
	if len(liquidated) > 0 {
		k.logger.Info("positions liquidated", "ids", liquidated, "keeperFee", total.String())
	}
	return liquidated, total, nil
}

func (k *Keeper) forceCashOut(ctx context.Context) ([]uint64, *big.Int, error) {
	total := big.NewInt(0)
	coverage, err := k.ledger.CoverageRatio()
	if err != nil {
		return nil, total, fmt.Errorf("coverage: %w", err)
	}
	if coverage <= k.ledger.Params().LimitHAHedge {
		return nil, total, nil
	}
	started := k.now()
	open := k.ledger.ListPerpetuals()
	sort.SliceStable(open, func(i, j int) bool {
		return hedgeOf(open[i]).Cmp(hedgeOf(open[j])) > 0
	})
	ids := make([]uint64, 0, len(open))
	for _, p := range open {
		ids = append(ids, p.ID)
		if len(ids) == k.cfg.BatchSize {
			break
		}
	}
	res, err := k.ledger.ForceCashOutPerpetuals(ctx, k.cfg.Address, ids)
	if errors.Is(err, perpetual.ErrNotEligible) {
		k.observe(ActionForceCashOut, started, len(open), 0, nil, nil, nil, nil)
		return nil, total, nil
	}
	if err != nil {
		k.observe(ActionForceCashOut, started, len(open), 0, nil, nil, nil, err)
		return nil, total, fmt.Errorf("force cash out: %w", err)
	}
	var records []storage.LiquidationRecord
	for _, id := range res.Closed {
		records = append(records, storage.LiquidationRecord{PerpetualID: id, Kind: "force_closed"})
	}
	for _, id := range res.Liquidated {
		records = append(records, storage.LiquidationRecord{PerpetualID: id, Kind: "liquidated"})
	}
	closed := append(append([]uint64(nil), res.Closed...), res.Liquidated...)
	total.Add(total, res.KeeperFee)
	k.observe(ActionForceCashOut, started, len(open), len(closed), total, res.Rate, records, nil)
	k.logger.Info("positions force closed", "ids", closed, "coverageBefore", res.CoverageBefore, "coverageAfter", res.CoverageAfter)
	return closed, total, nil
}

// hedgeOf ranks positions by committed amount re-based at their entry rate.
func hedgeOf(p *perpetual.Perpetual) *big.Int {
	if p == nil || p.Committed == nil || p.EntryRate == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(p.Committed, p.EntryRate)
}

func (k *Keeper) observe(action string, started time.Time, scanned, closed int, fee, rate *big.Int, records []storage.LiquidationRecord, runErr error) {
	finished := k.now()
	observability.Keeper().ObserveRound(action, closed, fee, finished.Sub(started), runErr)
	if k.recorder == nil {
		return
	}
	if closed == 0 && runErr == nil {
		return
	}
	run := &storage.KeeperRun{
		Action:     action,
		Keeper:     k.cfg.Address.Hex(),
		Scanned:    scanned,
		Closed:     closed,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Records:    records,
	}
	if fee != nil {
		run.KeeperFee = fee.String()
	}
	if rate != nil {
		run.Rate = rate.String()
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := k.recorder.RecordKeeperRun(context.Background(), run); err != nil {
		k.logger.Warn("record keeper run", "action", action, "error", err)
	}
}

func (k *Keeper) publishExposure() {
	g := k.ledger.Globals()
	if g == nil {
		return
	}
	coverage, err := k.ledger.CoverageRatio()
	if err != nil {
		return
	}
	observability.Perpetual().SetExposure(g.Open, g.TotalHedge, g.TotalMargin, coverage, nativecommon.BaseParams)
	if pool, ok := k.ledger.(interface {
		PoolStatus() (perpetual.PoolStatus, error)
	}); ok {
		if status, err := pool.PoolStatus(); err == nil {
			observability.Perpetual().SetPoolBalance(status.Balance)
		}
	}
}
