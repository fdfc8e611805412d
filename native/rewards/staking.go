package rewards

import (
	"errors"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	errInvalidDuration = errors.New("rewards: duration must be positive")
	errInvalidAmount   = errors.New("rewards: amount must be positive")
	errRateTooLow      = errors.New("rewards: amount too small for duration")
)

var precision = big.NewInt(1_000_000_000_000_000_000)

// Authorizer gates reward funding.
type Authorizer interface {
	Authorize(caller ethcommon.Address) error
}

type stake struct {
	amount  *big.Int
	paidPer *big.Int
	accrued *big.Int
}

// Staking distributes a reward budget over time pro rata to each position's
// committed amount. A position accrues from the moment it is opened until it
// is closed.
type Staking struct {
	mu           sync.Mutex
	gov          Authorizer
	nowFn        func() time.Time
	rate         *big.Int
	periodFinish uint64
	lastUpdate   uint64
	perToken     *big.Int
	total        *big.Int
	stakes       map[uint64]*stake
	distributed  *big.Int
}

// NewStaking constructs an unfunded strategy.
func NewStaking(gov Authorizer) *Staking {
	return &Staking{
		gov:         gov,
		nowFn:       func() time.Time { return time.Now().UTC() },
		rate:        big.NewInt(0),
		perToken:    big.NewInt(0),
		total:       big.NewInt(0),
		stakes:      make(map[uint64]*stake),
		distributed: big.NewInt(0),
	}
}

// SetNowFunc overrides the clock used by NotifyRewardAmount.
func (s *Staking) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = now
}

func (s *Staking) lastApplicable(at uint64) uint64 {
	if at < s.periodFinish {
		return at
	}
	return s.periodFinish
}

func (s *Staking) rewardPerToken(at uint64) *big.Int {
	out := new(big.Int).Set(s.perToken)
	if s.total.Sign() == 0 {
		return out
	}
	last := s.lastApplicable(at)
	if last <= s.lastUpdate {
		return out
	}
	delta := new(big.Int).SetUint64(last - s.lastUpdate)
	delta.Mul(delta, s.rate)
	delta.Mul(delta, precision)
	delta.Quo(delta, s.total)
	return out.Add(out, delta)
}

func (s *Staking) checkpoint(at uint64) {
	s.perToken = s.rewardPerToken(at)
	if last := s.lastApplicable(at); last > s.lastUpdate {
		s.lastUpdate = last
	}
}

func (s *Staking) earnedLocked(st *stake) *big.Int {
	diff := new(big.Int).Sub(s.perToken, st.paidPer)
	out := diff.Mul(diff, st.amount)
	out.Quo(out, precision)
	return out.Add(out, st.accrued)
}

func (s *Staking) settle(st *stake) {
	st.accrued = s.earnedLocked(st)
	st.paidPer = new(big.Int).Set(s.perToken)
}

// Open starts accrual for position id.
func (s *Staking) Open(id uint64, committed *big.Int, at uint64) {
	if committed == nil || committed.Sign() <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(at)
	if prev, ok := s.stakes[id]; ok {
		s.settle(prev)
		s.total.Sub(s.total, prev.amount)
		prev.amount = new(big.Int).Set(committed)
		s.total.Add(s.total, prev.amount)
		return
	}
	s.stakes[id] = &stake{amount: new(big.Int).Set(committed), paidPer: new(big.Int).Set(s.perToken), accrued: big.NewInt(0)}
	s.total.Add(s.total, committed)
}

// Close stops accrual and forgets the position. Unclaimed rewards are dropped.
func (s *Staking) Close(id uint64, at uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[id]
	if !ok {
		return
	}
	s.checkpoint(at)
	s.total.Sub(s.total, st.amount)
	delete(s.stakes, id)
}

// Earned returns the rewards accrued by id at time at.
func (s *Staking) Earned(id uint64, at uint64) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[id]
	if !ok {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(s.rewardPerToken(at), st.paidPer)
	out := diff.Mul(diff, st.amount)
	out.Quo(out, precision)
	return out.Add(out, st.accrued)
}

// Claim settles and resets the rewards of id.
func (s *Staking) Claim(id uint64, at uint64) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[id]
	if !ok {
		return big.NewInt(0)
	}
	s.checkpoint(at)
	s.settle(st)
	out := st.accrued
	st.accrued = big.NewInt(0)
	s.distributed.Add(s.distributed, out)
	return out
}

// NotifyRewardAmount funds a new distribution period of duration. Leftover
// budget from an unfinished period rolls into the new one.
func (s *Staking) NotifyRewardAmount(caller ethcommon.Address, amount *big.Int, duration time.Duration) error {
	if s.gov == nil {
		return errors.New("rewards: governance not configured")
	}
	if err := s.gov.Authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	secs := uint64(duration / time.Second)
	if secs == 0 {
		return errInvalidDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := uint64(s.nowFn().Unix())
	s.checkpoint(now)
	budget := new(big.Int).Set(amount)
	if now < s.periodFinish {
		leftover := new(big.Int).SetUint64(s.periodFinish - now)
		budget.Add(budget, leftover.Mul(leftover, s.rate))
	}
	rate := new(big.Int).Quo(budget, new(big.Int).SetUint64(secs))
	if rate.Sign() == 0 {
		return errRateTooLow
	}
	s.rate = rate
	s.lastUpdate = now
	s.periodFinish = now + secs
	return nil
}

// Status describes the current distribution period.
type Status struct {
	RewardRate   *big.Int `json:"rewardRate"`
	PeriodFinish uint64   `json:"periodFinish"`
	TotalStaked  *big.Int `json:"totalStaked"`
	Distributed  *big.Int `json:"distributed"`
	Positions    int      `json:"positions"`
}

func (s *Staking) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RewardRate:   new(big.Int).Set(s.rate),
		PeriodFinish: s.periodFinish,
		TotalStaked:  new(big.Int).Set(s.total),
		Distributed:  new(big.Int).Set(s.distributed),
		Positions:    len(s.stakes),
	}
}
