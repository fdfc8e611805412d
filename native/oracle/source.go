package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoObservation is returned by a cached source that has never been fed.
	ErrNoObservation = errors.New("oracle: no observation available")
	// ErrStale indicates the latest observation is older than the freshness window.
	ErrStale = errors.New("oracle: observation is stale")
	// ErrInvalidRate rejects zero or negative rates.
	ErrInvalidRate = errors.New("oracle: rate must be positive")
)

// Observation is a single rate reported by a source. Rates are expressed in
// stable units per whole collateral unit scaled by 1e18.
type Observation struct {
	Rate      *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the observation.
func (o Observation) Clone() Observation {
	out := Observation{Timestamp: o.Timestamp, Source: o.Source}
	if o.Rate != nil {
		out.Rate = new(big.Int).Set(o.Rate)
	}
	return out
}

// Source resolves the current collateral rate from one independent feed.
type Source interface {
	Name() string
	Rate(ctx context.Context) (Observation, error)
}

// StaticSource always reports the last rate set on it.
type StaticSource struct {
	mu   sync.RWMutex
	name string
	rate *big.Int
	now  func() time.Time
}

// NewStaticSource constructs a source pinned to rate.
func NewStaticSource(name string, rate *big.Int) *StaticSource {
	s := &StaticSource{name: strings.TrimSpace(name), now: func() time.Time { return time.Now().UTC() }}
	if rate != nil {
		s.rate = new(big.Int).Set(rate)
	}
	return s
}

func (s *StaticSource) Name() string { return s.name }

// Set replaces the reported rate.
func (s *StaticSource) Set(rate *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate == nil {
		s.rate = nil
		return
	}
	s.rate = new(big.Int).Set(rate)
}

func (s *StaticSource) Rate(context.Context) (Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rate == nil {
		return Observation{}, fmt.Errorf("%s: %w", s.name, ErrNoObservation)
	}
	return Observation{Rate: new(big.Int).Set(s.rate), Timestamp: s.now(), Source: s.name}, nil
}

// CachedSource serves the most recent observation pushed by an external poller
// and rejects it once it is older than maxAge.
type CachedSource struct {
	mu     sync.RWMutex
	name   string
	maxAge time.Duration
	latest *Observation
	now    func() time.Time
}

// NewCachedSource constructs a cache. A non-positive maxAge disables staleness checks.
func NewCachedSource(name string, maxAge time.Duration) *CachedSource {
	return &CachedSource{
		name:   strings.TrimSpace(name),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for staleness checks. Nil restores the
// default UTC clock.
func (c *CachedSource) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	c.now = now
}

func (c *CachedSource) Name() string { return c.name }

// Update records a new observation.
func (c *CachedSource) Update(obs Observation) error {
	if obs.Rate == nil || obs.Rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	clone := obs.Clone()
	if clone.Source == "" {
		clone.Source = c.name
	}
	c.mu.Lock()
	c.latest = &clone
	c.mu.Unlock()
	return nil
}

// Latest returns the cached observation regardless of age.
func (c *CachedSource) Latest() (Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return Observation{}, false
	}
	return c.latest.Clone(), true
}

func (c *CachedSource) Rate(context.Context) (Observation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return Observation{}, fmt.Errorf("%s: %w", c.name, ErrNoObservation)
	}
	if c.maxAge > 0 && c.now().Sub(c.latest.Timestamp) > c.maxAge {
		return Observation{}, fmt.Errorf("%s: %w", c.name, ErrStale)
	}
	return c.latest.Clone(), nil
}
