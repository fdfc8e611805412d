package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	nativeoracle "hedgeline/native/oracle"
	"hedgeline/observability"
	"hedgeline/services/perpd/adapters"
)

// Recorder persists oracle activity for audit.
type Recorder interface {
	RecordSample(ctx context.Context, source, rate string, observed time.Time) error
	RecordSnapshot(ctx context.Context, lower, upper string, feeders []string, proofID string, ts time.Time) error
}

// Feed pairs an upstream source with the cache the ledger reads from.
type Feed struct {
	Upstream nativeoracle.Source
	Cache    *nativeoracle.CachedSource
}

// Reader is the aggregated view published after each tick.
type Reader interface {
	ReadAll(ctx context.Context) (nativeoracle.Reading, error)
}

// Snapshot is the pair of rates served to the ledger after a tick.
type Snapshot struct {
	Lower   string    `json:"lower"`
	Upper   string    `json:"upper"`
	Feeders []string  `json:"feeders"`
	ProofID string    `json:"proofId"`
	Time    time.Time `json:"time"`
}

// Manager polls upstream feeds and keeps the ledger's cached sources warm.
type Manager struct {
	logger   *slog.Logger
	recorder Recorder
	reader   Reader
	feeds    []Feed
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	once     sync.Once

	mu   sync.RWMutex
	last *Snapshot
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a manager instance.
func New(recorder Recorder, reader Reader, feeds []Feed, interval, maxAge time.Duration, opts ...Option) (*Manager, error) {
	if recorder == nil {
		return nil, fmt.Errorf("recorder required")
	}
	if reader == nil {
		return nil, fmt.Errorf("aggregated reader required")
	}
	if len(feeds) == 0 || len(feeds) > 2 {
		return nil, fmt.Errorf("one or two feeds required")
	}
	for i, f := range feeds {
		if f.Upstream == nil || f.Cache == nil {
			return nil, fmt.Errorf("feed %d incomplete", i)
		}
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	mgr := &Manager{
		logger:   slog.Default(),
		recorder: recorder,
		reader:   reader,
		feeds:    append([]Feed{}, feeds...),
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started", "feeds", len(m.feeds))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("oracle tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick polls every feed once, refreshes the caches and records a snapshot of
// the rates the ledger will now read. A feed that fails keeps its previous
// cached value until it ages out.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	now := m.now()
	feeders := make([]string, 0, len(m.feeds))
	for _, feed := range m.feeds {
		name := feed.Upstream.Name()
		obs, err := feed.Upstream.Rate(ctx)
		if err != nil {
			observability.Oracle().RecordFailure(name)
			m.logger.Warn("oracle feed failed", "source", name, "error", err)
			continue
		}
		if err := m.validate(obs, now); err != nil {
			observability.Oracle().RecordFailure(name)
			m.logger.Warn("oracle observation rejected", "source", name, "error", err)
			continue
		}
		if err := feed.Cache.Update(obs); err != nil {
			m.logger.Warn("oracle cache update failed", "source", name, "error", err)
			continue
		}
		feeders = append(feeders, name)
		observability.Oracle().RecordObservation(name, obs.Rate, now.Sub(obs.Timestamp))
		if err := m.recorder.RecordSample(ctx, name, adapters.FormatRate(obs.Rate), obs.Timestamp); err != nil {
			m.logger.Warn("record oracle sample", "source", name, "error", err)
		}
	}

	reading, err := m.reader.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read aggregated rates: %w", err)
	}
	snap := Snapshot{
		Lower:   adapters.FormatRate(reading.Lower()),
		Upper:   adapters.FormatRate(reading.Upper()),
		Feeders: feeders,
		Time:    now.UTC(),
	}
	snap.ProofID = proofID(snap.Lower, snap.Upper, feeders, now)
	if err := m.recorder.RecordSnapshot(ctx, snap.Lower, snap.Upper, feeders, snap.ProofID, now); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	m.mu.Lock()
	m.last = &snap
	m.mu.Unlock()
	return nil
}

// Last returns the most recent snapshot, if any tick has succeeded.
func (m *Manager) Last() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Snapshot{}, false
	}
	out := *m.last
	out.Feeders = append([]string(nil), m.last.Feeders...)
	return out, true
}

func (m *Manager) validate(obs nativeoracle.Observation, now time.Time) error {
	if obs.Rate == nil || obs.Rate.Sign() <= 0 {
		return nativeoracle.ErrInvalidRate
	}
	if obs.Timestamp.After(now.Add(5 * time.Second)) {
		return fmt.Errorf("observation from the future")
	}
	if obs.Timestamp.Before(now.Add(-m.maxAge)) {
		return nativeoracle.ErrStale
	}
	return nil
}

func proofID(lower, upper string, feeders []string, ts time.Time) string {
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	parts := [][]byte{
		[]byte(lower),
		[]byte("/"),
		[]byte(upper),
		[]byte(ts.UTC().Format(time.RFC3339Nano)),
	}
	for _, f := range sorted {
		parts = append(parts, []byte(strings.ToLower(strings.TrimSpace(f))))
	}
	return crypto.Keccak256Hash(parts...).Hex()
}
