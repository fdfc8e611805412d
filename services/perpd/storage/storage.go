package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("perpd storage path must be configured")
	// ErrNotFound is returned when a lookup matches no rows.
	ErrNotFound = errors.New("perpd storage: not found")
)

// OracleSample is one raw observation accepted from a feed.
type OracleSample struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Source     string    `gorm:"size:64;index"`
	Rate       string    `gorm:"size:96;not null"`
	ObservedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// OracleSnapshot records the pair of rates the aggregator served at a point
// in time.
type OracleSnapshot struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Lower      string    `gorm:"size:96;not null"`
	Upper      string    `gorm:"size:96;not null"`
	Feeders    string    `gorm:"size:256"`
	ProofID    string    `gorm:"size:66;uniqueIndex"`
	ObservedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// KeeperRun is one pass of the keeper loop.
type KeeperRun struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Action     string    `gorm:"size:32;index"`
	Keeper     string    `gorm:"size:42"`
	Scanned    int
	Closed     int
	KeeperFee  string `gorm:"size:96"`
	Rate       string `gorm:"size:96"`
	Error      string `gorm:"size:512"`
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []LiquidationRecord `gorm:"foreignKey:RunID"`
}

// LiquidationRecord captures one position closed by a keeper run.
type LiquidationRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID       uuid.UUID `gorm:"type:uuid;index"`
	PerpetualID uint64    `gorm:"index"`
	Kind        string    `gorm:"size:32"`
	CreatedAt   time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&OracleSample{},
		&OracleSnapshot{},
		&KeeperRun{},
		&LiquidationRecord{},
	)
}

// Storage wraps the perpd audit database.
type Storage struct {
	db *gorm.DB
}

// Open connects to dsn. DSNs with a postgres scheme use the Postgres driver;
// anything else is handed to SQLite.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	var dialector gorm.Dialector
	if isPostgres(trimmed) {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// New wraps an already opened database. The schema is migrated.
func New(db *gorm.DB) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=")
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSample persists a raw oracle observation.
func (s *Storage) RecordSample(ctx context.Context, source, rate string, observed time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(rate) == "" {
		return fmt.Errorf("sample missing rate")
	}
	rec := OracleSample{
		ID:         uuid.New(),
		Source:     strings.ToLower(strings.TrimSpace(source)),
		Rate:       rate,
		ObservedAt: observed.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordSnapshot stores the lower and upper rates served to the ledger.
func (s *Storage) RecordSnapshot(ctx context.Context, lower, upper string, feeders []string, proofID string, ts time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	rec := OracleSnapshot{
		ID:         uuid.New(),
		Lower:      lower,
		Upper:      upper,
		Feeders:    strings.Join(feeders, ","),
		ProofID:    proofID,
		ObservedAt: ts.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent oracle snapshot.
func (s *Storage) LatestSnapshot(ctx context.Context) (OracleSnapshot, error) {
	var snap OracleSnapshot
	if s == nil {
		return snap, fmt.Errorf("storage not configured")
	}
	err := s.db.WithContext(ctx).Order("observed_at DESC").Order("created_at DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("query snapshot: %w", err)
	}
	return snap, nil
}

// RecordKeeperRun stores a keeper pass together with the positions it
// closed, in one transaction.
func (s *Storage) RecordKeeperRun(ctx context.Context, run *KeeperRun) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if run == nil {
		return fmt.Errorf("keeper run required")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	for i := range run.Records {
		if run.Records[i].ID == uuid.Nil {
			run.Records[i].ID = uuid.New()
		}
		run.Records[i].RunID = run.ID
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("insert keeper run: %w", err)
		}
		return nil
	})
}

// KeeperRuns lists the most recent keeper runs, newest first.
func (s *Storage) KeeperRuns(ctx context.Context, limit int) ([]KeeperRun, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	var runs []KeeperRun
	err := s.db.WithContext(ctx).
		Preload("Records").
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("query keeper runs: %w", err)
	}
	return runs, nil
}

// LiquidationsFor returns the keeper records touching a position.
func (s *Storage) LiquidationsFor(ctx context.Context, perpetualID uint64) ([]LiquidationRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	var out []LiquidationRecord
	err := s.db.WithContext(ctx).Where("perpetual_id = ?", perpetualID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	return out, nil
}

// PruneSamples deletes raw samples observed before cutoff.
func (s *Storage) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	res := s.db.WithContext(ctx).Where("observed_at < ?", cutoff.UTC()).Delete(&OracleSample{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune samples: %w", res.Error)
	}
	return res.RowsAffected, nil
}
