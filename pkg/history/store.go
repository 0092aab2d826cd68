package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound mirrors the sentinel-error convention used across duraq's
// storage layers.
var ErrNotFound = errors.New("history: not found")

// Store is a GORM/Postgres-backed, append-only JobHistoryStore.
type Store struct {
	db *gorm.DB
}

// New opens a Postgres connection and AutoMigrates the history schema,
// following the same GORM config (PrepareStmt, pool tuning) the example
// pack's job store uses.
func New(connString string) (*Store, error) {
	cfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}
	db, err := gorm.Open(postgres.Open(connString), cfg)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("history: get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("history: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append records one lifecycle event. Never mutated or deleted
// afterwards: the table is write-once by design.
func (s *Store) Append(ctx context.Context, tenant, queueName, jobID, fingerprint string, kind EventKind, occurredAt time.Time) error {
	ev := &Event{
		ID:          uuid.New(),
		Tenant:      tenant,
		Queue:       queueName,
		JobID:       jobID,
		Fingerprint: fingerprint,
		Kind:        kind,
		OccurredAt:  occurredAt,
	}
	if result := s.db.WithContext(ctx).Create(ev); result.Error != nil {
		return fmt.Errorf("history: append: %w", result.Error)
	}
	return nil
}

// ListByJob returns a job's history, newest first, bounded by limit.
func (s *Store) ListByJob(ctx context.Context, tenant, queueName, jobID string, limit int) ([]Event, error) {
	var events []Event
	result := s.db.WithContext(ctx).
		Where("tenant = ? AND queue = ? AND job_id = ?", tenant, queueName, jobID).
		Order("occurred_at desc").
		Limit(limit).
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("history: list by job: %w", result.Error)
	}
	return events, nil
}
