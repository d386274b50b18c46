package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// SQLiteStorage persists run results in SQLite through the pure-Go modernc
// driver. Money columns are stored as fixed two-decimal text.
type SQLiteStorage struct {
	sqlStore
}

var (
	_ ResultStore     = (*SQLiteStorage)(nil)
	_ AggregateReader = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage opens (or creates) a SQLite database at dsn. Pass
// ":memory:" for an in-memory database.
func NewSQLiteStorage(dsn string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("open db: %w", err))
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	return &SQLiteStorage{sqlStore: sqlStore{
		db:      db,
		dsn:     dsn,
		dialect: sqliteDialect,
		logger:  logger.With("component", "sqlite_storage"),
	}}, nil
}

// Initialize implements StorageManager.Initialize.
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return NewStorageError("initialize", "", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return NewStorageError("initialize", "", fmt.Errorf("set wal mode: %w", err))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return NewStorageError("initialize", "", fmt.Errorf("set busy timeout: %w", err))
	}

	return s.initialize(ctx)
}

// Close implements StorageManager.Close.
func (s *SQLiteStorage) Close() error {
	return s.close()
}

// HealthCheck implements StorageManager.HealthCheck.
func (s *SQLiteStorage) HealthCheck(ctx context.Context) error {
	return s.healthCheck(ctx)
}

// SaveRun implements ResultWriter.SaveRun. Everything is written in one transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *RunRecord) (*SaveResult, error) {
	return s.saveRun(ctx, run, nil)
}

// GetAggregates implements AggregateReader.GetAggregates.
func (s *SQLiteStorage) GetAggregates(ctx context.Context, q AggregateQuery) ([]models.AggregateRecord, error) {
	return s.getAggregates(ctx, q)
}
