// Package storage persists the results of pipeline runs. Every backend writes
// the same three outputs: daily aggregates, detected anomalies and the quality
// report. Aggregates are unique on (bank_id, transaction_date); a second run
// that produces an existing key leaves the stored row untouched.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	apperrors "github.com/johnayoung/go-eft-pipeline/internal/errors"
	"github.com/johnayoung/go-eft-pipeline/internal/metrics"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// Table names shared by the SQL backends.
const (
	TableAggregates = "daily_bank_aggregates"
	TableAnomalies  = "detected_anomalies"
	TableReports    = "data_quality_reports"
)

// RunRecord is everything one pipeline run produced, plus where it came from.
type RunRecord struct {
	RunID      string
	Source     string
	Checksum   string
	ReceivedAt time.Time
	Aggregates []models.AggregateRecord
	Report     *models.QualityReport
	Anomalies  []models.AnomalyRecord
}

// SaveResult reports what a SaveRun call wrote.
type SaveResult struct {
	AggregatesInserted int `json:"aggregates_inserted"`
	AggregatesSkipped  int `json:"aggregates_skipped"`
	AnomaliesInserted  int `json:"anomalies_inserted"`
}

// ResultWriter persists run results.
type ResultWriter interface {
	// SaveRun writes the aggregates, anomalies and report of one run.
	// Aggregates whose (bank_id, transaction_date) already exist are skipped
	// and counted in SaveResult.AggregatesSkipped.
	SaveRun(ctx context.Context, run *RunRecord) (*SaveResult, error)
}

// AggregateReader reads stored aggregates back. Not every backend supports it.
type AggregateReader interface {
	// GetAggregates returns stored aggregates sorted by bank_id then date.
	// Empty filter fields match everything; From and To are inclusive dates.
	GetAggregates(ctx context.Context, q AggregateQuery) ([]models.AggregateRecord, error)
}

// StorageManager handles backend lifecycle.
type StorageManager interface {
	// Initialize prepares the backend. It is idempotent.
	Initialize(ctx context.Context) error

	// Close releases the backend. The store must not be used afterwards.
	Close() error

	// HealthCheck performs a lightweight liveness check.
	HealthCheck(ctx context.Context) error
}

// ResultStore is the interface every backend implements.
type ResultStore interface {
	ResultWriter
	StorageManager
}

// AggregateQuery filters GetAggregates.
type AggregateQuery struct {
	BankID string
	From   string
	To     string
}

func (q AggregateQuery) matches(a models.AggregateRecord) bool {
	if q.BankID != "" && a.BankID != q.BankID {
		return false
	}
	if q.From != "" && a.TransactionDate < q.From {
		return false
	}
	if q.To != "" && a.TransactionDate > q.To {
		return false
	}
	return true
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewInsertError creates a StorageError specifically for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return NewStorageError("insert", table, err)
}

// NewQueryError creates a StorageError specifically for query operations.
func NewQueryError(table string, err error) *StorageError {
	return NewStorageError("query", table, err)
}

// New builds the backend named by cfg.Type. The store is not initialized.
func New(cfg config.StorageConfig, log *slog.Logger) (ResultStore, error) {
	switch cfg.Type {
	case "duckdb":
		return NewDuckDBStorage(cfg.DatabaseURL, log)
	case "sqlite":
		return NewSQLiteStorage(cfg.DatabaseURL, log)
	case "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.OutputDir, log), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// RetryingStore retries failed writes with the configured backoff policy.
type RetryingStore struct {
	ResultStore
	name       string
	classifier *apperrors.ErrorClassifier
	metrics    *metrics.Collector
	timeout    time.Duration
}

// NewRetryingStore wraps store. name identifies the backend in logs and
// metrics; timeout bounds each attempt when positive.
func NewRetryingStore(store ResultStore, name string, classifier *apperrors.ErrorClassifier, mc *metrics.Collector, timeout time.Duration) *RetryingStore {
	return &RetryingStore{
		ResultStore: store,
		name:        name,
		classifier:  classifier,
		metrics:     mc,
		timeout:     timeout,
	}
}

// SaveRun implements ResultWriter.
func (r *RetryingStore) SaveRun(ctx context.Context, run *RunRecord) (*SaveResult, error) {
	var result *SaveResult
	err := r.classifier.Retry(ctx, "storage", "save_run", func() error {
		attemptCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		var err error
		result, err = r.ResultStore.SaveRun(attemptCtx, run)
		return err
	})
	if err != nil {
		r.metrics.RecordStoreFailure(r.name)
		return nil, err
	}
	return result, nil
}

// GetAggregates forwards to the wrapped store when it supports reads.
func (r *RetryingStore) GetAggregates(ctx context.Context, q AggregateQuery) ([]models.AggregateRecord, error) {
	reader, ok := r.ResultStore.(AggregateReader)
	if !ok {
		return nil, fmt.Errorf("storage backend %s does not support reads", r.name)
	}
	return reader.GetAggregates(ctx, q)
}
