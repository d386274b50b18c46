package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// DuckDBStorage persists run results in DuckDB. Anomalies are bulk loaded
// through the Appender API; aggregates go through INSERT OR IGNORE so the
// (bank_id, transaction_date) key keeps its first row.
type DuckDBStorage struct {
	sqlStore
}

var (
	_ ResultStore     = (*DuckDBStorage)(nil)
	_ AggregateReader = (*DuckDBStorage)(nil)
)

// NewDuckDBStorage creates a new DuckDB storage instance.
// The dbPath can be ":memory:" for in-memory database or a file path for persistent storage.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer; an in-memory database also lives on exactly one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{sqlStore: sqlStore{
		db:      db,
		dsn:     dbPath,
		dialect: duckDBDialect,
		logger:  logger.With("component", "duckdb_storage"),
	}}, nil
}

// Initialize implements StorageManager.Initialize.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("initialize", "", err)
	}

	settings := []string{
		"SET enable_progress_bar = false",
		"SET TimeZone = 'UTC'",
	}
	for _, s := range settings {
		if _, err := db.ExecContext(ctx, s); err != nil {
			d.logger.Warn("failed to apply setting", "setting", s, "error", err)
		}
	}

	return d.initialize(ctx)
}

// Close implements StorageManager.Close.
func (d *DuckDBStorage) Close() error {
	return d.close()
}

// HealthCheck implements StorageManager.HealthCheck.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	return d.healthCheck(ctx)
}

// SaveRun implements ResultWriter.SaveRun.
func (d *DuckDBStorage) SaveRun(ctx context.Context, run *RunRecord) (*SaveResult, error) {
	return d.saveRun(ctx, run, d.appendAnomalies)
}

// GetAggregates implements AggregateReader.GetAggregates.
func (d *DuckDBStorage) GetAggregates(ctx context.Context, q AggregateQuery) ([]models.AggregateRecord, error) {
	return d.getAggregates(ctx, q)
}

// appendAnomalies bulk loads anomalies with the DuckDB Appender.
func (d *DuckDBStorage) appendAnomalies(ctx context.Context, runID string, anomalies []models.AnomalyRecord) (int, error) {
	start := time.Now()

	db, err := d.conn()
	if err != nil {
		return 0, NewInsertError(TableAnomalies, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, NewInsertError(TableAnomalies, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return 0, NewInsertError(TableAnomalies, fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", TableAnomalies)
	if err != nil {
		return 0, NewInsertError(TableAnomalies, fmt.Errorf("failed to create appender: %w", err))
	}
	defer appender.Close()

	for i := range anomalies {
		row := anomalyRow(runID, &anomalies[i], d.dialect)
		values := make([]driver.Value, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := appender.AppendRow(values...); err != nil {
			return 0, NewInsertError(TableAnomalies, fmt.Errorf("failed to append anomaly %s: %w", anomalies[i].TransactionID, err))
		}
	}

	if err := appender.Flush(); err != nil {
		return 0, NewInsertError(TableAnomalies, fmt.Errorf("failed to flush appender: %w", err))
	}

	d.logger.Debug("appended anomalies",
		"count", len(anomalies),
		"duration", time.Since(start))
	return len(anomalies), nil
}
