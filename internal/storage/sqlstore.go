package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// anomalyWriter writes anomalies outside the main transaction. nil means the
// anomalies are inserted row by row inside it.
type anomalyWriter func(ctx context.Context, runID string, anomalies []models.AnomalyRecord) (int, error)

// sqlStore holds the database/sql logic shared by the DuckDB and SQLite backends.
type sqlStore struct {
	db      *sql.DB
	dsn     string
	dialect dialect
	logger  *slog.Logger
	mu      sync.RWMutex
}

func (s *sqlStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("database connection is closed")
	}
	return s.db, nil
}

func (s *sqlStore) initialize(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return NewStorageError("initialize", "", err)
	}
	if err := NewMigrationManager(db, s.dialect, s.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", fmt.Errorf("failed to migrate schema: %w", err))
	}
	s.logger.Info("storage initialized", "backend", s.dialect.name, "dsn", s.dsn)
	return nil
}

func (s *sqlStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.logger.Info("closing storage", "backend", s.dialect.name)
	if err := s.db.Close(); err != nil {
		return NewStorageError("close", "", fmt.Errorf("failed to close database: %w", err))
	}
	s.db = nil
	return nil
}

func (s *sqlStore) healthCheck(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return NewStorageError("health_check", "", fmt.Errorf("database health check failed: %w", err))
	}
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// moneyValue encodes a monetary amount for a money column.
func (s *sqlStore) moneyValue(d decimal.Decimal) any {
	if s.dialect.name == sqliteDialect.name {
		return d.StringFixed(2)
	}
	f, _ := d.Float64()
	return f
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *sqlStore) saveRun(ctx context.Context, run *RunRecord, writeAnomalies anomalyWriter) (*SaveResult, error) {
	if run == nil || run.Report == nil {
		return nil, NewInsertError("", fmt.Errorf("run record has no quality report"))
	}
	db, err := s.conn()
	if err != nil {
		return nil, NewInsertError("", err)
	}

	start := time.Now()
	result := &SaveResult{}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewInsertError("", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	inserted, err := s.insertAggregates(ctx, tx, run.RunID, run.Aggregates)
	if err != nil {
		return nil, err
	}
	result.AggregatesInserted = inserted
	result.AggregatesSkipped = len(run.Aggregates) - inserted

	if err := s.insertReport(ctx, tx, run); err != nil {
		return nil, err
	}

	if writeAnomalies == nil {
		n, err := s.insertAnomalies(ctx, tx, run.RunID, run.Anomalies)
		if err != nil {
			return nil, err
		}
		result.AnomaliesInserted = n
	}

	if err := tx.Commit(); err != nil {
		return nil, NewInsertError("", fmt.Errorf("commit: %w", err))
	}

	if writeAnomalies != nil && len(run.Anomalies) > 0 {
		n, err := writeAnomalies(ctx, run.RunID, run.Anomalies)
		if err != nil {
			return nil, err
		}
		result.AnomaliesInserted = n
	}

	s.logger.Debug("saved run",
		"run_id", run.RunID,
		"aggregates_inserted", result.AggregatesInserted,
		"aggregates_skipped", result.AggregatesSkipped,
		"anomalies", result.AnomaliesInserted,
		"duration", time.Since(start))

	return result, nil
}

func (s *sqlStore) insertAggregates(ctx context.Context, tx *sql.Tx, runID string, aggs []models.AggregateRecord) (int, error) {
	if len(aggs) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO `+TableAggregates+`
		(bank_id, transaction_date, total_volume, transaction_count, avg_transaction_value,
		 std_transaction_value, median_transaction_value, min_transaction_value, max_transaction_value,
		 unique_customers, unique_transaction_ids, transaction_type_breakdown,
		 avg_transactions_per_customer, avg_value_per_customer, processed_at, data_quality_score, run_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, NewInsertError(TableAggregates, fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	inserted := 0
	for i := range aggs {
		a := &aggs[i]
		breakdown, err := json.Marshal(a.TransactionTypeBreakdown)
		if err != nil {
			return 0, NewInsertError(TableAggregates, fmt.Errorf("encode breakdown: %w", err))
		}
		res, err := stmt.ExecContext(ctx,
			a.BankID, a.TransactionDate,
			s.moneyValue(a.TotalVolume), a.TransactionCount,
			s.moneyValue(a.AvgTransactionValue), s.moneyValue(a.StdTransactionValue),
			s.moneyValue(a.MedianTransactionValue), s.moneyValue(a.MinTransactionValue),
			s.moneyValue(a.MaxTransactionValue),
			a.UniqueCustomers, a.UniqueTransactionIDs, string(breakdown),
			a.AvgTransactionsPerCustomer, s.moneyValue(a.AvgValuePerCustomer),
			s.dialect.timeValue(a.ProcessedAt), a.DataQualityScore, runID,
		)
		if err != nil {
			return 0, NewInsertError(TableAggregates, fmt.Errorf("insert %s/%s: %w", a.BankID, a.TransactionDate, err))
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

func (s *sqlStore) insertReport(ctx context.Context, tx *sql.Tx, run *RunRecord) error {
	r := run.Report
	_, err := tx.ExecContext(ctx, `INSERT INTO `+TableReports+`
		(run_id, source, checksum, total_records, valid_records, null_records, invalid_amounts,
		 duplicate_records, quality_score, quality_level, anomaly_count, processing_timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.RunID, nullableString(run.Source), nullableString(run.Checksum),
		r.TotalRecords, r.ValidRecords, r.NullRecords, r.InvalidAmounts,
		r.DuplicateRecords, r.QualityScore, r.QualityLevel.String(), r.AnomalyCount,
		s.dialect.timeValue(r.ProcessingTimestamp),
	)
	if err != nil {
		return NewInsertError(TableReports, err)
	}
	return nil
}

func (s *sqlStore) insertAnomalies(ctx context.Context, tx *sql.Tx, runID string, anomalies []models.AnomalyRecord) (int, error) {
	if len(anomalies) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+TableAnomalies+`
		(anomaly_id, run_id, transaction_id, bank_id, customer_id, amount, transaction_date,
		 transaction_type, description, anomaly_type, z_score, detected_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, NewInsertError(TableAnomalies, fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for i := range anomalies {
		a := &anomalies[i]
		if _, err := stmt.ExecContext(ctx, anomalyRow(runID, a, s.dialect)...); err != nil {
			return 0, NewInsertError(TableAnomalies, fmt.Errorf("insert anomaly %d: %w", i, err))
		}
	}
	return len(anomalies), nil
}

// anomalyRow returns the column values of one anomaly in table order.
func anomalyRow(runID string, a *models.AnomalyRecord, d dialect) []any {
	return []any{
		uuid.NewString(),
		runID,
		nullableString(a.TransactionID),
		a.BankID,
		a.CustomerID,
		a.AmountFloat(),
		nullableString(a.DateKey()),
		a.Type.String(),
		nullableString(a.Description),
		string(a.AnomalyType),
		a.ZScore,
		d.timeValue(a.DetectedAt),
	}
}

func (s *sqlStore) getAggregates(ctx context.Context, q AggregateQuery) ([]models.AggregateRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, NewQueryError(TableAggregates, err)
	}

	var conditions []string
	var args []any
	if q.BankID != "" {
		conditions = append(conditions, "bank_id = ?")
		args = append(args, q.BankID)
	}
	if q.From != "" {
		conditions = append(conditions, "transaction_date >= ?")
		args = append(args, q.From)
	}
	if q.To != "" {
		conditions = append(conditions, "transaction_date <= ?")
		args = append(args, q.To)
	}

	query := `SELECT bank_id, transaction_date,
		CAST(total_volume AS VARCHAR), transaction_count,
		CAST(avg_transaction_value AS VARCHAR), CAST(std_transaction_value AS VARCHAR),
		CAST(median_transaction_value AS VARCHAR), CAST(min_transaction_value AS VARCHAR),
		CAST(max_transaction_value AS VARCHAR), unique_customers, unique_transaction_ids,
		transaction_type_breakdown, avg_transactions_per_customer,
		CAST(avg_value_per_customer AS VARCHAR), processed_at, data_quality_score
		FROM ` + TableAggregates
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY bank_id, transaction_date"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(TableAggregates, err)
	}
	defer rows.Close()

	var out []models.AggregateRecord
	for rows.Next() {
		var a models.AggregateRecord
		var total, avg, std, median, minV, maxV, perCustomer, breakdown string
		var processedAt any
		if err := rows.Scan(
			&a.BankID, &a.TransactionDate,
			&total, &a.TransactionCount,
			&avg, &std, &median, &minV, &maxV,
			&a.UniqueCustomers, &a.UniqueTransactionIDs,
			&breakdown, &a.AvgTransactionsPerCustomer,
			&perCustomer, &processedAt, &a.DataQualityScore,
		); err != nil {
			return nil, NewQueryError(TableAggregates, fmt.Errorf("failed to scan row: %w", err))
		}

		money := []struct {
			raw string
			dst *decimal.Decimal
		}{
			{total, &a.TotalVolume}, {avg, &a.AvgTransactionValue}, {std, &a.StdTransactionValue},
			{median, &a.MedianTransactionValue}, {minV, &a.MinTransactionValue},
			{maxV, &a.MaxTransactionValue}, {perCustomer, &a.AvgValuePerCustomer},
		}
		for _, m := range money {
			d, err := decimal.NewFromString(m.raw)
			if err != nil {
				return nil, NewQueryError(TableAggregates, fmt.Errorf("invalid money value %q: %w", m.raw, err))
			}
			*m.dst = d
		}

		if err := json.Unmarshal([]byte(breakdown), &a.TransactionTypeBreakdown); err != nil {
			return nil, NewQueryError(TableAggregates, fmt.Errorf("invalid breakdown: %w", err))
		}
		if a.ProcessedAt, err = timeFromColumn(processedAt); err != nil {
			return nil, NewQueryError(TableAggregates, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(TableAggregates, fmt.Errorf("row iteration error: %w", err))
	}
	return out, nil
}

// timeFromColumn converts a scanned timestamp column to time.Time.
func timeFromColumn(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
