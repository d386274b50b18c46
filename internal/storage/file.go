package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// Output file names written by FileStorage.
const (
	AggregatesFile = "daily_bank_aggregates.csv"
	ReportFile     = "data_quality_report.json"
	AnomaliesFile  = "detected_anomalies.csv"
)

var aggregateHeader = []string{
	"bank_id", "transaction_date", "total_volume", "transaction_count",
	"avg_transaction_value", "std_transaction_value", "median_transaction_value",
	"min_transaction_value", "max_transaction_value", "unique_customers",
	"unique_transaction_ids", "transaction_type_breakdown",
	"avg_transactions_per_customer", "avg_value_per_customer",
	"processed_at", "data_quality_score",
}

var anomalyHeader = []string{
	"transaction_id", "bank_id", "customer_id", "amount", "transaction_date",
	"transaction_type", "description", "anomaly_type", "z_score", "detected_at",
}

// FileStorage writes each run to a directory as two CSV files and one JSON
// report. Every run replaces the files of the previous one; the anomalies file
// is only written when the run found anomalies.
type FileStorage struct {
	dir    string
	logger *slog.Logger
}

var _ ResultStore = (*FileStorage)(nil)

// NewFileStorage creates a file sink rooted at dir.
func NewFileStorage(dir string, logger *slog.Logger) *FileStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStorage{dir: dir, logger: logger.With("component", "file_storage")}
}

// Dir returns the output directory.
func (f *FileStorage) Dir() string {
	return f.dir
}

// Initialize creates the output directory.
func (f *FileStorage) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return NewStorageError("initialize", "", fmt.Errorf("create output dir: %w", err))
	}
	return nil
}

// Close implements StorageManager.Close. There is nothing to release.
func (f *FileStorage) Close() error {
	return nil
}

// HealthCheck verifies the output directory exists and is a directory.
func (f *FileStorage) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return NewStorageError("health_check", "", err)
	}
	if !info.IsDir() {
		return NewStorageError("health_check", "", fmt.Errorf("%s is not a directory", f.dir))
	}
	return nil
}

// SaveRun implements ResultWriter.SaveRun.
func (f *FileStorage) SaveRun(ctx context.Context, run *RunRecord) (*SaveResult, error) {
	if run == nil || run.Report == nil {
		return nil, NewInsertError("", errors.New("run record has no quality report"))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewInsertError("", err)
	}

	aggPath := filepath.Join(f.dir, AggregatesFile)
	if err := writeFileAtomic(aggPath, func(file *os.File) error {
		return writeAggregatesCSV(file, run.Aggregates)
	}); err != nil {
		return nil, NewInsertError(AggregatesFile, err)
	}
	f.logger.Info("saved aggregated data", "path", aggPath, "rows", len(run.Aggregates))

	reportPath := filepath.Join(f.dir, ReportFile)
	if err := writeFileAtomic(reportPath, func(file *os.File) error {
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		return enc.Encode(run.Report)
	}); err != nil {
		return nil, NewInsertError(ReportFile, err)
	}
	f.logger.Info("saved quality report", "path", reportPath)

	result := &SaveResult{AggregatesInserted: len(run.Aggregates)}
	anomalyPath := filepath.Join(f.dir, AnomaliesFile)
	if len(run.Anomalies) == 0 {
		if err := os.Remove(anomalyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, NewStorageError("delete", AnomaliesFile, err)
		}
	} else {
		if err := writeFileAtomic(anomalyPath, func(file *os.File) error {
			return writeAnomaliesCSV(file, run.Anomalies)
		}); err != nil {
			return nil, NewInsertError(AnomaliesFile, err)
		}
		result.AnomaliesInserted = len(run.Anomalies)
		f.logger.Info("saved anomalies", "path", anomalyPath, "rows", len(run.Anomalies))
	}

	return result, nil
}

// writeFileAtomic writes through a temp file in the same directory and renames
// it over path, so readers never see a partial file.
func writeFileAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeAggregatesCSV(file *os.File, aggs []models.AggregateRecord) error {
	w := csv.NewWriter(file)
	if err := w.Write(aggregateHeader); err != nil {
		return err
	}
	for _, a := range aggs {
		breakdown, err := json.Marshal(a.TransactionTypeBreakdown)
		if err != nil {
			return err
		}
		if err := w.Write([]string{
			a.BankID,
			a.TransactionDate,
			a.TotalVolume.StringFixed(2),
			strconv.Itoa(a.TransactionCount),
			a.AvgTransactionValue.StringFixed(2),
			a.StdTransactionValue.StringFixed(2),
			a.MedianTransactionValue.StringFixed(2),
			a.MinTransactionValue.StringFixed(2),
			a.MaxTransactionValue.StringFixed(2),
			strconv.Itoa(a.UniqueCustomers),
			strconv.Itoa(a.UniqueTransactionIDs),
			string(breakdown),
			strconv.FormatFloat(a.AvgTransactionsPerCustomer, 'f', 2, 64),
			a.AvgValuePerCustomer.StringFixed(2),
			a.ProcessedAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(a.DataQualityScore, 'f', 2, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeAnomaliesCSV(file *os.File, anomalies []models.AnomalyRecord) error {
	w := csv.NewWriter(file)
	if err := w.Write(anomalyHeader); err != nil {
		return err
	}
	for _, a := range anomalies {
		if err := w.Write([]string{
			a.TransactionID,
			a.BankID,
			a.CustomerID,
			a.Amount.StringFixed(2),
			a.DateKey(),
			a.Type.String(),
			a.Description,
			string(a.AnomalyType),
			strconv.FormatFloat(a.ZScore, 'f', 4, 64),
			a.DetectedAt.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
