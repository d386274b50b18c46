package config

import (
	"fmt"
	"strings"
)

// Column names understood by the pipeline stages.
const (
	ColumnTransactionID   = "transaction_id"
	ColumnBankID          = "bank_id"
	ColumnCustomerID      = "customer_id"
	ColumnAmount          = "amount"
	ColumnTransactionDate = "transaction_date"
	ColumnTransactionType = "transaction_type"
	ColumnDescription     = "description"
)

// ProcessingConfig holds the tunables for a single pipeline run.
type ProcessingConfig struct {
	MaxTransactionAmount float64  `json:"max_transaction_amount" env:"PIPELINE_MAX_TRANSACTION_AMOUNT"`
	MinTransactionAmount float64  `json:"min_transaction_amount" env:"PIPELINE_MIN_TRANSACTION_AMOUNT"`
	RequiredColumns      []string `json:"required_columns" env:"PIPELINE_REQUIRED_COLUMNS"`
	AnomalyThresholdStd  float64  `json:"anomaly_threshold_std" env:"PIPELINE_ANOMALY_THRESHOLD_STD"`
	CurrencyPrecision    int32    `json:"currency_precision" env:"PIPELINE_CURRENCY_PRECISION"`
	RemoveDuplicates     bool     `json:"remove_duplicates" env:"PIPELINE_REMOVE_DUPLICATES"`
	HandleOutliers       bool     `json:"handle_outliers" env:"PIPELINE_HANDLE_OUTLIERS"`

	// DuplicateKeyColumns is shared by the duplicate remover and the quality
	// reporter so both count the same records as duplicates.
	DuplicateKeyColumns []string `json:"duplicate_key_columns" env:"PIPELINE_DUPLICATE_KEY_COLUMNS"`
	DateFormats         []string `json:"date_formats" env:"PIPELINE_DATE_FORMATS"`
	AggregationWorkers  int      `json:"aggregation_workers" env:"PIPELINE_AGGREGATION_WORKERS"`
}

// DefaultProcessingConfig returns the stock thresholds for EFT batches.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		MaxTransactionAmount: 1_000_000.0,
		MinTransactionAmount: 0.01,
		RequiredColumns: []string{
			ColumnTransactionID,
			ColumnBankID,
			ColumnCustomerID,
			ColumnAmount,
			ColumnTransactionDate,
		},
		AnomalyThresholdStd: 3.0,
		CurrencyPrecision:   2,
		RemoveDuplicates:    true,
		HandleOutliers:      true,
		DuplicateKeyColumns: []string{
			ColumnBankID,
			ColumnCustomerID,
			ColumnAmount,
			ColumnTransactionDate,
		},
		DateFormats: []string{
			"2006-01-02",
			"2006-01-02T15:04:05Z07:00",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
		},
		AggregationWorkers: 4,
	}
}

// Clone returns a deep copy so callers cannot mutate a config held by a processor.
func (c ProcessingConfig) Clone() ProcessingConfig {
	out := c
	out.RequiredColumns = append([]string(nil), c.RequiredColumns...)
	out.DuplicateKeyColumns = append([]string(nil), c.DuplicateKeyColumns...)
	out.DateFormats = append([]string(nil), c.DateFormats...)
	return out
}

// Validate reports every inconsistency in the processing thresholds.
func (c ProcessingConfig) Validate() error {
	var errors []string

	if len(c.RequiredColumns) == 0 {
		errors = append(errors, "pipeline.required_columns must not be empty")
	}
	if c.MinTransactionAmount <= 0 {
		errors = append(errors, "pipeline.min_transaction_amount must be greater than 0")
	}
	if c.MaxTransactionAmount < c.MinTransactionAmount {
		errors = append(errors, "pipeline.max_transaction_amount must be >= min_transaction_amount")
	}
	if c.AnomalyThresholdStd <= 0 {
		errors = append(errors, "pipeline.anomaly_threshold_std must be greater than 0")
	}
	if c.CurrencyPrecision < 0 || c.CurrencyPrecision > 8 {
		errors = append(errors, "pipeline.currency_precision must be between 0 and 8")
	}
	if len(c.DateFormats) == 0 {
		errors = append(errors, "pipeline.date_formats must not be empty")
	}
	if c.AggregationWorkers < 0 {
		errors = append(errors, "pipeline.aggregation_workers must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("processing config errors:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}
