// Package validator implements the first three pipeline stages for EFT batches.
//
// This package defines the gate-keeping and repair stages that run before any
// statistics are computed:
// - SchemaChecker: verifies the batch is non-empty and carries every required column
// - RecordCleaner: drops records missing a critical field and fills optional defaults
// - RecordNormalizer: coerces amounts, dates and identifiers to canonical types
//
// Only schema validation can fail a run. Every other problem is handled by
// dropping the record and counting why.
package validator

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// SchemaChecker verifies the shape of a raw batch before any record is touched.
type SchemaChecker interface {
	// ValidateSchema checks that the batch is non-empty and that every required
	// column is present.
	//
	// Returns:
	//   - true when the batch may enter the pipeline
	//   - one human-readable message per violation, empty when valid
	ValidateSchema(ctx context.Context, batch models.Batch) (bool, []string)
}

// RecordCleaner removes or repairs records with missing values.
type RecordCleaner interface {
	// CleanNulls drops every record with a null critical field and fills the
	// optional transaction_type and description columns with their defaults.
	// The input batch is not modified.
	CleanNulls(ctx context.Context, batch models.Batch) (models.Batch, CleanStats)
}

// RecordNormalizer converts cleaned raw records into typed transactions.
type RecordNormalizer interface {
	// Normalize coerces and range-checks every record, returning only those that
	// satisfy the full type contract. Each exclusion is counted in NormalizeStats.
	Normalize(ctx context.Context, batch models.Batch) ([]models.Transaction, NormalizeStats)
}

// Validator implements the schema, cleaning and normalization stages.
type Validator struct {
	config config.ProcessingConfig
	now    func() time.Time
	logger *logger.ComponentLogger
}

var (
	_ SchemaChecker    = (*Validator)(nil)
	_ RecordCleaner    = (*Validator)(nil)
	_ RecordNormalizer = (*Validator)(nil)
)

// New creates a validator bound to a copy of cfg.
func New(cfg config.ProcessingConfig, log *slog.Logger) *Validator {
	return &Validator{
		config: cfg.Clone(),
		now:    time.Now,
		logger: logger.NewComponentLogger(log, "validator"),
	}
}

// WithClock replaces the clock used for the future-date check.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Config returns a copy of the processing configuration.
func (v *Validator) Config() config.ProcessingConfig {
	return v.config.Clone()
}
