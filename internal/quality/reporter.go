// Package quality computes the per-run data quality report. The report is the
// single record of how much of a batch was excluded and why, in aggregate.
package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/dedup"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
	"github.com/johnayoung/go-eft-pipeline/internal/validator"
)

// Reporter builds QualityReports. It does not modify its inputs.
type Reporter struct {
	requiredColumns []string
	duplicateKey    []string
	now             func() time.Time
	logger          *logger.ComponentLogger
}

// New creates a reporter that reads required and duplicate-key columns from cfg.
func New(cfg config.ProcessingConfig, log *slog.Logger) *Reporter {
	return &Reporter{
		requiredColumns: append([]string(nil), cfg.RequiredColumns...),
		duplicateKey:    append([]string(nil), cfg.DuplicateKeyColumns...),
		now:             time.Now,
		logger:          logger.NewComponentLogger(log, "quality_reporter"),
	}
}

// WithClock replaces the clock used for processing_timestamp.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Generate computes the report for one run from the original batch and the
// final normal and anomalous sets.
func (r *Reporter) Generate(ctx context.Context, original models.Batch, normal []models.Transaction, anomalies []models.AnomalyRecord) *models.QualityReport {
	report := &models.QualityReport{
		TotalRecords:        original.Len(),
		ValidRecords:        len(normal),
		NullRecords:         r.countNulls(original),
		InvalidAmounts:      countInvalidAmounts(original),
		DuplicateRecords:    dedup.CountDuplicates(original, r.duplicateKey),
		AnomalyCount:        len(anomalies),
		ProcessingTimestamp: r.now(),
	}
	report.QualityScore = models.QualityScore(report.ValidRecords, report.TotalRecords)
	report.QualityLevel = models.QualityLevelForScore(report.QualityScore)

	attrs := []interface{}{
		"total_records", report.TotalRecords,
		"valid_records", report.ValidRecords,
		"null_records", report.NullRecords,
		"invalid_amounts", report.InvalidAmounts,
		"duplicate_records", report.DuplicateRecords,
		"anomaly_count", report.AnomalyCount,
		"quality_score", report.QualityScore,
		"quality_level", report.QualityLevel.String(),
	}
	if report.QualityLevel == models.QualityPoor {
		r.logger.WarnWithContext(ctx, "batch quality is poor", attrs...)
	} else {
		r.logger.InfoWithContext(ctx, "quality report generated", attrs...)
	}

	return report
}

// countNulls sums nulls over the required columns present in the batch.
func (r *Reporter) countNulls(batch models.Batch) int {
	total := 0
	for _, col := range r.requiredColumns {
		if !batch.HasColumn(col) {
			continue
		}
		for _, rec := range batch.Records {
			if _, ok := rec.Value(col); !ok {
				total++
			}
		}
	}
	return total
}

// countInvalidAmounts counts records whose amount is null or not numeric.
func countInvalidAmounts(batch models.Batch) int {
	if !batch.HasColumn(config.ColumnAmount) {
		return 0
	}
	n := 0
	for _, rec := range batch.Records {
		if _, ok := validator.ParseAmount(rec[config.ColumnAmount]); !ok {
			n++
		}
	}
	return n
}
