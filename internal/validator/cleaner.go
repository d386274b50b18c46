package validator

import (
	"context"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// Defaults substituted for optional fields.
const (
	DefaultTransactionType = "UNKNOWN"
	DefaultDescription     = "No description"
)

// CriticalColumns are the fields whose absence removes a record.
var CriticalColumns = []string{
	config.ColumnBankID,
	config.ColumnCustomerID,
	config.ColumnAmount,
}

// CleanStats counts what the null cleaner changed.
type CleanStats struct {
	Input              int            `json:"input"`
	NullCounts         map[string]int `json:"null_counts"`
	Removed            int            `json:"removed"`
	FilledTypes        int            `json:"filled_types"`
	FilledDescriptions int            `json:"filled_descriptions"`
	Output             int            `json:"output"`
}

// CleanNulls implements RecordCleaner.
func (v *Validator) CleanNulls(ctx context.Context, batch models.Batch) (models.Batch, CleanStats) {
	stats := CleanStats{
		Input:      batch.Len(),
		NullCounts: nullCounts(batch),
	}

	if len(stats.NullCounts) > 0 {
		v.logger.WarnWithContext(ctx, "found null values", "null_counts", stats.NullCounts)
	}

	hasType := batch.HasColumn(config.ColumnTransactionType)
	hasDescription := batch.HasColumn(config.ColumnDescription)

	out := models.Batch{
		Columns: append([]string(nil), batch.Columns...),
		Records: make([]models.RawRecord, 0, batch.Len()),
	}

	for _, rec := range batch.Records {
		if missingCritical(rec) {
			stats.Removed++
			continue
		}

		cleaned := rec.Clone()
		if hasType {
			if _, ok := cleaned.Value(config.ColumnTransactionType); !ok {
				cleaned[config.ColumnTransactionType] = DefaultTransactionType
				stats.FilledTypes++
			}
		}
		if hasDescription {
			if _, ok := cleaned.Value(config.ColumnDescription); !ok {
				cleaned[config.ColumnDescription] = DefaultDescription
				stats.FilledDescriptions++
			}
		}
		out.Records = append(out.Records, cleaned)
	}
	stats.Output = out.Len()

	if stats.Removed > 0 {
		v.logger.InfoWithContext(ctx, "removed records with null critical fields",
			"removed", stats.Removed,
			"remaining", stats.Output)
	}

	return out, stats
}

func missingCritical(rec models.RawRecord) bool {
	for _, col := range CriticalColumns {
		if _, ok := rec.Value(col); !ok {
			return true
		}
	}
	return false
}

// nullCounts returns the null count of every batch column that has at least one null.
func nullCounts(batch models.Batch) map[string]int {
	counts := make(map[string]int)
	for _, col := range batch.Columns {
		for _, rec := range batch.Records {
			if _, ok := rec.Value(col); !ok {
				counts[col]++
			}
		}
	}
	return counts
}
