package validator

import (
	"context"
	"fmt"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// Messages emitted by schema validation. Downstream alerting matches on them.
const (
	MsgMissingColumns = "Missing required columns"
	MsgEmptyBatch     = "Dataframe is empty"
)

// ValidateSchema reports whether batch has every required column and at least
// one record. It never modifies the batch.
func ValidateSchema(batch models.Batch, cfg config.ProcessingConfig) (bool, []string) {
	var errors []string

	var missing []string
	for _, col := range cfg.RequiredColumns {
		if !batch.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		errors = append(errors, fmt.Sprintf("%s: %v", MsgMissingColumns, missing))
	}

	if batch.Len() == 0 {
		errors = append(errors, MsgEmptyBatch)
	}

	return len(errors) == 0, errors
}

// ValidateSchema implements SchemaChecker.
func (v *Validator) ValidateSchema(ctx context.Context, batch models.Batch) (bool, []string) {
	ok, errors := ValidateSchema(batch, v.config)
	if !ok {
		v.logger.WarnWithContext(ctx, "schema validation failed",
			"violations", errors,
			"columns", batch.Columns,
			"records", batch.Len())
		return false, errors
	}

	v.logger.DebugWithContext(ctx, "schema validation passed", "records", batch.Len())
	return true, nil
}
