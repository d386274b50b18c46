package sample

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
	"github.com/johnayoung/go-eft-pipeline/internal/pipeline"
)

func TestGenerate(t *testing.T) {
	batch := Generate(DefaultOptions(1000))

	assert.Equal(t, Columns, batch.Columns)
	require.Equal(t, 1100, batch.Len(), "records plus duplicates")

	var nullAmounts, nullBanks, negative, oversized int
	dates := make(map[string]struct{})
	for _, r := range batch.Records[:1000] {
		switch v := r[config.ColumnAmount].(type) {
		case nil:
			nullAmounts++
		case float64:
			if v == -100 {
				negative++
			}
			if v == 2_000_000 {
				oversized++
			}
		}
		if r[config.ColumnBankID] == nil {
			nullBanks++
		}
		dates[r[config.ColumnTransactionDate].(string)] = struct{}{}
	}

	// Later corruptions may overwrite earlier ones on the same row.
	assert.LessOrEqual(t, nullAmounts, 16)
	assert.Equal(t, 16, nullBanks)
	assert.LessOrEqual(t, negative, 50)
	assert.Greater(t, negative, 30)
	assert.Equal(t, 30, oversized)
	assert.Len(t, dates, 30)
	assert.Contains(t, dates, "2025-08-01")

	assert.Equal(t, "TXN00000000", batch.Records[0][config.ColumnTransactionID])
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(DefaultOptions(200))
	b := Generate(DefaultOptions(200))
	assert.Equal(t, a, b)

	other := DefaultOptions(200)
	other.Seed = 7
	assert.NotEqual(t, a, Generate(other))
}

func TestGenerateSmallBatches(t *testing.T) {
	tests := []struct {
		name    string
		records int
		want    int
	}{
		{"empty", 0, 0},
		{"fewer rows than corruptions", 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := Generate(DefaultOptions(tt.records))
			assert.Equal(t, tt.want, batch.Len())
			assert.Equal(t, Columns, batch.Columns)
		})
	}
}

func TestGeneratedBatchRunsThroughPipeline(t *testing.T) {
	batch := Generate(DefaultOptions(3000))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	result, err := pipeline.New(config.DefaultProcessingConfig(), log).Process(context.Background(), batch)
	require.NoError(t, err)

	report := result.Report
	assert.Equal(t, 3100, report.TotalRecords)
	assert.Less(t, report.ValidRecords, report.TotalRecords)
	assert.Greater(t, report.DuplicateRecords, 0)
	assert.Greater(t, report.NullRecords, 0)
	assert.Greater(t, report.InvalidAmounts, 0)
	assert.NotEqual(t, models.QualityExcellent, report.QualityLevel)

	banks := make(map[string]struct{})
	for _, a := range result.Aggregates {
		banks[a.BankID] = struct{}{}
		assert.Equal(t, a.TransactionCount, a.BreakdownTotal())
	}
	assert.Len(t, banks, 5)
}
