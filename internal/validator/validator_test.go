package validator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

var allColumns = []string{
	"transaction_id", "bank_id", "customer_id", "amount", "transaction_date", "transaction_type", "description",
}

func newTestValidator() *Validator {
	return New(config.DefaultProcessingConfig(), slog.Default()).WithClock(func() time.Time { return fixedNow })
}

func record(id, bank, customer string, amount any, date any) models.RawRecord {
	return models.RawRecord{
		"transaction_id":   id,
		"bank_id":          bank,
		"customer_id":      customer,
		"amount":           amount,
		"transaction_date": date,
		"transaction_type": "TRANSFER",
		"description":      "test",
	}
}

func TestValidateSchema(t *testing.T) {
	cfg := config.DefaultProcessingConfig()

	t.Run("valid batch", func(t *testing.T) {
		batch := models.NewBatch(allColumns, []models.RawRecord{record("T1", "B1", "C1", 10.0, "2025-01-01")})
		ok, errs := ValidateSchema(batch, cfg)
		assert.True(t, ok)
		assert.Empty(t, errs)
	})

	t.Run("missing columns", func(t *testing.T) {
		batch := models.NewBatch([]string{"transaction_id", "bank_id", "customer_id"}, []models.RawRecord{{"bank_id": "B1"}})
		ok, errs := ValidateSchema(batch, cfg)
		assert.False(t, ok)
		require.Len(t, errs, 1)
		assert.Equal(t, "Missing required columns: [amount transaction_date]", errs[0])
	})

	t.Run("empty batch", func(t *testing.T) {
		batch := models.NewBatch(allColumns, nil)
		ok, errs := ValidateSchema(batch, cfg)
		assert.False(t, ok)
		assert.Equal(t, []string{"Dataframe is empty"}, errs)
	})

	t.Run("empty batch without columns reports both", func(t *testing.T) {
		ok, errs := newTestValidator().ValidateSchema(context.Background(), models.Batch{})
		assert.False(t, ok)
		require.Len(t, errs, 2)
		assert.Contains(t, errs[0], MsgMissingColumns)
		assert.Equal(t, MsgEmptyBatch, errs[1])
	})
}

func TestCleanNulls(t *testing.T) {
	v := newTestValidator()

	input := models.NewBatch(allColumns, []models.RawRecord{
		record("T1", "B1", "C1", 10.0, "2025-01-01"),
		record("T2", "B1", "C2", nil, "2025-01-01"),
		record("T3", "B1", "C3", math.NaN(), "2025-01-01"),
		{"transaction_id": "T4", "bank_id": "B1", "customer_id": "C4", "amount": 5.0, "transaction_date": "2025-01-01"},
		{"transaction_id": "T5", "bank_id": nil, "customer_id": "C5", "amount": 5.0},
	})

	out, stats := v.CleanNulls(context.Background(), input)

	require.Equal(t, 2, out.Len())
	assert.Equal(t, "T1", out.Records[0]["transaction_id"])
	assert.Equal(t, "T4", out.Records[1]["transaction_id"])

	assert.Equal(t, 5, stats.Input)
	assert.Equal(t, 3, stats.Removed)
	assert.Equal(t, 2, stats.Output)
	assert.Equal(t, 1, stats.FilledTypes)
	assert.Equal(t, 1, stats.FilledDescriptions)
	assert.Equal(t, 2, stats.NullCounts["amount"])
	assert.Equal(t, 1, stats.NullCounts["bank_id"])

	assert.Equal(t, DefaultTransactionType, out.Records[1]["transaction_type"])
	assert.Equal(t, DefaultDescription, out.Records[1]["description"])

	// input is untouched
	_, hasType := input.Records[3]["transaction_type"]
	assert.False(t, hasType)
}

func TestCleanNullsSkipsAbsentOptionalColumns(t *testing.T) {
	v := newTestValidator()
	cols := []string{"transaction_id", "bank_id", "customer_id", "amount", "transaction_date"}
	input := models.NewBatch(cols, []models.RawRecord{
		{"transaction_id": "T1", "bank_id": "B1", "customer_id": "C1", "amount": 1.0, "transaction_date": "2025-01-01"},
	})

	out, stats := v.CleanNulls(context.Background(), input)
	require.Equal(t, 1, out.Len())
	assert.Zero(t, stats.FilledTypes)
	assert.NotContains(t, out.Records[0], "transaction_type")
	assert.NotContains(t, out.Records[0], "description")
}

func TestNormalize(t *testing.T) {
	v := newTestValidator()

	input := models.NewBatch(allColumns, []models.RawRecord{
		record("T1", "B1", "C1", 100.0, "2025-01-01"),          // kept
		record("T2", "B1", "C2", -5.0, "2025-01-01"),           // negative
		record("T3", "B1", "C3", 0.0, "2025-01-01"),            // zero
		record("T4", "B1", "C4", 1_000_000.01, "2025-01-01"),   // above max
		record("T5", "B1", "C5", 1_000_000.0, "2025-01-01"),    // at max, kept
		record("T6", "B1", "C6", "abc", "2025-01-01"),          // not numeric
		record("T7", "B1", "C7", "10.005", "2025-01-01"),       // rounds to 10.01
		record("T8", "B1", "C8", 0.004, "2025-01-01"),          // rounds to 0.00
		record("T9", "B1", "C9", 10.0, "2025-01-11"),           // future
		record("T10", "B1", "C10", 10.0, "not-a-date"),         // bad date
		record("T11", "B1", "C11", 10.0, nil),                  // null date
		record("T12", "  ", "C12", 10.0, "2025-01-01"),         // blank bank
		record("  T13 ", " B1 ", " C13 ", 10.0, "2025-01-10"), // trimmed, same day as now
		record("T14", "B1", "C14", json.Number("42.5"), "2025-01-02T08:30:00Z"),
	})

	out, stats := v.Normalize(context.Background(), input)

	assert.Equal(t, 14, stats.Input)
	assert.Equal(t, 1, stats.InvalidAmounts)
	assert.Equal(t, 3, stats.OutOfRange)
	assert.Equal(t, 1, stats.BelowMinimum)
	assert.Equal(t, 2, stats.InvalidDates)
	assert.Equal(t, 1, stats.FutureDates)
	assert.Equal(t, 1, stats.EmptyIdentifiers)
	assert.Equal(t, 5, stats.Output)
	assert.Equal(t, 9, stats.Dropped())

	ids := make([]string, len(out))
	for i, tx := range out {
		ids[i] = tx.TransactionID
	}
	assert.Equal(t, []string{"T1", "T5", "T7", "T13", "T14"}, ids)

	assert.True(t, out[2].Amount.Equal(decimal.RequireFromString("10.01")))
	assert.Equal(t, "B1", out[3].BankID)
	assert.Equal(t, "C13", out[3].CustomerID)
	assert.True(t, out[4].Amount.Equal(decimal.RequireFromString("42.5")))
	assert.Equal(t, "2025-01-02", out[4].DateKey())

	for _, tx := range out {
		assert.True(t, tx.Amount.IsPositive())
		assert.False(t, tx.TransactionDate.After(fixedNow))
		assert.Equal(t, models.TransactionTypeTransfer, tx.Type)
	}
}

func TestNormalizeTransactionTypes(t *testing.T) {
	v := newTestValidator()

	input := models.NewBatch(allColumns, []models.RawRecord{
		{"transaction_id": "T1", "bank_id": "B1", "customer_id": "C1", "amount": 1.0, "transaction_date": "2025-01-01", "transaction_type": "deposit"},
		{"transaction_id": "T2", "bank_id": "B1", "customer_id": "C2", "amount": 1.0, "transaction_date": "2025-01-01", "transaction_type": "REFUND"},
		{"transaction_id": "T3", "bank_id": "B1", "customer_id": "C3", "amount": 1.0, "transaction_date": "2025-01-01", "transaction_type": "UNKNOWN"},
	})

	out, stats := v.Normalize(context.Background(), input)
	require.Len(t, out, 3)
	assert.Equal(t, models.TransactionTypeDeposit, out[0].Type)
	assert.Equal(t, models.TransactionTypeUnknown, out[1].Type)
	assert.Equal(t, models.TransactionTypeUnknown, out[2].Type)
	assert.Equal(t, 1, stats.UnknownTypes)
}

func TestNormalizeWithoutDateColumn(t *testing.T) {
	cfg := config.DefaultProcessingConfig()
	cfg.RequiredColumns = []string{"bank_id", "customer_id", "amount"}
	v := New(cfg, slog.Default())

	input := models.NewBatch([]string{"bank_id", "customer_id", "amount", "channel"}, []models.RawRecord{
		{"bank_id": "B1", "customer_id": "C1", "amount": 3, "channel": "mobile"},
	})

	out, stats := v.Normalize(context.Background(), input)
	require.Len(t, out, 1)
	assert.Zero(t, stats.InvalidDates)
	assert.False(t, out[0].HasDate)
	assert.Equal(t, "", out[0].TransactionID)
	assert.Equal(t, map[string]any{"channel": "mobile"}, out[0].Extra)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"float", 12.5, "12.5", true},
		{"int", 7, "7", true},
		{"int64", int64(9), "9", true},
		{"string", " 3.14 ", "3.14", true},
		{"json number", json.Number("100"), "100", true},
		{"decimal", decimal.RequireFromString("1.01"), "1.01", true},
		{"nil", nil, "0", false},
		{"nan", math.NaN(), "0", false},
		{"inf", math.Inf(1), "0", false},
		{"text", "ten", "0", false},
		{"empty", "", "0", false},
		{"bool", true, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestParseDate(t *testing.T) {
	layouts := config.DefaultProcessingConfig().DateFormats

	d, ok := ParseDate("2025-01-05", layouts)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), d)

	d, ok = ParseDate("2025-01-05 13:45:00", layouts)
	require.True(t, ok)
	assert.Equal(t, 13, d.Hour())

	_, ok = ParseDate(time.Time{}, layouts)
	assert.False(t, ok)
	_, ok = ParseDate(20250105, layouts)
	assert.False(t, ok)
	_, ok = ParseDate("05/01/2025", layouts)
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "BNK001", Stringify(" BNK001 "))
	assert.Equal(t, "42", Stringify(42.0))
	assert.Equal(t, "7", Stringify(json.Number("7")))
	assert.Equal(t, "12", Stringify(12))
	assert.Equal(t, "", Stringify(nil))
}
