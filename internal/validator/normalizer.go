package validator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// NormalizeStats counts every exclusion made by the normalizer, by reason.
type NormalizeStats struct {
	Input            int `json:"input"`
	InvalidAmounts   int `json:"invalid_amounts"`
	OutOfRange       int `json:"out_of_range"`
	BelowMinimum     int `json:"below_minimum"`
	InvalidDates     int `json:"invalid_dates"`
	FutureDates      int `json:"future_dates"`
	EmptyIdentifiers int `json:"empty_identifiers"`
	UnknownTypes     int `json:"unknown_types"`
	Output           int `json:"output"`
}

// Dropped returns the number of records the normalizer removed.
func (s NormalizeStats) Dropped() int {
	return s.Input - s.Output
}

var consumedColumns = map[string]struct{}{
	config.ColumnTransactionID:   {},
	config.ColumnBankID:          {},
	config.ColumnCustomerID:      {},
	config.ColumnAmount:          {},
	config.ColumnTransactionDate: {},
	config.ColumnTransactionType: {},
	config.ColumnDescription:     {},
}

// Normalize implements RecordNormalizer. Amounts are rounded half away from zero.
func (v *Validator) Normalize(ctx context.Context, batch models.Batch) ([]models.Transaction, NormalizeStats) {
	stats := NormalizeStats{Input: batch.Len()}
	now := v.now()

	maxAmount := decimal.NewFromFloat(v.config.MaxTransactionAmount)
	minAmount := decimal.NewFromFloat(v.config.MinTransactionAmount)
	precision := v.config.CurrencyPrecision

	hasDate := batch.HasColumn(config.ColumnTransactionDate)
	hasTxID := batch.HasColumn(config.ColumnTransactionID)
	hasType := batch.HasColumn(config.ColumnTransactionType)

	out := make([]models.Transaction, 0, batch.Len())

	for _, rec := range batch.Records {
		amount, ok := ParseAmount(rec[config.ColumnAmount])
		if !ok {
			stats.InvalidAmounts++
			continue
		}
		if !amount.IsPositive() || amount.GreaterThan(maxAmount) {
			stats.OutOfRange++
			continue
		}
		amount = amount.Round(precision)
		if amount.LessThan(minAmount) {
			stats.BelowMinimum++
			continue
		}

		tx := models.Transaction{Amount: amount}

		if hasDate {
			date, ok := ParseDate(rec[config.ColumnTransactionDate], v.config.DateFormats)
			if !ok {
				stats.InvalidDates++
				continue
			}
			if date.After(now) {
				stats.FutureDates++
				continue
			}
			tx.TransactionDate = date
			tx.HasDate = true
		}

		tx.BankID = Stringify(rec[config.ColumnBankID])
		tx.CustomerID = Stringify(rec[config.ColumnCustomerID])
		if hasTxID {
			tx.TransactionID = Stringify(rec[config.ColumnTransactionID])
		}
		if tx.BankID == "" || tx.CustomerID == "" || (hasTxID && tx.TransactionID == "") {
			stats.EmptyIdentifiers++
			continue
		}

		tx.Type = models.TransactionTypeUnknown
		if hasType {
			parsed, known := models.ParseTransactionType(Stringify(rec[config.ColumnTransactionType]))
			if !known {
				stats.UnknownTypes++
			}
			tx.Type = parsed
		}

		tx.Description = Stringify(rec[config.ColumnDescription])
		tx.Extra = extraFields(rec)

		out = append(out, tx)
	}
	stats.Output = len(out)

	v.logDrops(ctx, stats)
	return out, stats
}

func extraFields(rec models.RawRecord) map[string]any {
	var extra map[string]any
	for k, val := range rec {
		if _, consumed := consumedColumns[k]; consumed {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = val
	}
	return extra
}

func (v *Validator) logDrops(ctx context.Context, stats NormalizeStats) {
	drops := []struct {
		msg   string
		count int
	}{
		{"removed records with invalid amounts", stats.InvalidAmounts},
		{"removed records with out-of-range amounts", stats.OutOfRange},
		{"removed records below minimum amount after rounding", stats.BelowMinimum},
		{"removed records with invalid dates", stats.InvalidDates},
		{"removed records with future dates", stats.FutureDates},
		{"removed records with empty identifiers", stats.EmptyIdentifiers},
	}
	for _, d := range drops {
		if d.count > 0 {
			v.logger.WarnWithContext(ctx, d.msg, "count", d.count)
		}
	}
	if stats.UnknownTypes > 0 {
		v.logger.InfoWithContext(ctx, "rewrote unrecognised transaction types to UNKNOWN", "count", stats.UnknownTypes)
	}

	v.logger.InfoWithContext(ctx, "normalization complete",
		"input", stats.Input,
		"output", stats.Output,
		"dropped", stats.Dropped())
}
