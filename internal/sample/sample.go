// Package sample generates synthetic EFT batches with a known mix of data
// quality problems, for demos and load tests.
package sample

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// Columns is the column order of generated batches.
var Columns = []string{
	config.ColumnTransactionID,
	config.ColumnBankID,
	config.ColumnCustomerID,
	config.ColumnTransactionType,
	config.ColumnAmount,
	config.ColumnTransactionDate,
	config.ColumnDescription,
}

var banks = []string{"BNK001", "BNK002", "BNK003", "BNK004", "BNK005"}

// Options controls the generated batch.
type Options struct {
	Records int
	Seed    int64
	// Start is the first transaction date; records spread over Days days.
	Start time.Time
	Days  int

	NullRate       float64 // share of records with a null amount or bank_id
	NegativeCount  int     // records whose amount is set to -100
	OversizedCount int     // records whose amount is set to 2,000,000
	DuplicateCount int     // copies of existing records appended at the end
	MeanAmount     float64 // mean of the exponential amount distribution
}

// DefaultOptions returns the stock mix: 5% nulls, 50 negative amounts, 30
// oversized amounts and 100 duplicates over 30 days from 2025-08-01.
func DefaultOptions(records int) Options {
	return Options{
		Records:        records,
		Seed:           42,
		Start:          time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Days:           30,
		NullRate:       0.05,
		NegativeCount:  50,
		OversizedCount: 30,
		DuplicateCount: 100,
		MeanAmount:     500,
	}
}

// Generate builds a batch. The same options always produce the same batch.
func Generate(opts Options) models.Batch {
	n := opts.Records
	if n <= 0 {
		return models.NewBatch(append([]string(nil), Columns...), nil)
	}
	days := opts.Days
	if days <= 0 {
		days = 1
	}
	perDay := n/days + 1

	rng := rand.New(rand.NewSource(opts.Seed))
	types := []models.TransactionType{
		models.TransactionTypeTransfer,
		models.TransactionTypeDeposit,
		models.TransactionTypeWithdrawal,
		models.TransactionTypePayment,
	}

	records := make([]models.RawRecord, n)
	for i := range records {
		amount := math.Round(rng.ExpFloat64()*opts.MeanAmount*100) / 100
		records[i] = models.RawRecord{
			config.ColumnTransactionID:   fmt.Sprintf("TXN%08d", i),
			config.ColumnBankID:          banks[rng.Intn(len(banks))],
			config.ColumnCustomerID:      fmt.Sprintf("CUST%d", 1000+rng.Intn(9000)),
			config.ColumnTransactionType: types[rng.Intn(len(types))].String(),
			config.ColumnAmount:          amount,
			config.ColumnTransactionDate: opts.Start.AddDate(0, 0, i/perDay).Format(models.DateLayout),
			config.ColumnDescription:     fmt.Sprintf("Transaction %d", i),
		}
	}

	// Null amounts on the first third of the picked rows, null bank ids on the second.
	nulls := rng.Perm(n)[:int(float64(n)*opts.NullRate)]
	third := len(nulls) / 3
	for _, i := range nulls[:third] {
		records[i][config.ColumnAmount] = nil
	}
	for _, i := range nulls[third : 2*third] {
		records[i][config.ColumnBankID] = nil
	}

	for _, i := range rng.Perm(n)[:min(opts.NegativeCount, n)] {
		records[i][config.ColumnAmount] = -100.0
	}
	for _, i := range rng.Perm(n)[:min(opts.OversizedCount, n)] {
		records[i][config.ColumnAmount] = 2_000_000.0
	}

	for _, i := range rng.Perm(n)[:min(opts.DuplicateCount, n)] {
		records = append(records, records[i].Clone())
	}

	return models.NewBatch(append([]string(nil), Columns...), records)
}
