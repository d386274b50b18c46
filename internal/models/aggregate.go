package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateRecord holds the daily statistics for one bank. Monetary fields are
// rounded to two decimals; ratios with a zero denominator are zero.
type AggregateRecord struct {
	BankID          string `json:"bank_id"`
	TransactionDate string `json:"transaction_date"`

	TotalVolume            decimal.Decimal `json:"total_volume"`
	TransactionCount       int             `json:"transaction_count"`
	AvgTransactionValue    decimal.Decimal `json:"avg_transaction_value"`
	StdTransactionValue    decimal.Decimal `json:"std_transaction_value"`
	MedianTransactionValue decimal.Decimal `json:"median_transaction_value"`
	MinTransactionValue    decimal.Decimal `json:"min_transaction_value"`
	MaxTransactionValue    decimal.Decimal `json:"max_transaction_value"`

	UniqueCustomers          int                     `json:"unique_customers"`
	UniqueTransactionIDs     int                     `json:"unique_transaction_ids"`
	TransactionTypeBreakdown map[TransactionType]int `json:"transaction_type_breakdown"`

	AvgTransactionsPerCustomer float64         `json:"avg_transactions_per_customer"`
	AvgValuePerCustomer        decimal.Decimal `json:"avg_value_per_customer"`

	ProcessedAt      time.Time `json:"processed_at"`
	DataQualityScore float64   `json:"data_quality_score"`
}

// BreakdownTotal sums the per-type counts; it always equals TransactionCount.
func (a AggregateRecord) BreakdownTotal() int {
	total := 0
	for _, n := range a.TransactionTypeBreakdown {
		total += n
	}
	return total
}
