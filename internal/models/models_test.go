package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(math.NaN()))
	assert.True(t, IsNull(float32(math.NaN())))
	assert.False(t, IsNull(""))
	assert.False(t, IsNull(0.0))
	assert.False(t, IsNull("BNK001"))
}

func TestRawRecordValue(t *testing.T) {
	r := RawRecord{"bank_id": "BNK001", "amount": math.NaN(), "customer_id": nil}

	v, ok := r.Value("bank_id")
	assert.True(t, ok)
	assert.Equal(t, "BNK001", v)

	_, ok = r.Value("amount")
	assert.False(t, ok)
	_, ok = r.Value("customer_id")
	assert.False(t, ok)
	_, ok = r.Value("missing")
	assert.False(t, ok)
}

func TestBatchCloneIsIndependent(t *testing.T) {
	original := NewBatch([]string{"bank_id"}, []RawRecord{{"bank_id": "BNK001"}})
	clone := original.Clone()

	clone.Records[0]["bank_id"] = "BNK999"
	clone.Columns[0] = "other"

	assert.Equal(t, "BNK001", original.Records[0]["bank_id"])
	assert.Equal(t, "bank_id", original.Columns[0])
}

func TestNewBatchDerivesColumns(t *testing.T) {
	b := NewBatch(nil, []RawRecord{
		{"bank_id": "B", "amount": 1.0},
		{"customer_id": "C"},
	})

	assert.Equal(t, []string{"amount", "bank_id", "customer_id"}, b.Columns)
	assert.True(t, b.HasColumn("customer_id"))
	assert.False(t, b.HasColumn("transaction_date"))
	assert.Equal(t, 2, b.Len())
}

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		in       string
		want     TransactionType
		expected bool
	}{
		{"TRANSFER", TransactionTypeTransfer, true},
		{"deposit", TransactionTypeDeposit, true},
		{" Withdrawal ", TransactionTypeWithdrawal, true},
		{"PAYMENT", TransactionTypePayment, true},
		{"UNKNOWN", TransactionTypeUnknown, true},
		{"REFUND", TransactionTypeUnknown, false},
		{"", TransactionTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTransactionType(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestTransactionTypeTextRoundTrip(t *testing.T) {
	for _, tt := range AllTransactionTypes() {
		b, err := tt.MarshalText()
		require.NoError(t, err)

		var back TransactionType
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, tt, back)
	}

	var bad TransactionType
	assert.Error(t, bad.UnmarshalText([]byte("REFUND")))
}

func TestQualityLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  QualityLevel
	}{
		{100, QualityExcellent},
		{95, QualityExcellent},
		{94.99, QualityGood},
		{85, QualityGood},
		{84.99, QualityAcceptable},
		{75, QualityAcceptable},
		{74.99, QualityPoor},
		{0, QualityPoor},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, QualityLevelForScore(tt.score), "score %v", tt.score)
	}
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 0.0, QualityScore(0, 0))
	assert.Equal(t, 100.0, QualityScore(10, 10))
	assert.Equal(t, 66.67, QualityScore(2, 3))
	assert.Equal(t, 33.33, QualityScore(1, 3))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 2550.0, Round2(2550))
	assert.Equal(t, 1.24, Round2(1.235000001))
	assert.Equal(t, 0.0, Round2(math.NaN()))
	assert.Equal(t, 0.0, Round2(math.Inf(1)))
}

func TestQualityReportJSON(t *testing.T) {
	report := QualityReport{
		TotalRecords:        3,
		ValidRecords:        2,
		QualityScore:        66.67,
		QualityLevel:        QualityPoor,
		ProcessingTimestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "POOR", raw["quality_level"])
	assert.Equal(t, "2024-01-15T10:00:00Z", raw["processing_timestamp"])
	assert.Equal(t, 66.67, raw["quality_score"])
}

func TestTransactionDateKey(t *testing.T) {
	tx := Transaction{TransactionDate: time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC), HasDate: true}
	assert.Equal(t, "2024-01-15", tx.DateKey())

	tx.HasDate = false
	assert.Equal(t, "", tx.DateKey())

	tx.Amount = decimal.RequireFromString("12.34")
	assert.Equal(t, 12.34, tx.AmountFloat())
}

func TestAggregateBreakdownTotal(t *testing.T) {
	agg := AggregateRecord{
		TransactionCount: 3,
		TransactionTypeBreakdown: map[TransactionType]int{
			TransactionTypeTransfer: 2,
			TransactionTypeUnknown:  1,
		},
	}
	assert.Equal(t, agg.TransactionCount, agg.BreakdownTotal())

	data, err := json.Marshal(agg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"TRANSFER":2`)
}
