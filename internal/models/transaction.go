package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date form used for aggregation keys and storage.
const DateLayout = "2006-01-02"

// TransactionType is the closed set of EFT transaction kinds. Any unrecognised
// input value maps to TransactionTypeUnknown.
type TransactionType int

const (
	TransactionTypeUnknown TransactionType = iota
	TransactionTypeTransfer
	TransactionTypeDeposit
	TransactionTypeWithdrawal
	TransactionTypePayment
)

// AllTransactionTypes lists every variant in a stable order.
func AllTransactionTypes() []TransactionType {
	return []TransactionType{
		TransactionTypeTransfer,
		TransactionTypeDeposit,
		TransactionTypeWithdrawal,
		TransactionTypePayment,
		TransactionTypeUnknown,
	}
}

// String returns the canonical upper-case name.
func (t TransactionType) String() string {
	switch t {
	case TransactionTypeTransfer:
		return "TRANSFER"
	case TransactionTypeDeposit:
		return "DEPOSIT"
	case TransactionTypeWithdrawal:
		return "WITHDRAWAL"
	case TransactionTypePayment:
		return "PAYMENT"
	case TransactionTypeUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// ParseTransactionType maps a raw value onto the closed set. The boolean is
// false when the value was not one of the known kinds.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRANSFER":
		return TransactionTypeTransfer, true
	case "DEPOSIT":
		return TransactionTypeDeposit, true
	case "WITHDRAWAL":
		return TransactionTypeWithdrawal, true
	case "PAYMENT":
		return TransactionTypePayment, true
	case "UNKNOWN":
		return TransactionTypeUnknown, true
	default:
		return TransactionTypeUnknown, false
	}
}

// MarshalText implements encoding.TextMarshaler so the type can key JSON maps.
func (t TransactionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TransactionType) UnmarshalText(b []byte) error {
	parsed, ok := ParseTransactionType(string(b))
	if !ok {
		return fmt.Errorf("unknown transaction type %q", string(b))
	}
	*t = parsed
	return nil
}

// Transaction is a record that survived cleaning and normalization. Amount is
// positive, within the configured ceiling and rounded to currency precision.
type Transaction struct {
	TransactionID   string          `json:"transaction_id"`
	BankID          string          `json:"bank_id"`
	CustomerID      string          `json:"customer_id"`
	Type            TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionDate time.Time       `json:"transaction_date"`
	// HasDate is false only when the batch carried no transaction_date column.
	HasDate     bool           `json:"-"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// DateKey returns the calendar date of the transaction, or "" when it has none.
func (t Transaction) DateKey() string {
	if !t.HasDate {
		return ""
	}
	return t.TransactionDate.Format(DateLayout)
}

// AmountFloat returns the amount as a float64 for statistical work.
func (t Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// AnomalyType classifies why a transaction was set aside.
type AnomalyType string

const (
	AnomalyTypeStatisticalOutlier AnomalyType = "statistical_outlier"
)

// AnomalyRecord is a transaction flagged as an outlier within its bank.
type AnomalyRecord struct {
	Transaction
	AnomalyType AnomalyType `json:"anomaly_type"`
	ZScore      float64     `json:"z_score"`
	DetectedAt  time.Time   `json:"detected_at"`
}
