// Package dedup removes repeated transactions. Identity is the configured key
// column set intersected with the columns the batch actually carries; the first
// record seen for a key wins.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

const keySeparator = "\x1f"

// Detector drops duplicate transactions.
type Detector struct {
	columns []string
	enabled bool
	logger  *logger.ComponentLogger
}

// New builds a detector from the duplicate settings in cfg.
func New(cfg config.ProcessingConfig, log *slog.Logger) *Detector {
	return &Detector{
		columns: append([]string(nil), cfg.DuplicateKeyColumns...),
		enabled: cfg.RemoveDuplicates,
		logger:  logger.NewComponentLogger(log, "dedup"),
	}
}

// KeyColumns returns the configured key columns that are present, in configured order.
func KeyColumns(configured, present []string) []string {
	have := make(map[string]struct{}, len(present))
	for _, c := range present {
		have[c] = struct{}{}
	}
	var out []string
	for _, c := range configured {
		if _, ok := have[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// RemoveDuplicates keeps the first transaction for every identity key, preserving
// input order. present is the column set of the batch the transactions came from.
// It returns the surviving transactions and the number removed.
func (d *Detector) RemoveDuplicates(ctx context.Context, txns []models.Transaction, present []string) ([]models.Transaction, int) {
	out := make([]models.Transaction, 0, len(txns))
	if !d.enabled {
		return append(out, txns...), 0
	}

	keyCols := KeyColumns(d.columns, present)
	if len(keyCols) == 0 {
		d.logger.WarnWithContext(ctx, "no duplicate key columns present, skipping deduplication")
		return append(out, txns...), 0
	}

	seen := make(map[string]struct{}, len(txns))
	for _, tx := range txns {
		key := transactionKey(tx, keyCols)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tx)
	}

	removed := len(txns) - len(out)
	if removed > 0 {
		d.logger.InfoWithContext(ctx, "removed duplicate transactions",
			"removed", removed,
			"key_columns", keyCols)
	}
	return out, removed
}

// CountDuplicates counts raw records that repeat an earlier record's key. Nulls
// compare equal to each other.
func CountDuplicates(batch models.Batch, configured []string) int {
	keyCols := KeyColumns(configured, batch.Columns)
	if len(keyCols) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, batch.Len())
	dups := 0
	for _, rec := range batch.Records {
		parts := make([]string, len(keyCols))
		for i, col := range keyCols {
			parts[i] = rawKeyPart(rec[col])
		}
		key := strings.Join(parts, keySeparator)
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}

func transactionKey(tx models.Transaction, cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		switch col {
		case config.ColumnTransactionID:
			parts[i] = tx.TransactionID
		case config.ColumnBankID:
			parts[i] = tx.BankID
		case config.ColumnCustomerID:
			parts[i] = tx.CustomerID
		case config.ColumnAmount:
			parts[i] = tx.Amount.String()
		case config.ColumnTransactionDate:
			if tx.HasDate {
				parts[i] = tx.TransactionDate.UTC().Format(time.RFC3339Nano)
			}
		case config.ColumnTransactionType:
			parts[i] = tx.Type.String()
		case config.ColumnDescription:
			parts[i] = tx.Description
		default:
			parts[i] = rawKeyPart(tx.Extra[col])
		}
	}
	return strings.Join(parts, keySeparator)
}

// rawKeyPart renders a cell so that numerically equal values of different Go
// types produce the same key.
func rawKeyPart(v any) string {
	if models.IsNull(v) {
		return "\x00null"
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return decimal.NewFromFloat(x).String()
	case float32:
		if math.IsInf(float64(x), 0) {
			return strconv.FormatFloat(float64(x), 'f', -1, 32)
		}
		return decimal.NewFromFloat32(x).String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d.String()
		}
		return x.String()
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
