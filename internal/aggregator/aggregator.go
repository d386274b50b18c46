// Package aggregator rolls surviving transactions up into one record per
// (bank_id, calendar date). Groups are independent, so they are computed on a
// small pool of workers; output order is fixed by sorting on bank then date.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
	"github.com/johnayoung/go-eft-pipeline/internal/stats"
)

// DefaultQualityScore is stamped on aggregates when no quality report is available.
const DefaultQualityScore = 100.0

const moneyPlaces = 2

// GroupKey identifies one aggregate row.
type GroupKey struct {
	BankID string
	Date   string
}

// Aggregator computes per-bank daily aggregates.
type Aggregator struct {
	workers int
	now     func() time.Time
	logger  *logger.ComponentLogger
}

// New creates an aggregator. Worker count comes from cfg.AggregationWorkers; a
// value below one computes groups sequentially.
func New(cfg config.ProcessingConfig, log *slog.Logger) *Aggregator {
	workers := cfg.AggregationWorkers
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{
		workers: workers,
		now:     time.Now,
		logger:  logger.NewComponentLogger(log, "aggregator"),
	}
}

// WithClock replaces the clock used for processed_at.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Group partitions transactions by bank and date, preserving input order inside
// each group. Transactions without a date are returned separately.
func Group(txns []models.Transaction) (map[GroupKey][]models.Transaction, []models.Transaction) {
	groups := make(map[GroupKey][]models.Transaction)
	var undated []models.Transaction
	for _, tx := range txns {
		if !tx.HasDate {
			undated = append(undated, tx)
			continue
		}
		key := GroupKey{BankID: tx.BankID, Date: tx.DateKey()}
		groups[key] = append(groups[key], tx)
	}
	return groups, undated
}

// Aggregate builds one AggregateRecord per group, sorted by bank_id then date.
// report may be nil, in which case DefaultQualityScore is used.
func (a *Aggregator) Aggregate(ctx context.Context, txns []models.Transaction, report *models.QualityReport) []models.AggregateRecord {
	groups, undated := Group(txns)
	if len(undated) > 0 {
		a.logger.WarnWithContext(ctx, "skipping transactions without a date", "count", len(undated))
	}

	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BankID != keys[j].BankID {
			return keys[i].BankID < keys[j].BankID
		}
		return keys[i].Date < keys[j].Date
	})

	score := DefaultQualityScore
	if report != nil {
		score = report.QualityScore
	}
	processedAt := a.now()

	out := make([]models.AggregateRecord, len(keys))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := a.workers
	if workers > len(keys) {
		workers = len(keys)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec := summarize(keys[i], groups[keys[i]])
				rec.ProcessedAt = processedAt
				rec.DataQualityScore = models.Round2(score)
				out[i] = rec
			}
		}()
	}
	for i := range keys {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	a.logger.InfoWithContext(ctx, "aggregation complete",
		"groups", len(out),
		"transactions", len(txns)-len(undated),
		"workers", workers)

	return out
}

// summarize computes the statistics for one group.
func summarize(key GroupKey, txns []models.Transaction) models.AggregateRecord {
	amounts := make([]float64, len(txns))
	total := decimal.Zero
	minAmt, maxAmt := txns[0].Amount, txns[0].Amount
	customers := make(map[string]struct{})
	ids := make(map[string]struct{})
	breakdown := make(map[models.TransactionType]int)

	for i, tx := range txns {
		amounts[i] = tx.AmountFloat()
		total = total.Add(tx.Amount)
		if tx.Amount.LessThan(minAmt) {
			minAmt = tx.Amount
		}
		if tx.Amount.GreaterThan(maxAmt) {
			maxAmt = tx.Amount
		}
		customers[tx.CustomerID] = struct{}{}
		if tx.TransactionID != "" {
			ids[tx.TransactionID] = struct{}{}
		}
		breakdown[tx.Type]++
	}

	count := len(txns)
	uniqueCustomers := len(customers)

	rec := models.AggregateRecord{
		BankID:                   key.BankID,
		TransactionDate:          key.Date,
		TotalVolume:              total.Round(moneyPlaces),
		TransactionCount:         count,
		AvgTransactionValue:      total.Div(decimal.NewFromInt(int64(count))).Round(moneyPlaces),
		StdTransactionValue:      floatMoney(stats.SampleStd(amounts)),
		MedianTransactionValue:   floatMoney(stats.Median(amounts)),
		MinTransactionValue:      minAmt.Round(moneyPlaces),
		MaxTransactionValue:      maxAmt.Round(moneyPlaces),
		UniqueCustomers:          uniqueCustomers,
		UniqueTransactionIDs:     len(ids),
		TransactionTypeBreakdown: breakdown,
		AvgValuePerCustomer:      decimal.Zero,
	}

	if uniqueCustomers > 0 {
		rec.AvgTransactionsPerCustomer = models.Round2(float64(count) / float64(uniqueCustomers))
		rec.AvgValuePerCustomer = total.Div(decimal.NewFromInt(int64(uniqueCustomers))).Round(moneyPlaces)
	}

	return rec
}

// floatMoney converts a float statistic to a 2dp decimal, mapping NaN/Inf to zero.
func floatMoney(v float64) decimal.Decimal {
	return decimal.NewFromFloat(models.Round2(v)).Round(moneyPlaces)
}
