// Package anomaly flags transactions whose amount is a statistical outlier
// within its own bank. The threshold is per-bank relative: the same amount can
// be normal for one bank and anomalous for another.
package anomaly

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
	"github.com/johnayoung/go-eft-pipeline/internal/stats"
)

// Detector splits transactions into normal and anomalous sets by z-score.
type Detector struct {
	threshold float64
	enabled   bool
	now       func() time.Time
	logger    *logger.ComponentLogger
}

// New creates a detector using the outlier settings in cfg.
func New(cfg config.ProcessingConfig, log *slog.Logger) *Detector {
	return &Detector{
		threshold: cfg.AnomalyThresholdStd,
		enabled:   cfg.HandleOutliers,
		now:       time.Now,
		logger:    logger.NewComponentLogger(log, "anomaly_detector"),
	}
}

// WithClock replaces the clock used to stamp detected_at.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// partition maps a bank to the input positions of its transactions.
type partition struct {
	order []string
	index map[string][]int
}

func partitionByBank(txns []models.Transaction) partition {
	p := partition{index: make(map[string][]int)}
	for i, tx := range txns {
		if _, ok := p.index[tx.BankID]; !ok {
			p.order = append(p.order, tx.BankID)
		}
		p.index[tx.BankID] = append(p.index[tx.BankID], i)
	}
	return p
}

// Scores returns the per-bank z-score of every transaction, aligned with txns.
func Scores(txns []models.Transaction) []float64 {
	scores := make([]float64, len(txns))
	p := partitionByBank(txns)
	for _, bank := range p.order {
		positions := p.index[bank]
		amounts := make([]float64, len(positions))
		for j, pos := range positions {
			amounts[j] = txns[pos].AmountFloat()
		}
		for j, z := range stats.ZScores(amounts) {
			scores[positions[j]] = z
		}
	}
	return scores
}

// Detect returns the normal and anomalous transactions. Both keep input order,
// they are disjoint, and together they contain every input transaction.
func (d *Detector) Detect(ctx context.Context, txns []models.Transaction) ([]models.Transaction, []models.AnomalyRecord) {
	if !d.enabled {
		return append([]models.Transaction(nil), txns...), nil
	}

	scores := Scores(txns)
	detectedAt := d.now()

	normal := make([]models.Transaction, 0, len(txns))
	var anomalies []models.AnomalyRecord
	perBank := make(map[string]int)

	for i, tx := range txns {
		if scores[i] > d.threshold {
			anomalies = append(anomalies, models.AnomalyRecord{
				Transaction: tx,
				AnomalyType: models.AnomalyTypeStatisticalOutlier,
				ZScore:      scores[i],
				DetectedAt:  detectedAt,
			})
			perBank[tx.BankID]++
			continue
		}
		normal = append(normal, tx)
	}

	for bank, n := range perBank {
		d.logger.WarnWithContext(logger.WithBankID(ctx, bank), "detected statistical outliers",
			"count", n,
			"threshold_std", d.threshold)
	}
	d.logger.InfoWithContext(ctx, "anomaly detection complete",
		"normal", len(normal),
		"anomalies", len(anomalies))

	return normal, anomalies
}
