package models

import (
	"fmt"
	"math"
	"time"
)

// QualityLevel grades a batch by its quality score.
type QualityLevel int

const (
	QualityPoor QualityLevel = iota
	QualityAcceptable
	QualityGood
	QualityExcellent
)

// Lower bounds, inclusive.
const (
	ExcellentThreshold  = 95.0
	GoodThreshold       = 85.0
	AcceptableThreshold = 75.0
)

// QualityLevelForScore maps a 0-100 score onto its tier.
func QualityLevelForScore(score float64) QualityLevel {
	switch {
	case score >= ExcellentThreshold:
		return QualityExcellent
	case score >= GoodThreshold:
		return QualityGood
	case score >= AcceptableThreshold:
		return QualityAcceptable
	default:
		return QualityPoor
	}
}

func (q QualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "EXCELLENT"
	case QualityGood:
		return "GOOD"
	case QualityAcceptable:
		return "ACCEPTABLE"
	case QualityPoor:
		return "POOR"
	default:
		return "POOR"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (q QualityLevel) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *QualityLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "EXCELLENT":
		*q = QualityExcellent
	case "GOOD":
		*q = QualityGood
	case "ACCEPTABLE":
		*q = QualityAcceptable
	case "POOR":
		*q = QualityPoor
	default:
		return fmt.Errorf("unknown quality level %q", string(b))
	}
	return nil
}

// QualityReport summarises the data quality of one batch.
type QualityReport struct {
	TotalRecords        int          `json:"total_records"`
	ValidRecords        int          `json:"valid_records"`
	NullRecords         int          `json:"null_records"`
	InvalidAmounts      int          `json:"invalid_amounts"`
	DuplicateRecords    int          `json:"duplicate_records"`
	QualityScore        float64      `json:"quality_score"`
	QualityLevel        QualityLevel `json:"quality_level"`
	AnomalyCount        int          `json:"anomaly_count"`
	ProcessingTimestamp time.Time    `json:"processing_timestamp"`
}

// QualityScore returns valid/total as a percentage rounded to 2 decimals, or 0
// for an empty batch.
func QualityScore(valid, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(valid) / float64(total) * 100)
}

// Round2 rounds half away from zero to two decimals and maps NaN/Inf to 0.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
