// Package pipeline runs the EFT processing stages in order over one batch:
// schema validation, null cleaning, normalization, deduplication, anomaly
// detection, quality reporting and aggregation.
//
// Only schema validation can fail a run. Every later stage filters records and
// counts what it dropped.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/aggregator"
	"github.com/johnayoung/go-eft-pipeline/internal/anomaly"
	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/dedup"
	apperrors "github.com/johnayoung/go-eft-pipeline/internal/errors"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/metrics"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
	"github.com/johnayoung/go-eft-pipeline/internal/quality"
	"github.com/johnayoung/go-eft-pipeline/internal/validator"
)

// Stage names, in execution order.
const (
	StageSchema    = "schema"
	StageClean     = "clean"
	StageNormalize = "normalize"
	StageDedup     = "dedup"
	StageAnomaly   = "anomaly"
	StageQuality   = "quality"
	StageAggregate = "aggregate"
)

// StageSummary records how many records entered and left one stage.
type StageSummary struct {
	Name     string        `json:"name"`
	In       int           `json:"in"`
	Out      int           `json:"out"`
	Dropped  int           `json:"dropped"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the output of one run.
type Result struct {
	RunID      string                   `json:"run_id"`
	Aggregates []models.AggregateRecord `json:"aggregates"`
	Report     *models.QualityReport    `json:"report"`
	Anomalies  []models.AnomalyRecord   `json:"anomalies"`
	Stages     []StageSummary           `json:"stages"`
}

// Processor owns one configured instance of every stage. A Processor holds no
// per-run state, so one instance may serve concurrent calls to Process.
type Processor struct {
	config     config.ProcessingConfig
	validator  *validator.Validator
	dedup      *dedup.Detector
	anomaly    *anomaly.Detector
	quality    *quality.Reporter
	aggregator *aggregator.Aggregator
	metrics    *metrics.Collector
	logger     *logger.ComponentLogger
}

// New wires a processor from cfg.
func New(cfg config.ProcessingConfig, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.Clone()
	return &Processor{
		config:     cfg,
		validator:  validator.New(cfg, log),
		dedup:      dedup.New(cfg, log),
		anomaly:    anomaly.New(cfg, log),
		quality:    quality.New(cfg, log),
		aggregator: aggregator.New(cfg, log),
		logger:     logger.NewComponentLogger(log, "pipeline"),
	}
}

// WithMetrics records run metrics into mc.
func (p *Processor) WithMetrics(mc *metrics.Collector) *Processor {
	p.metrics = mc
	return p
}

// WithClock replaces the clock of every time-dependent stage.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.validator.WithClock(now)
	p.anomaly.WithClock(now)
	p.quality.WithClock(now)
	p.aggregator.WithClock(now)
	return p
}

// Config returns a copy of the processing configuration.
func (p *Processor) Config() config.ProcessingConfig {
	return p.config.Clone()
}

// Process runs every stage over batch. The batch is not modified. On schema
// failure it returns a *errors.SchemaError and no result.
func (p *Processor) Process(ctx context.Context, batch models.Batch) (*Result, error) {
	runID := logger.GetRunID(ctx)
	if runID == "" {
		runID = logger.NewRunID()
		ctx = logger.WithRunID(ctx, runID)
	}
	start := time.Now()
	result := &Result{RunID: runID}

	p.logger.InfoWithContext(ctx, "pipeline run started",
		"records", batch.Len(),
		"columns", len(batch.Columns))

	var ok bool
	var violations []string
	p.stage(ctx, result, StageSchema, batch.Len(), func(ctx context.Context) int {
		ok, violations = p.validator.ValidateSchema(ctx, batch)
		return batch.Len()
	})
	if !ok {
		p.metrics.RecordRun(metrics.RunSummary{SchemaFailure: true})
		err := &apperrors.SchemaError{Violations: violations}
		p.logger.ErrorWithContext(ctx, "pipeline run aborted", err)
		return nil, err
	}

	var cleaned models.Batch
	p.stage(ctx, result, StageClean, batch.Len(), func(ctx context.Context) int {
		cleaned, _ = p.validator.CleanNulls(ctx, batch)
		return cleaned.Len()
	})

	var txns []models.Transaction
	p.stage(ctx, result, StageNormalize, cleaned.Len(), func(ctx context.Context) int {
		txns, _ = p.validator.Normalize(ctx, cleaned)
		return len(txns)
	})

	var unique []models.Transaction
	p.stage(ctx, result, StageDedup, len(txns), func(ctx context.Context) int {
		unique, _ = p.dedup.RemoveDuplicates(ctx, txns, batch.Columns)
		return len(unique)
	})

	// Anomalies leave the normal set but are not counted as dropped.
	var normal []models.Transaction
	p.stage(ctx, result, StageAnomaly, len(unique), func(ctx context.Context) int {
		normal, result.Anomalies = p.anomaly.Detect(ctx, unique)
		return len(normal) + len(result.Anomalies)
	})

	p.stage(ctx, result, StageQuality, len(normal), func(ctx context.Context) int {
		result.Report = p.quality.Generate(ctx, batch, normal, result.Anomalies)
		return len(normal)
	})

	p.stage(ctx, result, StageAggregate, len(normal), func(ctx context.Context) int {
		result.Aggregates = p.aggregator.Aggregate(ctx, normal, result.Report)
		return len(normal)
	})

	if result.Anomalies == nil {
		result.Anomalies = []models.AnomalyRecord{}
	}

	elapsed := time.Since(start)
	p.metrics.RecordRun(metrics.RunSummary{
		Source:       logger.GetSource(ctx),
		RecordsIn:    batch.Len(),
		RecordsValid: result.Report.ValidRecords,
		Dropped:      droppedByStage(result.Stages),
		QualityScore: result.Report.QualityScore,
		Anomalies:    len(result.Anomalies),
		Duration:     elapsed,
	})

	p.logger.InfoWithContext(ctx, "pipeline run complete",
		"aggregates", len(result.Aggregates),
		"anomalies", len(result.Anomalies),
		"quality_score", result.Report.QualityScore,
		"quality_level", result.Report.QualityLevel.String(),
		"duration", elapsed)

	return result, nil
}

// stage runs fn with the stage name on the context and appends its summary.
func (p *Processor) stage(ctx context.Context, result *Result, name string, in int, fn func(ctx context.Context) int) {
	ctx = logger.WithStage(ctx, name)
	start := time.Now()
	out := fn(ctx)
	summary := StageSummary{
		Name:     name,
		In:       in,
		Out:      out,
		Dropped:  in - out,
		Duration: time.Since(start),
	}
	result.Stages = append(result.Stages, summary)
	p.logger.DebugWithContext(ctx, "stage finished",
		"in", summary.In,
		"out", summary.Out,
		"dropped", summary.Dropped,
		"duration", summary.Duration)
}

func droppedByStage(stages []StageSummary) map[string]int {
	out := make(map[string]int)
	for _, s := range stages {
		if s.Dropped > 0 {
			out[s.Name] = s.Dropped
		}
	}
	return out
}

// Process runs a one-off processor built from cfg. It returns the aggregates,
// the quality report and the anomalies of the run.
func Process(ctx context.Context, batch models.Batch, cfg config.ProcessingConfig) ([]models.AggregateRecord, *models.QualityReport, []models.AnomalyRecord, error) {
	result, err := New(cfg, slog.Default()).Process(ctx, batch)
	if err != nil {
		return nil, nil, nil, err
	}
	return result.Aggregates, result.Report, result.Anomalies, nil
}
