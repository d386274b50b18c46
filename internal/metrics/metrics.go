// Package metrics provides in-process metrics collection for pipeline runs.
// Counters, gauges and durations are kept with a bounded history and exposed
// as a JSON snapshot for the HTTP API.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
)

// Metric names recorded by the pipeline.
const (
	RunsTotal         = "pipeline_runs_total"
	RecordsIn         = "pipeline_records_in"
	RecordsValid      = "pipeline_records_valid"
	RecordsDropped    = "pipeline_records_dropped"
	QualityScore      = "pipeline_quality_score"
	Anomalies         = "pipeline_anomalies"
	RunDurationMillis = "pipeline_run_duration_ms"
	SchemaFailures    = "pipeline_schema_failures"
	StoreFailures     = "pipeline_store_failures"
)

const defaultHistorySize = 100

// Collector stores metrics in memory. The zero value is not usable; use
// NewCollector. A nil *Collector ignores every Record call.
type Collector struct {
	enabled     bool
	historySize int
	logger      *logger.ComponentLogger
	startTime   time.Time

	mu          sync.RWMutex
	metrics     map[string]Metric
	healthCheck HealthChecker

	runCount   int64
	errorCount int64
}

// Metric represents a single metric with metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description"`
	UpdatedAt   time.Time         `json:"updated_at"`
	History     []MetricDataPoint `json:"history,omitempty"`
}

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDataPoint represents a time-series data point
type MetricDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HealthChecker is implemented by components whose health is reported
// alongside the metrics, such as result stores.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Snapshot is a point-in-time copy of every metric.
type Snapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	Uptime        string            `json:"uptime"`
	Metrics       map[string]Metric `json:"metrics"`
	SystemMetrics SystemMetrics     `json:"system_metrics"`
	RunCount      int64             `json:"run_count"`
	ErrorCount    int64             `json:"error_count"`
	ErrorRate     float64           `json:"error_rate"`
}

// SystemMetrics represents process-level runtime metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	NumGC          uint32 `json:"num_gc"`
	GCPauseNs      uint64 `json:"gc_pause_ns"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapInuse      uint64 `json:"heap_inuse"`
}

// RunSummary carries the counts of one finished run.
type RunSummary struct {
	Source        string
	RecordsIn     int
	RecordsValid  int
	Dropped       map[string]int
	QualityScore  float64
	Anomalies     int
	Duration      time.Duration
	SchemaFailure bool
}

// NewCollector creates a metrics collector
func NewCollector(cfg config.MetricsConfig, log *slog.Logger) *Collector {
	size := cfg.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	return &Collector{
		enabled:     cfg.Enabled,
		historySize: size,
		logger:      logger.NewComponentLogger(log, "metrics"),
		startTime:   time.Now(),
		metrics:     make(map[string]Metric),
	}
}

// RegisterHealthChecker sets the component reported by the health endpoint.
func (c *Collector) RegisterHealthChecker(checker HealthChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthCheck = checker
}

// RecordCounter adds delta to a counter metric
func (c *Collector) RecordCounter(name string, delta float64, description string, labels map[string]string) {
	c.recordMetric(name, MetricTypeCounter, delta, description, labels)
}

// RecordGauge sets a gauge metric value
func (c *Collector) RecordGauge(name string, value float64, description string, labels map[string]string) {
	c.recordMetric(name, MetricTypeGauge, value, description, labels)
}

// RecordDuration records a duration metric in milliseconds
func (c *Collector) RecordDuration(name string, d time.Duration, description string, labels map[string]string) {
	ms := float64(d.Nanoseconds()) / float64(time.Millisecond)
	c.recordMetric(name, MetricTypeHistogram, ms, description, labels)
}

// RecordRun records the standard set of metrics for one pipeline run.
func (c *Collector) RecordRun(run RunSummary) {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.runCount, 1)
	c.RecordCounter(RunsTotal, 1, "Pipeline runs started", nil)

	if run.SchemaFailure {
		atomic.AddInt64(&c.errorCount, 1)
		c.RecordCounter(SchemaFailures, 1, "Runs rejected by schema validation", nil)
		return
	}

	c.RecordCounter(RecordsIn, float64(run.RecordsIn), "Records received", nil)
	c.RecordCounter(RecordsValid, float64(run.RecordsValid), "Records surviving every stage", nil)
	for stage, n := range run.Dropped {
		c.RecordCounter(RecordsDropped+"_"+stage, float64(n), "Records dropped by stage", map[string]string{"stage": stage})
	}
	c.RecordGauge(QualityScore, run.QualityScore, "Quality score of the last run", nil)
	c.RecordCounter(Anomalies, float64(run.Anomalies), "Statistical outliers detected", nil)
	c.RecordDuration(RunDurationMillis, run.Duration, "Run duration in milliseconds", nil)
}

// RecordStoreFailure counts a failed persistence attempt.
func (c *Collector) RecordStoreFailure(store string) {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.errorCount, 1)
	c.RecordCounter(StoreFailures, 1, "Failed result store writes", map[string]string{"store": store})
}

func (c *Collector) recordMetric(name string, metricType MetricType, value float64, description string, labels map[string]string) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	existing, exists := c.metrics[name]
	if !exists {
		c.metrics[name] = Metric{
			Name:        name,
			Type:        metricType,
			Value:       value,
			Labels:      labels,
			Description: description,
			UpdatedAt:   now,
			History:     []MetricDataPoint{{Timestamp: now, Value: value}},
		}
		return
	}

	if metricType == MetricTypeCounter {
		existing.Value += value
	} else {
		existing.Value = value
	}
	existing.UpdatedAt = now
	existing.History = append(existing.History, MetricDataPoint{Timestamp: now, Value: existing.Value})
	if len(existing.History) > c.historySize {
		existing.History = existing.History[len(existing.History)-c.historySize:]
	}
	c.metrics[name] = existing
}

// Value returns the current value of a metric and whether it exists.
func (c *Collector) Value(name string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[name]
	return m.Value, ok
}

// Names returns the recorded metric names in sorted order.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.metrics))
	for name := range c.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSnapshot returns a snapshot of all current metrics
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	metricsCopy := make(map[string]Metric, len(c.metrics))
	for k, v := range c.metrics {
		v.History = append([]MetricDataPoint(nil), v.History...)
		metricsCopy[k] = v
	}
	c.mu.RUnlock()

	runs := atomic.LoadInt64(&c.runCount)
	errs := atomic.LoadInt64(&c.errorCount)
	var errorRate float64
	if runs > 0 {
		errorRate = float64(errs) / float64(runs) * 100
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Snapshot{
		Timestamp: time.Now(),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Metrics:   metricsCopy,
		SystemMetrics: SystemMetrics{
			GoroutineCount: runtime.NumGoroutine(),
			NumGC:          m.NumGC,
			GCPauseNs:      m.PauseTotalNs,
			HeapAlloc:      m.HeapAlloc,
			HeapInuse:      m.HeapInuse,
		},
		RunCount:   runs,
		ErrorCount: errs,
		ErrorRate:  errorRate,
	}
}

// Handler serves the snapshot as JSON.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.GetSnapshot()); err != nil {
			c.logger.ErrorWithContext(r.Context(), "failed to encode metrics snapshot", err)
		}
	})
}

// HealthHandler reports the registered health checker, or healthy when none is set.
func (c *Collector) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(c.startTime).Round(time.Second).String(),
		}

		c.mu.RLock()
		checker := c.healthCheck
		c.mu.RUnlock()

		code := http.StatusOK
		if checker != nil {
			if err := checker.HealthCheck(r.Context()); err != nil {
				status["status"] = "unhealthy"
				status["error"] = err.Error()
				code = http.StatusServiceUnavailable
				c.logger.WarnWithContext(r.Context(), "health check failed", "error", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
