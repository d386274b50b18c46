package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

type aggregateKey struct {
	bankID string
	date   string
}

// MemoryStorage keeps run results in process memory. It is safe for
// concurrent use and follows the same first-row-wins rule for aggregates as
// the SQL backends.
type MemoryStorage struct {
	mu sync.RWMutex

	aggregates map[aggregateKey]models.AggregateRecord
	anomalies  map[string][]models.AnomalyRecord
	reports    map[string]models.QualityReport
	runOrder   []string

	initialized bool
	closed      bool
}

var (
	_ ResultStore     = (*MemoryStorage)(nil)
	_ AggregateReader = (*MemoryStorage)(nil)
)

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		aggregates: make(map[aggregateKey]models.AggregateRecord),
		anomalies:  make(map[string][]models.AnomalyRecord),
		reports:    make(map[string]models.QualityReport),
	}
}

// SaveRun implements ResultWriter.SaveRun.
func (m *MemoryStorage) SaveRun(ctx context.Context, run *RunRecord) (*SaveResult, error) {
	if ctx.Err() != nil {
		return nil, NewInsertError("", ctx.Err())
	}
	if run == nil || run.Report == nil {
		return nil, NewInsertError("", errors.New("run record has no quality report"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, NewInsertError("", errors.New("storage is closed"))
	}
	if _, exists := m.reports[run.RunID]; exists {
		return nil, NewInsertError(TableReports, errors.New("run already stored: "+run.RunID))
	}

	result := &SaveResult{}
	for _, a := range run.Aggregates {
		key := aggregateKey{bankID: a.BankID, date: a.TransactionDate}
		if _, exists := m.aggregates[key]; exists {
			result.AggregatesSkipped++
			continue
		}
		m.aggregates[key] = a
		result.AggregatesInserted++
	}

	m.anomalies[run.RunID] = append([]models.AnomalyRecord(nil), run.Anomalies...)
	result.AnomaliesInserted = len(run.Anomalies)
	m.reports[run.RunID] = *run.Report
	m.runOrder = append(m.runOrder, run.RunID)

	return result, nil
}

// GetAggregates implements AggregateReader.GetAggregates.
func (m *MemoryStorage) GetAggregates(ctx context.Context, q AggregateQuery) ([]models.AggregateRecord, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError(TableAggregates, ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError(TableAggregates, errors.New("storage is closed"))
	}

	var out []models.AggregateRecord
	for _, a := range m.aggregates {
		if q.matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BankID != out[j].BankID {
			return out[i].BankID < out[j].BankID
		}
		return out[i].TransactionDate < out[j].TransactionDate
	})
	return out, nil
}

// Report returns the stored quality report of a run.
func (m *MemoryStorage) Report(runID string) (models.QualityReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[runID]
	return r, ok
}

// Anomalies returns the stored anomalies of a run.
func (m *MemoryStorage) Anomalies(runID string) []models.AnomalyRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.AnomalyRecord(nil), m.anomalies[runID]...)
}

// RunIDs returns stored run IDs in save order.
func (m *MemoryStorage) RunIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.runOrder...)
}

// Initialize implements StorageManager.Initialize.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	if ctx.Err() != nil {
		return NewStorageError("initialize", "", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("initialize", "", errors.New("storage is closed"))
	}
	m.initialized = true
	return nil
}

// Close implements StorageManager.Close.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// HealthCheck implements StorageManager.HealthCheck.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errors.New("storage is closed")
	}
	if !m.initialized {
		return errors.New("storage is not initialized")
	}
	return nil
}
