package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

func createTestSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "results.db"), testLogger())
	require.NoError(t, err, "failed to create test SQLite storage")
	t.Cleanup(func() { _ = storage.Close() })

	return storage
}

func TestSQLiteStorage_ResultStore(t *testing.T) {
	testResultStore(t, createTestSQLiteStorage(t))
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:", testLogger())
	require.NoError(t, err)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))
	require.NoError(t, storage.HealthCheck(ctx))
}

func TestSQLiteStorage_MoneyIsExactText(t *testing.T) {
	storage := createTestSQLiteStorage(t)
	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))

	agg := createTestAggregate("BNK001", "2025-01-01", "1000000.00", 1)
	agg.AvgValuePerCustomer = money("0.10")
	_, err := storage.SaveRun(ctx, createTestRun("run-1", []models.AggregateRecord{agg},
		[]models.AnomalyRecord{createTestAnomaly("T20", "100000.00", 4.2)}))
	require.NoError(t, err)

	var total, perCustomer string
	require.NoError(t, storage.db.QueryRowContext(ctx,
		"SELECT total_volume, avg_value_per_customer FROM "+TableAggregates).Scan(&total, &perCustomer))
	assert.Equal(t, "1000000.00", total)
	assert.Equal(t, "0.10", perCustomer)

	var anomalies int
	require.NoError(t, storage.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+TableAnomalies+" WHERE run_id = ?", "run-1").Scan(&anomalies))
	assert.Equal(t, 1, anomalies)
}

func TestSQLiteStorage_FailedRunWritesNothing(t *testing.T) {
	storage := createTestSQLiteStorage(t)
	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))

	_, err := storage.SaveRun(ctx, createTestRun("run-1", nil, nil))
	require.NoError(t, err)

	// Reusing the run id fails on the report insert, after the aggregate
	// insert already ran inside the same transaction.
	_, err = storage.SaveRun(ctx, createTestRun("run-1",
		[]models.AggregateRecord{createTestAggregate("BNK009", "2025-01-01", "1.00", 1)}, nil))
	require.Error(t, err)

	got, err := storage.GetAggregates(ctx, AggregateQuery{BankID: "BNK009"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStorage_Migrations(t *testing.T) {
	storage := createTestSQLiteStorage(t)
	ctx := context.Background()
	require.NoError(t, storage.Initialize(ctx))

	mm := NewMigrationManager(storage.db, storage.dialect, testLogger())
	require.NoError(t, mm.Rollback(ctx, 1))

	status, err := mm.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentVersion)
	assert.Equal(t, 1, status.PendingMigrations)

	require.NoError(t, storage.Initialize(ctx))
	status, err = mm.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingMigrations)
}
