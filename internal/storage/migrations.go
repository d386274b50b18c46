package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// dialect holds the column types and value encodings that differ between the
// SQL backends.
type dialect struct {
	name      string
	text      string
	money     string
	double    string
	timestamp string
}

var (
	duckDBDialect = dialect{name: "duckdb", text: "VARCHAR", money: "DECIMAL(18,2)", double: "DOUBLE", timestamp: "TIMESTAMPTZ"}
	sqliteDialect = dialect{name: "sqlite", text: "TEXT", money: "TEXT", double: "REAL", timestamp: "TEXT"}
)

// timeValue encodes t for a timestamp column. SQLite stores RFC 3339 text.
func (d dialect) timeValue(t time.Time) any {
	if d.name == sqliteDialect.name {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

// Migration represents a single schema migration.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx, d dialect) error
	Down        func(ctx context.Context, tx *sql.Tx, d dialect) error
}

// MigrationStatus summarises which migrations have been applied.
type MigrationStatus struct {
	CurrentVersion    int
	LatestVersion     int
	PendingMigrations int
}

// MigrationManager applies versioned schema migrations to a SQL backend.
type MigrationManager struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	migrate []Migration
}

// NewMigrationManager creates a migration manager for db.
func NewMigrationManager(db *sql.DB, d dialect, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationManager{
		db:      db,
		dialect: d,
		logger:  logger,
		migrate: getAllMigrations(),
	}
}

// Initialize creates the migrations table if it doesn't exist
func (m *MigrationManager) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description %s NOT NULL,
			applied_at %s NOT NULL,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`, m.dialect.text, m.dialect.timestamp)

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// MigrateToLatest applies every pending migration in version order.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	current, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range m.migrate {
		if migration.Version <= current {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Info("schema migrations applied",
			"dialect", m.dialect.name,
			"from_version", current,
			"applied", applied)
	}
	return nil
}

// Rollback reverts applied migrations above targetVersion, newest first.
func (m *MigrationManager) Rollback(ctx context.Context, targetVersion int) error {
	current, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrate) - 1; i >= 0; i-- {
		migration := m.migrate[i]
		if migration.Version <= targetVersion || migration.Version > current {
			continue
		}
		if err := m.rollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

func (m *MigrationManager) rollbackMigration(ctx context.Context, migration Migration) error {
	if migration.Down == nil {
		return fmt.Errorf("migration %d has no rollback function", migration.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Down(ctx, tx, m.dialect); err != nil {
		return fmt.Errorf("rollback execution failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	m.logger.Info("migration rolled back", "version", migration.Version)
	return nil
}

// GetStatus returns the current migration status
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	current, err := m.getCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	latest := 0
	pending := 0
	for _, migration := range m.migrate {
		if migration.Version > latest {
			latest = migration.Version
		}
		if migration.Version > current {
			pending++
		}
	}

	return &MigrationStatus{
		CurrentVersion:    current,
		LatestVersion:     latest,
		PendingMigrations: pending,
	}, nil
}

func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx, m.dialect); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at, execution_time) VALUES (?, ?, ?, ?)`,
		migration.Version,
		migration.Description,
		m.dialect.timeValue(start),
		time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Debug("migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

func (m *MigrationManager) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func getAllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial schema - aggregates, anomalies and quality reports",
			Up:          migrationV1Up,
			Down:        migrationV1Down,
		},
		{
			Version:     2,
			Description: "Add lookup indexes for anomalies and reports",
			Up:          migrationV2Up,
			Down:        migrationV2Down,
		},
	}
}

func execAll(ctx context.Context, tx *sql.Tx, queries []string) error {
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Migration V1: result tables
func migrationV1Up(ctx context.Context, tx *sql.Tx, d dialect) error {
	return execAll(ctx, tx, []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
			bank_id %[2]s NOT NULL,
			transaction_date %[2]s NOT NULL,
			total_volume %[3]s NOT NULL,
			transaction_count INTEGER NOT NULL,
			avg_transaction_value %[3]s NOT NULL,
			std_transaction_value %[3]s NOT NULL,
			median_transaction_value %[3]s NOT NULL,
			min_transaction_value %[3]s NOT NULL,
			max_transaction_value %[3]s NOT NULL,
			unique_customers INTEGER NOT NULL,
			unique_transaction_ids INTEGER NOT NULL,
			transaction_type_breakdown %[2]s NOT NULL,
			avg_transactions_per_customer %[4]s NOT NULL,
			avg_value_per_customer %[3]s NOT NULL,
			processed_at %[5]s NOT NULL,
			data_quality_score %[4]s NOT NULL,
			run_id %[2]s NOT NULL,
			PRIMARY KEY (bank_id, transaction_date)
		)`, TableAggregates, d.text, d.money, d.double, d.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
			anomaly_id %[2]s PRIMARY KEY,
			run_id %[2]s NOT NULL,
			transaction_id %[2]s,
			bank_id %[2]s NOT NULL,
			customer_id %[2]s NOT NULL,
			amount %[3]s NOT NULL,
			transaction_date %[2]s,
			transaction_type %[2]s NOT NULL,
			description %[2]s,
			anomaly_type %[2]s NOT NULL,
			z_score %[3]s NOT NULL,
			detected_at %[4]s NOT NULL
		)`, TableAnomalies, d.text, d.double, d.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
			run_id %[2]s PRIMARY KEY,
			source %[2]s,
			checksum %[2]s,
			total_records INTEGER NOT NULL,
			valid_records INTEGER NOT NULL,
			null_records INTEGER NOT NULL,
			invalid_amounts INTEGER NOT NULL,
			duplicate_records INTEGER NOT NULL,
			quality_score %[3]s NOT NULL,
			quality_level %[2]s NOT NULL,
			anomaly_count INTEGER NOT NULL,
			processing_timestamp %[4]s NOT NULL
		)`, TableReports, d.text, d.double, d.timestamp),
	})
}

func migrationV1Down(ctx context.Context, tx *sql.Tx, _ dialect) error {
	return execAll(ctx, tx, []string{
		"DROP TABLE IF EXISTS " + TableReports,
		"DROP TABLE IF EXISTS " + TableAnomalies,
		"DROP TABLE IF EXISTS " + TableAggregates,
	})
}

// Migration V2: indexes
func migrationV2Up(ctx context.Context, tx *sql.Tx, _ dialect) error {
	return execAll(ctx, tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_anomalies_bank ON " + TableAnomalies + " (bank_id)",
		"CREATE INDEX IF NOT EXISTS idx_anomalies_run ON " + TableAnomalies + " (run_id)",
		"CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON " + TableReports + " (processing_timestamp)",
	})
}

func migrationV2Down(ctx context.Context, tx *sql.Tx, _ dialect) error {
	return execAll(ctx, tx, []string{
		"DROP INDEX IF EXISTS idx_reports_timestamp",
		"DROP INDEX IF EXISTS idx_anomalies_run",
		"DROP INDEX IF EXISTS idx_anomalies_bank",
	})
}
