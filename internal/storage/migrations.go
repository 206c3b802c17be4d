package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Up        string    `json:"up"`
	AppliedAt time.Time `json:"applied_at"`
}

// schemaMigrations is the ordered schema history of the preload database
var schemaMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_preload_records",
		Up: `
		CREATE TABLE IF NOT EXISTS preload_records (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL,
			url TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			fetched_at DATETIME NOT NULL
		)`,
	},
	{
		Version: 2,
		Name:    "index_preload_records",
		Up:      `CREATE INDEX IF NOT EXISTS idx_preload_key_fetched ON preload_records(key, fetched_at)`,
	},
	{
		Version: 3,
		Name:    "add_preload_duration",
		Up:      `ALTER TABLE preload_records ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0`,
	},
}

// MigrationManager applies schema migrations on an open database
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// Initialize sets up the migration tracking table
func (mm *MigrationManager) Initialize(ctx context.Context) error {
	createSQL := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	if _, err := mm.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the current database schema version
func (mm *MigrationManager) GetCurrentVersion(ctx context.Context) (int, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`
	var version int
	if err := mm.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// ApplyMigration applies a single migration
func (mm *MigrationManager) ApplyMigration(ctx context.Context, migration Migration) error {
	// Validate migration
	if migration.Version <= 0 {
		return fmt.Errorf("migration version must be positive, got %d", migration.Version)
	}
	if migration.Name == "" {
		return fmt.Errorf("migration name cannot be empty")
	}
	if migration.Up == "" {
		return fmt.Errorf("migration Up script cannot be empty")
	}

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		migration.Version, migration.Name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}

// ListAppliedMigrations returns all applied migrations
func (mm *MigrationManager) ListAppliedMigrations(ctx context.Context) ([]Migration, error) {
	query := `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`
	rows, err := mm.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var migrations []Migration
	for rows.Next() {
		var migration Migration
		if err := rows.Scan(&migration.Version, &migration.Name, &migration.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, migration)
	}

	return migrations, rows.Err()
}

// Migrate applies every migration newer than the current version, in order
func (mm *MigrationManager) Migrate(ctx context.Context, migrations []Migration) error {
	current, err := mm.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}
		if err := mm.ApplyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}
