package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements PreloadStore using SQLite
type SQLiteStorage struct {
	dbPath string
	db     *sql.DB
	ready  bool
}

// Ensure SQLiteStorage implements PreloadStore
var _ PreloadStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) *SQLiteStorage {
	return &SQLiteStorage{
		dbPath: dbPath,
	}
}

// Initialize opens the SQLite database and migrates the schema
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.dbPath+"?cache=shared&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf("failed to ping database: %w", err)
	}

	mm := NewMigrationManager(db)
	if err := mm.Initialize(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := mm.Migrate(ctx, schemaMigrations); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	s.db = db
	s.ready = true
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		s.ready = false
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// IsReady returns whether the storage is ready for operations
func (s *SQLiteStorage) IsReady() bool {
	return s.ready && s.db != nil
}

// RecordPreload stores a preload record. An empty ID is filled with a new UUID
// and a zero FetchedAt with the current time.
func (s *SQLiteStorage) RecordPreload(ctx context.Context, rec *PreloadRecord) error {
	if !s.IsReady() {
		return fmt.Errorf("storage not ready")
	}

	// Validate required fields
	if rec.Key == "" {
		return fmt.Errorf("preload record key cannot be empty")
	}
	if rec.URL == "" {
		return fmt.Errorf("preload record URL cannot be empty")
	}
	if rec.Outcome != OutcomeFetched && rec.Outcome != OutcomeFailed {
		return fmt.Errorf("preload record outcome must be '%s' or '%s', got: %s", OutcomeFetched, OutcomeFailed, rec.Outcome)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO preload_records (
			id, key, url, location, checksum, size_bytes,
			outcome, error, duration_ms, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Key, rec.URL, rec.Location, rec.Checksum, rec.SizeBytes,
		rec.Outcome, rec.Error, rec.Duration.Milliseconds(), rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store preload record: %w", err)
	}

	return nil
}

const selectPreloadColumns = `SELECT id, key, url, location, checksum, size_bytes, outcome, error, duration_ms, fetched_at FROM preload_records`

type scanner interface {
	Scan(dest ...any) error
}

func scanPreload(row scanner) (*PreloadRecord, error) {
	rec := &PreloadRecord{}
	var durationMS int64
	err := row.Scan(
		&rec.ID, &rec.Key, &rec.URL, &rec.Location, &rec.Checksum,
		&rec.SizeBytes, &rec.Outcome, &rec.Error, &durationMS, &rec.FetchedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

// GetPreload retrieves a preload record by ID. It returns nil, nil if the
// record does not exist.
func (s *SQLiteStorage) GetPreload(ctx context.Context, id string) (*PreloadRecord, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("storage not ready")
	}

	if id == "" {
		return nil, fmt.Errorf("preload record ID cannot be empty")
	}

	rec, err := scanPreload(s.db.QueryRowContext(ctx, selectPreloadColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preload record: %w", err)
	}
	return rec, nil
}

// LatestForKey returns the most recent record for key, or nil, nil if the
// key was never preloaded.
func (s *SQLiteStorage) LatestForKey(ctx context.Context, key string) (*PreloadRecord, error) {
	recs, err := s.QueryPreloads(ctx, PreloadQuery{Key: key, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// QueryPreloads searches for preload records based on the given criteria,
// newest first
func (s *SQLiteStorage) QueryPreloads(ctx context.Context, query PreloadQuery) ([]*PreloadRecord, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("storage not ready")
	}

	var conditions []string
	var args []interface{}

	if query.Key != "" {
		conditions = append(conditions, "key = ?")
		args = append(args, query.Key)
	}

	if query.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, query.Outcome)
	}

	if query.Since != nil {
		conditions = append(conditions, "fetched_at >= ?")
		args = append(args, *query.Since)
	}

	sqlQuery := selectPreloadColumns

	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	sqlQuery += " ORDER BY fetched_at DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query preload records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*PreloadRecord
	for rows.Next() {
		rec, err := scanPreload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preload record: %w", err)
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return results, nil
}
