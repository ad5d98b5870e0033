// Package storage provides SQLite storage for reporting datasets, report
// templates and generated reports.
//
// Information Hiding:
// - SQLite connection management hidden behind interfaces
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SqliteStore implements Fetcher, TemplateStore and ReportStore using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newStore(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*SqliteStore, error) {
	store := &SqliteStore{db: db, now: time.Now}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			project_key TEXT,
			name TEXT NOT NULL,
			description TEXT,
			slo_target TEXT,
			attributes TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS components (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT,
			description TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_components_project
		ON components(project_id);

		CREATE TABLE IF NOT EXISTS threats (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			component_id TEXT,
			title TEXT NOT NULL,
			severity TEXT,
			status TEXT,
			description TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_threats_project
		ON threats(project_id);

		CREATE TABLE IF NOT EXISTS vulnerabilities (
			id TEXT PRIMARY KEY,
			component_id TEXT NOT NULL,
			title TEXT NOT NULL,
			severity TEXT,
			status TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_vulnerabilities_component
		ON vulnerabilities(component_id);

		CREATE TABLE IF NOT EXISTS safeguards (
			id TEXT PRIMARY KEY,
			threat_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT,
			status TEXT,
			description TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_safeguards_threat
		ON safeguards(threat_id);

		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT,
			severity TEXT
		);

		CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_by TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS template_versions (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			content TEXT NOT NULL,
			changelog TEXT,
			created_by TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE(template_id, version)
		);

		CREATE TABLE IF NOT EXISTS generated_reports (
			id TEXT PRIMARY KEY,
			template_id TEXT,
			template_version INTEGER,
			project_id TEXT,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			output TEXT NOT NULL,
			created_by TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_generated_reports_created
		ON generated_reports(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// timestamps are stored as Unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullable maps "" to NULL for optional columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
