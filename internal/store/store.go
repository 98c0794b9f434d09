// Package store handles SQLite persistence.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when a patient or session does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps SQLite access for patients and test sessions.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			gender TEXT NOT NULL,
			birthday TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			patient_id TEXT NOT NULL,
			test_name TEXT NOT NULL,
			eye TEXT NOT NULL,
			mode TEXT NOT NULL,
			bg_rgb TEXT NOT NULL,
			bg_luminance REAL NOT NULL,
			grating_size_deg REAL NOT NULL,
			orientation TEXT NOT NULL,
			grating_gray INTEGER NOT NULL,
			avg_luminance REAL NOT NULL,
			distance_cm REAL NOT NULL,
			screen_w_cm REAL NOT NULL,
			screen_h_cm REAL NOT NULL,
			module_gap_sec REAL NOT NULL,
			module_order TEXT NOT NULL,
			result_reversal_n INTEGER NOT NULL,
			show_params INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			total_duration_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_modules (
			session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			module_index INTEGER NOT NULL,
			module_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			spatial REAL NOT NULL,
			temporal REAL NOT NULL,
			interval_sec REAL NOT NULL,
			duration_sec REAL NOT NULL,
			initial_contrast REAL NOT NULL,
			up_rule INTEGER NOT NULL,
			down_rule INTEGER NOT NULL,
			reversal_target INTEGER NOT NULL,
			step_correct REAL NOT NULL,
			step_wrong REAL NOT NULL,
			PRIMARY KEY (session_id, module_index)
		);`,
		`CREATE TABLE IF NOT EXISTS module_results (
			session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			module_index INTEGER NOT NULL,
			module_id INTEGER NOT NULL,
			threshold REAL NOT NULL,
			spatial REAL NOT NULL,
			temporal REAL NOT NULL,
			reversal_count INTEGER NOT NULL,
			total_trials INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			forced INTEGER NOT NULL,
			PRIMARY KEY (session_id, module_index)
		);`,
		`CREATE TABLE IF NOT EXISTS trials (
			session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			module_index INTEGER NOT NULL,
			trial_index INTEGER NOT NULL,
			direction TEXT NOT NULL,
			response TEXT NOT NULL,
			correct INTEGER NOT NULL,
			contrast REAL NOT NULL,
			spatial REAL NOT NULL,
			temporal REAL NOT NULL,
			is_reversal INTEGER NOT NULL,
			response_time_ms INTEGER,
			trial_timestamp TEXT NOT NULL,
			PRIMARY KEY (session_id, module_index, trial_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_patient ON sessions(patient_id, started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func closeRows(rows *sql.Rows) {
	if cerr := rows.Close(); cerr != nil {
		// Best-effort rows close.
		_ = cerr
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return err
}
