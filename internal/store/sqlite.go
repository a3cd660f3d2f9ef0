// Package store provides storage backends for DraftLoop workflow sessions.
//
// This file implements the SQLite-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/DraftLoop/DraftLoop/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists workflow sessions to a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveWorkflowState inserts or replaces the session record.
func (s *SQLiteStore) SaveWorkflowState(state models.WorkflowState) error {
	serialized, err := state.ToJSON()
	if err != nil {
		slog.Error("SQLiteStore SaveWorkflowState serialization failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to serialize workflow state: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO workflow_sessions (session_id, stage, is_complete, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, state.SessionID, string(state.Stage), state.IsComplete,
		serialized, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveWorkflowState failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to save workflow state for %s: %w", state.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveWorkflowState succeeded", "sessionID", state.SessionID, "stage", state.Stage)
	return nil
}

// GetWorkflowState retrieves a session by id, returning nil when not found.
func (s *SQLiteStore) GetWorkflowState(sessionID string) (*models.WorkflowState, error) {
	var serialized string
	err := s.db.QueryRow(`SELECT state_json FROM workflow_sessions WHERE session_id = ?`, sessionID).Scan(&serialized)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetWorkflowState not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetWorkflowState failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query workflow state for %s: %w", sessionID, err)
	}

	var state models.WorkflowState
	if err := state.FromJSON(serialized); err != nil {
		slog.Error("SQLiteStore GetWorkflowState deserialization failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to deserialize workflow state for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore GetWorkflowState found", "sessionID", sessionID, "stage", state.Stage)
	return &state, nil
}

// DeleteWorkflowState removes a session record.
func (s *SQLiteStore) DeleteWorkflowState(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM workflow_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteWorkflowState failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete workflow state for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteWorkflowState succeeded", "sessionID", sessionID)
	return nil
}

// ListIncompleteWorkflowStates returns every session not yet complete.
func (s *SQLiteStore) ListIncompleteWorkflowStates() ([]models.WorkflowState, error) {
	rows, err := s.db.Query(`SELECT state_json FROM workflow_sessions WHERE is_complete = 0 ORDER BY updated_at`)
	if err != nil {
		slog.Error("SQLiteStore ListIncompleteWorkflowStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query incomplete sessions: %w", err)
	}
	defer rows.Close()

	var states []models.WorkflowState
	for rows.Next() {
		var serialized string
		if err := rows.Scan(&serialized); err != nil {
			slog.Error("SQLiteStore ListIncompleteWorkflowStates scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var state models.WorkflowState
		if err := state.FromJSON(serialized); err != nil {
			slog.Error("SQLiteStore ListIncompleteWorkflowStates deserialization failed", "error", err)
			return nil, fmt.Errorf("failed to deserialize workflow state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListIncompleteWorkflowStates rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListIncompleteWorkflowStates succeeded", "count", len(states))
	return states, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
