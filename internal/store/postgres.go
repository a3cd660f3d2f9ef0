// Package store provides storage backends for DraftLoop workflow sessions.
//
// This file implements the PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/DraftLoop/DraftLoop/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists workflow sessions to a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the sessions table exists
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveWorkflowState inserts or updates the session record. The upsert keeps
// at-most-one-writer-at-a-time semantics per session id simple: the last
// writer wins, and the session lock above the store guarantees there is only
// one writer per key at a time.
func (s *PostgresStore) SaveWorkflowState(state models.WorkflowState) error {
	serialized, err := state.ToJSON()
	if err != nil {
		slog.Error("PostgresStore SaveWorkflowState serialization failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to serialize workflow state: %w", err)
	}

	query := `
		INSERT INTO workflow_sessions (session_id, stage, is_complete, state_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			is_complete = EXCLUDED.is_complete,
			state_json = EXCLUDED.state_json,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, state.SessionID, string(state.Stage), state.IsComplete,
		serialized, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveWorkflowState failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to save workflow state for %s: %w", state.SessionID, err)
	}
	slog.Debug("PostgresStore SaveWorkflowState succeeded", "sessionID", state.SessionID, "stage", state.Stage)
	return nil
}

// GetWorkflowState retrieves a session by id, returning nil when not found.
func (s *PostgresStore) GetWorkflowState(sessionID string) (*models.WorkflowState, error) {
	var serialized string
	err := s.db.QueryRow(`SELECT state_json FROM workflow_sessions WHERE session_id = $1`, sessionID).Scan(&serialized)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetWorkflowState not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetWorkflowState failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query workflow state for %s: %w", sessionID, err)
	}

	var state models.WorkflowState
	if err := state.FromJSON(serialized); err != nil {
		slog.Error("PostgresStore GetWorkflowState deserialization failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to deserialize workflow state for %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore GetWorkflowState found", "sessionID", sessionID, "stage", state.Stage)
	return &state, nil
}

// DeleteWorkflowState removes a session record.
func (s *PostgresStore) DeleteWorkflowState(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM workflow_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteWorkflowState failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete workflow state for %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore DeleteWorkflowState succeeded", "sessionID", sessionID)
	return nil
}

// ListIncompleteWorkflowStates returns every session not yet complete.
func (s *PostgresStore) ListIncompleteWorkflowStates() ([]models.WorkflowState, error) {
	rows, err := s.db.Query(`SELECT state_json FROM workflow_sessions WHERE is_complete = FALSE ORDER BY updated_at`)
	if err != nil {
		slog.Error("PostgresStore ListIncompleteWorkflowStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query incomplete sessions: %w", err)
	}
	defer rows.Close()

	var states []models.WorkflowState
	for rows.Next() {
		var serialized string
		if err := rows.Scan(&serialized); err != nil {
			slog.Error("PostgresStore ListIncompleteWorkflowStates scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var state models.WorkflowState
		if err := state.FromJSON(serialized); err != nil {
			slog.Error("PostgresStore ListIncompleteWorkflowStates deserialization failed", "error", err)
			return nil, fmt.Errorf("failed to deserialize workflow state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListIncompleteWorkflowStates rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListIncompleteWorkflowStates succeeded", "count", len(states))
	return states, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
