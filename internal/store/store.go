// Package store provides storage backends for DraftLoop workflow sessions.
//
// It includes an in-memory store for tests and development plus persistent
// SQLite and PostgreSQL backends. A session is persisted as one record keyed
// by session id; the full state (draft, critique and feedback histories
// included) is stored as a human-inspectable JSON document so sessions can be
// reloaded and resumed after a restart.
package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/DraftLoop/DraftLoop/internal/models"
)

// Store defines the persistence operations for workflow sessions.
type Store interface {
	// SaveWorkflowState inserts or replaces the session record.
	SaveWorkflowState(state models.WorkflowState) error
	// GetWorkflowState retrieves a session by id, returning nil when not found.
	GetWorkflowState(sessionID string) (*models.WorkflowState, error)
	// DeleteWorkflowState removes a session record.
	DeleteWorkflowState(sessionID string) error
	// ListIncompleteWorkflowStates returns every session that has not reached
	// a terminal stage, for startup recovery.
	ListIncompleteWorkflowStates() ([]models.WorkflowState, error)
	// Close releases any underlying resources.
	Close() error
}

// InMemoryStore is a simple mutex-guarded in-memory session store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]string)}
}

// SaveWorkflowState stores the serialized session, replacing any prior record.
func (s *InMemoryStore) SaveWorkflowState(state models.WorkflowState) error {
	serialized, err := state.ToJSON()
	if err != nil {
		slog.Error("InMemoryStore SaveWorkflowState serialization failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to serialize workflow state: %w", err)
	}
	s.mu.Lock()
	s.sessions[state.SessionID] = serialized
	s.mu.Unlock()
	slog.Debug("InMemoryStore SaveWorkflowState succeeded", "sessionID", state.SessionID, "stage", state.Stage)
	return nil
}

// GetWorkflowState retrieves a session by id.
func (s *InMemoryStore) GetWorkflowState(sessionID string) (*models.WorkflowState, error) {
	s.mu.RLock()
	serialized, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		slog.Debug("InMemoryStore GetWorkflowState not found", "sessionID", sessionID)
		return nil, nil
	}
	var state models.WorkflowState
	if err := state.FromJSON(serialized); err != nil {
		slog.Error("InMemoryStore GetWorkflowState deserialization failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to deserialize workflow state: %w", err)
	}
	return &state, nil
}

// DeleteWorkflowState removes a session record.
func (s *InMemoryStore) DeleteWorkflowState(sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	slog.Debug("InMemoryStore DeleteWorkflowState succeeded", "sessionID", sessionID)
	return nil
}

// ListIncompleteWorkflowStates returns every session that is not complete.
func (s *InMemoryStore) ListIncompleteWorkflowStates() ([]models.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []models.WorkflowState
	for sessionID, serialized := range s.sessions {
		var state models.WorkflowState
		if err := state.FromJSON(serialized); err != nil {
			slog.Error("InMemoryStore ListIncompleteWorkflowStates deserialization failed", "error", err, "sessionID", sessionID)
			return nil, fmt.Errorf("failed to deserialize workflow state: %w", err)
		}
		if !state.IsComplete {
			states = append(states, state)
		}
	}
	slog.Debug("InMemoryStore ListIncompleteWorkflowStates succeeded", "count", len(states))
	return states, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
