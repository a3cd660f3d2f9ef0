// Package recovery restores interrupted refinement sessions after a restart.
// Components register their recovery logic with a manager that runs once at
// startup, so the main application never reaches into their internals.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/store"
)

// Recoverable is a component that can restore its state at startup.
type Recoverable interface {
	RecoverState(ctx context.Context, st store.Store) error
}

// Manager runs the registered recoverables once during startup.
type Manager struct {
	store        store.Store
	recoverables []Recoverable
}

// NewManager creates a recovery manager backed by the session store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// Register adds a component to recover at startup.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll runs every registered recoverable. A failing component is logged
// and skipped; the rest still recover.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("recovery.Manager.RecoverAll: starting recovery", "components", len(m.recoverables))

	errorCount := 0
	for _, r := range m.recoverables {
		if err := r.RecoverState(ctx, m.store); err != nil {
			slog.Error("recovery.Manager.RecoverAll: component recovery failed", "error", err, "component", fmt.Sprintf("%T", r))
			errorCount++
		}
	}

	slog.Info("recovery.Manager.RecoverAll: recovery completed", "recovered", len(m.recoverables)-errorCount, "errors", errorCount)
	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(m.recoverables))
	}
	return nil
}

// SessionRecovery restores workflow sessions that were in flight when the
// process stopped. Interrupted sessions are not resumed automatically; their
// state is normalized so the next Run re-enters the workflow cleanly, and
// they are logged for the operator.
type SessionRecovery struct{}

// NewSessionRecovery creates the session recovery component.
func NewSessionRecovery() *SessionRecovery {
	return &SessionRecovery{}
}

// RecoverState scans incomplete sessions and repairs any state a crash could
// have left inconsistent.
func (sr *SessionRecovery) RecoverState(ctx context.Context, st store.Store) error {
	states, err := st.ListIncompleteWorkflowStates()
	if err != nil {
		return fmt.Errorf("failed to list incomplete sessions: %w", err)
	}
	if len(states) == 0 {
		slog.Info("recovery.SessionRecovery.RecoverState: no interrupted sessions")
		return nil
	}

	repaired := 0
	for i := range states {
		state := &states[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		changed := normalizeStage(state)
		slog.Info("recovery.SessionRecovery.RecoverState: interrupted session found",
			"sessionID", state.SessionID, "stage", state.Stage, "iteration", state.IterationCount, "repaired", changed)

		if !changed {
			continue
		}
		if err := st.SaveWorkflowState(*state); err != nil {
			return fmt.Errorf("failed to save recovered session %s: %w", state.SessionID, err)
		}
		repaired++
	}

	slog.Info("recovery.SessionRecovery.RecoverState: session recovery done", "interrupted", len(states), "repaired", repaired)
	return nil
}

// normalizeStage repairs a session whose stage a crash left unusable. Stages
// that are themselves safe re-entry points are left alone. It reports whether
// the state changed.
func normalizeStage(state *models.WorkflowState) bool {
	switch {
	case state.Stage == "":
		// Persisted before the first transition; start from the top.
		state.Stage = models.StageGenerating
		return true
	case state.Stage.IsTerminal():
		// Terminal stage with is_complete unset means the final save was
		// lost; reconcile the completion flag.
		state.IsComplete = true
		return true
	case state.Stage == models.StageFinalPolish && state.CurrentDraft == nil:
		// Cannot polish without a draft; regenerate instead.
		state.Stage = models.StageGenerating
		return true
	default:
		return false
	}
}
