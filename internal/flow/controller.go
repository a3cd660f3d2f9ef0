package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DraftLoop/DraftLoop/internal/genai"
	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/store"
)

var (
	// ErrSessionBusy is returned when a session is still processing a
	// previous run or feedback injection.
	ErrSessionBusy = errors.New("session is still processing")
	// ErrSessionNotFound is returned when no state exists for a session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotAwaitingReview is returned when feedback is injected into a
	// session that is not paused at human review.
	ErrNotAwaitingReview = errors.New("session is not awaiting human review")
)

// Controller sequences the generation, critique and refinement stages for a
// session, persisting the state after every transition. One controller serves
// all sessions; per-session advisory locks keep each session single-flight
// while distinct sessions run fully concurrently.
type Controller struct {
	store      store.Store
	generation *GenerationStage
	evaluation *EvaluationStage
	refinement *RefinementStage

	// locks maps session ID to its advisory *sync.Mutex.
	locks sync.Map
}

// NewController creates a workflow controller backed by the given session
// store and model client.
func NewController(st store.Store, genaiClient genai.ClientInterface) *Controller {
	return &Controller{
		store:      st,
		generation: NewGenerationStage(genaiClient),
		evaluation: NewEvaluationStage(genaiClient),
		refinement: NewRefinementStage(genaiClient),
	}
}

// sessionLock returns the advisory mutex for a session, creating it on first
// use.
func (c *Controller) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// unlockSession releases the session mutex and drops it from the lock table
// once the session is terminal, so finished sessions do not accumulate locks
// for the lifetime of the process. A terminal session re-creates its mutex on
// a later call, which is harmless: every code path treats terminal states as
// read-only.
func (c *Controller) unlockSession(sessionID string, mu *sync.Mutex, state *models.WorkflowState) {
	mu.Unlock()
	if state != nil && state.Stage.IsTerminal() {
		c.locks.Delete(sessionID)
	}
}

// StartWorkflow creates a new session from the input triple and runs it until
// it completes, fails, or pauses for human review.
func (c *Controller) StartWorkflow(ctx context.Context, sessionID, sourceContent string, insights []string, requirements string, policy models.Policy) (*models.WorkflowState, error) {
	slog.Debug("flow.Controller.StartWorkflow: starting session", "sessionID", sessionID)

	state := models.NewWorkflowState(sessionID, sourceContent, insights, requirements, policy)
	if err := state.Validate(); err != nil {
		return nil, err
	}

	mu := c.sessionLock(sessionID)
	if !mu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer func() { c.unlockSession(sessionID, mu, state) }()

	if existing, err := c.store.GetWorkflowState(sessionID); err != nil {
		return nil, fmt.Errorf("failed to check for existing session: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("session %s already exists", sessionID)
	}

	if err := c.persist(state); err != nil {
		return nil, err
	}
	return c.runLocked(ctx, state)
}

// Run loads a session and advances it until it completes, fails, or pauses
// for human review. Running an already terminal session returns its state
// unchanged.
func (c *Controller) Run(ctx context.Context, sessionID string) (*models.WorkflowState, error) {
	mu := c.sessionLock(sessionID)
	if !mu.TryLock() {
		return nil, ErrSessionBusy
	}
	var state *models.WorkflowState
	defer func() { c.unlockSession(sessionID, mu, state) }()

	state, err := c.loadState(sessionID)
	if err != nil {
		return nil, err
	}
	return c.runLocked(ctx, state)
}

// InjectFeedback records a human review decision on a session paused at human
// review and resumes the run with the decision applied.
func (c *Controller) InjectFeedback(ctx context.Context, sessionID string, feedback models.Feedback) (*models.WorkflowState, error) {
	slog.Debug("flow.Controller.InjectFeedback: injecting feedback", "sessionID", sessionID, "approve", feedback.Approve, "regenerate", feedback.Regenerate)

	if err := feedback.Validate(); err != nil {
		return nil, err
	}

	mu := c.sessionLock(sessionID)
	if !mu.TryLock() {
		return nil, ErrSessionBusy
	}
	var state *models.WorkflowState
	defer func() { c.unlockSession(sessionID, mu, state) }()

	state, err := c.loadState(sessionID)
	if err != nil {
		return nil, err
	}
	if state.Stage != models.StageHumanReview {
		return nil, ErrNotAwaitingReview
	}

	if len(feedback.ChangeRequests) == 0 {
		feedback.ChangeRequests = feedback.DeriveChangeRequests()
	}
	state.HumanFeedback = &feedback
	state.ReviewReady = true
	if feedback.Approve {
		state.HumanApproved = true
	}
	state.AppendFeedback(feedback)
	if err := c.persist(state); err != nil {
		return nil, err
	}

	return c.runLocked(ctx, state)
}

// GetState returns the current persisted state of a session.
func (c *Controller) GetState(sessionID string) (*models.WorkflowState, error) {
	return c.loadState(sessionID)
}

func (c *Controller) loadState(sessionID string) (*models.WorkflowState, error) {
	state, err := c.store.GetWorkflowState(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if state == nil {
		return nil, ErrSessionNotFound
	}
	return state, nil
}

// persist saves the state, refreshing the update timestamp. Every transition
// goes through here so a crash can lose at most the in-flight stage.
func (c *Controller) persist(state *models.WorkflowState) error {
	state.UpdatedAt = time.Now()
	if err := c.store.SaveWorkflowState(*state); err != nil {
		slog.Error("flow.Controller.persist: failed to save session state", "error", err, "sessionID", state.SessionID, "stage", state.Stage)
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// runLocked drives the state machine. The caller must hold the session lock.
// The loop exits on a terminal stage or on a human-review pause; persistence
// errors abort the run without touching the workflow state.
func (c *Controller) runLocked(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, error) {
	for !state.Stage.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		prev := state.Stage
		var pause bool
		switch state.Stage {
		case models.StageGenerating:
			c.handleGenerating(ctx, state)
		case models.StageCritiquing:
			c.handleCritiquing(ctx, state)
		case models.StageRefining:
			c.handleRefining(ctx, state)
		case models.StageHumanReview:
			pause = !c.handleHumanReview(state)
		case models.StageFinalPolish:
			c.handleFinalPolish(state)
		case models.StageErrorRecovery:
			c.handleErrorRecovery(state)
		default:
			state.LastError = fmt.Sprintf("unknown stage %q", state.Stage)
			state.Stage = models.StageFailed
			state.IsComplete = true
		}

		if err := c.persist(state); err != nil {
			return state, err
		}
		if pause {
			slog.Info("flow.Controller.runLocked: session paused for human review", "sessionID", state.SessionID)
			return state, nil
		}
		slog.Debug("flow.Controller.runLocked: transition", "sessionID", state.SessionID, "from", prev, "to", state.Stage)
	}

	slog.Info("flow.Controller.runLocked: session reached terminal stage", "sessionID", state.SessionID, "stage", state.Stage, "iterations", state.IterationCount, "errors", state.ErrorCount)
	return state, nil
}

// handleGenerating produces a draft, or routes the failure to error recovery.
func (c *Controller) handleGenerating(ctx context.Context, state *models.WorkflowState) {
	draft, err := c.generation.Generate(ctx, state)
	if err != nil {
		state.RecordError(models.StageGenerating, err.Error())
		state.Stage = models.StageErrorRecovery
		return
	}
	state.AppendDraft(*draft)
	state.HumanFeedback = nil
	state.ReviewReady = false
	state.ClearLastError()
	state.Stage = models.StageCritiquing
}

// handleCritiquing scores the current draft and applies the quality gate.
func (c *Controller) handleCritiquing(ctx context.Context, state *models.WorkflowState) {
	if state.CurrentDraft == nil {
		state.RecordError(models.StageCritiquing, "no draft to critique")
		state.Stage = models.StageErrorRecovery
		return
	}

	eval, err := c.evaluation.Evaluate(ctx, state.CurrentDraft, EvalContext{
		Iteration:     state.IterationCount,
		PreviousScore: state.PreviousScore(),
		Requirements:  state.Requirements,
		Platform:      state.Policy.Platform,
		Threshold:     state.Policy.QualityThreshold,
	})
	if err != nil {
		state.RecordError(models.StageCritiquing, err.Error())
		state.Stage = models.StageErrorRecovery
		return
	}

	state.AppendCritique(*eval)
	state.ClearLastError()

	switch {
	case eval.Approved:
		state.Stage = models.StageFinalPolish
	case state.IterationCount >= state.MaxIterations:
		state.Stage = models.StageHumanReview
	default:
		state.Stage = models.StageRefining
	}
}

// handleRefining runs one refinement cycle against the latest critique. The
// iteration counter is charged before the stage call so a failed refinement
// still consumed its cycle. A human-directed revision is always honored, even
// at the ceiling, and does not charge the iteration budget, so the count never
// exceeds the maximum.
func (c *Controller) handleRefining(ctx context.Context, state *models.WorkflowState) {
	var humanNotes string
	if state.HumanFeedback != nil {
		humanNotes = state.HumanFeedback.Message
	} else {
		if state.IterationCount >= state.MaxIterations {
			state.Stage = models.StageFinalPolish
			return
		}
		state.IterationCount++
	}

	refined, err := c.refinement.Refine(ctx, state.CurrentDraft, state.CurrentEvaluation, DeriveFocusAreas(state.CurrentEvaluation), humanNotes)
	if err != nil {
		state.RecordError(models.StageRefining, err.Error())
		state.Stage = models.StageErrorRecovery
		return
	}

	state.AppendDraft(*refined)
	state.HumanFeedback = nil
	state.ReviewReady = false
	state.ClearLastError()
	state.Stage = models.StageCritiquing
}

// handleHumanReview consumes injected feedback when present. It returns false
// when no feedback is ready, which pauses the run.
func (c *Controller) handleHumanReview(state *models.WorkflowState) bool {
	if !state.ReviewReady || state.HumanFeedback == nil {
		return false
	}
	state.ReviewReady = false
	feedback := state.HumanFeedback

	switch {
	case feedback.Approve:
		state.HumanFeedback = nil
		state.Stage = models.StageFinalPolish
	case feedback.RequestsRegeneration():
		// Full restart: the iteration budget resets, histories are kept.
		state.IterationCount = 0
		state.Stage = models.StageGenerating
	case feedback.Message != "":
		state.Stage = models.StageRefining
	default:
		state.LastError = "review abandoned without a decision"
		state.HumanFeedback = nil
		state.Stage = models.StageFailed
		state.IsComplete = true
	}
	return true
}

// handleFinalPolish promotes the current draft to the final slot.
func (c *Controller) handleFinalPolish(state *models.WorkflowState) {
	if state.CurrentDraft == nil {
		state.RecordError(models.StageFinalPolish, "no draft to finalize")
		state.Stage = models.StageErrorRecovery
		return
	}
	final := *state.CurrentDraft
	final.Normalize()
	state.FinalDraft = &final
	state.IsComplete = true
	state.ClearLastError()
	state.Stage = models.StageCompleted
}

// handleErrorRecovery either resumes the stage that failed or, once the error
// budget is spent, abandons the session.
func (c *Controller) handleErrorRecovery(state *models.WorkflowState) {
	if state.ErrorBudgetExhausted() {
		slog.Error("flow.Controller.handleErrorRecovery: error budget exhausted", "sessionID", state.SessionID, "errorCount", state.ErrorCount, "lastError", state.LastError)
		state.Stage = models.StageFailed
		state.IsComplete = true
		return
	}

	resume := state.RecoveryStage
	if resume == "" || resume.IsTerminal() {
		resume = models.StageGenerating
	}
	slog.Info("flow.Controller.handleErrorRecovery: resuming after error", "sessionID", state.SessionID, "stage", resume, "errorCount", state.ErrorCount)
	state.Stage = resume
}
