// Package models defines workflow session state for DraftLoop refinement runs.
package models

import (
	"encoding/json"
	"time"
)

// Stage identifies where a workflow session currently sits in the refinement
// state machine.
type Stage string

const (
	// StageGenerating produces the initial draft (or a full regeneration).
	StageGenerating Stage = "generating"
	// StageCritiquing scores the current draft against the quality gate.
	StageCritiquing Stage = "critiquing"
	// StageRefining rewrites the draft against the latest critique.
	StageRefining Stage = "refining"
	// StageHumanReview waits for an external approve/revise/regenerate decision.
	StageHumanReview Stage = "human_review"
	// StageFinalPolish copies the winning draft into the final slot.
	StageFinalPolish Stage = "final_polish"
	// StageErrorRecovery decides between resuming a failed stage and aborting.
	StageErrorRecovery Stage = "error_recovery"
	// StageCompleted is the terminal success state.
	StageCompleted Stage = "completed"
	// StageFailed is the terminal failure state.
	StageFailed Stage = "failed"
)

// IsTerminal reports whether the stage ends the session.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Default budgets for a refinement session.
const (
	// DefaultMaxIterations bounds how many refinement cycles a session may run.
	DefaultMaxIterations = 3
	// DefaultMaxErrors bounds cumulative stage failures before the session aborts.
	DefaultMaxErrors = 3
)

// Policy holds the per-session workflow configuration. It is passed into the
// controller at session start rather than read from process-wide state, so
// concurrent sessions can run under different policies.
type Policy struct {
	MaxIterations    int      `json:"max_iterations"`
	MaxErrors        int      `json:"max_errors"`
	QualityThreshold int      `json:"quality_threshold"`
	Platform         string   `json:"platform,omitempty"`
	StyleTags        []string `json:"style_tags,omitempty"`
}

// DefaultPolicy returns the standard session policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxIterations:    DefaultMaxIterations,
		MaxErrors:        DefaultMaxErrors,
		QualityThreshold: QualityThreshold,
	}
}

// ApplyDefaults fills zero-valued policy fields with the standard values.
func (p *Policy) ApplyDefaults() {
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.MaxErrors <= 0 {
		p.MaxErrors = DefaultMaxErrors
	}
	if p.QualityThreshold <= 0 {
		p.QualityThreshold = QualityThreshold
	}
}

// WorkflowState is the session-scoped aggregate for one refinement run. It is
// owned exclusively by the workflow controller for the lifetime of the session
// and persisted to the session store after every transition.
type WorkflowState struct {
	SessionID string `json:"session_id"`

	// Input triple from the ingestion collaborator.
	SourceContent   string   `json:"source_content"`
	ContentInsights []string `json:"content_insights,omitempty"`
	Requirements    string   `json:"requirements,omitempty"`

	Stage          Stage  `json:"stage"`
	IterationCount int    `json:"iteration_count"`
	MaxIterations  int    `json:"max_iterations"`
	ErrorCount     int    `json:"error_count"`
	MaxErrors      int    `json:"max_errors"`
	LastError      string `json:"last_error,omitempty"`
	// RecoveryStage is the stage that was active when the last error occurred;
	// error recovery re-enters the workflow there.
	RecoveryStage Stage `json:"recovery_stage,omitempty"`

	CurrentDraft      *Draft      `json:"current_draft,omitempty"`
	CurrentEvaluation *Evaluation `json:"current_evaluation,omitempty"`

	DraftHistory    []Draft      `json:"draft_history,omitempty"`
	CritiqueHistory []Evaluation `json:"critique_history,omitempty"`
	FeedbackHistory []Feedback   `json:"feedback_history,omitempty"`

	HumanFeedback *Feedback `json:"human_feedback,omitempty"`
	// ReviewReady marks that injected feedback is waiting to be consumed by a
	// human-review transition on the next run.
	ReviewReady   bool `json:"review_ready,omitempty"`
	HumanApproved bool `json:"human_approved,omitempty"`

	FinalDraft *Draft `json:"final_draft,omitempty"`
	IsComplete bool   `json:"is_complete"`

	Policy Policy `json:"policy"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates a session state for the given input triple using
// the provided policy.
func NewWorkflowState(sessionID, sourceContent string, insights []string, requirements string, policy Policy) *WorkflowState {
	policy.ApplyDefaults()
	now := time.Now()
	return &WorkflowState{
		SessionID:       sessionID,
		SourceContent:   sourceContent,
		ContentInsights: insights,
		Requirements:    requirements,
		Stage:           StageGenerating,
		MaxIterations:   policy.MaxIterations,
		MaxErrors:       policy.MaxErrors,
		Policy:          policy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks the fields required to start a session.
func (s *WorkflowState) Validate() error {
	if s.SessionID == "" {
		return ErrEmptySessionID
	}
	if s.SourceContent == "" {
		return ErrEmptySourceContent
	}
	return nil
}

// AppendDraft records a new draft as the current one. Histories are
// append-only; existing entries are never removed or rewritten.
func (s *WorkflowState) AppendDraft(d Draft) {
	s.DraftHistory = append(s.DraftHistory, d)
	s.CurrentDraft = &s.DraftHistory[len(s.DraftHistory)-1]
}

// AppendCritique records a new evaluation as the current one.
func (s *WorkflowState) AppendCritique(e Evaluation) {
	s.CritiqueHistory = append(s.CritiqueHistory, e)
	s.CurrentEvaluation = &s.CritiqueHistory[len(s.CritiqueHistory)-1]
}

// AppendFeedback retains a consumed feedback record for audit.
func (s *WorkflowState) AppendFeedback(f Feedback) {
	s.FeedbackHistory = append(s.FeedbackHistory, f)
}

// RecordError notes a stage failure against the cumulative error budget.
func (s *WorkflowState) RecordError(stage Stage, message string) {
	s.ErrorCount++
	s.LastError = message
	s.RecoveryStage = stage
}

// ClearLastError resets the last error message after a stage success. The
// error count is deliberately left alone: the failure budget is cumulative
// across the whole session.
func (s *WorkflowState) ClearLastError() {
	s.LastError = ""
}

// ErrorBudgetExhausted reports whether the session has used up its failures.
func (s *WorkflowState) ErrorBudgetExhausted() bool {
	return s.ErrorCount >= s.MaxErrors
}

// PreviousScore returns the overall score of the latest evaluation, or zero
// when none exists yet.
func (s *WorkflowState) PreviousScore() int {
	if s.CurrentEvaluation == nil {
		return 0
	}
	return s.CurrentEvaluation.OverallScore
}

// ToJSON serializes the state for the session store.
func (s *WorkflowState) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON deserializes a stored state and re-derives the evaluation fields
// that must remain exact functions of the recorded scores.
func (s *WorkflowState) FromJSON(data string) error {
	if err := json.Unmarshal([]byte(data), s); err != nil {
		return err
	}
	for i := range s.CritiqueHistory {
		s.CritiqueHistory[i].Normalize(s.Policy.QualityThreshold)
	}
	if s.CurrentEvaluation != nil {
		s.CurrentEvaluation.Normalize(s.Policy.QualityThreshold)
	}
	return nil
}
