// Package api provides HTTP handlers for DraftLoop endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DraftLoop/DraftLoop/internal/flow"
	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/render"
	"github.com/DraftLoop/DraftLoop/internal/style"
	"github.com/google/uuid"
)

// createWorkflowRequest is the payload for POST /workflows.
type createWorkflowRequest struct {
	SessionID       string   `json:"session_id,omitempty"`
	SourceContent   string   `json:"source_content"`
	ContentInsights []string `json:"content_insights,omitempty"`
	Requirements    string   `json:"requirements,omitempty"`

	// Optional per-session policy overrides.
	MaxIterations    int      `json:"max_iterations,omitempty"`
	MaxErrors        int      `json:"max_errors,omitempty"`
	QualityThreshold int      `json:"quality_threshold,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	StyleTags        []string `json:"style_tags,omitempty"`
}

// workflowsHandler serves POST /workflows.
func (s *Server) workflowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.workflowsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.workflowsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.workflowsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.SourceContent) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: source_content"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	policy := s.defaultPolicy
	if req.MaxIterations > 0 {
		policy.MaxIterations = req.MaxIterations
	}
	if req.MaxErrors > 0 {
		policy.MaxErrors = req.MaxErrors
	}
	if req.QualityThreshold > 0 {
		policy.QualityThreshold = req.QualityThreshold
	}
	if req.Platform != "" {
		policy.Platform = req.Platform
	}
	if len(req.StyleTags) > 0 {
		policy.StyleTags = style.ValidateTags(req.StyleTags)
	}

	state, err := s.controller.StartWorkflow(r.Context(), sessionID, req.SourceContent, req.ContentInsights, req.Requirements, policy)
	if err != nil {
		s.writeControllerError(w, "Server.workflowsHandler", err)
		return
	}

	slog.Info("Server.workflowsHandler: workflow started", "sessionID", sessionID, "stage", state.Stage)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Workflow started", state))
}

// workflowHandler routes /workflows/{id} and its subresources.
func (s *Server) workflowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	rest := strings.TrimPrefix(r.URL.Path, "/workflows/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing session ID"))
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 1:
		s.getWorkflowHandler(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "feedback":
		s.feedbackHandler(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "preview":
		s.previewHandler(w, r, sessionID)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown resource"))
	}
}

// getWorkflowHandler serves GET /workflows/{id}.
func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	slog.Debug("Server.getWorkflowHandler: processing request", "sessionID", sessionID)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	state, err := s.controller.GetState(sessionID)
	if err != nil {
		s.writeControllerError(w, "Server.getWorkflowHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// feedbackHandler serves POST /workflows/{id}/feedback.
func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	slog.Debug("Server.feedbackHandler: processing request", "sessionID", sessionID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var feedback models.Feedback
	if err := json.NewDecoder(r.Body).Decode(&feedback); err != nil {
		slog.Warn("Server.feedbackHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := feedback.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	state, err := s.controller.InjectFeedback(r.Context(), sessionID, feedback)
	if err != nil {
		s.writeControllerError(w, "Server.feedbackHandler", err)
		return
	}

	slog.Info("Server.feedbackHandler: feedback applied", "sessionID", sessionID, "stage", state.Stage)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Feedback applied", state))
}

// previewHandler serves GET /workflows/{id}/preview, returning the rendered
// HTML of the finalized draft.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	slog.Debug("Server.previewHandler: processing request", "sessionID", sessionID)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	state, err := s.controller.GetState(sessionID)
	if err != nil {
		s.writeControllerError(w, "Server.previewHandler", err)
		return
	}

	draft := state.FinalDraft
	if draft == nil {
		draft = state.CurrentDraft
	}
	if draft == nil {
		writeJSONResponse(w, http.StatusConflict, models.Error("Session has no draft to preview yet"))
		return
	}

	html, err := render.Preview(draft)
	if err != nil {
		slog.Error("Server.previewHandler: failed to render preview", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to render preview"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(html)); err != nil {
		slog.Error("Server.previewHandler: failed to write preview", "error", err, "sessionID", sessionID)
	}
}

// writeControllerError maps controller errors onto HTTP statuses.
func (s *Server) writeControllerError(w http.ResponseWriter, handler string, err error) {
	switch {
	case errors.Is(err, flow.ErrSessionBusy):
		slog.Warn(handler+": session busy", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Busy("Session is still processing"))
	case errors.Is(err, flow.ErrSessionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
	case errors.Is(err, flow.ErrNotAwaitingReview):
		writeJSONResponse(w, http.StatusConflict, models.Error("Session is not awaiting human review"))
	case errors.Is(err, models.ErrEmptySourceContent), errors.Is(err, models.ErrEmptySessionID), errors.Is(err, models.ErrInvalidSatisfaction):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case strings.Contains(err.Error(), "already exists"):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	default:
		slog.Error(handler+": request failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}
