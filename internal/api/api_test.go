package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DraftLoop/DraftLoop/internal/flow"
	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/store"
)

// cannedClient replays model responses in order.
type cannedClient struct {
	replies []string
	errs    []error
	calls   int
}

func (c *cannedClient) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.calls >= len(c.replies) {
		return "", fmt.Errorf("canned client exhausted after %d calls", c.calls)
	}
	i := c.calls
	c.calls++
	if c.errs != nil && c.errs[i] != nil {
		return "", c.errs[i]
	}
	return c.replies[i], nil
}

func draftReply(title string) string {
	return fmt.Sprintf(`{"title":%q,"hook":"A hook.","body":"The body.","call_to_action":"Reply below.","tags":["go"],"target_audience":"developers"}`, title)
}

func evalReply(score int) string {
	return fmt.Sprintf(`{"overall_score":%d,"scores":{"hook_strength":%d,"value_delivery":%d,"platform_fit":%d,"engagement_potential":%d,"tone":%d}}`,
		score, score, score, score, score, score)
}

func newTestServer(replies ...string) *Server {
	st := store.NewInMemoryStore()
	controller := flow.NewController(st, &cannedClient{replies: replies})
	return NewServer(st, controller)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestWorkflowsHandler_CreatesAndRuns(t *testing.T) {
	server := newTestServer(draftReply("v1"), evalReply(9))
	handler := server.Handler()

	body := `{"session_id":"s1","source_content":"some source material"}`
	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %s", resp.Status)
	}

	// The session ran to completion synchronously.
	getReq := httptest.NewRequest(http.MethodGet, "/workflows/s1", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	var state models.WorkflowState
	raw, _ := json.Marshal(decodeResponse(t, getRec).Result)
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.Stage != models.StageCompleted {
		t.Errorf("expected completed session, got %s", state.Stage)
	}
	if state.FinalDraft == nil {
		t.Error("expected final draft in state")
	}
}

func TestWorkflowsHandler_GeneratesSessionID(t *testing.T) {
	server := newTestServer(draftReply("v1"), evalReply(9))

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"source_content":"text"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var state models.WorkflowState
	raw, _ := json.Marshal(decodeResponse(t, rec).Result)
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.SessionID == "" {
		t.Error("expected a generated session ID")
	}
}

func TestWorkflowsHandler_Validation(t *testing.T) {
	server := newTestServer()
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"source_content":""}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty source, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/workflows", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestGetWorkflowHandler_NotFound(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestFeedbackHandler_ApprovesPausedSession(t *testing.T) {
	// Max one iteration and mediocre scores park the session at human review.
	server := newTestServer(draftReply("v1"), evalReply(5), draftReply("v2"), evalReply(5))
	handler := server.Handler()

	body := `{"session_id":"s2","source_content":"text","max_iterations":1}`
	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	fbReq := httptest.NewRequest(http.MethodPost, "/workflows/s2/feedback", strings.NewReader(`{"approve":true,"satisfaction":5}`))
	fbRec := httptest.NewRecorder()
	handler.ServeHTTP(fbRec, fbReq)
	if fbRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", fbRec.Code, fbRec.Body.String())
	}

	var state models.WorkflowState
	raw, _ := json.Marshal(decodeResponse(t, fbRec).Result)
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.Stage != models.StageCompleted {
		t.Errorf("expected completed session after approval, got %s", state.Stage)
	}
}

func TestFeedbackHandler_OutsideReview(t *testing.T) {
	server := newTestServer(draftReply("v1"), evalReply(9))
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"session_id":"s3","source_content":"text"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	fbReq := httptest.NewRequest(http.MethodPost, "/workflows/s3/feedback", strings.NewReader(`{"approve":true}`))
	fbRec := httptest.NewRecorder()
	handler.ServeHTTP(fbRec, fbReq)
	if fbRec.Code != http.StatusConflict {
		t.Errorf("expected 409 for feedback outside review, got %d", fbRec.Code)
	}
}

func TestFeedbackHandler_InvalidSatisfaction(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/workflows/s4/feedback", strings.NewReader(`{"satisfaction":9}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid satisfaction, got %d", rec.Code)
	}
}

func TestPreviewHandler(t *testing.T) {
	server := newTestServer(draftReply("Preview Me"), evalReply(9))
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"session_id":"s5","source_content":"text"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	prReq := httptest.NewRequest(http.MethodGet, "/workflows/s5/preview", nil)
	prRec := httptest.NewRecorder()
	handler.ServeHTTP(prRec, prReq)

	if prRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", prRec.Code, prRec.Body.String())
	}
	if ct := prRec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML content type, got %q", ct)
	}
	if !strings.Contains(prRec.Body.String(), "<h1>Preview Me</h1>") {
		t.Errorf("expected rendered title, got %q", prRec.Body.String())
	}
}

func TestPreviewHandler_NoSession(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing/preview", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestWorkflowHandler_UnknownResource(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/workflows/s6/unknown", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown resource, got %d", rec.Code)
	}
}

func TestSweepStalledSessions(t *testing.T) {
	st := store.NewInMemoryStore()
	state := models.NewWorkflowState("stalled", "source", nil, "", models.DefaultPolicy())
	state.Stage = models.StageHumanReview
	if err := st.SaveWorkflowState(*state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Must not mutate session state.
	sweepStalledSessions(st)

	got, err := st.GetWorkflowState("stalled")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Stage != models.StageHumanReview {
		t.Errorf("sweep must not change stage, got %s", got.Stage)
	}
}

func TestWorkflowsHandler_DuplicateSession(t *testing.T) {
	server := newTestServer(draftReply("v1"), evalReply(9))
	handler := server.Handler()

	body := `{"session_id":"dup","source_content":"text"}`
	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate session, got %d", rec.Code)
	}
}
