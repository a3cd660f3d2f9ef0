package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/DraftLoop/DraftLoop/internal/genai"
	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/style"
)

// Prompt assembly limits.
const (
	// SourceContentLimit bounds how much source text is sent to the model.
	SourceContentLimit = 2000
	// TruncationMarker is appended whenever source content is cut off.
	TruncationMarker = "... [truncated]"
	// MaxInsights bounds how many content insights are included in a prompt.
	MaxInsights = 5
	// MaxSummaryItems bounds the weaknesses/improvements carried into the
	// condensed feedback summary for a regeneration.
	MaxSummaryItems = 3
)

// GenerationStage produces a draft post from the session's source content,
// insights and requirements, folding in prior critique and human feedback on
// later iterations.
type GenerationStage struct {
	genaiClient genai.ClientInterface
}

// NewGenerationStage creates a generation stage instance.
func NewGenerationStage(genaiClient genai.ClientInterface) *GenerationStage {
	return &GenerationStage{genaiClient: genaiClient}
}

// Generate produces a new draft for the session. All failures, including
// model transport errors and schema violations in the reply, are returned as
// errors; retry policy belongs to the controller.
func (gs *GenerationStage) Generate(ctx context.Context, state *models.WorkflowState) (*models.Draft, error) {
	slog.Debug("flow.GenerationStage.Generate: generating draft", "sessionID", state.SessionID, "iteration", state.IterationCount)

	if gs.genaiClient == nil {
		return nil, fmt.Errorf("genai client not initialized")
	}

	systemPrompt := `You are an expert social media content creator. Your job is to turn source material into a short, audience-optimized social media post.

Respond with a single JSON object and nothing else:
{
  "title": "working title for the post",
  "hook": "scroll-stopping opening line",
  "body": "the main post content; do not repeat the hook",
  "call_to_action": "closing line inviting a response",
  "tags": ["relevant", "topic", "tags"],
  "target_audience": "who this post is written for",
  "estimated_engagement": 1-10
}

The title and body are required. Keep the post concise and skimmable.`

	if guide := style.BuildGuide(state.Policy.StyleTags); guide != "" {
		systemPrompt += guide
	}

	userPrompt := gs.buildUserPrompt(state)

	response, err := gs.genaiClient.GeneratePrompt(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("flow.GenerationStage.Generate: model call failed", "error", err, "sessionID", state.SessionID)
		return nil, fmt.Errorf("generation call failed: %w", err)
	}

	draft, err := parseDraftPayload(response)
	if err != nil {
		slog.Error("flow.GenerationStage.Generate: invalid draft output", "error", err, "sessionID", state.SessionID)
		return nil, err
	}

	slog.Info("flow.GenerationStage.Generate: draft produced", "sessionID", state.SessionID, "title", draft.Title)
	return draft, nil
}

// buildUserPrompt assembles the generation prompt from the input triple plus,
// on later iterations, a condensed summary of the latest critique and any raw
// human feedback.
func (gs *GenerationStage) buildUserPrompt(state *models.WorkflowState) string {
	var sb strings.Builder

	sb.WriteString("Create a social media post from the following source material.\n\n")
	sb.WriteString("Source content:\n")
	sb.WriteString(truncateContent(state.SourceContent, SourceContentLimit))
	sb.WriteString("\n")

	if len(state.ContentInsights) > 0 {
		sb.WriteString("\nKey insights:\n")
		for _, insight := range topN(state.ContentInsights, MaxInsights) {
			sb.WriteString("- ")
			sb.WriteString(insight)
			sb.WriteString("\n")
		}
	}

	if state.Requirements != "" {
		sb.WriteString("\nRequirements:\n")
		sb.WriteString(state.Requirements)
		sb.WriteString("\n")
	}

	if state.IterationCount > 0 {
		if summary := buildFeedbackSummary(state.CurrentEvaluation); summary != "" {
			sb.WriteString("\nFeedback on the previous attempt:\n")
			sb.WriteString(summary)
		}
	}
	if state.HumanFeedback != nil && strings.TrimSpace(state.HumanFeedback.Message) != "" {
		sb.WriteString("\nHuman reviewer feedback:\n")
		sb.WriteString(state.HumanFeedback.Message)
		sb.WriteString("\n")
	}

	return sb.String()
}

// buildFeedbackSummary condenses the latest evaluation into the score, the
// top weaknesses and the top improvement suggestions.
func buildFeedbackSummary(eval *models.Evaluation) string {
	if eval == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Previous overall score: %d/10\n", eval.OverallScore)
	if len(eval.Weaknesses) > 0 {
		sb.WriteString("Weaknesses to address:\n")
		for _, w := range topN(eval.Weaknesses, MaxSummaryItems) {
			sb.WriteString("- ")
			sb.WriteString(w)
			sb.WriteString("\n")
		}
	}
	if len(eval.SpecificImprovements) > 0 {
		sb.WriteString("Suggested improvements:\n")
		for _, imp := range topN(eval.SpecificImprovements, MaxSummaryItems) {
			sb.WriteString("- ")
			sb.WriteString(imp)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// truncateContent bounds content to limit bytes, appending a visible marker
// when anything was cut off. The cut always lands on a rune boundary so the
// truncated prompt stays valid UTF-8.
func truncateContent(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + TruncationMarker
}

// topN returns at most n leading items without copying when unnecessary.
func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
