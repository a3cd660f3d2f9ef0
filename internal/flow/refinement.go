package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DraftLoop/DraftLoop/internal/genai"
	"github.com/DraftLoop/DraftLoop/internal/models"
)

// Focus area categories derivable from critique text.
const (
	FocusHook         = "hook"
	FocusValue        = "value"
	FocusEngagement   = "engagement"
	FocusTags         = "tags"
	FocusCallToAction = "call_to_action"
	FocusLength       = "length"
)

// RefinementStage rewrites a draft to address the weaknesses its evaluation
// identified, preserving what the critique called out as strengths.
type RefinementStage struct {
	genaiClient genai.ClientInterface
}

// NewRefinementStage creates a refinement stage instance.
func NewRefinementStage(genaiClient genai.ClientInterface) *RefinementStage {
	return &RefinementStage{genaiClient: genaiClient}
}

// Refine produces an improved draft targeted at the given focus areas. Human
// feedback, when present, takes precedence over the automated critique.
func (rs *RefinementStage) Refine(ctx context.Context, draft *models.Draft, eval *models.Evaluation, focusAreas []string, humanFeedback string) (*models.Draft, error) {
	slog.Debug("flow.RefinementStage.Refine: refining draft", "focusAreas", focusAreas)

	if rs.genaiClient == nil {
		return nil, fmt.Errorf("genai client not initialized")
	}
	if draft == nil {
		return nil, fmt.Errorf("no draft to refine")
	}
	if eval == nil {
		return nil, fmt.Errorf("no evaluation to refine against")
	}

	systemPrompt := `You are an expert social media content editor. Rewrite the post you are given so it fixes the listed weaknesses while keeping the listed strengths intact. Do not change the topic or invent new claims.

Respond with a single JSON object and nothing else:
{
  "title": "working title for the post",
  "hook": "scroll-stopping opening line",
  "body": "the main post content; do not repeat the hook",
  "call_to_action": "closing line inviting a response",
  "tags": ["relevant", "topic", "tags"],
  "target_audience": "who this post is written for",
  "estimated_engagement": 1-10
}`

	userPrompt := rs.buildUserPrompt(draft, eval, focusAreas, humanFeedback)

	response, err := rs.genaiClient.GeneratePrompt(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("flow.RefinementStage.Refine: model call failed", "error", err)
		return nil, fmt.Errorf("refinement call failed: %w", err)
	}

	refined, err := parseDraftPayload(response)
	if err != nil {
		slog.Error("flow.RefinementStage.Refine: invalid draft output", "error", err)
		return nil, err
	}

	slog.Info("flow.RefinementStage.Refine: draft refined", "title", refined.Title)
	return refined, nil
}

func (rs *RefinementStage) buildUserPrompt(draft *models.Draft, eval *models.Evaluation, focusAreas []string, humanFeedback string) string {
	var sb strings.Builder

	sb.WriteString("Rewrite this social media post.\n\n")
	sb.WriteString("Current post:\n")
	fmt.Fprintf(&sb, "Title: %s\n", draft.Title)
	if draft.Hook != "" {
		fmt.Fprintf(&sb, "Hook: %s\n", draft.Hook)
	}
	fmt.Fprintf(&sb, "Body:\n%s\n", draft.Body)
	if draft.CallToAction != "" {
		fmt.Fprintf(&sb, "Call to action: %s\n", draft.CallToAction)
	}
	if len(draft.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(draft.Tags, " "))
	}

	fmt.Fprintf(&sb, "\nCurrent score: %d/10\n", eval.OverallScore)
	if len(eval.Strengths) > 0 {
		sb.WriteString("Strengths to preserve:\n")
		for _, s := range eval.Strengths {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	if len(eval.Weaknesses) > 0 {
		sb.WriteString("Weaknesses to fix:\n")
		for _, w := range eval.Weaknesses {
			sb.WriteString("- ")
			sb.WriteString(w)
			sb.WriteString("\n")
		}
	}
	if len(eval.SpecificImprovements) > 0 {
		sb.WriteString("Specific changes requested:\n")
		for _, imp := range eval.SpecificImprovements {
			sb.WriteString("- ")
			sb.WriteString(imp)
			sb.WriteString("\n")
		}
	}
	if len(focusAreas) > 0 {
		fmt.Fprintf(&sb, "\nFocus this revision on: %s\n", strings.Join(focusAreas, ", "))
	}
	if strings.TrimSpace(humanFeedback) != "" {
		sb.WriteString("\nHuman reviewer feedback (takes precedence over everything above):\n")
		sb.WriteString(humanFeedback)
		sb.WriteString("\n")
	}

	return sb.String()
}

// DeriveFocusAreas maps the free-text weaknesses and improvement suggestions
// of an evaluation onto the fixed focus categories. Each category appears at
// most once, in the order its first trigger was encountered, so the result is
// deterministic for a given evaluation.
func DeriveFocusAreas(eval *models.Evaluation) []string {
	if eval == nil {
		return nil
	}

	var areas []string
	seen := make(map[string]bool)
	add := func(area string) {
		if !seen[area] {
			seen[area] = true
			areas = append(areas, area)
		}
	}

	items := make([]string, 0, len(eval.Weaknesses)+len(eval.SpecificImprovements))
	items = append(items, eval.Weaknesses...)
	items = append(items, eval.SpecificImprovements...)

	for _, item := range items {
		lower := strings.ToLower(item)
		if strings.Contains(lower, "hook") {
			add(FocusHook)
		}
		if strings.Contains(lower, "value") {
			add(FocusValue)
		}
		if strings.Contains(lower, "engag") {
			add(FocusEngagement)
		}
		if strings.Contains(lower, "hashtag") || strings.Contains(lower, "tag") {
			add(FocusTags)
		}
		if strings.Contains(lower, "call-to-action") || strings.Contains(lower, "call to action") || strings.Contains(lower, "cta") {
			add(FocusCallToAction)
		}
		if strings.Contains(lower, "length") || strings.Contains(lower, "too long") || strings.Contains(lower, "too short") {
			add(FocusLength)
		}
	}

	return areas
}
