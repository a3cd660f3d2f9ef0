// Package flow implements the iterative content refinement workflow: the
// generation, evaluation and refinement stages plus the controller that
// sequences them.
package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DraftLoop/DraftLoop/internal/models"
)

// draftPayload is the structured output expected from the generation and
// refinement stages.
type draftPayload struct {
	Title               string   `json:"title"`
	Hook                string   `json:"hook"`
	Body                string   `json:"body"`
	CallToAction        string   `json:"call_to_action"`
	Tags                []string `json:"tags"`
	TargetAudience      string   `json:"target_audience"`
	EstimatedEngagement int      `json:"estimated_engagement"`
}

// evaluationPayload is the structured output expected from the evaluation
// stage. The quality_level and approved claims are accepted syntactically but
// recomputed locally from the overall score.
type evaluationPayload struct {
	OverallScore         int                    `json:"overall_score"`
	Scores               models.DimensionScores `json:"scores"`
	Strengths            []string               `json:"strengths"`
	Weaknesses           []string               `json:"weaknesses"`
	SpecificImprovements []string               `json:"specific_improvements"`
	ToneFeedback         string                 `json:"tone_feedback"`
	EngagementFeedback   string                 `json:"engagement_feedback"`
	PlatformFeedback     string                 `json:"platform_feedback"`
	QualityLevel         string                 `json:"quality_level"`
	Approved             bool                   `json:"approved"`
}

// extractJSONPayload strips markdown code fences and surrounding prose from a
// model reply, returning the bare JSON object text. Output without a JSON
// object is a schema violation.
func extractJSONPayload(content string) (string, error) {
	trimmed := strings.TrimSpace(content)

	// Strip a leading ``` or ```json fence together with its closing fence.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			// Drop the fence language tag line (e.g. "json").
			trimmed = trimmed[idx+1:]
		}
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("response contains no JSON object")
	}
	return trimmed[start : end+1], nil
}

// parseDraftPayload decodes a model reply into a normalized, validated Draft.
// Validation runs after normalization so a body that is emptied by the
// hook dedup is rejected the same as a missing one.
func parseDraftPayload(content string) (*models.Draft, error) {
	payload, err := extractJSONPayload(content)
	if err != nil {
		return nil, fmt.Errorf("invalid draft output: %w", err)
	}

	var parsed draftPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse draft output: %w", err)
	}

	draft := models.Draft{
		Title:               parsed.Title,
		Hook:                parsed.Hook,
		Body:                parsed.Body,
		CallToAction:        parsed.CallToAction,
		Tags:                parsed.Tags,
		TargetAudience:      parsed.TargetAudience,
		EstimatedEngagement: parsed.EstimatedEngagement,
	}
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("draft output missing required fields: %w", err)
	}
	return &draft, nil
}

// parseEvaluationPayload decodes a model reply into a validated Evaluation
// with the derived fields recomputed locally against the session's quality
// gate threshold.
func parseEvaluationPayload(content string, threshold int) (*models.Evaluation, error) {
	payload, err := extractJSONPayload(content)
	if err != nil {
		return nil, fmt.Errorf("invalid evaluation output: %w", err)
	}

	var parsed evaluationPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation output: %w", err)
	}

	eval := models.Evaluation{
		OverallScore:         parsed.OverallScore,
		Scores:               parsed.Scores,
		Strengths:            parsed.Strengths,
		Weaknesses:           parsed.Weaknesses,
		SpecificImprovements: parsed.SpecificImprovements,
		ToneFeedback:         parsed.ToneFeedback,
		EngagementFeedback:   parsed.EngagementFeedback,
		PlatformFeedback:     parsed.PlatformFeedback,
	}
	if err := eval.Validate(); err != nil {
		return nil, fmt.Errorf("evaluation output invalid: %w", err)
	}
	// The upstream quality_level/approved claims are discarded here.
	eval.Normalize(threshold)
	return &eval, nil
}
