package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DraftLoop/DraftLoop/internal/genai"
	"github.com/DraftLoop/DraftLoop/internal/models"
)

// EvalContext carries the session facts the evaluator needs beyond the draft
// itself.
type EvalContext struct {
	Iteration     int
	PreviousScore int
	Requirements  string
	Platform      string
	// Threshold is the session's quality gate; the returned evaluation's
	// approval flag is derived against it.
	Threshold int
}

// EvaluationStage scores a draft across the fixed critique dimensions and
// produces the structured evaluation the controller gates on.
type EvaluationStage struct {
	genaiClient genai.ClientInterface
}

// NewEvaluationStage creates an evaluation stage instance.
func NewEvaluationStage(genaiClient genai.ClientInterface) *EvaluationStage {
	return &EvaluationStage{genaiClient: genaiClient}
}

// Evaluate critiques the draft and returns a normalized evaluation. The
// returned evaluation's quality level and approval flag are always derived
// from the overall score, never taken from the model's reply.
func (es *EvaluationStage) Evaluate(ctx context.Context, draft *models.Draft, evalCtx EvalContext) (*models.Evaluation, error) {
	slog.Debug("flow.EvaluationStage.Evaluate: evaluating draft", "iteration", evalCtx.Iteration, "previousScore", evalCtx.PreviousScore)

	if es.genaiClient == nil {
		return nil, fmt.Errorf("genai client not initialized")
	}
	if draft == nil {
		return nil, fmt.Errorf("no draft to evaluate")
	}

	systemPrompt := `You are a rigorous social media editor. Score the post you are given and explain what would make it better.

Respond with a single JSON object and nothing else:
{
  "overall_score": 1-10,
  "scores": {
    "hook_strength": 1-10,
    "value_delivery": 1-10,
    "platform_fit": 1-10,
    "engagement_potential": 1-10,
    "tone": 1-10
  },
  "strengths": ["what already works"],
  "weaknesses": ["what holds the post back"],
  "specific_improvements": ["concrete, actionable changes"],
  "tone_feedback": "one sentence on voice and register",
  "engagement_feedback": "one sentence on engagement mechanics",
  "platform_feedback": "one sentence on platform conventions"
}

Score honestly. A 7 or above means the post is ready to publish with at most cosmetic edits.`

	userPrompt := es.buildUserPrompt(draft, evalCtx)

	response, err := es.genaiClient.GeneratePrompt(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("flow.EvaluationStage.Evaluate: model call failed", "error", err)
		return nil, fmt.Errorf("evaluation call failed: %w", err)
	}

	eval, err := parseEvaluationPayload(response, evalCtx.Threshold)
	if err != nil {
		slog.Error("flow.EvaluationStage.Evaluate: invalid evaluation output", "error", err)
		return nil, err
	}

	slog.Info("flow.EvaluationStage.Evaluate: draft scored", "overallScore", eval.OverallScore, "qualityLevel", eval.QualityLevel)
	return eval, nil
}

func (es *EvaluationStage) buildUserPrompt(draft *models.Draft, evalCtx EvalContext) string {
	var sb strings.Builder

	sb.WriteString("Evaluate this social media post.\n\n")
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
	if draft.TargetAudience != "" {
		fmt.Fprintf(&sb, "Target audience: %s\n", draft.TargetAudience)
	}

	if evalCtx.Platform != "" {
		fmt.Fprintf(&sb, "\nTarget platform: %s\n", evalCtx.Platform)
	}
	if evalCtx.Requirements != "" {
		fmt.Fprintf(&sb, "\nOriginal requirements:\n%s\n", evalCtx.Requirements)
	}
	if evalCtx.Iteration > 0 {
		fmt.Fprintf(&sb, "\nThis is revision %d of the post. The previous revision scored %d/10; judge whether this one actually improved.\n",
			evalCtx.Iteration, evalCtx.PreviousScore)
	}

	return sb.String()
}
