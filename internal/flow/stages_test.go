package flow

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/DraftLoop/DraftLoop/internal/models"
)

func TestGenerationStage_PromptAssembly(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: draftJSON("t", "b")}}}
	stage := NewGenerationStage(client)

	state := models.NewWorkflowState("s1", "the source material", []string{"one", "two", "three", "four", "five", "six"}, "professional tone", models.DefaultPolicy())

	if _, err := stage.Generate(context.Background(), state); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, "the source material") {
		t.Error("expected source content in prompt")
	}
	if !strings.Contains(prompt, "professional tone") {
		t.Error("expected requirements in prompt")
	}
	if !strings.Contains(prompt, "- five") {
		t.Error("expected fifth insight in prompt")
	}
	if strings.Contains(prompt, "- six") {
		t.Error("expected insights capped at five")
	}
	if strings.Contains(prompt, "Feedback on the previous attempt") {
		t.Error("first generation must not carry a feedback summary")
	}
}

func TestGenerationStage_StyleGuideInSystemPrompt(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: draftJSON("t", "b")}}}
	stage := NewGenerationStage(client)

	policy := models.DefaultPolicy()
	policy.StyleTags = []string{"contrarian", "no_emojis"}
	state := models.NewWorkflowState("s1", "source", nil, "", policy)

	if _, err := stage.Generate(context.Background(), state); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	system := client.systemPrompts[0]
	if !strings.Contains(system, "unpopular take") {
		t.Error("expected contrarian style rule in system prompt")
	}
	if !strings.Contains(system, "Do NOT use emojis") {
		t.Error("expected emoji rule in system prompt")
	}
}

func TestGenerationStage_TruncatesLongSource(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: draftJSON("t", "b")}}}
	stage := NewGenerationStage(client)

	longSource := strings.Repeat("x", SourceContentLimit+500)
	state := models.NewWorkflowState("s1", longSource, nil, "", models.DefaultPolicy())

	if _, err := stage.Generate(context.Background(), state); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, TruncationMarker) {
		t.Error("expected truncation marker in prompt")
	}
	if strings.Contains(prompt, longSource) {
		t.Error("expected source content to be cut off")
	}
}

func TestTruncateContent_RuneBoundary(t *testing.T) {
	// A limit that lands inside a multibyte rune must back off to the previous
	// boundary instead of emitting invalid UTF-8.
	got := truncateContent("aé", 2)
	if !utf8.ValidString(got) {
		t.Errorf("expected valid UTF-8, got %q", got)
	}
	if got != "a"+TruncationMarker {
		t.Errorf("expected cut before the split rune, got %q", got)
	}

	if got := truncateContent("ab", 2); got != "ab" {
		t.Errorf("expected content within the limit untouched, got %q", got)
	}

	long := strings.Repeat("世", SourceContentLimit)
	got = truncateContent(long, SourceContentLimit)
	if !utf8.ValidString(got) {
		t.Errorf("expected valid UTF-8 after truncation, got trailing bytes %q", got[len(got)-8:])
	}
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Error("expected truncation marker on cut content")
	}
}

func TestGenerationStage_RegenerationCarriesCritique(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: draftJSON("t", "b")}}}
	stage := NewGenerationStage(client)

	state := models.NewWorkflowState("s1", "source", nil, "", models.DefaultPolicy())
	state.IterationCount = 1
	state.AppendCritique(models.Evaluation{
		OverallScore:         4,
		Weaknesses:           []string{"w1", "w2", "w3", "w4"},
		SpecificImprovements: []string{"i1"},
	})

	if _, err := stage.Generate(context.Background(), state); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, "Previous overall score: 4/10") {
		t.Error("expected previous score in prompt")
	}
	if !strings.Contains(prompt, "- w3") {
		t.Error("expected third weakness in prompt")
	}
	if strings.Contains(prompt, "- w4") {
		t.Error("expected weaknesses capped at three")
	}
}

func TestEvaluationStage_RevisionContext(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: evalJSON(6)}}}
	stage := NewEvaluationStage(client)

	draft := &models.Draft{Title: "t", Body: "b", Tags: []string{"#go"}}
	if _, err := stage.Evaluate(context.Background(), draft, EvalContext{Iteration: 2, PreviousScore: 5, Platform: "linkedin"}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, "revision 2") {
		t.Error("expected revision number in prompt")
	}
	if !strings.Contains(prompt, "scored 5/10") {
		t.Error("expected previous score in prompt")
	}
	if !strings.Contains(prompt, "linkedin") {
		t.Error("expected platform in prompt")
	}
}

func TestEvaluationStage_NilDraft(t *testing.T) {
	stage := NewEvaluationStage(&scriptedClient{})
	if _, err := stage.Evaluate(context.Background(), nil, EvalContext{}); err == nil {
		t.Error("expected error for nil draft")
	}
}

func TestRefinementStage_HumanFeedbackInPrompt(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: draftJSON("t", "b")}}}
	stage := NewRefinementStage(client)

	draft := &models.Draft{Title: "t", Body: "b"}
	eval := &models.Evaluation{OverallScore: 5, Strengths: []string{"good topic"}, Weaknesses: []string{"weak hook"}}

	if _, err := stage.Refine(context.Background(), draft, eval, []string{FocusHook}, "make it about the outage"); err != nil {
		t.Fatalf("Refine failed: %v", err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, "good topic") {
		t.Error("expected strengths in prompt")
	}
	if !strings.Contains(prompt, "weak hook") {
		t.Error("expected weaknesses in prompt")
	}
	if !strings.Contains(prompt, "Focus this revision on: hook") {
		t.Error("expected focus areas in prompt")
	}
	if !strings.Contains(prompt, "make it about the outage") {
		t.Error("expected human feedback in prompt")
	}
}

func TestRefinementStage_RequiresDraftAndEvaluation(t *testing.T) {
	stage := NewRefinementStage(&scriptedClient{})
	if _, err := stage.Refine(context.Background(), nil, &models.Evaluation{}, nil, ""); err == nil {
		t.Error("expected error for nil draft")
	}
	if _, err := stage.Refine(context.Background(), &models.Draft{Title: "t", Body: "b"}, nil, nil, ""); err == nil {
		t.Error("expected error for nil evaluation")
	}
}

func TestDeriveFocusAreas(t *testing.T) {
	tests := []struct {
		name string
		eval *models.Evaluation
		want []string
	}{
		{
			name: "nil evaluation",
			eval: nil,
			want: nil,
		},
		{
			name: "no triggers",
			eval: &models.Evaluation{Weaknesses: []string{"slightly generic"}},
			want: nil,
		},
		{
			name: "single trigger",
			eval: &models.Evaluation{Weaknesses: []string{"the hook is flat"}},
			want: []string{FocusHook},
		},
		{
			name: "deduplicated across lists",
			eval: &models.Evaluation{
				Weaknesses:           []string{"hook does not grab"},
				SpecificImprovements: []string{"rewrite the hook entirely"},
			},
			want: []string{FocusHook},
		},
		{
			name: "encounter order preserved",
			eval: &models.Evaluation{
				Weaknesses:           []string{"low engagement potential", "hashtags are generic"},
				SpecificImprovements: []string{"the hook needs work", "add a call to action"},
			},
			want: []string{FocusEngagement, FocusTags, FocusHook, FocusCallToAction},
		},
		{
			name: "length triggers",
			eval: &models.Evaluation{Weaknesses: []string{"the body is too long"}},
			want: []string{FocusLength},
		},
		{
			name: "cta abbreviation",
			eval: &models.Evaluation{SpecificImprovements: []string{"add a stronger CTA"}},
			want: []string{FocusCallToAction},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveFocusAreas(tt.eval)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
