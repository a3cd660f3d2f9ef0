// Package models defines the core data structures for DraftLoop.
//
// It includes the content artifacts exchanged between workflow stages (drafts,
// evaluations, human feedback) and the API response envelope shared across
// modules.
package models

import (
	"errors"
	"strings"
)

// QualityThreshold is the minimum overall score at which a draft passes the
// quality gate and the refine loop ends successfully.
const QualityThreshold = 7

// TagMarker is the marker character every normalized tag carries as prefix.
const TagMarker = "#"

// Validation constants for draft content.
const (
	// MinScore and MaxScore bound every rubric dimension and the overall score.
	MinScore = 1
	MaxScore = 10
	// MinSatisfaction and MaxSatisfaction bound the optional human satisfaction rating.
	MinSatisfaction = 1
	MaxSatisfaction = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyTitle          = errors.New("draft title cannot be empty")
	ErrEmptyBody           = errors.New("draft body cannot be empty")
	ErrScoreOutOfRange     = errors.New("score must be between 1 and 10")
	ErrEmptySessionID      = errors.New("session id cannot be empty")
	ErrEmptySourceContent  = errors.New("source content cannot be empty")
	ErrInvalidSatisfaction = errors.New("satisfaction must be between 1 and 5")
)

// QualityLevel is the coarse quality band derived from an overall score.
type QualityLevel string

const (
	// QualityDraft marks content that needs substantial rework (score < 5).
	QualityDraft QualityLevel = "draft"
	// QualityGood marks workable content below the publish bar (score 5-6).
	QualityGood QualityLevel = "good"
	// QualityExcellent marks content at or above the quality gate (score 7-8).
	QualityExcellent QualityLevel = "excellent"
	// QualityPublishReady marks content needing no further edits (score >= 9).
	QualityPublishReady QualityLevel = "publish_ready"
)

// QualityLevelForScore maps an overall score to its quality band. The mapping
// is boundary-inclusive: <5 draft, 5-6 good, 7-8 excellent, >=9 publish_ready.
func QualityLevelForScore(score int) QualityLevel {
	switch {
	case score >= 9:
		return QualityPublishReady
	case score >= 7:
		return QualityExcellent
	case score >= 5:
		return QualityGood
	default:
		return QualityDraft
	}
}

// IsApproved reports whether a score passes the quality gate at the given
// threshold. A non-positive threshold falls back to the standard gate, so an
// unconfigured caller cannot approve everything by accident.
func IsApproved(score, threshold int) bool {
	if threshold <= 0 {
		threshold = QualityThreshold
	}
	return score >= threshold
}

// NormalizeTag ensures a tag carries the leading marker character. Applying it
// to an already normalized tag is a no-op.
func NormalizeTag(tag string) string {
	if strings.HasPrefix(tag, TagMarker) {
		return tag
	}
	return TagMarker + tag
}

// NormalizeTags normalizes every tag in order, preserving the input sequence.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	normalized := make([]string, len(tags))
	for i, tag := range tags {
		normalized[i] = NormalizeTag(tag)
	}
	return normalized
}

// Draft is one version of the generated content artifact. Drafts are immutable
// once created; refinement produces a new Draft rather than mutating one in
// place.
type Draft struct {
	Title               string   `json:"title"`
	Hook                string   `json:"hook,omitempty"`
	Body                string   `json:"body"`
	CallToAction        string   `json:"call_to_action,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	TargetAudience      string   `json:"target_audience,omitempty"`
	EstimatedEngagement int      `json:"estimated_engagement,omitempty"`
}

// Validate checks the required draft fields.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(d.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}

// Normalize enforces the draft invariants: tags carry the marker prefix and
// the body does not open by repeating the hook verbatim.
func (d *Draft) Normalize() {
	d.Tags = NormalizeTags(d.Tags)
	if d.Hook == "" {
		return
	}
	body := strings.TrimSpace(d.Body)
	hook := strings.TrimSpace(d.Hook)
	if strings.HasPrefix(body, hook) {
		d.Body = strings.TrimSpace(strings.TrimPrefix(body, hook))
	}
}

// DimensionScores holds the per-dimension rubric scores for one evaluation.
type DimensionScores struct {
	HookStrength        int `json:"hook_strength"`
	ValueDelivery       int `json:"value_delivery"`
	PlatformFit         int `json:"platform_fit"`
	EngagementPotential int `json:"engagement_potential"`
	Tone                int `json:"tone"`
}

// Evaluation is the scored critique of one Draft. Evaluations are produced
// only by the evaluation stage and never mutated after construction.
type Evaluation struct {
	OverallScore         int             `json:"overall_score"`
	QualityLevel         QualityLevel    `json:"quality_level"`
	Scores               DimensionScores `json:"scores"`
	Strengths            []string        `json:"strengths,omitempty"`
	Weaknesses           []string        `json:"weaknesses,omitempty"`
	SpecificImprovements []string        `json:"specific_improvements,omitempty"`
	ToneFeedback         string          `json:"tone_feedback,omitempty"`
	EngagementFeedback   string          `json:"engagement_feedback,omitempty"`
	PlatformFeedback     string          `json:"platform_feedback,omitempty"`
	Approved             bool            `json:"approved"`
}

// Normalize recomputes the derived quality level and approval flag from the
// overall score, discarding whatever the upstream model claimed. The approval
// flag is derived against the session's quality gate threshold so it always
// agrees with the controller's gate decision. Every place that constructs or
// reloads an Evaluation must call this so a stored flag can never disagree
// with the score.
func (e *Evaluation) Normalize(threshold int) {
	e.QualityLevel = QualityLevelForScore(e.OverallScore)
	e.Approved = IsApproved(e.OverallScore, threshold)
}

// Validate checks the overall score range.
func (e *Evaluation) Validate() error {
	if e.OverallScore < MinScore || e.OverallScore > MaxScore {
		return ErrScoreOutOfRange
	}
	return nil
}

// Feedback is human input collected at the review checkpoint or injected by a
// caller mid-session. It is consumed by the next refinement or generation call
// and then retained in the feedback history for audit.
type Feedback struct {
	Message        string   `json:"message"`
	Satisfaction   int      `json:"satisfaction,omitempty"`
	Approve        bool     `json:"approve"`
	Regenerate     bool     `json:"regenerate"`
	ChangeRequests []string `json:"change_requests,omitempty"`
}

// Validate checks the optional satisfaction rating range.
func (f *Feedback) Validate() error {
	if f.Satisfaction != 0 && (f.Satisfaction < MinSatisfaction || f.Satisfaction > MaxSatisfaction) {
		return ErrInvalidSatisfaction
	}
	return nil
}

// RequestsRegeneration reports whether the feedback asks for a full
// regeneration, either via the explicit flag or by mentioning it in the text.
func (f *Feedback) RequestsRegeneration() bool {
	return f.Regenerate || strings.Contains(strings.ToLower(f.Message), "regenerate")
}

// DeriveChangeRequests splits the feedback message into individual change
// requests. Bullet or line separated messages yield one request per line; a
// plain message yields itself as the single request. The derivation is
// deterministic for identical input.
func (f *Feedback) DeriveChangeRequests() []string {
	message := strings.TrimSpace(f.Message)
	if message == "" {
		return nil
	}
	var requests []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimSpace(line)
		if line != "" {
			requests = append(requests, line)
		}
	}
	return requests
}
