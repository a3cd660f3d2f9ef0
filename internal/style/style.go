// Package style provides a fixed whitelist of post style tags, validation
// with mutual-exclusion enforcement, and prompt-guide construction for
// steering draft generation.
package style

import "strings"

// AllTags is the hard-coded set of safe style tags.
var AllTags = map[string]bool{
	// Voice
	"conversational": true,
	"authoritative":  true,
	"playful":        true,
	"contrarian":     true,
	// Form
	"short_form":   true,
	"long_form":    true,
	"story_driven": true,
	"data_driven":  true,
	"listicle":     true,
	"question_led": true,
	// Constraints
	"no_emojis":    true,
	"emojis_ok":    true,
	"no_hashtags":  true,
	"first_person": true,
}

// mutuallyExclusivePairs defines tags where at most one may be active. The
// earlier tag in the caller's list wins.
var mutuallyExclusivePairs = [][2]string{
	{"conversational", "authoritative"},
	{"short_form", "long_form"},
	{"story_driven", "data_driven"},
	{"no_emojis", "emojis_ok"},
}

// ValidateTags strips unknown and duplicate tags and resolves mutual
// exclusions in favor of the earlier tag. The result preserves input order.
func ValidateTags(tags []string) []string {
	var cleaned []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if !AllTags[t] || seen[t] {
			continue
		}
		cleaned = append(cleaned, t)
		seen[t] = true
	}

	for _, pair := range mutuallyExclusivePairs {
		if seen[pair[0]] && seen[pair[1]] {
			// Drop whichever came later.
			drop := pair[1]
			for _, t := range cleaned {
				if t == pair[0] {
					break
				}
				if t == pair[1] {
					drop = pair[0]
					break
				}
			}
			seen[drop] = false
			kept := cleaned[:0]
			for _, t := range cleaned {
				if t != drop {
					kept = append(kept, t)
				}
			}
			cleaned = kept
		}
	}

	return cleaned
}

// BuildGuide produces a compact instruction snippet for injection into the
// generation system prompt. It returns an empty string when no tags are set.
func BuildGuide(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\nStyle requirements for this post:\n")

	if set["conversational"] {
		b.WriteString("- Write like you talk: contractions, direct address, plain words.\n")
	}
	if set["authoritative"] {
		b.WriteString("- Write with authority: confident claims backed by specifics.\n")
	}
	if set["playful"] {
		b.WriteString("- Keep the voice playful; a light joke is welcome.\n")
	}
	if set["contrarian"] {
		b.WriteString("- Lead with the unpopular take and defend it.\n")
	}
	if set["short_form"] {
		b.WriteString("- Keep it short: a few sentences, no preamble.\n")
	}
	if set["long_form"] {
		b.WriteString("- Go deeper: several short paragraphs are fine.\n")
	}
	if set["story_driven"] {
		b.WriteString("- Anchor the post in a concrete story or moment.\n")
	}
	if set["data_driven"] {
		b.WriteString("- Anchor the post in numbers from the source material.\n")
	}
	if set["listicle"] {
		b.WriteString("- Structure the body as a numbered or bulleted list.\n")
	}
	if set["question_led"] {
		b.WriteString("- Open with a question the audience actually asks.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	}
	if set["no_hashtags"] {
		b.WriteString("- Do not include hashtags; leave the tags array empty.\n")
	}
	if set["first_person"] {
		b.WriteString("- Write in the first person.\n")
	}

	return b.String()
}
