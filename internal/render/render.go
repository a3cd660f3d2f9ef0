// Package render turns drafts into markdown and preview HTML.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/yuin/goldmark"
)

// Markdown lays a draft out as a markdown document: title heading, hook,
// body, call to action and the tag line.
func Markdown(draft *models.Draft) string {
	if draft == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", draft.Title)
	if draft.Hook != "" {
		fmt.Fprintf(&sb, "**%s**\n\n", draft.Hook)
	}
	sb.WriteString(draft.Body)
	sb.WriteString("\n")
	if draft.CallToAction != "" {
		fmt.Fprintf(&sb, "\n%s\n", draft.CallToAction)
	}
	if len(draft.Tags) > 0 {
		fmt.Fprintf(&sb, "\n%s\n", strings.Join(draft.Tags, " "))
	}
	return sb.String()
}

// Preview renders a draft to preview HTML via its markdown layout.
func Preview(draft *models.Draft) (string, error) {
	if draft == nil {
		return "", fmt.Errorf("no draft to render")
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(draft)), &buf); err != nil {
		return "", fmt.Errorf("failed to render draft preview: %w", err)
	}
	return buf.String(), nil
}
