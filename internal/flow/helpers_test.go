package flow

import (
	"context"
	"fmt"
)

// scriptedReply is one canned model response: content on success, err for a
// simulated transport failure.
type scriptedReply struct {
	content string
	err     error
}

// scriptedClient replays canned replies in order and records every prompt it
// saw, so tests can assert on prompt assembly.
type scriptedClient struct {
	replies       []scriptedReply
	calls         int
	prompts       []string
	systemPrompts []string
}

func (m *scriptedClient) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.calls >= len(m.replies) {
		return "", fmt.Errorf("scripted client exhausted after %d calls", m.calls)
	}
	m.systemPrompts = append(m.systemPrompts, systemPrompt)
	m.prompts = append(m.prompts, userPrompt)
	reply := m.replies[m.calls]
	m.calls++
	return reply.content, reply.err
}

// draftJSON builds a minimal valid draft reply.
func draftJSON(title, body string) string {
	return fmt.Sprintf(`{"title":%q,"hook":"Stop scrolling.","body":%q,"call_to_action":"What do you think?","tags":["golang"],"target_audience":"developers","estimated_engagement":6}`, title, body)
}

// evalJSON builds an evaluation reply with the given overall score and
// weaknesses.
func evalJSON(score int, weaknesses ...string) string {
	list := ""
	for i, w := range weaknesses {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf("%q", w)
	}
	return fmt.Sprintf(`{"overall_score":%d,"scores":{"hook_strength":%d,"value_delivery":%d,"platform_fit":%d,"engagement_potential":%d,"tone":%d},"strengths":["clear topic"],"weaknesses":[%s],"specific_improvements":["tighten the opening"]}`,
		score, score, score, score, score, score, list)
}
