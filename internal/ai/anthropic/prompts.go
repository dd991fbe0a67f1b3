package anthropic

import (
	"fmt"
	"strings"
)

const scoringSystemPrompt = `You are an experienced editor reviewing short-form posts written for social media and blogs.

Rate the post's writing quality on a scale from 1 to 10, where:
- 1-3: unclear, disorganized, or full of errors
- 4-6: understandable but flat, wordy, or missing a clear point
- 7-8: clear, engaging, and well structured
- 9-10: exceptional; would stand out in any feed

Then give one or two sentences of concrete, actionable feedback the author can apply to the next revision.

Respond with ONLY a JSON object in this exact shape, no surrounding text:
{"score": <integer 1-10>, "feedback": "<feedback>"}`

// buildScoringPrompt renders the post as the user message.
func buildScoringPrompt(title, body string, tags []string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if len(tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}
