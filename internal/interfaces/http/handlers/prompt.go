package handlers

import (
	"fmt"
	"strings"
)

// FlattenPrompt folds an OpenAI message history into the single prompt a
// fresh vendor turn accepts. System contents lead, then each message in
// order; assistant tool calls and tool results are reproduced textually so
// the new turn sees the full round-trip.
func FlattenPrompt(messages []ChatMessage) string {
	var systems []string
	var body []string

	for _, msg := range messages {
		if msg.Role == "system" && msg.Content != "" {
			systems = append(systems, string(msg.Content))
		}
	}

	sawToolResult := false
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			// collected above
		case "user":
			body = append(body, "User: "+string(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				body = append(body, "Assistant: "+string(msg.Content))
				continue
			}
			var sb strings.Builder
			sb.WriteString("Assistant: ")
			sb.WriteString(string(msg.Content))
			for _, call := range msg.ToolCalls {
				sb.WriteString(fmt.Sprintf("\n[Called tool: %s(%s)]", call.Function.Name, call.Function.Arguments))
			}
			body = append(body, sb.String())
		case "tool":
			sawToolResult = true
			body = append(body, fmt.Sprintf("[Tool result for %s]: %s", msg.ToolCallID, string(msg.Content)))
		}
	}

	var sections []string
	if len(systems) > 0 {
		sections = append(sections, strings.Join(systems, "\n"))
	}
	sections = append(sections, body...)

	prompt := strings.Join(sections, "\n\n")
	if sawToolResult {
		prompt += "\nBased on the tool results above, please continue your response:"
	}
	return prompt
}
