// Package prompt flattens an OpenAI message array into the plain-text
// prompt the upstream agent reads from stdin.
package prompt

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Build renders the conversation for the upstream. System messages lead,
// then the transcript in order; tool replies are folded in as labelled
// results so the agent sees the full loop history. The final user
// message carries no label, matching how the agent expects its task.
func Build(messages []openai.ChatCompletionMessage) string {
	var b strings.Builder

	for _, msg := range messages {
		if msg.Role == openai.ChatMessageRoleSystem && msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}
	}

	lastUser := lastUserIndex(messages)
	for i, msg := range messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			// already emitted
		case openai.ChatMessageRoleUser:
			if i == lastUser {
				b.WriteString(contentOf(msg))
				b.WriteString("\n")
			} else {
				writeLabelled(&b, "User", contentOf(msg))
			}
		case openai.ChatMessageRoleAssistant:
			if text := contentOf(msg); text != "" {
				writeLabelled(&b, "Assistant", text)
			}
			for _, tc := range msg.ToolCalls {
				writeLabelled(&b, "Assistant called "+tc.Function.Name, tc.Function.Arguments)
			}
		case openai.ChatMessageRoleTool:
			writeLabelled(&b, "Tool result", contentOf(msg))
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func lastUserIndex(messages []openai.ChatCompletionMessage) int {
	last := -1
	for i, msg := range messages {
		if msg.Role == openai.ChatMessageRoleUser {
			last = i
		}
	}
	return last
}

func contentOf(msg openai.ChatCompletionMessage) string {
	if msg.Content != "" {
		return msg.Content
	}
	var parts []string
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func writeLabelled(b *strings.Builder, label, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(content)
	b.WriteString("\n")
}
