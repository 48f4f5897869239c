package stream

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// ResponseMeta identifies a chat completion across all its chunks.
type ResponseMeta struct {
	ID      string
	Created int64
	Model   string
}

// Converter turns upstream events into OpenAI stream chunks. It owns the
// per-request delta trackers and is purely functional over that state:
// it never kills the upstream or alters pipeline flow.
type Converter struct {
	meta      ResponseMeta
	text      DeltaTracker
	reasoning DeltaTracker
	sentRole  bool
}

// NewConverter creates a converter for one request.
func NewConverter(meta ResponseMeta) *Converter {
	return &Converter{meta: meta}
}

// Convert maps one event to zero or more stream chunks.
func (c *Converter) Convert(ev *Event) []openai.ChatCompletionStreamResponse {
	if ev == nil {
		return nil
	}
	switch ev.Type {
	case TypeAssistant:
		var chunks []openai.ChatCompletionStreamResponse
		if delta := c.reasoning.Next(ev.Assistant.Thinking); delta != "" {
			chunks = append(chunks, c.chunk(openai.ChatCompletionStreamChoiceDelta{ReasoningContent: delta}))
		}
		if delta := c.text.Next(ev.Assistant.Text); delta != "" {
			chunks = append(chunks, c.chunk(openai.ChatCompletionStreamChoiceDelta{Content: delta}))
		}
		return chunks
	case TypeThinking:
		if delta := c.reasoning.Next(ev.Thinking.Text); delta != "" {
			return []openai.ChatCompletionStreamResponse{
				c.chunk(openai.ChatCompletionStreamChoiceDelta{ReasoningContent: delta}),
			}
		}
	case TypeToolCall:
		return []openai.ChatCompletionStreamResponse{c.toolCallChunk(ev.ToolCall)}
	}
	return nil
}

// TextChunk builds a plain content chunk outside the delta trackers,
// used for error banners and schema hints.
func (c *Converter) TextChunk(content string) openai.ChatCompletionStreamResponse {
	return c.chunk(openai.ChatCompletionStreamChoiceDelta{Content: content})
}

// FinishChunk builds the terminal chunk with the given finish reason and
// an empty delta.
func (c *Converter) FinishChunk(reason openai.FinishReason) openai.ChatCompletionStreamResponse {
	resp := openai.ChatCompletionStreamResponse{
		ID:      c.meta.ID,
		Object:  "chat.completion.chunk",
		Created: c.meta.Created,
		Model:   c.meta.Model,
		Choices: []openai.ChatCompletionStreamChoice{
			{Index: 0, FinishReason: reason},
		},
	}
	return resp
}

// Text returns the full assistant text observed so far.
func (c *Converter) Text() string { return c.text.Total() }

// Reasoning returns the full reasoning text observed so far.
func (c *Converter) Reasoning() string { return c.reasoning.Total() }

func (c *Converter) chunk(delta openai.ChatCompletionStreamChoiceDelta) openai.ChatCompletionStreamResponse {
	if !c.sentRole {
		delta.Role = openai.ChatMessageRoleAssistant
		c.sentRole = true
	}
	return openai.ChatCompletionStreamResponse{
		ID:      c.meta.ID,
		Object:  "chat.completion.chunk",
		Created: c.meta.Created,
		Model:   c.meta.Model,
		Choices: []openai.ChatCompletionStreamChoice{
			{Index: 0, Delta: delta},
		},
	}
}

func (c *Converter) toolCallChunk(tc *ToolCallEvent) openai.ChatCompletionStreamResponse {
	callID := tc.CallID
	if callID == "" {
		callID = "unknown"
	}
	args, err := json.Marshal(tc.Args)
	if err != nil {
		args = []byte("{}")
	}
	idx := 0
	return c.chunk(openai.ChatCompletionStreamChoiceDelta{
		ToolCalls: []openai.ToolCall{
			{
				Index: &idx,
				ID:    callID,
				Type:  openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name(),
					Arguments: string(args),
				},
			},
		},
	})
}
