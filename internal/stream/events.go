// Package stream parses the upstream agent's line-delimited JSON event
// stream and converts it into OpenAI chat-completion chunks.
package stream

import (
	"encoding/json"
	"strings"
)

// Event kinds emitted by the upstream agent. Lines with any other type
// are ignored.
const (
	TypeAssistant = "assistant"
	TypeThinking  = "thinking"
	TypeToolCall  = "tool_call"
	TypeResult    = "result"
)

// Result subtypes reported on the terminating event of a turn.
const (
	ResultSuccess   = "success"
	ResultCancelled = "cancelled"
	ResultError     = "error"
	ResultFailure   = "failure"
	ResultRefused   = "refused"
)

// Tool-call subtypes.
const (
	ToolCallStarted   = "started"
	ToolCallCompleted = "completed"
)

// Event is one parsed line of upstream output. Exactly one of the
// variant pointers is set depending on Type; unrecognized fields stay in
// Raw and are ignored.
type Event struct {
	Type      string
	Assistant *AssistantEvent
	Thinking  *ThinkingEvent
	ToolCall  *ToolCallEvent
	Result    *ResultEvent
	Raw       json.RawMessage
}

// AssistantEvent carries assistant message content. Partial is true when
// the line carried a timestamp_ms marker, meaning the text is an
// incremental emission rather than the final full message.
type AssistantEvent struct {
	Text string
	// Thinking collects thinking-typed content parts, when present.
	Thinking string
	Partial  bool
}

// ThinkingEvent carries a reasoning delta.
type ThinkingEvent struct {
	Text string
}

// ToolCallEvent carries the singleton tool map from a tool_call line.
type ToolCallEvent struct {
	Subtype string
	CallID  string
	// RawName is the map key as emitted, e.g. "readToolCall".
	RawName string
	Args    map[string]any
	Result  json.RawMessage
}

// ResultEvent terminates a turn.
type ResultEvent struct {
	Subtype string
	Text    string
}

// Name returns the canonical tool name: the raw token with a trailing
// "ToolCall" suffix stripped, lowercased.
func (t *ToolCallEvent) Name() string {
	return CanonicalToolName(t.RawName)
}

// CanonicalToolName strips a trailing "ToolCall" suffix (any case) and
// lowercases the token.
func CanonicalToolName(raw string) string {
	name := raw
	if len(name) > len("toolcall") && strings.EqualFold(name[len(name)-len("toolcall"):], "toolcall") {
		name = name[:len(name)-len("toolcall")]
	}
	return strings.ToLower(name)
}

type rawEvent struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype"`
	Text        string          `json:"text"`
	TimestampMS *int64          `json:"timestamp_ms"`
	CallID      string          `json:"call_id"`
	ToolCallID  string          `json:"tool_call_id"`
	Message     *rawMessage     `json:"message"`
	ToolCall    json.RawMessage `json:"tool_call"`
	Result      json.RawMessage `json:"result"`
}

type rawMessage struct {
	Content []rawContentPart `json:"content"`
}

type rawContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

type rawToolPayload struct {
	Args   map[string]any  `json:"args"`
	Result json.RawMessage `json:"result"`
}

// ParseLine parses one upstream line. It returns nil for malformed JSON
// and for event types the daemon does not recognize; callers skip those.
func ParseLine(line []byte) *Event {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil
	}
	var raw rawEvent
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil
	}

	ev := &Event{Type: raw.Type, Raw: json.RawMessage(trimmed)}
	switch raw.Type {
	case TypeAssistant:
		text, thinking := assistantText(raw.Message)
		ev.Assistant = &AssistantEvent{
			Text:     text,
			Thinking: thinking,
			Partial:  raw.TimestampMS != nil,
		}
	case TypeThinking:
		ev.Thinking = &ThinkingEvent{Text: raw.Text}
	case TypeToolCall:
		tc := parseToolCall(&raw)
		if tc == nil {
			return nil
		}
		ev.ToolCall = tc
	case TypeResult:
		ev.Result = &ResultEvent{Subtype: raw.Subtype, Text: raw.Text}
	default:
		return nil
	}
	return ev
}

func assistantText(msg *rawMessage) (text, thinking string) {
	if msg == nil {
		return "", ""
	}
	var tb, kb strings.Builder
	for _, part := range msg.Content {
		switch part.Type {
		case "text":
			tb.WriteString(part.Text)
		case "thinking":
			if part.Thinking != "" {
				kb.WriteString(part.Thinking)
			} else {
				kb.WriteString(part.Text)
			}
		}
	}
	return tb.String(), kb.String()
}

func parseToolCall(raw *rawEvent) *ToolCallEvent {
	if len(raw.ToolCall) == 0 {
		return nil
	}
	var payload map[string]rawToolPayload
	if err := json.Unmarshal(raw.ToolCall, &payload); err != nil {
		return nil
	}
	callID := raw.CallID
	if callID == "" {
		callID = raw.ToolCallID
	}
	// The tool_call object is a singleton map keyed by the tool token.
	for name, body := range payload {
		return &ToolCallEvent{
			Subtype: raw.Subtype,
			CallID:  callID,
			RawName: name,
			Args:    body.Args,
			Result:  body.Result,
		}
	}
	return nil
}
