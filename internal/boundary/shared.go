package boundary

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/stream"
)

// The legacy and v1 boundaries must stay behaviorally identical for
// every operation below; the generations differ only in how strictly
// tool-call extraction treats malformed payloads.

func resolveChatParamTools(mode ToolLoopMode, existing, refreshed []openai.Tool) ([]openai.Tool, ToolResolution) {
	switch mode {
	case ToolLoopProxyExec:
		if len(refreshed) > 0 {
			return refreshed, ResolutionOverride
		}
		return nil, ResolutionNone
	case ToolLoopOpenCode:
		if existing != nil {
			return existing, ResolutionPreserve
		}
		if len(refreshed) > 0 {
			return refreshed, ResolutionFallback
		}
		return nil, ResolutionNone
	default:
		return nil, ResolutionNone
	}
}

func computeToolLoopFlags(mode ToolLoopMode, forward, emit bool) ToolLoopFlags {
	if mode != ToolLoopProxyExec {
		return ToolLoopFlags{}
	}
	flags := ToolLoopFlags{}
	if forward {
		flags.ProxyExecuteToolCalls = true
	} else {
		flags.SuppressConverterToolEvents = true
	}
	if emit {
		flags.ShouldEmitToolUpdates = true
	}
	return flags
}

func matchesProvider(input map[string]any) bool {
	for _, key := range []string{"providerID", "providerId", "provider"} {
		if val, ok := input[key].(string); ok && val == ProviderID {
			return true
		}
	}
	return false
}

func normalizeRuntimeModel(model string) string {
	model = strings.TrimSpace(model)
	if prefix := ProviderID + "/"; strings.HasPrefix(model, prefix) {
		model = model[len(prefix):]
	}
	if model == "" {
		return "auto"
	}
	return model
}

func applyChatParamDefaults(params *ChatParams, proxyBase, fallbackBase, defaultAPIKey string) {
	if params == nil {
		return
	}
	base := proxyBase
	if base == "" {
		base = fallbackBase
	}
	params.BaseURL = base
	if params.APIKey == "" {
		params.APIKey = defaultAPIKey
	}
}

func toolCallFromEvent(tc *stream.ToolCallEvent) (openai.ToolCall, error) {
	args, err := json.Marshal(tc.Args)
	if err != nil {
		return openai.ToolCall{}, err
	}
	callID := tc.CallID
	if callID == "" {
		callID = "unknown"
	}
	return openai.ToolCall{
		ID:   callID,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      tc.Name(),
			Arguments: string(args),
		},
	}, nil
}

func nonStreamToolCallResponse(meta stream.ResponseMeta, call openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      meta.ID,
		Object:  "chat.completion",
		Created: meta.Created,
		Model:   meta.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:      openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{call},
				},
				FinishReason: openai.FinishReasonToolCalls,
			},
		},
	}
}

func streamToolCallChunks(meta stream.ResponseMeta, call openai.ToolCall) []openai.ChatCompletionStreamResponse {
	idx := 0
	call.Index = &idx
	first := openai.ChatCompletionStreamResponse{
		ID:      meta.ID,
		Object:  "chat.completion.chunk",
		Created: meta.Created,
		Model:   meta.Model,
		Choices: []openai.ChatCompletionStreamChoice{
			{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{
					Role:      openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{call},
				},
			},
		},
	}
	second := openai.ChatCompletionStreamResponse{
		ID:      meta.ID,
		Object:  "chat.completion.chunk",
		Created: meta.Created,
		Model:   meta.Model,
		Choices: []openai.ChatCompletionStreamChoice{
			{Index: 0, FinishReason: openai.FinishReasonToolCalls},
		},
	}
	return []openai.ChatCompletionStreamResponse{first, second}
}

// allowedToolName checks membership after suffix stripping, case
// insensitively.
func allowedToolName(raw string, allowed map[string]bool) (string, bool) {
	name := stream.CanonicalToolName(raw)
	if allowed[name] {
		return name, true
	}
	return name, false
}
