package boundary

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/stream"
)

// Legacy is the previous boundary generation, kept as the fallback
// target. Extraction is permissive: malformed tool-call events are
// skipped rather than raised.
type Legacy struct{}

func (Legacy) Mode() Mode { return ModeLegacy }

func (Legacy) ResolveChatParamTools(mode ToolLoopMode, existing, refreshed []openai.Tool) ([]openai.Tool, ToolResolution) {
	return resolveChatParamTools(mode, existing, refreshed)
}

func (Legacy) ComputeToolLoopFlags(mode ToolLoopMode, forward, emit bool) ToolLoopFlags {
	return computeToolLoopFlags(mode, forward, emit)
}

func (Legacy) MatchesProvider(input map[string]any) bool {
	return matchesProvider(input)
}

func (Legacy) NormalizeRuntimeModel(model string) string {
	return normalizeRuntimeModel(model)
}

func (Legacy) ApplyChatParamDefaults(params *ChatParams, proxyBase, fallbackBase, defaultAPIKey string) {
	applyChatParamDefaults(params, proxyBase, fallbackBase, defaultAPIKey)
}

func (Legacy) MaybeExtractToolCall(ev *stream.Event, allowed map[string]bool, mode ToolLoopMode) (*openai.ToolCall, error) {
	if mode != ToolLoopOpenCode {
		return nil, nil
	}
	if ev == nil || ev.Type != stream.TypeToolCall || ev.ToolCall == nil || ev.ToolCall.RawName == "" {
		return nil, nil
	}
	if _, ok := allowedToolName(ev.ToolCall.RawName, allowed); !ok {
		return nil, nil
	}
	call, err := toolCallFromEvent(ev.ToolCall)
	if err != nil {
		return nil, nil
	}
	return &call, nil
}

func (Legacy) NonStreamToolCallResponse(meta stream.ResponseMeta, call openai.ToolCall) openai.ChatCompletionResponse {
	return nonStreamToolCallResponse(meta, call)
}

func (Legacy) StreamToolCallChunks(meta stream.ResponseMeta, call openai.ToolCall) []openai.ChatCompletionStreamResponse {
	return streamToolCallChunks(meta, call)
}
