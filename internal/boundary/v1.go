package boundary

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/stream"
)

// V1 is the current boundary generation. Its extraction path is strict:
// structurally malformed tool-call events raise an ExtractionError so
// the runtime context can retry under legacy rules.
type V1 struct{}

func (V1) Mode() Mode { return ModeV1 }

func (V1) ResolveChatParamTools(mode ToolLoopMode, existing, refreshed []openai.Tool) ([]openai.Tool, ToolResolution) {
	return resolveChatParamTools(mode, existing, refreshed)
}

func (V1) ComputeToolLoopFlags(mode ToolLoopMode, forward, emit bool) ToolLoopFlags {
	return computeToolLoopFlags(mode, forward, emit)
}

func (V1) MatchesProvider(input map[string]any) bool {
	return matchesProvider(input)
}

func (V1) NormalizeRuntimeModel(model string) string {
	return normalizeRuntimeModel(model)
}

func (V1) ApplyChatParamDefaults(params *ChatParams, proxyBase, fallbackBase, defaultAPIKey string) {
	applyChatParamDefaults(params, proxyBase, fallbackBase, defaultAPIKey)
}

func (V1) MaybeExtractToolCall(ev *stream.Event, allowed map[string]bool, mode ToolLoopMode) (*openai.ToolCall, error) {
	if mode != ToolLoopOpenCode {
		return nil, nil
	}
	if ev == nil || ev.Type != stream.TypeToolCall {
		return nil, nil
	}
	tc := ev.ToolCall
	if tc == nil {
		return nil, &ExtractionError{Op: "extract", Cause: fmt.Errorf("tool_call event without payload")}
	}
	if tc.RawName == "" {
		return nil, &ExtractionError{Op: "extract", Cause: fmt.Errorf("tool_call event with empty tool token")}
	}
	if _, ok := allowedToolName(tc.RawName, allowed); !ok {
		return nil, nil
	}
	call, err := toolCallFromEvent(tc)
	if err != nil {
		return nil, &ExtractionError{Op: "extract", Cause: err}
	}
	return &call, nil
}

func (V1) NonStreamToolCallResponse(meta stream.ResponseMeta, call openai.ToolCall) openai.ChatCompletionResponse {
	return nonStreamToolCallResponse(meta, call)
}

func (V1) StreamToolCallChunks(meta stream.ResponseMeta, call openai.ToolCall) []openai.ChatCompletionStreamResponse {
	return streamToolCallChunks(meta, call)
}
