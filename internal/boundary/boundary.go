// Package boundary isolates decisions whose policy may be revised
// between the legacy and v1 generations of the daemon: tool resolution
// for chat params, tool-loop flag derivation, model normalization, and
// the shaping of intercepted tool-call responses.
package boundary

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/stream"
)

// Mode selects a boundary generation.
type Mode string

const (
	ModeLegacy Mode = "legacy"
	ModeV1     Mode = "v1"
)

// ToolLoopMode controls how tool calls are handled per request.
type ToolLoopMode string

const (
	// ToolLoopOpenCode hands intercepted tool calls back to the caller.
	ToolLoopOpenCode ToolLoopMode = "opencode"
	// ToolLoopProxyExec lets the daemon execute tools via an external
	// router.
	ToolLoopProxyExec ToolLoopMode = "proxy-exec"
	// ToolLoopOff disables tool interception entirely.
	ToolLoopOff ToolLoopMode = "off"
)

// ProviderID is the provider prefix this daemon answers to.
const ProviderID = "cursor-acp"

// ToolResolution says what to do with caller-supplied tool definitions.
type ToolResolution string

const (
	ResolutionPreserve ToolResolution = "preserve"
	ResolutionFallback ToolResolution = "fallback"
	ResolutionOverride ToolResolution = "override"
	ResolutionNone     ToolResolution = "none"
)

// ToolLoopFlags derived per request from the tool-loop mode.
type ToolLoopFlags struct {
	ProxyExecuteToolCalls       bool
	SuppressConverterToolEvents bool
	ShouldEmitToolUpdates       bool
}

// ChatParams is the envelope of chat parameters the daemon hands to its
// host editor during setup.
type ChatParams struct {
	BaseURL string
	APIKey  string
	Tools   []openai.Tool
}

// ExtractionError wraps a failure inside a boundary method. The runtime
// context treats it as the signal to fall back to the legacy boundary.
type ExtractionError struct {
	Op    string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("boundary %s: %v", e.Op, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// IsExtractionError reports whether err is (or wraps) an ExtractionError.
func IsExtractionError(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

// Boundary is the polymorphic policy carrier. Implementations must be
// pure: a Boundary value is shared process-wide and read concurrently.
type Boundary interface {
	Mode() Mode

	// ResolveChatParamTools decides whether caller-supplied tool
	// definitions pass through or are replaced with refreshed ones.
	ResolveChatParamTools(mode ToolLoopMode, existing, refreshed []openai.Tool) ([]openai.Tool, ToolResolution)

	// ComputeToolLoopFlags derives the per-request flag set.
	ComputeToolLoopFlags(mode ToolLoopMode, forward, emit bool) ToolLoopFlags

	// MatchesProvider checks any of providerID/providerId/provider.
	MatchesProvider(input map[string]any) bool

	// NormalizeRuntimeModel strips the provider prefix; empty → "auto".
	NormalizeRuntimeModel(model string) string

	// ApplyChatParamDefaults points baseURL at the daemon and defaults
	// the API key when unset.
	ApplyChatParamDefaults(params *ChatParams, proxyBase, fallbackBase, defaultAPIKey string)

	// MaybeExtractToolCall returns an intercepted tool call iff the
	// tool-loop mode hands calls back to the caller and the event's
	// tool is allowed. A nil return with nil error means no match.
	MaybeExtractToolCall(ev *stream.Event, allowed map[string]bool, mode ToolLoopMode) (*openai.ToolCall, error)

	// NonStreamToolCallResponse shapes the final non-streaming payload.
	NonStreamToolCallResponse(meta stream.ResponseMeta, call openai.ToolCall) openai.ChatCompletionResponse

	// StreamToolCallChunks shapes the two terminating stream chunks.
	StreamToolCallChunks(meta stream.ResponseMeta, call openai.ToolCall) []openai.ChatCompletionStreamResponse
}

// ForMode returns the boundary implementation for a mode; unknown modes
// get v1.
func ForMode(mode Mode) Boundary {
	if mode == ModeLegacy {
		return Legacy{}
	}
	return V1{}
}
