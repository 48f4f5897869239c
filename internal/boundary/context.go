package boundary

import (
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/stream"
)

// RuntimeContext wraps the active boundary for one request. When a
// boundary method raises an ExtractionError and auto-fallback is
// enabled, the context swaps itself to the legacy boundary for the rest
// of the request, emits a warning, and retries the operation once.
// Non-boundary errors propagate untouched.
type RuntimeContext struct {
	active       Boundary
	autoFallback bool
	fellBack     bool
	onFallback   func(err error)
	logger       *slog.Logger
}

// NewRuntimeContext builds the per-request wrapper. onFallback may be
// nil; it fires once, at the moment of the swap.
func NewRuntimeContext(active Boundary, autoFallback bool, onFallback func(error), logger *slog.Logger) *RuntimeContext {
	return &RuntimeContext{
		active:       active,
		autoFallback: autoFallback,
		onFallback:   onFallback,
		logger:       logger,
	}
}

// Active returns the boundary currently in effect.
func (c *RuntimeContext) Active() Boundary { return c.active }

// FellBack reports whether the context has already swapped to legacy.
func (c *RuntimeContext) FellBack() bool { return c.fellBack }

// MaybeExtractToolCall runs extraction with single-shot legacy fallback.
func (c *RuntimeContext) MaybeExtractToolCall(ev *stream.Event, allowed map[string]bool, mode ToolLoopMode) (*openai.ToolCall, error) {
	call, err := c.active.MaybeExtractToolCall(ev, allowed, mode)
	if err == nil {
		return call, nil
	}
	if !c.fallbackOn(err) {
		return nil, err
	}
	return c.active.MaybeExtractToolCall(ev, allowed, mode)
}

// NonStreamToolCallResponse shapes the non-streaming payload via the
// active boundary.
func (c *RuntimeContext) NonStreamToolCallResponse(meta stream.ResponseMeta, call openai.ToolCall) openai.ChatCompletionResponse {
	return c.active.NonStreamToolCallResponse(meta, call)
}

// StreamToolCallChunks shapes the terminating chunks via the active
// boundary.
func (c *RuntimeContext) StreamToolCallChunks(meta stream.ResponseMeta, call openai.ToolCall) []openai.ChatCompletionStreamResponse {
	return c.active.StreamToolCallChunks(meta, call)
}

// fallbackOn decides whether err warrants the legacy swap, and performs
// it. The swap is memoized for the rest of the request.
func (c *RuntimeContext) fallbackOn(err error) bool {
	if !c.autoFallback || c.fellBack || !IsExtractionError(err) {
		return false
	}
	if c.active.Mode() == ModeLegacy {
		return false
	}
	c.active = Legacy{}
	c.fellBack = true
	if c.logger != nil {
		c.logger.Warn("boundary fell back to legacy", "error", err)
	}
	if c.onFallback != nil {
		c.onFallback(err)
	}
	return true
}
