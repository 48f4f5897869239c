// Package intercept decides, per upstream tool-call event, whether to
// hand the call back to the caller, repair it, let the upstream keep
// going, or terminate the turn.
package intercept

import (
	"encoding/json"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/boundary"
	"github.com/acplabs/cursor-acp/internal/loopguard"
	"github.com/acplabs/cursor-acp/internal/schemacompat"
	"github.com/acplabs/cursor-acp/internal/stream"
)

// Kind is the interceptor's verdict for one event.
type Kind int

const (
	// KindForward passes the event through to the SSE converter.
	KindForward Kind = iota
	// KindIntercepted ends the turn with a tool_calls response.
	KindIntercepted
	// KindSkipConverter swallows the event; the upstream continues. A
	// non-empty Hint is emitted as a plain content chunk first.
	KindSkipConverter
	// KindTerminate ends the turn with a diagnostic (or silently).
	KindTerminate
)

// Reasons attached to KindTerminate outcomes.
const (
	ReasonLoopGuard        = "loop_guard"
	ReasonSchemaValidation = "schema_validation"
)

// Outcome is the interceptor's full verdict.
type Outcome struct {
	Kind       Kind
	Call       *openai.ToolCall
	Reason     string
	ErrorClass loopguard.ErrorClass
	Message    string
	Silent     bool
	Hint       string
}

// ToolUpdateSink receives tool events as ACP tool_update notifications.
// Emission is a side channel and never affects the intercept decision.
type ToolUpdateSink interface {
	ToolUpdate(ev *stream.ToolCallEvent)
}

// NopSink discards tool updates.
type NopSink struct{}

func (NopSink) ToolUpdate(*stream.ToolCallEvent) {}

// Config fixes the interceptor's per-request behavior.
type Config struct {
	Mode    boundary.ToolLoopMode
	Allowed map[string]bool
	Schemas map[string]*schemacompat.Schema
	Flags   boundary.ToolLoopFlags
	// TerminateOnInvalid is set when v1 auto-fallback is enabled: a
	// schema-invalid call from any tool except edit terminates so the
	// fallback path can retry under legacy rules. edit stays
	// pass-through so the write reroute gets its chance first.
	TerminateOnInvalid bool
	Normalize          schemacompat.Options
}

// Interceptor runs inside the pipeline for tool_call events. One value
// per request; not safe for concurrent use.
type Interceptor struct {
	cfg      Config
	boundary *boundary.RuntimeContext
	guard    *loopguard.Guard
	sink     ToolUpdateSink
	logger   *slog.Logger
}

// New builds an interceptor. A nil sink gets NopSink.
func New(cfg Config, bctx *boundary.RuntimeContext, guard *loopguard.Guard, sink ToolUpdateSink, logger *slog.Logger) *Interceptor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Interceptor{cfg: cfg, boundary: bctx, guard: guard, sink: sink, logger: logger}
}

// HandleEvent runs the per-event state machine. Non-tool events always
// forward. The returned error is a boundary failure that survived
// auto-fallback; the pipeline surfaces it.
func (i *Interceptor) HandleEvent(ev *stream.Event) (Outcome, error) {
	if ev == nil || ev.Type != stream.TypeToolCall {
		return Outcome{Kind: KindForward}, nil
	}

	if i.cfg.Flags.ShouldEmitToolUpdates {
		go i.sink.ToolUpdate(ev.ToolCall)
	}

	call, err := i.boundary.MaybeExtractToolCall(ev, i.cfg.Allowed, i.cfg.Mode)
	if err != nil {
		return Outcome{}, err
	}
	if call == nil {
		// Not ours: track completed results so the guard sees the
		// upstream's own tool activity, then forward or suppress.
		if ev.ToolCall.Subtype == stream.ToolCallCompleted && len(ev.ToolCall.Result) > 0 {
			i.guard.RecordResult(ev.ToolCall.CallID, ev.ToolCall.Name(), string(ev.ToolCall.Result))
		}
		if i.cfg.Flags.SuppressConverterToolEvents {
			return Outcome{Kind: KindSkipConverter}, nil
		}
		return Outcome{Kind: KindForward}, nil
	}

	args, parseErr := schemacompat.ParseArguments(call.Function.Arguments)
	if parseErr != nil {
		if i.logger != nil {
			i.logger.Debug("tool arguments unparsable", "tool", call.Function.Name, "error", parseErr)
		}
		args = map[string]any{}
	}

	res := schemacompat.Normalize(call.Function.Name, args, i.cfg.Schemas[call.Function.Name], i.cfg.Normalize)

	if res.Validation.HasSchema && !res.Validation.OK {
		return i.handleInvalid(call, res)
	}

	return i.handleValid(call, res)
}

func (i *Interceptor) handleInvalid(call *openai.ToolCall, res schemacompat.Result) (Outcome, error) {
	decision := i.guard.EvaluateValidation(res.Name, res.Validation.Missing, res.Validation.TypeErrors)
	if decision.Triggered {
		return Outcome{
			Kind:       KindTerminate,
			Reason:     ReasonLoopGuard,
			ErrorClass: loopguard.ClassValidation,
			Message:    decision.DiagnosticMessage(res.Name),
		}, nil
	}

	if rerouted, rargs, ok := i.rerouteEditToWrite(call, res); ok {
		return i.interceptRerouted(rerouted, rargs), nil
	}

	if res.Name == "edit" && i.editPassThroughEligible(res) {
		return Outcome{Kind: KindSkipConverter, Hint: res.Validation.RepairHint}, nil
	}

	if i.cfg.TerminateOnInvalid && res.Name != "edit" {
		return Outcome{
			Kind:       KindTerminate,
			Reason:     ReasonSchemaValidation,
			ErrorClass: loopguard.ClassValidation,
			Message:    res.Validation.RepairHint,
		}, nil
	}

	// Let the caller deal with the malformed arguments.
	return Outcome{Kind: KindIntercepted, Call: canonicalCall(call, res)}, nil
}

func (i *Interceptor) handleValid(call *openai.ToolCall, res schemacompat.Result) (Outcome, error) {
	// A normalized edit with a defaulted-empty old_string is a full-file
	// replacement; callers that declared a write tool get it as one.
	if rerouted, rargs, ok := i.rerouteEditToWrite(call, res); ok {
		return i.interceptRerouted(rerouted, rargs), nil
	}
	decision := i.guard.Evaluate(call.ID, res.Name, res.Args)
	if decision.Triggered {
		return Outcome{
			Kind:       KindTerminate,
			Reason:     ReasonLoopGuard,
			ErrorClass: decision.ErrorClass,
			Silent:     decision.Silent(),
			Message:    decision.DiagnosticMessage(res.Name),
		}, nil
	}
	return Outcome{Kind: KindIntercepted, Call: canonicalCall(call, res)}, nil
}

// rerouteEditToWrite rewrites an edit whose arguments describe a
// full-file replacement into a write call, when the caller declared a
// write tool.
func (i *Interceptor) rerouteEditToWrite(call *openai.ToolCall, res schemacompat.Result) (*openai.ToolCall, map[string]any, bool) {
	if res.Name != "edit" {
		return nil, nil, false
	}
	if !i.cfg.Allowed["write"] {
		return nil, nil, false
	}
	if _, declared := i.cfg.Schemas["write"]; !declared {
		return nil, nil, false
	}
	path, _ := res.Args["path"].(string)
	if path == "" {
		return nil, nil, false
	}
	if old, present := res.Args["old_string"]; present {
		if s, isString := old.(string); !isString || s != "" {
			return nil, nil, false
		}
	}
	content := firstNonEmptyString(res.Args, "new_string", "content")
	if content == "" {
		return nil, nil, false
	}

	rargs := map[string]any{"path": path, "content": content}
	args, err := json.Marshal(rargs)
	if err != nil {
		return nil, nil, false
	}
	if i.logger != nil {
		i.logger.Debug("rerouted edit to write", "path", path)
	}
	rerouted := &openai.ToolCall{
		ID:   call.ID,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      "write",
			Arguments: string(args),
		},
	}
	return rerouted, rargs, true
}

// interceptRerouted runs the rerouted write through the repeat guard
// before handing it back, so a loop of full-file rewrites of the same
// path is stopped just like a direct write loop would be.
func (i *Interceptor) interceptRerouted(rerouted *openai.ToolCall, rargs map[string]any) Outcome {
	decision := i.guard.Evaluate(rerouted.ID, "write", rargs)
	if decision.Triggered {
		return Outcome{
			Kind:       KindTerminate,
			Reason:     ReasonLoopGuard,
			ErrorClass: decision.ErrorClass,
			Silent:     decision.Silent(),
			Message:    decision.DiagnosticMessage("write"),
		}
	}
	return Outcome{Kind: KindIntercepted, Call: rerouted}
}

// editPassThroughEligible limits the non-fatal hint to failures the
// model can plausibly self-correct: only the core edit fields missing,
// no type errors.
func (i *Interceptor) editPassThroughEligible(res schemacompat.Result) bool {
	if len(res.Validation.TypeErrors) > 0 {
		return false
	}
	for _, field := range res.Validation.Missing {
		switch field {
		case "old_string", "new_string", "path":
		default:
			return false
		}
	}
	return len(res.Validation.Missing) > 0
}

func firstNonEmptyString(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func canonicalCall(call *openai.ToolCall, res schemacompat.Result) *openai.ToolCall {
	args, err := json.Marshal(res.Args)
	if err != nil {
		return call
	}
	return &openai.ToolCall{
		ID:   call.ID,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      res.Name,
			Arguments: string(args),
		},
	}
}
