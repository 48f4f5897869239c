package intercept

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/boundary"
	"github.com/acplabs/cursor-acp/internal/loopguard"
	"github.com/acplabs/cursor-acp/internal/schemacompat"
	"github.com/acplabs/cursor-acp/internal/stream"
)

func stringProp() schemacompat.Property {
	return schemacompat.Property{Type: schemacompat.TypeSet{"string"}}
}

func editSchema() *schemacompat.Schema {
	return &schemacompat.Schema{
		Type: "object",
		Properties: map[string]schemacompat.Property{
			"path":       stringProp(),
			"old_string": stringProp(),
			"new_string": stringProp(),
		},
		Required: []string{"path", "old_string", "new_string"},
	}
}

func writeSchema() *schemacompat.Schema {
	return &schemacompat.Schema{
		Type: "object",
		Properties: map[string]schemacompat.Property{
			"path":    stringProp(),
			"content": stringProp(),
		},
		Required: []string{"path", "content"},
	}
}

func readSchema() *schemacompat.Schema {
	return &schemacompat.Schema{
		Type:       "object",
		Properties: map[string]schemacompat.Property{"path": stringProp()},
		Required:   []string{"path"},
	}
}

func toolEvent(rawName, callID string, args map[string]any) *stream.Event {
	return &stream.Event{
		Type: stream.TypeToolCall,
		ToolCall: &stream.ToolCallEvent{
			Subtype: stream.ToolCallStarted,
			CallID:  callID,
			RawName: rawName,
			Args:    args,
		},
	}
}

func newInterceptor(t *testing.T, cfg Config) *Interceptor {
	t.Helper()
	if cfg.Mode == "" {
		cfg.Mode = boundary.ToolLoopOpenCode
	}
	if cfg.Normalize == (schemacompat.Options{}) {
		cfg.Normalize = schemacompat.DefaultOptions()
	}
	bctx := boundary.NewRuntimeContext(boundary.V1{}, false, nil, nil)
	return New(cfg, bctx, loopguard.New(loopguard.DefaultMaxRepeat), nil, nil)
}

func decodeArgs(t *testing.T, raw string) map[string]any {
	t.Helper()
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	return args
}

func TestHandleEvent_NonToolForwards(t *testing.T) {
	ic := newInterceptor(t, Config{})
	out, err := ic.HandleEvent(&stream.Event{Type: stream.TypeAssistant, Assistant: &stream.AssistantEvent{Text: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindForward {
		t.Errorf("Kind = %v, want KindForward", out.Kind)
	}
}

func TestHandleEvent_InterceptsValidCall(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"read": true},
		Schemas: map[string]*schemacompat.Schema{"read": readSchema()},
	})
	out, err := ic.HandleEvent(toolEvent("readToolCall", "c1", map[string]any{"path": "foo.txt"}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIntercepted {
		t.Fatalf("Kind = %v, want KindIntercepted", out.Kind)
	}
	if out.Call.Function.Name != "read" {
		t.Errorf("name = %q, want read", out.Call.Function.Name)
	}
	args := decodeArgs(t, out.Call.Function.Arguments)
	if args["path"] != "foo.txt" {
		t.Errorf("args = %v, want path foo.txt", args)
	}
}

func TestHandleEvent_DisallowedToolForwards(t *testing.T) {
	ic := newInterceptor(t, Config{Allowed: map[string]bool{"read": true}})
	out, err := ic.HandleEvent(toolEvent("bashToolCall", "c1", map[string]any{"command": "ls"}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindForward {
		t.Errorf("Kind = %v, want KindForward for disallowed tool", out.Kind)
	}
}

func TestHandleEvent_SuppressedWhenConfigured(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"read": true},
		Flags:   boundary.ToolLoopFlags{SuppressConverterToolEvents: true},
	})
	out, err := ic.HandleEvent(toolEvent("bashToolCall", "c1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindSkipConverter {
		t.Errorf("Kind = %v, want KindSkipConverter", out.Kind)
	}
}

func TestHandleEvent_RerouteEditToWrite(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"edit": true, "write": true},
		Schemas: map[string]*schemacompat.Schema{
			"edit":  editSchema(),
			"write": writeSchema(),
		},
	})
	out, err := ic.HandleEvent(toolEvent("editToolCall", "c1", map[string]any{
		"path":    "TODO.md",
		"content": "hello",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIntercepted {
		t.Fatalf("Kind = %v, want KindIntercepted", out.Kind)
	}
	if out.Call.Function.Name != "write" {
		t.Fatalf("name = %q, want write", out.Call.Function.Name)
	}
	args := decodeArgs(t, out.Call.Function.Arguments)
	if len(args) != 2 || args["path"] != "TODO.md" || args["content"] != "hello" {
		t.Errorf("args = %v, want exactly {path, content}", args)
	}
}

func TestHandleEvent_RerouteLoopGuardStopsRepeatedRewrites(t *testing.T) {
	guard := loopguard.New(2)
	history := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "keep rewriting TODO.md"},
	}
	for i, content := range []string{"v1", "v2", "v3"} {
		id := "h" + strconv.Itoa(i)
		raw, _ := json.Marshal(map[string]any{"path": "TODO.md", "content": content})
		history = append(history,
			openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       id,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "write", Arguments: string(raw)},
				}},
			},
			openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: id,
				Content:    `{"success":true}`,
			},
		)
	}
	guard.Seed(history)

	bctx := boundary.NewRuntimeContext(boundary.V1{}, false, nil, nil)
	ic := New(Config{
		Mode:    boundary.ToolLoopOpenCode,
		Allowed: map[string]bool{"edit": true, "write": true},
		Schemas: map[string]*schemacompat.Schema{
			"edit":  editSchema(),
			"write": writeSchema(),
		},
		Normalize: schemacompat.DefaultOptions(),
	}, bctx, guard, nil, nil)

	out, err := ic.HandleEvent(toolEvent("editToolCall", "c9", map[string]any{
		"path":    "TODO.md",
		"content": "v4",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindTerminate {
		t.Fatalf("Kind = %v, want KindTerminate for rewrite loop", out.Kind)
	}
	if out.Reason != ReasonLoopGuard {
		t.Errorf("Reason = %q, want %q", out.Reason, ReasonLoopGuard)
	}
	if !out.Silent {
		t.Error("success-loop termination should be silent")
	}
}

func TestHandleEvent_NoRerouteWithoutWriteSchema(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"edit": true},
		Schemas: map[string]*schemacompat.Schema{"edit": editSchema()},
	})
	out, err := ic.HandleEvent(toolEvent("editToolCall", "c1", map[string]any{
		"streamContent": []any{
			"# Plan\n",
			map[string]any{"text": "- Step 1\n"},
			map[string]any{"text": "- Step 2\n"},
		},
		"path": "PLAN.md",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIntercepted {
		t.Fatalf("Kind = %v, want KindIntercepted", out.Kind)
	}
	if out.Call.Function.Name != "edit" {
		t.Fatalf("name = %q, want edit", out.Call.Function.Name)
	}
	args := decodeArgs(t, out.Call.Function.Arguments)
	if args["new_string"] != "# Plan\n- Step 1\n- Step 2\n" {
		t.Errorf("new_string = %q", args["new_string"])
	}
	if args["old_string"] != "" {
		t.Errorf("old_string = %v, want empty string", args["old_string"])
	}
}

func TestHandleEvent_EditPassThroughHint(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed:   map[string]bool{"edit": true},
		Schemas:   map[string]*schemacompat.Schema{"edit": editSchema()},
		Normalize: schemacompat.Options{EditCompatRepair: false},
	})
	out, err := ic.HandleEvent(toolEvent("editToolCall", "c1", map[string]any{"path": "a.go"}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindSkipConverter {
		t.Fatalf("Kind = %v, want KindSkipConverter", out.Kind)
	}
	if out.Hint == "" {
		t.Error("want repair hint on pass-through")
	}
}

func TestHandleEvent_TerminateOnInvalidNonEdit(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed:            map[string]bool{"read": true},
		Schemas:            map[string]*schemacompat.Schema{"read": readSchema()},
		TerminateOnInvalid: true,
	})
	out, err := ic.HandleEvent(toolEvent("readToolCall", "c1", map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindTerminate {
		t.Fatalf("Kind = %v, want KindTerminate", out.Kind)
	}
	if out.Reason != ReasonSchemaValidation {
		t.Errorf("Reason = %q, want %q", out.Reason, ReasonSchemaValidation)
	}
}

func TestHandleEvent_InvalidForwardedWhenNotTerminating(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"read": true},
		Schemas: map[string]*schemacompat.Schema{"read": readSchema()},
	})
	out, err := ic.HandleEvent(toolEvent("readToolCall", "c1", map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIntercepted {
		t.Errorf("Kind = %v, want KindIntercepted for caller-side handling", out.Kind)
	}
}

func TestHandleEvent_ValidationLoopGuardTerminates(t *testing.T) {
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"read": true},
		Schemas: map[string]*schemacompat.Schema{"read": readSchema()},
	})
	ev := toolEvent("readToolCall", "c1", map[string]any{})
	var out Outcome
	var err error
	for range 4 {
		out, err = ic.HandleEvent(ev)
		if err != nil {
			t.Fatal(err)
		}
	}
	if out.Kind != KindTerminate {
		t.Fatalf("Kind = %v, want KindTerminate after repeated invalid calls", out.Kind)
	}
	if out.Reason != ReasonLoopGuard {
		t.Errorf("Reason = %q, want %q", out.Reason, ReasonLoopGuard)
	}
	if out.ErrorClass != loopguard.ClassValidation {
		t.Errorf("ErrorClass = %q, want validation", out.ErrorClass)
	}
	want := `Tool loop guard stopped repeated schema-invalid calls to "read"`
	if !strings.HasPrefix(out.Message, want) {
		t.Errorf("Message = %q, want prefix %q", out.Message, want)
	}
}

func TestHandleEvent_RepeatedInvalidEditTerminatesPastThreshold(t *testing.T) {
	guard := loopguard.New(2)
	bctx := boundary.NewRuntimeContext(boundary.V1{}, false, nil, nil)
	ic := New(Config{
		Mode:      boundary.ToolLoopOpenCode,
		Allowed:   map[string]bool{"edit": true},
		Schemas:   map[string]*schemacompat.Schema{"edit": editSchema()},
		Normalize: schemacompat.Options{EditCompatRepair: false},
	}, bctx, guard, nil, nil)

	ev := toolEvent("editToolCall", "c1", map[string]any{"path": "F.md", "content": "x"})
	for range 2 {
		if out, err := ic.HandleEvent(ev); err != nil || out.Kind == KindTerminate {
			t.Fatalf("early termination: out=%+v err=%v", out, err)
		}
	}
	out, err := ic.HandleEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindTerminate || out.Reason != ReasonLoopGuard {
		t.Fatalf("out = %+v, want loop_guard terminate", out)
	}
}

func TestHandleEvent_SilentTerminateOnSuccessLoop(t *testing.T) {
	guard := loopguard.New(2)
	bctx := boundary.NewRuntimeContext(boundary.V1{}, false, nil, nil)
	ic := New(Config{
		Mode:      boundary.ToolLoopOpenCode,
		Allowed:   map[string]bool{"read": true},
		Schemas:   map[string]*schemacompat.Schema{"read": readSchema()},
		Normalize: schemacompat.DefaultOptions(),
	}, bctx, guard, nil, nil)

	args := map[string]any{"path": "foo.txt"}
	var out Outcome
	var err error
	for range 4 {
		out, err = ic.HandleEvent(toolEvent("readToolCall", "c1", args))
		if err != nil {
			t.Fatal(err)
		}
		if out.Kind == KindTerminate {
			break
		}
		guard.RecordResult("c1", "read", `{"success":true,"content":"data"}`)
	}
	if out.Kind != KindTerminate {
		t.Fatalf("Kind = %v, want KindTerminate", out.Kind)
	}
	if !out.Silent {
		t.Error("success-loop termination should be silent")
	}
	if out.Message != "" {
		t.Errorf("Message = %q, want empty for silent termination", out.Message)
	}
}

func TestHandleEvent_UnparsableArgumentsStillHandled(t *testing.T) {
	// Raw args arrive via the event payload; exercise the repair path by
	// handing the boundary a map the canonical pipeline would have built
	// from repaired JSON. A completely missing arg set validates against
	// required fields.
	ic := newInterceptor(t, Config{
		Allowed: map[string]bool{"read": true},
		Schemas: map[string]*schemacompat.Schema{"read": readSchema()},
	})
	out, err := ic.HandleEvent(toolEvent("readToolCall", "c1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIntercepted {
		t.Errorf("Kind = %v, want KindIntercepted", out.Kind)
	}
}

func TestHandleEvent_ModeOffForwards(t *testing.T) {
	ic := newInterceptor(t, Config{
		Mode:    boundary.ToolLoopOff,
		Allowed: map[string]bool{"read": true},
		Schemas: map[string]*schemacompat.Schema{"read": readSchema()},
	})
	out, err := ic.HandleEvent(toolEvent("readToolCall", "c1", map[string]any{"path": "foo.txt"}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindForward {
		t.Errorf("Kind = %v, want KindForward with tool loop off", out.Kind)
	}
}
