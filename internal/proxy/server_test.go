package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/boundary"
	"github.com/acplabs/cursor-acp/internal/pipeline"
	"github.com/acplabs/cursor-acp/internal/upstream"
	"github.com/acplabs/cursor-acp/internal/workspace"
)

type scriptedProc struct {
	out    *strings.Reader
	exit   int
	stderr string
}

func (p *scriptedProc) Output() io.Reader { return p.out }
func (p *scriptedProc) Kill()             {}
func (p *scriptedProc) Wait() error       { return nil }
func (p *scriptedProc) ExitCode() int     { return p.exit }
func (p *scriptedProc) Stderr() string    { return p.stderr }

func testServer(t *testing.T, output string) *httptest.Server {
	t.Helper()
	runner := &pipeline.Runner{
		Spawn: func(context.Context, upstream.SpawnOptions) (pipeline.Proc, error) {
			return &scriptedProc{out: strings.NewReader(output)}, nil
		},
		Workspaces:   workspace.NewResolver("", ""),
		BoundaryMode: boundary.ModeV1,
		ToolLoopMode: boundary.ToolLoopOpenCode,
	}
	srv := httptest.NewServer(New(Options{Runner: runner}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t, "")
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
}

func TestHandleModels(t *testing.T) {
	srv := testServer(t, "")
	for _, path := range []string{"/models", "/v1/models"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var list struct {
				Object string `json:"object"`
				Data   []struct {
					ID     string `json:"id"`
					Object string `json:"object"`
				} `json:"data"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
				t.Fatal(err)
			}
			if list.Object != "list" || len(list.Data) == 0 {
				t.Fatalf("list = %+v", list)
			}
			if list.Data[0].ID != "cursor-acp/auto" {
				t.Errorf("model id = %q, want cursor-acp/auto", list.Data[0].ID)
			}
		})
	}
}

func TestHandleChat_Streaming(t *testing.T) {
	lines := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}` + "\n"
	srv := testServer(t, lines)

	body := `{"model":"cursor-acp/auto","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}

	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)
	if !strings.HasSuffix(text, "data: [DONE]\n\n") {
		t.Errorf("stream should end with DONE frame: %q", text)
	}
	if !strings.Contains(text, `"content":"hello"`) {
		t.Errorf("stream missing delta content: %q", text)
	}

	var doneCount int
	for _, frame := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(frame) == "data: [DONE]" {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("DONE frames = %d, want exactly 1", doneCount)
	}
}

func TestHandleChat_NonStreaming(t *testing.T) {
	lines := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}` + "\n"
	srv := testServer(t, lines)

	body := `{"model":"auto","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(srv.URL+"/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var completion openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		t.Fatal(err)
	}
	if got := completion.Choices[0].Message.Content; got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
	if completion.Choices[0].FinishReason != openai.FinishReasonStop {
		t.Errorf("finish_reason = %q, want stop", completion.Choices[0].FinishReason)
	}
}

func TestHandleChat_ToolCallNullContent(t *testing.T) {
	line := `{"type":"tool_call","subtype":"started","call_id":"c1","tool_call":{"readToolCall":{"args":{"path":"foo.txt"}}}}` + "\n"
	srv := testServer(t, line)

	body := `{"model":"auto","messages":[{"role":"user","content":"hi"}],` +
		`"tools":[{"type":"function","function":{"name":"read","parameters":` +
		`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}}}]}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"content":null`) {
		t.Errorf("tool-call response content not null: %s", raw)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content   *string           `json:"content"`
				ToolCalls []openai.ToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		t.Fatal(err)
	}
	choice := completion.Choices[0]
	if choice.Message.Content != nil {
		t.Errorf("content = %q, want null", *choice.Message.Content)
	}
	if len(choice.Message.ToolCalls) != 1 || choice.Message.ToolCalls[0].Function.Name != "read" {
		t.Errorf("tool_calls = %+v, want one read call", choice.Message.ToolCalls)
	}
	if choice.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q, want tool_calls", choice.FinishReason)
	}
}

func TestHandleChat_MalformedBody(t *testing.T) {
	srv := testServer(t, "")
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Error.Message == "" {
		t.Error("error message missing")
	}
}

func TestHandleChat_MethodNotAllowed(t *testing.T) {
	srv := testServer(t, "")
	resp, err := http.Get(srv.URL + "/v1/chat/completions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestStart_EphemeralFallback(t *testing.T) {
	// Occupy a port with a non-daemon listener so Start falls through to
	// an ephemeral bind.
	occupant := httptest.NewServer(http.NotFoundHandler())
	defer occupant.Close()
	addr := strings.TrimPrefix(occupant.URL, "http://")
	parts := strings.Split(addr, ":")
	port, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		t.Fatal(err)
	}

	srv := New(Options{Host: "127.0.0.1", Port: port, ReuseExisting: true, Runner: &pipeline.Runner{
		Spawn: func(context.Context, upstream.SpawnOptions) (pipeline.Proc, error) {
			return &scriptedProc{out: strings.NewReader("")}, nil
		},
		Workspaces: workspace.NewResolver("", ""),
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Shutdown(context.Background()) }()

	if srv.Reused() {
		t.Fatal("should not reuse a non-daemon occupant")
	}
	if srv.BaseURL() == "" || strings.HasSuffix(srv.BaseURL(), ":"+parts[len(parts)-1]) {
		t.Errorf("base url = %q, want ephemeral port", srv.BaseURL())
	}

	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}
