package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/boundary"
	"github.com/acplabs/cursor-acp/internal/pipeline"
	"github.com/acplabs/cursor-acp/internal/workspace"
)

// Location hint headers. ACP hosts attach these so the upstream runs in
// the caller's workspace; requests without them fall back to the
// resolver's own order.
const (
	headerSessionID = "X-Acp-Session-Id"
	headerWorktree  = "X-Acp-Worktree"
	headerDirectory = "X-Acp-Directory"
	headerRequestID = "X-Request-Id"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	list := modelList{
		Object: "list",
		Data: []modelEntry{
			{ID: boundary.ProviderID + "/auto", Object: "model", Created: now, OwnedBy: "cursor"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(headerRequestID, requestID)

	var chat openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&chat); err != nil {
		s.writeError(w, http.StatusInternalServerError, "invalid request body: "+err.Error())
		return
	}

	req := pipeline.Request{
		Chat: chat,
		Hints: workspace.Hints{
			SessionID: r.Header.Get(headerSessionID),
			Worktree:  r.Header.Get(headerWorktree),
			Directory: r.Header.Get(headerDirectory),
		},
	}

	logger := s.opts.Logger
	if logger != nil {
		logger.Info("chat completion",
			"request_id", requestID, "model", chat.Model,
			"stream", chat.Stream, "tools", len(chat.Tools))
	}

	if chat.Stream {
		s.streamChat(w, r, req)
		return
	}

	resp, err := s.opts.Runner.Complete(r.Context(), req)
	if err != nil {
		if logger != nil {
			logger.Error("chat completion failed", "request_id", requestID, "error", err)
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(completionWire(resp))
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	sse := newSSEWriter(w, flusher)
	err := s.opts.Runner.Stream(r.Context(), req, sse)
	if err == nil {
		return
	}
	if !sse.started() {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Headers are gone; all that is left is to close the frame.
	if s.opts.Logger != nil {
		s.opts.Logger.Error("stream aborted", "error", err)
	}
	_ = sse.WriteDone()
}

// go-openai marshals an empty assistant content as "", but a tool-call
// response carries content: null on the wire. The shadow types below
// reshape only what differs.
type wireMessage struct {
	Role             string            `json:"role"`
	Content          *string           `json:"content"`
	ReasoningContent string            `json:"reasoning_content,omitempty"`
	ToolCalls        []openai.ToolCall `json:"tool_calls,omitempty"`
}

type wireChoice struct {
	Index        int                 `json:"index"`
	Message      wireMessage         `json:"message"`
	FinishReason openai.FinishReason `json:"finish_reason"`
}

type wireCompletion struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []wireChoice  `json:"choices"`
	Usage   *openai.Usage `json:"usage,omitempty"`
}

func completionWire(resp openai.ChatCompletionResponse) wireCompletion {
	out := wireCompletion{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
	}
	if resp.Usage != (openai.Usage{}) {
		usage := resp.Usage
		out.Usage = &usage
	}
	for _, choice := range resp.Choices {
		msg := wireMessage{
			Role:             choice.Message.Role,
			ReasoningContent: choice.Message.ReasoningContent,
			ToolCalls:        choice.Message.ToolCalls,
		}
		if content := choice.Message.Content; content != "" || len(msg.ToolCalls) == 0 {
			msg.Content = &content
		}
		out.Choices = append(out.Choices, wireChoice{
			Index:        choice.Index,
			Message:      msg,
			FinishReason: choice.FinishReason,
		})
	}
	return out
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message},
	})
}
