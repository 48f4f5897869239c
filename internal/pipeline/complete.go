package pipeline

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/intercept"
	"github.com/acplabs/cursor-acp/internal/stream"
)

// Complete serves one non-streaming chat completion. The first
// intercepted tool call wins and any collected text is discarded.
func (r *Runner) Complete(ctx context.Context, req Request) (openai.ChatCompletionResponse, error) {
	r.metrics().RequestStarted(false)
	s := r.newSession(req)

	proc, err := s.spawn(ctx)
	if err != nil {
		failure := spawnFailure(err)
		r.metrics().UpstreamFailure(string(failure.Kind))
		return s.textResponse(failure.Banner()), nil
	}
	defer proc.Kill()

	var resultText string
	splitter := &stream.LineSplitter{}
	buf := make([]byte, 32*1024)
	out := proc.Output()

	handle := func(line []byte) (*openai.ChatCompletionResponse, error) {
		ev := stream.ParseLine(line)
		if ev == nil {
			return nil, nil
		}
		if ev.Type == stream.TypeResult {
			resultText = ev.Result.Text
			return nil, nil
		}
		return s.completeEvent(ev)
	}

	for {
		if ctx.Err() != nil {
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
		n, rerr := out.Read(buf)
		if n > 0 {
			for _, line := range splitter.Push(buf[:n]) {
				resp, herr := handle(line)
				if herr != nil {
					return openai.ChatCompletionResponse{}, herr
				}
				if resp != nil {
					return *resp, nil
				}
			}
		}
		if rerr != nil {
			break
		}
	}
	if line := splitter.Flush(); len(line) > 0 {
		resp, herr := handle(line)
		if herr != nil {
			return openai.ChatCompletionResponse{}, herr
		}
		if resp != nil {
			return *resp, nil
		}
	}

	if failure := s.exitFailure(proc, resultText); failure != nil {
		return s.textResponse(failure.Banner()), nil
	}
	return s.textResponse(s.converter.Text()), nil
}

// completeEvent dispatches one event in non-streaming mode. A non-nil
// response terminates the request.
func (s *session) completeEvent(ev *stream.Event) (*openai.ChatCompletionResponse, error) {
	out, err := s.interceptor.HandleEvent(ev)
	if err != nil {
		return nil, err
	}

	switch out.Kind {
	case intercept.KindForward:
		// The converter accumulates text and reasoning; the chunks are
		// discarded in non-streaming mode.
		s.converter.Convert(ev)
		return nil, nil

	case intercept.KindSkipConverter:
		return nil, nil

	case intercept.KindIntercepted:
		s.intercepted = true
		s.runner.metrics().ToolCallIntercepted(out.Call.Function.Name)
		s.kill()
		resp := s.bctx.NonStreamToolCallResponse(s.meta, *out.Call)
		if s.runner.Usage != nil {
			resp.Usage = s.usage()
		}
		return &resp, nil

	case intercept.KindTerminate:
		if out.Reason == intercept.ReasonLoopGuard {
			s.runner.metrics().LoopGuardTripped(string(out.ErrorClass))
		}
		s.kill()
		content := s.converter.Text()
		if !out.Silent && out.Message != "" {
			content = out.Message
		}
		resp := s.textResponse(content)
		return &resp, nil
	}
	return nil, nil
}

// textResponse shapes the plain assistant response, carrying reasoning
// when the upstream produced any.
func (s *session) textResponse(content string) openai.ChatCompletionResponse {
	resp := openai.ChatCompletionResponse{
		ID:      s.meta.ID,
		Object:  "chat.completion",
		Created: s.meta.Created,
		Model:   s.meta.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:             openai.ChatMessageRoleAssistant,
					Content:          content,
					ReasoningContent: s.converter.Reasoning(),
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
	}
	if s.runner.Usage != nil {
		resp.Usage = s.usage()
	}
	return resp
}
