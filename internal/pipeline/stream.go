package pipeline

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/intercept"
	"github.com/acplabs/cursor-acp/internal/stream"
)

// Stream serves one streaming chat completion. Errors returned here are
// boundary failures that survived fallback; everything else is rendered
// into the stream and returns nil.
func (r *Runner) Stream(ctx context.Context, req Request, w ChunkWriter) error {
	r.metrics().RequestStarted(true)
	s := r.newSession(req)

	proc, err := s.spawn(ctx)
	if err != nil {
		failure := spawnFailure(err)
		r.metrics().UpstreamFailure(string(failure.Kind))
		if werr := w.WriteChunk(s.converter.TextChunk(failure.Banner())); werr != nil {
			return nil
		}
		_ = w.WriteChunk(s.converter.FinishChunk(openai.FinishReasonStop))
		_ = w.WriteDone()
		return nil
	}
	defer proc.Kill()

	var resultText string
	splitter := &stream.LineSplitter{}
	buf := make([]byte, 32*1024)
	out := proc.Output()

	handle := func(line []byte) (done bool, err error) {
		ev := stream.ParseLine(line)
		if ev == nil {
			return false, nil
		}
		if ev.Type == stream.TypeResult {
			resultText = ev.Result.Text
			return false, nil
		}
		return s.streamEvent(ev, w)
	}

	for {
		if ctx.Err() != nil {
			// Client went away; the turn is cancelled.
			return nil
		}
		n, rerr := out.Read(buf)
		if n > 0 {
			for _, line := range splitter.Push(buf[:n]) {
				done, herr := handle(line)
				if herr != nil {
					return herr
				}
				if done {
					return nil
				}
			}
		}
		if rerr != nil {
			break
		}
	}
	if line := splitter.Flush(); len(line) > 0 {
		done, herr := handle(line)
		if herr != nil {
			return herr
		}
		if done {
			return nil
		}
	}

	if failure := s.exitFailure(proc, resultText); failure != nil {
		if err := w.WriteChunk(s.converter.TextChunk(failure.Banner())); err != nil {
			return nil
		}
	}

	finish := s.converter.FinishChunk(openai.FinishReasonStop)
	if r.Usage != nil {
		u := s.usage()
		finish.Usage = &u
	}
	if err := w.WriteChunk(finish); err != nil {
		return nil
	}
	_ = w.WriteDone()
	return nil
}

// streamEvent dispatches one event; done means the turn is over and the
// stream is already closed.
func (s *session) streamEvent(ev *stream.Event, w ChunkWriter) (done bool, err error) {
	out, err := s.interceptor.HandleEvent(ev)
	if err != nil {
		return false, err
	}

	switch out.Kind {
	case intercept.KindForward:
		for _, chunk := range s.converter.Convert(ev) {
			if werr := w.WriteChunk(chunk); werr != nil {
				return true, nil
			}
		}
		return false, nil

	case intercept.KindSkipConverter:
		if out.Hint != "" {
			if werr := w.WriteChunk(s.converter.TextChunk(out.Hint)); werr != nil {
				return true, nil
			}
		}
		return false, nil

	case intercept.KindIntercepted:
		s.intercepted = true
		s.runner.metrics().ToolCallIntercepted(out.Call.Function.Name)
		// Kill before writing so no later delta can race the close.
		s.kill()
		for _, chunk := range s.bctx.StreamToolCallChunks(s.meta, *out.Call) {
			if werr := w.WriteChunk(chunk); werr != nil {
				return true, nil
			}
		}
		_ = w.WriteDone()
		return true, nil

	case intercept.KindTerminate:
		if out.Reason == intercept.ReasonLoopGuard {
			s.runner.metrics().LoopGuardTripped(string(out.ErrorClass))
		}
		s.kill()
		if !out.Silent && out.Message != "" {
			if werr := w.WriteChunk(s.converter.TextChunk(out.Message)); werr != nil {
				return true, nil
			}
		}
		if werr := w.WriteChunk(s.converter.FinishChunk(openai.FinishReasonStop)); werr != nil {
			return true, nil
		}
		_ = w.WriteDone()
		return true, nil
	}
	return false, nil
}
