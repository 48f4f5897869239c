// Package pipeline orchestrates one chat-completion request: it spawns
// the upstream agent, frames and parses its output, runs the tool-call
// interceptor, and shapes the OpenAI response.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/boundary"
	"github.com/acplabs/cursor-acp/internal/intercept"
	"github.com/acplabs/cursor-acp/internal/loopguard"
	"github.com/acplabs/cursor-acp/internal/prompt"
	"github.com/acplabs/cursor-acp/internal/schemacompat"
	"github.com/acplabs/cursor-acp/internal/stream"
	"github.com/acplabs/cursor-acp/internal/upstream"
	"github.com/acplabs/cursor-acp/internal/workspace"
)

// Proc is one running upstream invocation. upstream.Process satisfies it
// through AgentSpawner; tests substitute scripted fakes.
type Proc interface {
	Output() io.Reader
	Kill()
	Wait() error
	ExitCode() int
	Stderr() string
}

// SpawnFunc launches the upstream for one request.
type SpawnFunc func(ctx context.Context, opts upstream.SpawnOptions) (Proc, error)

type agentProc struct {
	*upstream.Process
}

func (p agentProc) Output() io.Reader { return p.Process.Stdout }

// AgentSpawner adapts an upstream.Agent to the pipeline.
func AgentSpawner(agent *upstream.Agent) SpawnFunc {
	return func(ctx context.Context, opts upstream.SpawnOptions) (Proc, error) {
		proc, err := agent.Start(ctx, opts)
		if err != nil {
			return nil, err
		}
		return agentProc{proc}, nil
	}
}

// UsageFunc estimates token usage from the prompt and completion text.
type UsageFunc func(promptText, completionText string) openai.Usage

// Metrics receives pipeline counters. The observability package provides
// the Prometheus implementation.
type Metrics interface {
	RequestStarted(streaming bool)
	ToolCallIntercepted(tool string)
	LoopGuardTripped(class string)
	BoundaryFellBack()
	UpstreamFailure(kind string)
}

type nopMetrics struct{}

func (nopMetrics) RequestStarted(bool)        {}
func (nopMetrics) ToolCallIntercepted(string) {}
func (nopMetrics) LoopGuardTripped(string)    {}
func (nopMetrics) BoundaryFellBack()          {}
func (nopMetrics) UpstreamFailure(string)     {}

// Request is one chat-completion request plus its location hints.
type Request struct {
	Chat  openai.ChatCompletionRequest
	Hints workspace.Hints
}

// ChunkWriter receives stream chunks in arrival order. Implementations
// flush each chunk before returning.
type ChunkWriter interface {
	WriteChunk(resp openai.ChatCompletionStreamResponse) error
	WriteDone() error
}

// Runner holds the process-wide pipeline configuration. One Runner
// serves all requests; per-request state lives in session.
type Runner struct {
	Spawn      SpawnFunc
	Workspaces *workspace.Resolver

	BoundaryMode boundary.Mode
	AutoFallback bool
	ToolLoopMode boundary.ToolLoopMode
	// ForceToolMode keeps the configured tool-loop mode in effect even
	// for requests that declare no tools.
	ForceToolMode bool
	ForwardTools  bool
	EmitUpdates   bool
	Normalize     schemacompat.Options
	MaxRepeat     int

	Usage   UsageFunc
	Sink    intercept.ToolUpdateSink
	Metrics Metrics
	Logger  *slog.Logger
}

func (r *Runner) metrics() Metrics {
	if r.Metrics == nil {
		return nopMetrics{}
	}
	return r.Metrics
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// session is the per-request state. Requests never share sessions.
type session struct {
	runner *Runner

	meta        stream.ResponseMeta
	bctx        *boundary.RuntimeContext
	guard       *loopguard.Guard
	interceptor *intercept.Interceptor
	converter   *stream.Converter

	model       string
	workdir     string
	promptText  string
	proc        Proc
	intercepted bool
}

func (r *Runner) newSession(req Request) *session {
	bnd := boundary.ForMode(r.BoundaryMode)
	metrics := r.metrics()

	maxRepeat := r.MaxRepeat
	if maxRepeat <= 0 {
		maxRepeat = loopguard.DefaultMaxRepeat
	}
	guard := loopguard.New(maxRepeat)
	guard.Seed(req.Chat.Messages)

	bctx := boundary.NewRuntimeContext(bnd, r.AutoFallback, func(error) {
		metrics.BoundaryFellBack()
		// The legacy path gets a fresh budget for the loop that was
		// in flight when v1 extraction raised.
		guard.ResetFingerprint(guard.LastCoarseFingerprint())
	}, r.logger())

	allowed := make(map[string]bool, len(req.Chat.Tools))
	for _, tool := range req.Chat.Tools {
		if tool.Function != nil && tool.Function.Name != "" {
			allowed[strings.ToLower(tool.Function.Name)] = true
		}
	}

	mode := r.ToolLoopMode
	if len(allowed) == 0 && !r.ForceToolMode {
		// Nothing declared means nothing to intercept or suppress.
		mode = boundary.ToolLoopOff
	}

	icfg := intercept.Config{
		Mode:    mode,
		Allowed: allowed,
		Schemas: schemacompat.BuildSchemaMap(req.Chat.Tools),
		Flags:   bnd.ComputeToolLoopFlags(mode, r.ForwardTools, r.EmitUpdates),
		// edit stays pass-through so the write reroute can run first.
		TerminateOnInvalid: r.AutoFallback && bnd.Mode() == boundary.ModeV1,
		Normalize:          r.Normalize,
	}

	meta := stream.ResponseMeta{
		ID:      "chatcmpl-" + uuid.NewString(),
		Created: time.Now().Unix(),
		Model:   req.Chat.Model,
	}

	return &session{
		runner:      r,
		meta:        meta,
		bctx:        bctx,
		guard:       guard,
		interceptor: intercept.New(icfg, bctx, guard, r.Sink, r.logger()),
		converter:   stream.NewConverter(meta),
		model:       bnd.NormalizeRuntimeModel(req.Chat.Model),
		workdir:     r.Workspaces.Resolve(req.Hints),
		promptText:  prompt.Build(req.Chat.Messages),
	}
}

func (s *session) spawn(ctx context.Context) (Proc, error) {
	proc, err := s.runner.Spawn(ctx, upstream.SpawnOptions{
		Workdir: s.workdir,
		Model:   s.model,
		Prompt:  s.promptText,
	})
	if err != nil {
		return nil, err
	}
	s.proc = proc
	return proc, nil
}

func (s *session) kill() {
	if s.proc != nil {
		s.proc.Kill()
	}
}

// usage estimates token counts for the final chunk or response.
func (s *session) usage() openai.Usage {
	if s.runner.Usage == nil {
		return openai.Usage{}
	}
	return s.runner.Usage(s.promptText, s.converter.Text())
}

// exitFailure classifies a non-zero exit, preferring stderr over the
// result text. Nil when the turn already produced usable output.
func (s *session) exitFailure(proc Proc, resultText string) *upstream.Failure {
	_ = proc.Wait()
	if proc.ExitCode() == 0 {
		return nil
	}
	if s.intercepted || s.converter.Text() != "" {
		// Output was produced; the exit code is noise.
		return nil
	}
	output := proc.Stderr()
	if strings.TrimSpace(output) == "" {
		output = resultText
	}
	failure := upstream.ClassifyFailure(output)
	s.runner.metrics().UpstreamFailure(string(failure.Kind))
	s.runner.logger().Warn("upstream failed",
		"exit_code", proc.ExitCode(), "kind", failure.Kind)
	return failure
}

func spawnFailure(err error) *upstream.Failure {
	failure := upstream.ClassifyFailure(err.Error())
	if failure.Kind == upstream.FailureUnknown {
		failure.UserMessage = fmt.Sprintf("could not start the upstream agent: %v", err)
	}
	return failure
}
