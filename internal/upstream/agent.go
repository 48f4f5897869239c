// Package upstream spawns and supervises the Cursor agent CLI for one
// request at a time. Each Process is exclusively owned by the request
// that started it.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Agent describes how to invoke the upstream CLI. A single Agent value
// is shared across requests; Start never mutates it.
type Agent struct {
	// Command is the executable name or path. Default "cursor-agent".
	Command string
	// ExtraArgs are appended after the standard streaming arguments.
	ExtraArgs []string
	// Env entries are appended to the inherited environment.
	Env    []string
	Logger *slog.Logger
}

// SpawnOptions configure one invocation.
type SpawnOptions struct {
	// Workdir is the workspace the agent runs in.
	Workdir string
	// Model is the already-normalized runtime model ("auto" when unset).
	Model string
	// Prompt is written to the agent's stdin; stdin avoids OS
	// argument-length limits on large conversations.
	Prompt string
}

// Process is one running upstream invocation.
type Process struct {
	cmd    *exec.Cmd
	Stdout io.ReadCloser
	stderr *bytes.Buffer

	killOnce sync.Once
	waitOnce sync.Once
	waitErr  error
}

// Start launches the upstream with line-delimited JSON streaming
// requested and the prompt already written to stdin.
func (a *Agent) Start(ctx context.Context, opts SpawnOptions) (*Process, error) {
	command := a.Command
	if command == "" {
		command = "cursor-agent"
	}
	model := opts.Model
	if model == "" {
		model = "auto"
	}

	args := []string{"--print", "--output-format", "stream-json", "--model", model}
	args = append(args, a.ExtraArgs...)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = opts.Workdir
	cmd.Env = append(os.Environ(), a.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Cause: err}
	}

	go func() {
		defer stdin.Close()
		if _, err := io.WriteString(stdin, opts.Prompt); err != nil && a.Logger != nil {
			a.Logger.Debug("prompt write interrupted", "error", err)
		}
	}()

	if a.Logger != nil {
		a.Logger.Debug("upstream started",
			"command", command, "model", model, "workdir", opts.Workdir, "pid", cmd.Process.Pid)
	}

	return &Process{cmd: cmd, Stdout: stdout, stderr: &stderr}, nil
}

// Kill terminates the process. Safe to call more than once and after
// Wait.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// Wait reaps the process, returning its exit error if any. Safe to call
// more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// ExitCode returns the exit code after Wait, or -1 if unavailable.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Stderr returns everything the process wrote to standard error so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}
