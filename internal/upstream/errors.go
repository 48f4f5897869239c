package upstream

import (
	"fmt"
	"strings"
)

// SpawnError means the upstream binary could not be started at all.
type SpawnError struct {
	Command string
	Cause   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// FailureKind buckets upstream failures for user messaging.
type FailureKind string

const (
	FailureQuota   FailureKind = "quota"
	FailureAuth    FailureKind = "auth"
	FailureNetwork FailureKind = "network"
	FailureModel   FailureKind = "model"
	FailureUnknown FailureKind = "unknown"
)

// Failure is a classified upstream failure rendered into the chat
// stream. These never surface as HTTP errors: the stream stays 200 so
// UI clients display the message.
type Failure struct {
	Kind        FailureKind
	UserMessage string
	Suggestion  string
	Recoverable bool
}

// Banner renders the assistant-visible error line.
func (f *Failure) Banner() string {
	msg := "cursor-acp error: " + f.UserMessage
	if f.Suggestion != "" {
		msg += "\n" + f.Suggestion
	}
	return msg
}

// failurePhrases maps case-insensitive output substrings to failures.
var failurePhrases = []struct {
	phrase  string
	failure Failure
}{
	{"usage limit", Failure{
		Kind:        FailureQuota,
		UserMessage: "You've hit your Cursor usage limit",
		Suggestion:  "Wait for the limit to reset or upgrade your plan at cursor.com/settings.",
		Recoverable: true,
	}},
	{"rate limit", Failure{
		Kind:        FailureQuota,
		UserMessage: "Cursor rate limit reached",
		Suggestion:  "Retry in a moment.",
		Recoverable: true,
	}},
	{"not logged in", Failure{
		Kind:        FailureAuth,
		UserMessage: "You're not logged in to Cursor",
		Suggestion:  "Run `cursor-agent login` and try again.",
		Recoverable: true,
	}},
	{"unauthorized", Failure{
		Kind:        FailureAuth,
		UserMessage: "Cursor rejected the stored credentials",
		Suggestion:  "Run `cursor-agent login` to refresh them.",
		Recoverable: true,
	}},
	{"econnrefused", Failure{
		Kind:        FailureNetwork,
		UserMessage: "Could not reach the Cursor service (connection refused)",
		Suggestion:  "Check your network connection or proxy settings.",
		Recoverable: true,
	}},
	{"enotfound", Failure{
		Kind:        FailureNetwork,
		UserMessage: "Could not resolve the Cursor service host",
		Suggestion:  "Check your network connection.",
		Recoverable: true,
	}},
	{"network", Failure{
		Kind:        FailureNetwork,
		UserMessage: "Network error talking to the Cursor service",
		Recoverable: true,
	}},
	{"model not found", Failure{
		Kind:        FailureModel,
		UserMessage: "The requested model is not available",
		Suggestion:  "Pick another model or use \"auto\".",
		Recoverable: false,
	}},
	{"unknown model", Failure{
		Kind:        FailureModel,
		UserMessage: "The requested model is not available",
		Suggestion:  "Pick another model or use \"auto\".",
		Recoverable: false,
	}},
}

// ClassifyFailure parses upstream output into a Failure by phrase
// matching. Output that matches nothing is reported verbatim as an
// unknown failure.
func ClassifyFailure(output string) *Failure {
	lowered := strings.ToLower(output)
	for _, entry := range failurePhrases {
		if strings.Contains(lowered, entry.phrase) {
			f := entry.failure
			return &f
		}
	}
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		trimmed = "the upstream agent exited without output"
	}
	return &Failure{
		Kind:        FailureUnknown,
		UserMessage: trimmed,
		Recoverable: false,
	}
}
