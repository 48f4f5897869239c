// Package loopguard detects pathological repeats of tool calls across a
// conversation: identical failing calls, identical schema-invalid calls,
// and identical successful full-file rewrites.
package loopguard

import "strings"

// ErrorClass buckets a tool result for fingerprinting.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassNotFound   ErrorClass = "not_found"
	ClassPermission ErrorClass = "permission"
	ClassTimeout    ErrorClass = "timeout"
	ClassToolError  ErrorClass = "tool_error"
	ClassSuccess    ErrorClass = "success"
	ClassUnknown    ErrorClass = "unknown"
)

// classPhrases is the ordered phrase table used to classify tool result
// content. The phrases were chosen empirically against real upstream
// output; keep them stable so recorded conversations replay identically.
var classPhrases = []struct {
	phrase string
	class  ErrorClass
}{
	{"missing required", ClassValidation},
	{"invalid arguments", ClassValidation},
	{"invalid parameters", ClassValidation},
	{"schema validation", ClassValidation},
	{"enoent", ClassNotFound},
	{"no such file", ClassNotFound},
	{"not found", ClassNotFound},
	{"eacces", ClassPermission},
	{"eperm", ClassPermission},
	{"permission denied", ClassPermission},
	{"etimedout", ClassTimeout},
	{"timed out", ClassTimeout},
	{"timeout", ClassTimeout},
	{`"success":true`, ClassSuccess},
	{"success: true", ClassSuccess},
	{"tool_error", ClassToolError},
	{"tool error", ClassToolError},
	{"error:", ClassToolError},
	{"failed", ClassToolError},
}

// readOnlyTools never mutate state, so an unclassifiable result from
// them is treated as success rather than unknown.
var readOnlyTools = map[string]bool{
	"bash":     true,
	"read":     true,
	"grep":     true,
	"ls":       true,
	"glob":     true,
	"stat":     true,
	"webfetch": true,
}

// Classify buckets tool result content by case-insensitive substring
// match against the phrase table.
func Classify(content string) ErrorClass {
	lowered := strings.ToLower(content)
	for _, entry := range classPhrases {
		if strings.Contains(lowered, entry.phrase) {
			return entry.class
		}
	}
	return ClassUnknown
}

// promote applies the read-only-tool success promotion.
func promote(tool string, class ErrorClass) ErrorClass {
	if class == ClassUnknown && readOnlyTools[strings.ToLower(tool)] {
		return ClassSuccess
	}
	return class
}
