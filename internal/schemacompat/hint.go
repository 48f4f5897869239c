package schemacompat

import (
	"fmt"
	"strings"
)

// repairHint builds the human-readable diagnostic attached to failed
// validations, including a tool-specific suggestion where one exists.
func repairHint(tool string, v ValidationResult) string {
	var parts []string
	if len(v.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required: %s", strings.Join(v.Missing, ", ")))
	}
	if len(v.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unsupported: %s", strings.Join(v.Unexpected, ", ")))
	}
	if len(v.TypeErrors) > 0 {
		parts = append(parts, fmt.Sprintf("type errors: %s", strings.Join(v.TypeErrors, "; ")))
	}
	hint := fmt.Sprintf("Tool %q arguments are invalid (%s).", tool, strings.Join(parts, "; "))
	if suggestion := toolSuggestion(tool); suggestion != "" {
		hint += " " + suggestion
	}
	return hint
}

func toolSuggestion(tool string) string {
	switch tool {
	case "edit":
		return `Provide "path" (file to edit), "old_string" (exact text to replace, empty for a full rewrite), and "new_string" (the replacement).`
	case "write":
		return `Provide "path" and "content".`
	case "bash":
		return `Provide "command" as a single shell string.`
	default:
		return ""
	}
}
