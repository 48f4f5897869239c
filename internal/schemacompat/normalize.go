package schemacompat

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/spf13/cast"
)

// Options toggles normalization behaviors that shipped behind flags.
type Options struct {
	// EditCompatRepair enables the edit-tool content coercions
	// (content → new_string, implicit full-file replace). Default on.
	EditCompatRepair bool
}

// DefaultOptions returns the normalization defaults.
func DefaultOptions() Options {
	return Options{EditCompatRepair: true}
}

// Result is the outcome of normalizing and validating one tool call.
type Result struct {
	Name       string
	Args       map[string]any
	Collisions []string
	Validation ValidationResult
}

// ParseArguments decodes a tool-call arguments payload. Invalid JSON is
// run through jsonrepair once before giving up.
func ParseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Normalize canonicalizes argument keys, applies tool-specific shape
// fixes, strips unexpected fields when the schema forbids them, and
// validates the result. It is idempotent: normalizing its own output is
// a no-op.
func Normalize(name string, args map[string]any, schema *Schema, opts Options) Result {
	canonical, collisions := canonicalizeKeys(args)
	normalizeTool(name, canonical, opts)

	var unexpected []string
	if schema.DisallowsAdditional() {
		unexpected = stripUnexpected(canonical, schema)
	}

	validation := Validate(canonical, schema)
	validation.Unexpected = append(validation.Unexpected, unexpected...)
	sort.Strings(validation.Unexpected)
	if !validation.OK {
		validation.RepairHint = repairHint(name, validation)
	}

	return Result{
		Name:       name,
		Args:       canonical,
		Collisions: collisions,
		Validation: validation,
	}
}

// canonicalizeKeys rewrites alias keys to their canonical names. When
// both an alias and its canonical key are present with different values
// the canonical value wins and the alias is reported as a collision.
func canonicalizeKeys(args map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(args))
	var collisions []string

	// Canonical keys first so aliases never clobber them.
	for key, val := range args {
		if CanonicalKey(key) == key {
			out[key] = val
		}
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		canonical := CanonicalKey(key)
		if canonical == key {
			continue
		}
		if existing, ok := out[canonical]; ok {
			if !jsonEqual(existing, args[key]) {
				collisions = append(collisions, key)
			}
			continue
		}
		out[canonical] = args[key]
	}
	return out, collisions
}

func normalizeTool(name string, args map[string]any, opts Options) {
	switch name {
	case "bash":
		normalizeBash(args)
	case "rm":
		normalizeRM(args)
	case "todowrite":
		normalizeTodoWrite(args)
	case "edit":
		if opts.EditCompatRepair {
			normalizeEdit(args)
		}
	case "write":
		if opts.EditCompatRepair {
			stringifyContentArg(args)
		}
	}
}

// normalizeBash accepts command as a string, an array of argv words, or
// a {command, args[]} object, and adopts path as cwd when cwd is unset.
func normalizeBash(args map[string]any) {
	switch cmd := args["command"].(type) {
	case []any:
		parts := make([]string, 0, len(cmd))
		for _, item := range cmd {
			parts = append(parts, cast.ToString(item))
		}
		args["command"] = strings.Join(parts, " ")
	case map[string]any:
		parts := []string{cast.ToString(cmd["command"])}
		if extra, ok := cmd["args"].([]any); ok {
			for _, item := range extra {
				parts = append(parts, cast.ToString(item))
			}
		}
		args["command"] = strings.TrimSpace(strings.Join(parts, " "))
	}
	if _, ok := args["cwd"]; !ok {
		if path, ok := args["path"].(string); ok && path != "" {
			args["cwd"] = path
		}
	}
}

func normalizeRM(args map[string]any) {
	force, ok := args["force"].(string)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(force)) {
	case "true", "1", "yes":
		args["force"] = true
	case "false", "0", "no":
		args["force"] = false
	}
}

// todoStatuses maps loose status spellings to the canonical set.
var todoStatuses = map[string]string{
	"pending":    "pending",
	"todo":       "pending",
	"notstarted": "pending",
	"inprogress": "in_progress",
	"active":     "in_progress",
	"completed":  "completed",
	"complete":   "completed",
	"done":       "completed",
	"cancelled":  "completed",
}

func normalizeTodoWrite(args map[string]any) {
	todos, ok := args["todos"].([]any)
	if !ok {
		return
	}
	for _, item := range todos {
		todo, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if status, ok := todo["status"].(string); ok {
			todo["status"] = canonicalTodoStatus(status)
		}
		if _, ok := todo["priority"]; !ok {
			todo["priority"] = "medium"
		}
	}
}

func canonicalTodoStatus(status string) string {
	squashed := squashKey(strings.TrimPrefix(strings.ToUpper(status), "TODO_STATUS_"))
	squashed = strings.TrimPrefix(squashed, "todostatus")
	if canonical, ok := todoStatuses[squashed]; ok {
		return canonical
	}
	return status
}

// normalizeEdit repairs the common malformed edit shapes: stream-style
// content arrays, object-wrapped content, and missing old_string for
// full-file replacements. The new_string/old_string defaults are
// edit-specific; write calls get only the content stringification.
func normalizeEdit(args map[string]any) {
	stringifyContentArg(args)
	if _, ok := args["new_string"]; !ok {
		if content, ok := args["content"].(string); ok {
			args["new_string"] = content
		}
	}
	if _, ok := args["new_string"].(string); ok {
		if _, ok := args["old_string"]; !ok {
			args["old_string"] = ""
		}
	}
}

func stringifyContentArg(args map[string]any) {
	if content, ok := args["content"]; ok {
		if _, isString := content.(string); !isString {
			args["content"] = stringifyContent(content)
		}
	}
}

// stringifyContent projects a non-string content value to a string.
// Arrays join their items' projections; objects yield their first of
// text, content, or value; everything else is JSON-encoded.
func stringifyContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, item := range v {
			b.WriteString(stringifyContent(item))
		}
		return b.String()
	case map[string]any:
		for _, key := range []string{"text", "content", "value"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
		return jsonString(v)
	default:
		return jsonString(v)
	}
}

func jsonString(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return cast.ToString(v)
	}
	return string(raw)
}

// stripUnexpected removes keys absent from the schema's properties and
// returns them.
func stripUnexpected(args map[string]any, schema *Schema) []string {
	var removed []string
	for key := range args {
		if _, ok := schema.Properties[key]; !ok {
			removed = append(removed, key)
			delete(args, key)
		}
	}
	sort.Strings(removed)
	return removed
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}
