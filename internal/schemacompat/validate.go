package schemacompat

import (
	"fmt"
	"math"
	"sort"
)

// ValidationResult reports how a normalized call compares to its
// declared schema. OK holds exactly when Missing and TypeErrors are both
// empty; Unexpected is informational.
type ValidationResult struct {
	HasSchema  bool
	OK         bool
	Missing    []string
	Unexpected []string
	TypeErrors []string
	RepairHint string
}

// Validate checks args against schema. A nil schema validates anything.
func Validate(args map[string]any, schema *Schema) ValidationResult {
	if schema == nil {
		return ValidationResult{HasSchema: false, OK: true}
	}
	result := ValidationResult{HasSchema: true}

	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			result.Missing = append(result.Missing, required)
		}
	}
	sort.Strings(result.Missing)

	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, declared := schema.Properties[key]
		if !declared {
			result.Unexpected = append(result.Unexpected, key)
			continue
		}
		val := args[key]
		if len(prop.Type) > 0 && !typeMatches(val, prop.Type) {
			result.TypeErrors = append(result.TypeErrors,
				fmt.Sprintf("%s: expected %s, got %s", key, typeSetString(prop.Type), runtimeType(val)))
			continue
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, val) {
			result.TypeErrors = append(result.TypeErrors,
				fmt.Sprintf("%s: value not in enum", key))
		}
	}

	result.OK = len(result.Missing) == 0 && len(result.TypeErrors) == 0
	return result
}

func typeMatches(val any, types TypeSet) bool {
	for _, t := range types {
		if matchesOne(val, t) {
			return true
		}
	}
	return false
}

func matchesOne(val any, schemaType string) bool {
	switch schemaType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		return isNumber(val)
	case "integer":
		return isInteger(val)
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "null":
		return val == nil
	default:
		// Unknown declared type: do not fail the call over it.
		return true
	}
}

// encoding/json decodes numbers to float64; the integer cases cover
// values produced by tool normalizers.
func isNumber(val any) bool {
	switch val.(type) {
	case float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

func isInteger(val any) bool {
	switch v := val.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == math.Trunc(v)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	default:
		return false
	}
}

func runtimeType(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", val)
	}
}

func typeSetString(types TypeSet) string {
	if len(types) == 1 {
		return types[0]
	}
	out := ""
	for i, t := range types {
		if i > 0 {
			out += "|"
		}
		out += t
	}
	return out
}

func enumContains(enum []any, val any) bool {
	for _, candidate := range enum {
		if jsonEqual(candidate, val) {
			return true
		}
	}
	return false
}
