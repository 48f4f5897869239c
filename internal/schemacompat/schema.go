package schemacompat

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
)

// Schema is the subset of JSON Schema the validator understands:
// object schemas with typed properties, required lists, enums, and the
// additionalProperties switch.
type Schema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required"`
	AdditionalProperties *bool               `json:"additionalProperties"`
}

// Property describes one declared argument.
type Property struct {
	// Type is a string or a union of strings.
	Type TypeSet `json:"type"`
	Enum []any   `json:"enum"`
}

// TypeSet is a JSON Schema type declaration: either "string" or
// ["string","null"].
type TypeSet []string

// UnmarshalJSON accepts both scalar and array forms.
func (t *TypeSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeSet{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*t = TypeSet(many)
	return nil
}

// DisallowsAdditional reports whether additionalProperties is explicitly
// false.
func (s *Schema) DisallowsAdditional() bool {
	return s != nil && s.AdditionalProperties != nil && !*s.AdditionalProperties
}

var compileCache sync.Map

// compileGate checks that a declared schema is itself valid JSON Schema.
// Schemas that do not compile are treated as absent so a caller's typo
// never breaks interception.
func compileGate(raw []byte) bool {
	key := string(raw)
	if ok, hit := compileCache.Load(key); hit {
		return ok.(bool)
	}
	_, err := jsonschema.CompileString("tool.schema.json", key)
	compileCache.Store(key, err == nil)
	return err == nil
}

// BuildSchemaMap parses the caller-declared tools into a schema map
// keyed by lowercased tool name. Tools without parameters, or with
// parameters that fail to compile as JSON Schema, map to nil (no
// schema).
func BuildSchemaMap(tools []openai.Tool) map[string]*Schema {
	if len(tools) == 0 {
		return nil
	}
	schemas := make(map[string]*Schema, len(tools))
	for _, tool := range tools {
		if tool.Function == nil || tool.Function.Name == "" {
			continue
		}
		name := strings.ToLower(tool.Function.Name)
		schemas[name] = parseSchema(tool.Function.Parameters)
	}
	return schemas
}

func parseSchema(params any) *Schema {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil || string(raw) == "null" {
		return nil
	}
	if !compileGate(raw) {
		return nil
	}
	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	return &schema
}
