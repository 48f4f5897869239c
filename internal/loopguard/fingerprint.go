package loopguard

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// argShape renders a recursive, key-sorted skeleton of the arguments
// with scalar types in place of values, so calls that differ only in
// scalar content still share a strict fingerprint.
func argShape(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+argShape(val[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		if len(val) == 0 {
			return "[]"
		}
		return "[" + argShape(val[0]) + "]"
	case string:
		return "str"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64:
		return "num"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", val)
	}
}

// valueSignature canonicalizes arguments to key-sorted JSON, capturing
// the full values. encoding/json sorts map keys, which is exactly the
// canonical form needed.
func valueSignature(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return argShape(args)
	}
	return string(raw)
}

// validationSignature derives a stable key from a validation failure.
func validationSignature(missing, typeErrors []string) string {
	m := append([]string(nil), missing...)
	t := append([]string(nil), typeErrors...)
	sort.Strings(m)
	sort.Strings(t)
	return "missing=" + strings.Join(m, ",") + "|types=" + strings.Join(t, ",")
}

func pathHash(path string) string {
	h := fnv.New32a()
	h.Write([]byte(path))
	return fmt.Sprintf("%08x", h.Sum32())
}

func strictKey(name, shape string, class ErrorClass) string {
	return name + "|" + shape + "|" + string(class)
}

func coarseKey(name string, class ErrorClass) string {
	return name + "|" + string(class)
}
