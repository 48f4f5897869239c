// Package schemacompat normalizes intercepted tool-call arguments,
// validates them against caller-declared JSON Schemas, and produces
// repair hints for calls that cannot be fixed structurally.
package schemacompat

import "strings"

// canonicalAliases maps squashed argument keys (lowercased, stripped to
// alphanumerics) to their canonical names. The table covers the common
// equivalents coding agents emit in the wild.
var canonicalAliases = map[string]string{
	"filepath":         "path",
	"filename":         "path",
	"file":             "path",
	"targetpath":       "path",
	"globpattern":      "pattern",
	"filepattern":      "pattern",
	"searchpattern":    "pattern",
	"cmd":              "command",
	"script":           "command",
	"shellcommand":     "command",
	"workingdirectory": "cwd",
	"workdir":          "cwd",
	"contents":         "content",
	"text":             "content",
	"streamcontent":    "content",
	"recursive":        "force",
	"oldstring":        "old_string",
	"newstring":        "new_string",
}

// squashKey lowercases a key and strips everything but alphanumerics, so
// "old_string", "oldString" and "Old-String" all squash to "oldstring".
func squashKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalKey resolves an argument key to its canonical name. Keys
// without an alias pass through unchanged.
func CanonicalKey(key string) string {
	if canonical, ok := canonicalAliases[squashKey(key)]; ok {
		return canonical
	}
	return key
}
