package loopguard

import "fmt"

// DiagnosticMessage renders the user-visible explanation for a
// triggered decision. Success loops return an empty message; the
// pipeline ends those turns silently.
func (d Decision) DiagnosticMessage(tool string) string {
	if !d.Triggered {
		return ""
	}
	switch d.ErrorClass {
	case ClassSuccess:
		return ""
	case ClassValidation:
		return fmt.Sprintf(
			"Tool loop guard stopped repeated schema-invalid calls to %q (%d attempts, limit %d). The arguments keep failing validation in the same way; change the approach instead of retrying.",
			tool, d.RepeatCount, d.MaxRepeat)
	default:
		return fmt.Sprintf(
			"Tool loop guard stopped repeated failing calls to %q (%d attempts, limit %d, error class %s). The same call keeps failing; change the arguments or try a different tool.",
			tool, d.RepeatCount, d.MaxRepeat, d.ErrorClass)
	}
}
