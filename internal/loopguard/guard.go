package loopguard

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/acplabs/cursor-acp/internal/schemacompat"
)

// DefaultMaxRepeat is the threshold beyond which a repeated fingerprint
// terminates the turn.
const DefaultMaxRepeat = 2

// Decision reports one evaluation of the guard.
type Decision struct {
	Fingerprint string
	// CoarseFingerprint is the name+class counter key; the legacy
	// fallback resets it to grant a fresh budget of attempts.
	CoarseFingerprint string
	RepeatCount       int
	MaxRepeat         int
	ErrorClass        ErrorClass
	Triggered         bool
	// Tracked is false when the guard had nothing to count, e.g. an
	// unclassifiable call shape.
	Tracked bool
}

// Silent reports whether a triggered decision should end the turn
// without a user-visible diagnostic: loops of semantically successful
// calls are stopped quietly.
func (d Decision) Silent() bool {
	return d.Triggered && d.ErrorClass == ClassSuccess
}

// Guard holds per-request repeat counters, seeded from the request's
// prior assistant/tool messages. It is owned by a single request and is
// not safe for concurrent use.
type Guard struct {
	maxRepeat int

	strictFail       map[string]int
	coarseFail       map[string]int
	strictValidation map[string]int
	coarseValidation map[string]int
	success          map[string]int
	coarseSuccess    map[string]int

	classByCallID map[string]ErrorClass
	latestByName  map[string]ErrorClass
	latest        ErrorClass
	lastCoarse    string
}

// New creates a guard with the given repeat threshold; non-positive
// values fall back to DefaultMaxRepeat.
func New(maxRepeat int) *Guard {
	if maxRepeat <= 0 {
		maxRepeat = DefaultMaxRepeat
	}
	return &Guard{
		maxRepeat:        maxRepeat,
		strictFail:       map[string]int{},
		coarseFail:       map[string]int{},
		strictValidation: map[string]int{},
		coarseValidation: map[string]int{},
		success:          map[string]int{},
		coarseSuccess:    map[string]int{},
		classByCallID:    map[string]ErrorClass{},
		latestByName:     map[string]ErrorClass{},
		latest:           ClassUnknown,
	}
}

// MaxRepeat returns the configured threshold.
func (g *Guard) MaxRepeat() int { return g.maxRepeat }

// Seed pre-populates the counters from the request's prior messages:
// each assistant tool_call is matched to its role=tool reply by
// tool_call_id, classified, and counted exactly as a live call would be.
func (g *Guard) Seed(messages []openai.ChatCompletionMessage) {
	resultsByID := map[string]string{}
	for _, msg := range messages {
		if msg.Role == openai.ChatMessageRoleTool && msg.ToolCallID != "" {
			resultsByID[msg.ToolCallID] = msg.Content
		}
	}

	for _, msg := range messages {
		if msg.Role != openai.ChatMessageRoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		for _, tc := range msg.ToolCalls {
			name := strings.ToLower(tc.Function.Name)
			args, err := schemacompat.ParseArguments(tc.Function.Arguments)
			if err != nil {
				args = map[string]any{}
			}

			class := ClassUnknown
			if content, ok := resultsByID[tc.ID]; ok {
				class = Classify(content)
			}
			class = promote(name, class)

			if tc.ID != "" {
				g.classByCallID[tc.ID] = class
			}
			g.latestByName[name] = class
			g.latest = class

			g.count(name, args, class)
		}
	}
}

// RecordResult notes a classified result for calls the daemon observed
// outside the seeded history.
func (g *Guard) RecordResult(callID, name, content string) {
	class := promote(name, Classify(content))
	if callID != "" {
		g.classByCallID[callID] = class
	}
	g.latestByName[strings.ToLower(name)] = class
	g.latest = class
}

// Evaluate counts a new call and decides whether the turn must stop.
// The call's error class is resolved from the prior-result index:
// call-id match first, then the per-tool-name latest, then the global
// latest, then unknown, with the read-only success promotion applied.
func (g *Guard) Evaluate(callID, name string, args map[string]any) Decision {
	name = strings.ToLower(name)
	class := g.resolveClass(callID, name)

	// Success loops are judged by value equivalence, not shape, so they
	// never pollute the failure counters.
	if class == ClassSuccess {
		return g.evaluateSuccess(name, args)
	}

	shape := argShape(args)
	strict := strictKey(name, shape, class)
	coarse := coarseKey(name, class)

	g.strictFail[strict]++
	g.coarseFail[coarse]++

	return g.decide(class, strict, coarse, g.strictFail[strict], g.coarseFail[coarse])
}

// EvaluateValidation counts a schema-invalid call keyed by its
// validation signature.
func (g *Guard) EvaluateValidation(name string, missing, typeErrors []string) Decision {
	name = strings.ToLower(name)
	sig := validationSignature(missing, typeErrors)
	strict := name + "|" + sig
	coarse := coarseKey(name, ClassValidation)

	g.strictValidation[strict]++
	g.coarseValidation[coarse]++

	return g.decide(ClassValidation, strict, coarse, g.strictValidation[strict], g.coarseValidation[coarse])
}

// LastCoarseFingerprint is the coarse counter key of the most recent
// evaluation; the auto-fallback path resets it when swapping to legacy.
func (g *Guard) LastCoarseFingerprint() string { return g.lastCoarse }

// ResetFingerprint clears a counter across all tables, giving the
// legacy-fallback path a fresh budget of attempts.
func (g *Guard) ResetFingerprint(fingerprint string) {
	if fingerprint == "" {
		return
	}
	delete(g.strictFail, fingerprint)
	delete(g.coarseFail, fingerprint)
	delete(g.strictValidation, fingerprint)
	delete(g.coarseValidation, fingerprint)
	delete(g.success, fingerprint)
	delete(g.coarseSuccess, fingerprint)
}

func (g *Guard) resolveClass(callID, name string) ErrorClass {
	if callID != "" {
		if class, ok := g.classByCallID[callID]; ok {
			return promote(name, class)
		}
	}
	if class, ok := g.latestByName[name]; ok {
		return promote(name, class)
	}
	return promote(name, g.latest)
}

func (g *Guard) count(name string, args map[string]any, class ErrorClass) {
	if class == ClassSuccess {
		g.success[name+"|"+valueSignature(args)]++
		if key, ok := coarseSuccessKey(name, args); ok {
			g.coarseSuccess[key]++
		}
		return
	}
	shape := argShape(args)
	g.strictFail[strictKey(name, shape, class)]++
	g.coarseFail[coarseKey(name, class)]++
	if class == ClassValidation {
		g.coarseValidation[coarseKey(name, ClassValidation)]++
	}
}

func (g *Guard) evaluateSuccess(name string, args map[string]any) Decision {
	valueKey := name + "|" + valueSignature(args)
	g.success[valueKey]++
	valueCount := g.success[valueKey]

	coarseSucc := 0
	coarseSuccKey := ""
	if key, ok := coarseSuccessKey(name, args); ok {
		g.coarseSuccess[key]++
		coarseSucc = g.coarseSuccess[key]
		coarseSuccKey = key
		g.lastCoarse = key
	}

	decision := Decision{
		Fingerprint:       valueKey,
		CoarseFingerprint: coarseSuccKey,
		RepeatCount:       valueCount,
		MaxRepeat:         g.maxRepeat,
		ErrorClass:        ClassSuccess,
		Tracked:           true,
	}
	switch {
	case valueCount > g.maxRepeat:
		decision.Triggered = true
	case coarseSucc > g.maxRepeat:
		decision.Triggered = true
		decision.Fingerprint = coarseSuccKey
		decision.RepeatCount = coarseSucc
	}
	return decision
}

// coarseSuccessKey applies only to edit/write calls whose arguments
// describe a full-file replacement: same path hit repeatedly, even with
// different content, counts as the same loop.
func coarseSuccessKey(name string, args map[string]any) (string, bool) {
	if name != "edit" && name != "write" {
		return "", false
	}
	path, _ := args["path"].(string)
	if path == "" {
		return "", false
	}
	if !fullFileReplace(name, args) {
		return "", false
	}
	return name + "|path:" + pathHash(path), true
}

func fullFileReplace(name string, args map[string]any) bool {
	if name == "write" {
		return true
	}
	old, ok := args["old_string"]
	if !ok {
		return true
	}
	s, isString := old.(string)
	return isString && s == ""
}

func (g *Guard) decide(class ErrorClass, strict, coarse string, strictCount, coarseCount int) Decision {
	g.lastCoarse = coarse
	decision := Decision{
		Fingerprint:       strict,
		CoarseFingerprint: coarse,
		RepeatCount:       strictCount,
		MaxRepeat:         g.maxRepeat,
		ErrorClass:        class,
		Tracked:           true,
	}
	strictTriggered := strictCount > g.maxRepeat
	coarseTriggered := coarseCount > g.maxRepeat

	switch {
	case strictTriggered:
		decision.Triggered = true
	case coarseTriggered:
		// Report the coarse fingerprint only when strict did not fire,
		// so telemetry stays legible.
		decision.Triggered = true
		decision.Fingerprint = coarse
		decision.RepeatCount = coarseCount
	}
	return decision
}
