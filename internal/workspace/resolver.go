// Package workspace picks the directory the upstream agent runs in.
package workspace

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pinCapacity bounds the session→workspace pin cache.
const pinCapacity = 200

// Resolver applies the workspace resolution order:
//
//  1. the explicit override,
//  2. the caller's worktree when it lives outside the config prefix,
//  3. the workspace pinned for the session (for requests that lost
//     their worktree hint),
//  4. the caller's directory when outside the config prefix,
//  5. the process working directory,
//  6. the config prefix itself.
type Resolver struct {
	// Override wins over everything when set.
	Override string
	// ConfigPrefix is the daemon's own config directory; worktree and
	// directory hints inside it are ignored.
	ConfigPrefix string

	pins *lru.Cache[string, string]
}

// NewResolver builds a resolver. The pin cache is always created; LRU
// eviction keeps it bounded across long-lived daemons.
func NewResolver(override, configPrefix string) *Resolver {
	pins, _ := lru.New[string, string](pinCapacity)
	return &Resolver{
		Override:     override,
		ConfigPrefix: canonicalize(configPrefix),
		pins:         pins,
	}
}

// Hints carries the caller-supplied location hints for one request.
type Hints struct {
	SessionID string
	Worktree  string
	Directory string
}

// Resolve returns the workspace for a request and pins it for the
// session when one is identified.
func (r *Resolver) Resolve(h Hints) string {
	dir := r.resolve(h)
	if h.SessionID != "" && dir != "" {
		r.pins.Add(h.SessionID, dir)
	}
	return dir
}

func (r *Resolver) resolve(h Hints) string {
	if r.Override != "" {
		return canonicalize(r.Override)
	}
	if dir := r.acceptOutsidePrefix(h.Worktree); dir != "" {
		return dir
	}
	if h.SessionID != "" {
		if pinned, ok := r.pins.Get(h.SessionID); ok {
			return pinned
		}
	}
	if dir := r.acceptOutsidePrefix(h.Directory); dir != "" {
		return dir
	}
	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		return canonicalize(cwd)
	}
	return r.ConfigPrefix
}

// acceptOutsidePrefix canonicalizes a hint and rejects it when it falls
// under the config prefix.
func (r *Resolver) acceptOutsidePrefix(hint string) string {
	if strings.TrimSpace(hint) == "" {
		return ""
	}
	dir := canonicalize(hint)
	if dir == "" || r.underConfigPrefix(dir) {
		return ""
	}
	return dir
}

func (r *Resolver) underConfigPrefix(dir string) bool {
	if r.ConfigPrefix == "" {
		return false
	}
	prefix := r.ConfigPrefix
	candidate := dir
	// HFS+ and APFS are case-insensitive by default.
	if runtime.GOOS == "darwin" {
		prefix = strings.ToLower(prefix)
		candidate = strings.ToLower(candidate)
	}
	if candidate == prefix {
		return true
	}
	return strings.HasPrefix(candidate, prefix+string(filepath.Separator))
}

// canonicalize resolves a path through the file system, following
// symlinks. Paths that do not exist are kept in absolute form.
func canonicalize(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}
