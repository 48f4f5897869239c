package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_Override(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir, "")
	if got := r.Resolve(Hints{Worktree: t.TempDir()}); got != canonicalize(dir) {
		t.Errorf("Resolve = %q, want override %q", got, dir)
	}
}

func TestResolve_WorktreeOutsidePrefix(t *testing.T) {
	prefix := t.TempDir()
	worktree := t.TempDir()
	r := NewResolver("", prefix)
	if got := r.Resolve(Hints{Worktree: worktree}); got != canonicalize(worktree) {
		t.Errorf("Resolve = %q, want worktree %q", got, worktree)
	}
}

func TestResolve_WorktreeInsidePrefixRejected(t *testing.T) {
	prefix := t.TempDir()
	inside := filepath.Join(prefix, "sub")
	if err := os.MkdirAll(inside, 0o755); err != nil {
		t.Fatal(err)
	}
	directory := t.TempDir()
	r := NewResolver("", prefix)
	got := r.Resolve(Hints{Worktree: inside, Directory: directory})
	if got != canonicalize(directory) {
		t.Errorf("Resolve = %q, want directory fallback %q", got, directory)
	}
}

func TestResolve_SessionPinSurvivesLostHint(t *testing.T) {
	prefix := t.TempDir()
	worktree := t.TempDir()
	r := NewResolver("", prefix)

	first := r.Resolve(Hints{SessionID: "s1", Worktree: worktree})
	second := r.Resolve(Hints{SessionID: "s1"})
	if second != first {
		t.Errorf("pinned workspace lost: first %q, second %q", first, second)
	}
}

func TestResolve_FallsBackToCwd(t *testing.T) {
	r := NewResolver("", t.TempDir())
	got := r.Resolve(Hints{})
	cwd, _ := os.Getwd()
	if got != canonicalize(cwd) {
		t.Errorf("Resolve = %q, want cwd %q", got, cwd)
	}
}

func TestCanonicalize_Symlink(t *testing.T) {
	target := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink: %v", err)
	}
	if got := canonicalize(link); got != canonicalize(target) {
		t.Errorf("canonicalize(%q) = %q, want %q", link, got, target)
	}
}
