package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/odgrim/abathur/internal/store"
)

// initTestRepo creates a real git repository with one commit on main,
// the same shape ensureGitRepo produces, so Provision has a base ref to
// fork branches from.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		if _, err := runGitForTest(dir, args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func runGitForTest(dir string, args ...string) (string, error) {
	return run(context.Background(), dir, args...)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "abathur.db")
	s, err := store.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProvision_CreatesWorktreeAndBranches(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	m := New(repo, t.TempDir(), s.Worktrees)

	w, err := m.Provision(context.Background(), "task-1", "main", 1)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if w.Branch != "agent/task-1/1" {
		t.Fatalf("unexpected branch: %q", w.Branch)
	}
	if w.BaseRef != "task/task-1" {
		t.Fatalf("unexpected base ref: %q", w.BaseRef)
	}
	if _, err := os.Stat(w.Path); err != nil {
		t.Fatalf("worktree dir missing: %v", err)
	}
}

func TestProvision_SecondAttemptReusesTaskBranch(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	m := New(repo, t.TempDir(), s.Worktrees)

	ctx := context.Background()
	if _, err := m.Provision(ctx, "task-2", "main", 1); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	if err := m.Remove(ctx, store.Worktree{Path: filepath.Join(m.runtimeDir, "worktrees", "task-2")}); err == nil {
		// best-effort cleanup between attempts; not asserting success here
	}
	w2, err := m.Provision(ctx, "task-2", "main", 2)
	if err != nil {
		t.Fatalf("second provision: %v", err)
	}
	if w2.Branch != "agent/task-2/2" {
		t.Fatalf("unexpected branch on retry: %q", w2.Branch)
	}
	if w2.BaseRef != "task/task-2" {
		t.Fatalf("task branch should be reused across attempts, got base %q", w2.BaseRef)
	}
}

func TestResolve_ParsesWorktreeURI(t *testing.T) {
	m := &Manager{runtimeDir: "/var/run/abathur"}
	path, err := m.Resolve("worktree://task-9/src/main.go")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join("/var/run/abathur", "worktrees", "task-9", "src/main.go")
	if path != want {
		t.Fatalf("got %q, want %q", path, want)
	}
}

func TestResolve_RejectsWrongScheme(t *testing.T) {
	m := &Manager{runtimeDir: "/var/run/abathur"}
	if _, err := m.Resolve("file:///etc/passwd"); err == nil {
		t.Fatal("expected error for non-worktree URI")
	}
}

func TestMergeAgentIntoTask_FastForwards(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	m := New(repo, t.TempDir(), s.Worktrees)
	ctx := context.Background()

	w, err := m.Provision(ctx, "task-3", "main", 1)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	if err := os.WriteFile(filepath.Join(w.Path, "change.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("write change: %v", err)
	}
	if _, err := run(ctx, w.Path, "add", "."); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if _, err := run(ctx, w.Path, "commit", "-m", "agent change"); err != nil {
		t.Fatalf("git commit: %v", err)
	}

	outcome, err := m.MergeAgentIntoTask(ctx, w)
	if err != nil {
		t.Fatalf("merge agent into task: %v", err)
	}
	if !outcome.Merged {
		t.Fatalf("expected clean merge, got conflicts: %v", outcome.ConflictFiles)
	}
}
