package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/substrate"
	"github.com/odgrim/abathur/internal/worktree"
)

// fakeAdapter is a stand-in substrate.Adapter that returns a fixed
// Complete response without spawning any process.
type fakeAdapter struct {
	status substrate.Status
}

func (f *fakeAdapter) Invoke(ctx context.Context, req substrate.Request) (substrate.Response, error) {
	return substrate.Response{SessionID: "s1", OutputText: "done", Status: f.status, TurnsUsed: 1}, nil
}
func (f *fakeAdapter) ContinueSession(ctx context.Context, sessionID, msg string) (substrate.Response, error) {
	return substrate.Response{}, nil
}
func (f *fakeAdapter) TerminateSession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeAdapter) HealthCheck(ctx context.Context) error                       { return nil }

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
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

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "abathur.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func setupTask(t *testing.T, s *store.Store) store.Task {
	t.Helper()
	ctx := context.Background()

	goal, err := s.Goals.Create(ctx, store.Goal{
		Name:   "ship-feature",
		Status: store.GoalStatusActive,
		Constraints: []store.Constraint{
			{Name: "no-secrets", Kind: store.ConstraintInvariant, Text: "never commit credentials"},
		},
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	tmpl, err := s.Templates.Deploy(ctx, store.AgentTemplate{
		Name:     "implementer",
		Tier:     store.TierExecution,
		Version:  1,
		IsActive: true,
		SystemPrompt: "implement the task",
		MaxTurns: 10,
	})
	if err != nil {
		t.Fatalf("deploy template: %v", err)
	}

	task, err := s.Tasks.Create(ctx, store.Task{
		GoalID:          &goal.ID,
		Title:           "add a feature",
		Description:     "implement it",
		AgentType:       "implementer",
		Priority:        5,
		MaxRetries:      3,
		Source:          store.TaskSourceHuman,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := s.Tasks.Transition(ctx, task.ID, store.TaskStatusReady, ""); err != nil {
		t.Fatalf("transition task to ready: %v", err)
	}
	task, err = s.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}

func TestRunAttempt_CompletesAndMerges(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	task := setupTask(t, s)

	wt := worktree.New(repo, t.TempDir(), s.Worktrees)
	b := bus.New()
	exec := New(s, wt, &fakeAdapter{status: substrate.StatusComplete}, b, nil)

	if err := exec.RunAttempt(context.Background(), task.ID, 1); err != nil {
		t.Fatalf("run attempt: %v", err)
	}

	final, err := s.Tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if final.Status != store.TaskStatusComplete {
		t.Fatalf("expected task complete, got %s (failure_reason=%q)", final.Status, final.FailureReason)
	}
}

func TestRunAttempt_PermanentFailureSetsReason(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	task := setupTask(t, s)

	wt := worktree.New(repo, t.TempDir(), s.Worktrees)
	exec := New(s, wt, &fakeAdapter{status: substrate.StatusMaxTurns}, bus.New(), nil)

	if err := exec.RunAttempt(context.Background(), task.ID, 1); err == nil {
		t.Fatal("expected error for max-turns outcome")
	}

	final, err := s.Tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if final.FailureReason == "" {
		t.Fatal("expected a failure reason to be recorded")
	}
}
