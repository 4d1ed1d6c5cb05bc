package reactor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/evolution"
	"github.com/odgrim/abathur/internal/executor"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/substrate"
	"github.com/odgrim/abathur/internal/worktree"
)

type fakeAdapter struct{ status substrate.Status }

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

func setupReadyTask(t *testing.T, s *store.Store) store.Task {
	t.Helper()
	ctx := context.Background()

	goal, err := s.Goals.Create(ctx, store.Goal{Name: "ship-it", Status: store.GoalStatusActive})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	tmpl, err := s.Templates.Deploy(ctx, store.AgentTemplate{
		Name: "implementer", Tier: store.TierExecution, Version: 1, IsActive: true,
		SystemPrompt: "implement", MaxTurns: 10,
	})
	if err != nil {
		t.Fatalf("deploy template: %v", err)
	}
	task, err := s.Tasks.Create(ctx, store.Task{
		GoalID: &goal.ID, Title: "do it", Description: "do it", AgentType: "implementer",
		Priority: 5, MaxRetries: 3, Source: store.TaskSourceHuman,
		TemplateName: tmpl.Name, TemplateVersion: tmpl.Version,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := s.Tasks.Transition(ctx, task.ID, store.TaskStatusReady, ""); err != nil {
		t.Fatalf("transition to ready: %v", err)
	}
	task, err = s.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}

func TestReactor_TickDispatchesReadyTask(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	task := setupReadyTask(t, s)

	wt := worktree.New(repo, t.TempDir(), s.Worktrees)
	b := bus.New()
	exec := executor.New(s, wt, &fakeAdapter{status: substrate.StatusComplete}, b, nil)

	r := New(Config{Store: s, Bus: b, Executor: exec, Concurrency: 2, PollInterval: 50 * time.Millisecond})
	r.tick(context.Background())
	r.active.Wait()

	final, err := s.Tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if final.Status != store.TaskStatusComplete {
		t.Fatalf("expected task completed by reactor tick, got status %s", final.Status)
	}
}

func TestReactor_TickRecomputesTaskPriority(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	task := setupReadyTask(t, s)

	wt := worktree.New(repo, t.TempDir(), s.Worktrees)
	b := bus.New()
	exec := executor.New(s, wt, &fakeAdapter{status: substrate.StatusComplete}, b, nil)

	r := New(Config{Store: s, Bus: b, Executor: exec, Concurrency: 0, PollInterval: 50 * time.Millisecond})
	r.recomputePriorities(context.Background())

	scored, err := s.Tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if scored.CalculatedPriority == 0 {
		t.Fatalf("expected calculated_priority to be set by recomputePriorities, got 0")
	}
}

func TestReactor_DispatchFeedsEvolutionOutcome(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	task := setupReadyTask(t, s)

	wt := worktree.New(repo, t.TempDir(), s.Worktrees)
	b := bus.New()
	exec := executor.New(s, wt, &fakeAdapter{status: substrate.StatusComplete}, b, nil)
	evo := evolution.New(s, b, evolution.Config{WindowSize: 1, MinorThreshold: 0.6, MajorThreshold: 0.4})

	r := New(Config{Store: s, Bus: b, Executor: exec, Evolution: evo, Concurrency: 2, PollInterval: 50 * time.Millisecond})
	r.tick(context.Background())
	r.active.Wait()

	successes, total, err := s.CountOutcomes(context.Background(), task.TemplateName, task.TemplateVersion, 1)
	if err != nil {
		t.Fatalf("count outcomes: %v", err)
	}
	if total != 1 || successes != 1 {
		t.Fatalf("expected one recorded success outcome, got successes=%d total=%d", successes, total)
	}
}

func TestReactor_BreachedLimitsSkipDispatchAndEnqueueEvaluation(t *testing.T) {
	repo := initTestRepo(t)
	s := openTestStore(t)
	task := setupReadyTask(t, s)

	wt := worktree.New(repo, t.TempDir(), s.Worktrees)
	b := bus.New()
	exec := executor.New(s, wt, &fakeAdapter{status: substrate.StatusComplete}, b, nil)

	r := New(Config{
		Store: s, Bus: b, Executor: exec, Concurrency: 2, PollInterval: 50 * time.Millisecond,
		Limits: Limits{MaxDepth: 5, MaxDirectSubtasks: 0, MaxDescendants: 50},
	})
	r.tick(context.Background())
	r.active.Wait()

	final, err := s.Tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if final.Status != store.TaskStatusReady {
		t.Fatalf("expected breached task to stay Ready (not dispatched), got %s", final.Status)
	}

	children, err := s.Tasks.CountDirectChildren(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("count children: %v", err)
	}
	if children != 1 {
		t.Fatalf("expected one limit-evaluation task enqueued, got %d children", children)
	}
}

func TestReactor_HandleMergeEvent_EnqueuesConflictResolver(t *testing.T) {
	s := openTestStore(t)
	task := setupReadyTask(t, s)

	b := bus.New()
	r := New(Config{Store: s, Bus: b, Concurrency: 2, PollInterval: time.Hour})

	r.handleMergeEvent(context.Background(), bus.Event{
		Topic: bus.TopicMergeConflict,
		Payload: bus.MergeConflictEvent{
			TaskID: task.ID, Stage: "task_to_parent", ParentBranch: "main",
			ConflictFiles: []string{"a.go", "b.go"},
		},
	})

	children, err := s.Tasks.CountDirectChildren(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("count children: %v", err)
	}
	if children != 1 {
		t.Fatalf("expected one merge-conflict-resolver task enqueued, got %d children", children)
	}
}

func TestReactor_HandleMergeEvent_IgnoresNonConflictPayload(t *testing.T) {
	s := openTestStore(t)
	task := setupReadyTask(t, s)

	b := bus.New()
	r := New(Config{Store: s, Bus: b, Concurrency: 2, PollInterval: time.Hour})

	r.handleMergeEvent(context.Background(), bus.Event{
		Topic:   bus.TopicMergeStageComplete,
		Payload: "agent_to_task",
	})

	children, err := s.Tasks.CountDirectChildren(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("count children: %v", err)
	}
	if children != 0 {
		t.Fatalf("expected no task enqueued for a non-conflict merge event, got %d children", children)
	}
}

func TestTemplateBreakers_TripsAfterThreshold(t *testing.T) {
	tb := NewTemplateBreakers(3, time.Hour)
	for i := 0; i < 2; i++ {
		if tb.RecordFailure("implementer") {
			t.Fatalf("should not trip before threshold")
		}
	}
	if !tb.RecordFailure("implementer") {
		t.Fatalf("expected trip at threshold")
	}
	if !tb.Tripped("implementer") {
		t.Fatalf("expected breaker tripped")
	}
}

func TestBudgetTracker_ReducesConcurrencyPastThresholds(t *testing.T) {
	bt := NewBudgetTracker(BudgetConfig{CautionUSD: 10, WarningUSD: 25, CriticalUSD: 50})
	if got := bt.Concurrency(8); got != 8 {
		t.Fatalf("expected full concurrency at zero spend, got %d", got)
	}
	bt.RecordCost(12)
	if got := bt.Concurrency(8); got != 6 {
		t.Fatalf("expected 75%% concurrency past caution, got %d", got)
	}
	bt.RecordCost(20)
	if got := bt.Concurrency(8); got != 4 {
		t.Fatalf("expected 50%% concurrency past warning, got %d", got)
	}
	bt.RecordCost(30)
	if got := bt.Concurrency(8); got != 2 {
		t.Fatalf("expected 25%% concurrency past critical, got %d", got)
	}
}

func TestStallDetector_AlertsOnceThenClearsAfterTouch(t *testing.T) {
	sd := NewStallDetector(time.Minute)
	now := time.Now()
	sd.Touch("goal-1", now)

	if sd.CheckStalled("goal-1", now.Add(3*time.Minute)) != true {
		t.Fatalf("expected stall detected past 2x interval")
	}
	if sd.CheckStalled("goal-1", now.Add(4*time.Minute)) {
		t.Fatalf("expected no duplicate alert before Touch")
	}
	sd.Touch("goal-1", now.Add(5*time.Minute))
	if sd.CheckStalled("goal-1", now.Add(5*time.Minute)) {
		t.Fatalf("expected no stall immediately after touch")
	}
}
