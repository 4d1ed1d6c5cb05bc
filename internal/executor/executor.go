// Package executor runs one task attempt end to end: provision a
// worktree, assemble a substrate request from the task's bound
// AgentTemplate version plus goal constraints and memory context,
// invoke the substrate, merge the result, and record the outcome.
// It claims the task, runs a heartbeat goroutine, enforces a timeout
// context, observes cancellation, and publishes a completion/failure
// event — the same shape as any claim/heartbeat/timeout worker loop,
// generalized here to drive a task attempt through worktree + substrate
// + merge.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/enginerr"
	"github.com/odgrim/abathur/internal/memory"
	"github.com/odgrim/abathur/internal/shared"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/substrate"
	"github.com/odgrim/abathur/internal/worktree"
)

// defaultTurnTimeout is the per-turn substrate timeout when a template
// doesn't specify one.
const defaultTurnTimeout = 5 * time.Minute

const heartbeatInterval = 10 * time.Second

// Executor ties the repository layer, worktree manager, and substrate
// adapter together into one task-attempt lifecycle.
type Executor struct {
	store     *store.Store
	worktrees *worktree.Manager
	adapter   substrate.Adapter
	bus       *bus.Bus
	verifier  IntegrationVerifier
	retriever *memory.Retriever
}

// New builds an Executor. verifier may be nil, in which case
// NoopVerifier is used. Memory context is retrieved by the weighted
// relevance scorer with no embedding provider configured; call
// SetEmbeddingProvider to switch it to cosine-over-embeddings.
func New(s *store.Store, wt *worktree.Manager, adapter substrate.Adapter, b *bus.Bus, verifier IntegrationVerifier) *Executor {
	if verifier == nil {
		verifier = NoopVerifier
	}
	return &Executor{store: s, worktrees: wt, adapter: adapter, bus: b, verifier: verifier, retriever: memory.NewRetriever(nil)}
}

// SetEmbeddingProvider swaps the retriever's semantic_sim source from
// the lexical TF-IDF/Jaccard/bigram composite to cosine similarity over
// embedder's vectors.
func (e *Executor) SetEmbeddingProvider(embedder memory.EmbeddingProvider) {
	e.retriever = memory.NewRetriever(embedder)
}

// RunAttempt drives one attempt of a Ready task through Running to a
// terminal outcome (Complete, or Failed/retried), publishing the state
// transitions and merge events on the bus as they commit.
func (e *Executor) RunAttempt(ctx context.Context, taskID string, attempt int) error {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	ctx = shared.WithTaskID(ctx, taskID)

	task, err := e.store.Tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	runResult, err := e.store.Tasks.Transition(ctx, taskID, store.TaskStatusRunning, "")
	if err != nil {
		return fmt.Errorf("transition task %s to running: %w", taskID, err)
	}
	task = runResult.Task
	e.emit(ctx, bus.TopicTaskRunning, "task", "TaskStateChangedEvent", bus.TaskStateChangedEvent{
		TaskID: taskID, OldStatus: string(store.TaskStatusReady), NewStatus: string(store.TaskStatusRunning),
	})

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	go e.heartbeatLoop(heartbeatCtx, taskID)
	defer stopHeartbeat()

	w, req, err := e.prepare(ctx, task, attempt)
	if err != nil {
		return e.fail(ctx, task, fmt.Errorf("prepare attempt: %w", err))
	}

	resp, err := e.adapter.Invoke(ctx, req)
	if err != nil {
		return e.fail(ctx, task, classify(err))
	}

	switch resp.Status {
	case substrate.StatusComplete:
		// fallthrough to merge + complete
	case substrate.StatusMaxTurns:
		return e.fail(ctx, task, enginerr.Permanent(fmt.Errorf("exhausted max_turns without completing")))
	case substrate.StatusTimeout:
		return e.fail(ctx, task, enginerr.Transient(fmt.Errorf("substrate invocation timed out")))
	default:
		return e.fail(ctx, task, enginerr.Permanent(fmt.Errorf("substrate reported status %s", resp.Status)))
	}

	stage1, err := e.worktrees.MergeAgentIntoTask(ctx, w)
	if err != nil {
		return e.fail(ctx, task, enginerr.Transient(fmt.Errorf("merge agent into task: %w", err)))
	}
	if !stage1.Merged {
		e.emit(ctx, bus.TopicMergeConflict, "merge", "MergeConflictEvent", bus.MergeConflictEvent{
			TaskID: taskID, Stage: "agent_to_task", ParentBranch: w.BaseRef, ConflictFiles: stage1.ConflictFiles,
		})
		return e.fail(ctx, task, enginerr.Permanent(fmt.Errorf("unresolved merge conflict in %s", strings.Join(stage1.ConflictFiles, ", "))))
	}
	e.emit(ctx, bus.TopicMergeStageComplete, "merge", "string", "agent_to_task")

	parentBranch := task.FeatureBranch
	if parentBranch == "" {
		parentBranch = "main"
	}
	verify := func(vctx context.Context, branch string) error { return e.verifier.Verify(vctx, branch) }
	stage2, err := e.worktrees.MergeTaskIntoParent(ctx, w.BaseRef, parentBranch, verify, e.bus, taskID)
	if err != nil {
		return e.fail(ctx, task, enginerr.Permanent(fmt.Errorf("stage two merge: %w", err)))
	}
	if !stage2.Merged {
		return e.fail(ctx, task, enginerr.Permanent(fmt.Errorf("unresolved merge conflict onto %s: %s", parentBranch, strings.Join(stage2.ConflictFiles, ", "))))
	}
	e.emit(ctx, bus.TopicMergeStageComplete, "merge", "string", "task_to_parent")

	if err := e.worktrees.Remove(ctx, w); err != nil {
		slog.Warn("worktree cleanup failed after successful merge", "task_id", taskID, "error", err)
	}

	completeResult, err := e.store.Tasks.Transition(ctx, taskID, store.TaskStatusComplete, "")
	if err != nil {
		return fmt.Errorf("transition task %s to complete: %w", taskID, err)
	}
	e.emit(ctx, bus.TopicTaskCompleted, "task", "TaskStateChangedEvent", bus.TaskStateChangedEvent{
		TaskID: taskID, OldStatus: string(store.TaskStatusRunning), NewStatus: string(store.TaskStatusComplete),
	})
	for _, ready := range completeResult.CascadedReady {
		e.emit(ctx, bus.TopicTaskReady, "task", "TaskStateChangedEvent", bus.TaskStateChangedEvent{
			TaskID: ready.ID, OldStatus: string(store.TaskStatusBlocked), NewStatus: string(store.TaskStatusReady),
		})
	}
	return nil
}

// prepare provisions the worktree and assembles the substrate request
// for a task's current attempt.
func (e *Executor) prepare(ctx context.Context, task store.Task, attempt int) (store.Worktree, substrate.Request, error) {
	parentBranch := task.FeatureBranch
	if parentBranch == "" {
		parentBranch = "main"
	}
	w, err := e.worktrees.Provision(ctx, task.ID, parentBranch, attempt)
	if err != nil {
		return store.Worktree{}, substrate.Request{}, fmt.Errorf("provision worktree: %w", err)
	}
	e.emit(ctx, bus.TopicWorktreeProvisioned, "worktree", "string", w.Path)

	tmpl, err := e.store.Templates.GetVersion(ctx, task.TemplateName, task.TemplateVersion)
	if err != nil {
		return store.Worktree{}, substrate.Request{}, fmt.Errorf("load bound template %s v%d: %w", task.TemplateName, task.TemplateVersion, err)
	}

	var constraints []store.Constraint
	if task.GoalID != nil {
		constraints, err = e.store.Goals.ActiveConstraints(ctx, *task.GoalID)
		if err != nil {
			return store.Worktree{}, substrate.Request{}, fmt.Errorf("load goal constraints: %w", err)
		}
	}

	memories, err := e.store.Memories.ListActiveByNamespace(ctx, task.AgentType)
	if err != nil {
		return store.Worktree{}, substrate.Request{}, fmt.Errorf("load memory context: %w", err)
	}
	query := task.Title + "\n" + task.Description
	relevant, err := e.retriever.Select(ctx, query, memories, defaultMemoryContextTokens)
	if err != nil {
		return store.Worktree{}, substrate.Request{}, fmt.Errorf("select memory context: %w", err)
	}
	for _, m := range relevant {
		if _, _, err := memory.RecordAccessAndMaybePromote(ctx, e.store.Memories, m.ID, task.ID, 0); err != nil {
			slog.Warn("executor: record memory access failed", "memory_id", m.ID, "task_id", task.ID, "error", err)
		}
	}

	req := substrate.Request{
		CorrelationID:   shared.TraceID(ctx),
		AgentName:       task.AgentType,
		TaskID:          task.ID,
		TaskTitle:       task.Title,
		TaskDescription: task.Description,
		Context:         renderContext(constraints, relevant),
		SystemPrompt:    tmpl.SystemPrompt,
		Tools:           tmpl.Tools,
		MaxTurns:        tmpl.MaxTurns,
		Timeout:         defaultTurnTimeout,
		WorkDir:         w.Path,
	}
	return w, req, nil
}

// defaultMemoryContextTokens caps the rendered memory block inside a
// substrate request, leaving headroom for the constraints block and the
// task body within the template's context window.
const defaultMemoryContextTokens = 2000

// renderContext flattens goal constraints and the relevance-ranked memory
// block into the plain-text context the substrate request carries; the
// substrate itself decides how to use it. memories is expected already
// filtered and ordered by Retriever.Select.
func renderContext(constraints []store.Constraint, memories []store.Memory) string {
	var b strings.Builder
	if len(constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range constraints {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", c.Kind, c.Name, c.Text)
		}
	}
	if block := memory.FormatOrdered(memories, defaultMemoryContextTokens); block != "" {
		b.WriteString(block)
		b.WriteString("\n")
	}
	return b.String()
}

// fail classifies err, records the task's failure (transitioning it
// back to Pending for retry or to a terminal Failed), and emits the
// corresponding events. It always returns a non-nil error.
func (e *Executor) fail(ctx context.Context, task store.Task, cause error) error {
	reason := cause.Error()
	result, err := e.store.Tasks.Transition(ctx, task.ID, store.TaskStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("transition task %s to failed: %w", task.ID, err)
	}
	terminal := result.Task.Status == store.TaskStatusFailed
	e.emit(ctx, bus.TopicTaskFailed, "task", "TaskFailedEvent", bus.TaskFailedEvent{
		TaskID: task.ID, Reason: reason, RetryCount: result.Task.RetryCount, MaxRetries: result.Task.MaxRetries, Terminal: terminal,
	})
	for _, blocked := range result.CascadedBlocked {
		e.emit(ctx, bus.TopicTaskBlocked, "task", "TaskStateChangedEvent", bus.TaskStateChangedEvent{
			TaskID: blocked.ID, NewStatus: string(store.TaskStatusBlocked),
		})
	}
	if enginerr.ClassOf(cause) == enginerr.ClassTransient && !terminal {
		if _, err := e.store.Tasks.Transition(ctx, task.ID, store.TaskStatusPending, "retry after transient failure"); err != nil {
			return fmt.Errorf("requeue task %s for retry: %w", task.ID, err)
		}
		e.emit(ctx, bus.TopicTaskRetrying, "task", "TaskStateChangedEvent", bus.TaskStateChangedEvent{
			TaskID: task.ID, NewStatus: string(store.TaskStatusPending),
		})
	}
	return cause
}

// classify wraps a bare substrate error with an error-taxonomy class so
// fail() can decide retry vs. terminal.
func classify(err error) error {
	if enginerr.IsSQLiteBusy(err) {
		return enginerr.Transient(err)
	}
	return enginerr.Permanent(err)
}

func (e *Executor) heartbeatLoop(ctx context.Context, taskID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.store.Tasks.Heartbeat(ctx, taskID); err != nil {
				slog.Warn("task heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// emit appends an event row and mirrors it to the bus, in that order,
// per the store's documented Append-after-commit ordering.
func (e *Executor) emit(ctx context.Context, topic, category, payloadType string, payload interface{}) {
	encoded := fmt.Sprintf("%+v", payload)
	if _, err := e.store.Events.Append(ctx, store.Event{
		Category:      category,
		PayloadType:   payloadType,
		Payload:       encoded,
		CorrelationID: shared.TraceID(ctx),
	}); err != nil {
		slog.Warn("event append failed", "topic", topic, "error", err)
	}
	if e.bus != nil {
		e.bus.PublishCorrelated(topic, payload, shared.TraceID(ctx))
	}
}
