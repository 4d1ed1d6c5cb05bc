package worktree

import (
	"context"
	"fmt"
	"strings"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/store"
)

// MergeOutcome reports what a merge stage actually did, so callers can
// decide whether to advance a task's state machine or escalate.
type MergeOutcome struct {
	Merged        bool
	ConflictFiles []string
}

// mergeWithRebaseRetry folds dst's history into src inside dir and
// fast-forwards dst to the result, attempting the merge two ways in
// sequence: a plain merge first, and only on conflict a rebase of src
// onto dst. Both attempts operate on src alone, so dst is never touched
// until the final fast-forward; if both attempts conflict it aborts
// cleanly and reports the conflicting files instead of leaving the
// worktree dirty.
func mergeWithRebaseRetry(ctx context.Context, dir, src, dst string) (MergeOutcome, error) {
	if _, err := run(ctx, dir, "checkout", src); err != nil {
		return MergeOutcome{}, fmt.Errorf("checkout %s: %w", src, err)
	}
	if _, err := run(ctx, dir, "merge", dst); err != nil {
		if _, abortErr := run(ctx, dir, "merge", "--abort"); abortErr != nil {
			return MergeOutcome{}, fmt.Errorf("merge abort after conflict: %w", abortErr)
		}
		if _, err := run(ctx, dir, "rebase", dst); err != nil {
			files := conflictFiles(ctx, dir)
			if _, abortErr := run(ctx, dir, "rebase", "--abort"); abortErr != nil {
				return MergeOutcome{}, fmt.Errorf("rebase abort after conflict: %w", abortErr)
			}
			return MergeOutcome{Merged: false, ConflictFiles: files}, nil
		}
	}
	if _, err := run(ctx, dir, "checkout", dst); err != nil {
		return MergeOutcome{}, fmt.Errorf("checkout %s: %w", dst, err)
	}
	if _, err := run(ctx, dir, "merge", "--ff-only", src); err != nil {
		return MergeOutcome{}, fmt.Errorf("fast-forward %s onto %s: %w", src, dst, err)
	}
	return MergeOutcome{Merged: true}, nil
}

func conflictFiles(ctx context.Context, dir string) []string {
	out, err := run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}

// MergeAgentIntoTask runs stage one of the two-stage merge: the agent's
// branch merges into (plain merge first, rebase retry on conflict) and
// fast-forwards the task branch. It needs no queue serialization, since
// a task's agent attempts are never concurrent with each other.
func (m *Manager) MergeAgentIntoTask(ctx context.Context, w store.Worktree) (MergeOutcome, error) {
	return mergeWithRebaseRetry(ctx, m.repoRoot, w.Branch, w.BaseRef)
}

// Verifier runs the integration check stage two requires before a task
// branch is allowed onto its parent. internal/executor supplies the
// concrete implementation; this package only needs the narrow
// signature.
type Verifier func(ctx context.Context, taskBranch string) error

// MergeTaskIntoParent runs stage two: fold the parent branch into the
// task branch (plain merge first, rebase retry on conflict), run
// verify against the result, and only then fast-forward the parent.
// Serialized per parent branch via the manager's MergeQueue so sibling
// tasks never race the same parent.
func (m *Manager) MergeTaskIntoParent(ctx context.Context, taskBranch, parentBranch string, verify Verifier, b *bus.Bus, taskID string) (MergeOutcome, error) {
	var outcome MergeOutcome
	err := m.queue.Run(parentBranch, func() error {
		if _, err := run(ctx, m.repoRoot, "checkout", taskBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", taskBranch, err)
		}
		merged := true
		if _, err := run(ctx, m.repoRoot, "merge", parentBranch); err != nil {
			if _, abortErr := run(ctx, m.repoRoot, "merge", "--abort"); abortErr != nil {
				return fmt.Errorf("merge abort after conflict: %w", abortErr)
			}
			if _, err := run(ctx, m.repoRoot, "rebase", parentBranch); err != nil {
				merged = false
			}
		}
		if !merged {
			files := conflictFiles(ctx, m.repoRoot)
			if _, abortErr := run(ctx, m.repoRoot, "rebase", "--abort"); abortErr != nil {
				return fmt.Errorf("rebase abort after conflict: %w", abortErr)
			}
			outcome = MergeOutcome{Merged: false, ConflictFiles: files}
			m.publishConflict(b, taskID, "task_to_parent", parentBranch, files)
			return nil
		}
		if verify != nil {
			if err := verify(ctx, taskBranch); err != nil {
				return fmt.Errorf("integration verify failed: %w", err)
			}
		}
		if _, err := run(ctx, m.repoRoot, "checkout", parentBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", parentBranch, err)
		}
		if _, err := run(ctx, m.repoRoot, "merge", "--ff-only", taskBranch); err != nil {
			return fmt.Errorf("fast-forward %s onto %s: %w", taskBranch, parentBranch, err)
		}
		outcome = MergeOutcome{Merged: true}
		return nil
	})
	if err != nil {
		return MergeOutcome{}, err
	}
	return outcome, nil
}

func (m *Manager) publishConflict(b *bus.Bus, taskID, stage, parentBranch string, files []string) {
	if b == nil {
		return
	}
	b.Publish(bus.TopicMergeConflict, bus.MergeConflictEvent{
		TaskID:        taskID,
		Stage:         stage,
		ParentBranch:  parentBranch,
		ConflictFiles: files,
	})
}
