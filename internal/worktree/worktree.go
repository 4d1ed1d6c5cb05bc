// Package worktree provisions git-worktree-isolated checkouts per task
// attempt and runs the two-stage merge (agent -> task -> parent branch).
// Shells out to the real git binary (exec.Command with cmd.Dir set,
// CombinedOutput for error reporting) rather than a Go git library.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/odgrim/abathur/internal/enginerr"
	"github.com/odgrim/abathur/internal/store"
)

// Manager provisions and tears down worktrees under runtimeDir/worktrees
// and runs git commands against repoRoot, the checkout that owns `main`
// and every feature/task/agent branch.
type Manager struct {
	repoRoot   string
	runtimeDir string
	worktrees  *store.WorktreeRepo
	queue      *MergeQueue
}

// New builds a Manager rooted at repoRoot (the canonical checkout) with
// worktrees provisioned under runtimeDir/worktrees.
func New(repoRoot, runtimeDir string, worktrees *store.WorktreeRepo) *Manager {
	return &Manager{
		repoRoot:   repoRoot,
		runtimeDir: runtimeDir,
		worktrees:  worktrees,
		queue:      NewMergeQueue(),
	}
}

// run executes git with args in dir, returning combined output wrapped
// as a transient error on failure (git lock contention and I/O errors
// are expected to clear on retry; a real conflict is reported via its
// own typed path, not this helper).
func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), enginerr.ErrTransient)
	}
	return string(out), nil
}

// Provision allocates <runtime_dir>/worktrees/<task_id> on an agent
// branch agent/<task_id>/<attempt> forked from task/<task_id>, creating
// the task branch first if this is the task's first attempt.
func (m *Manager) Provision(ctx context.Context, taskID, parentBranch string, attempt int) (store.Worktree, error) {
	taskBranch := fmt.Sprintf("task/%s", taskID)
	agentBranch := fmt.Sprintf("agent/%s/%d", taskID, attempt)
	path := filepath.Join(m.runtimeDir, "worktrees", taskID)

	if !m.branchExists(ctx, taskBranch) {
		if _, err := run(ctx, m.repoRoot, "branch", taskBranch, parentBranch); err != nil {
			return store.Worktree{}, fmt.Errorf("create task branch: %w", err)
		}
	}
	if _, err := run(ctx, m.repoRoot, "branch", agentBranch, taskBranch); err != nil {
		return store.Worktree{}, fmt.Errorf("create agent branch: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return store.Worktree{}, fmt.Errorf("clear stale worktree dir: %w", err)
	}
	if _, err := run(ctx, m.repoRoot, "worktree", "add", path, agentBranch); err != nil {
		return store.Worktree{}, fmt.Errorf("git worktree add: %w", err)
	}

	w, err := m.worktrees.Create(ctx, store.Worktree{
		TaskID:  taskID,
		Path:    path,
		Branch:  agentBranch,
		BaseRef: taskBranch,
		Status:  store.WorktreeStatusActive,
	})
	if err != nil {
		return store.Worktree{}, fmt.Errorf("record worktree: %w", err)
	}
	return w, nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := run(ctx, m.repoRoot, "rev-parse", "--verify", branch)
	return err == nil
}

// Remove tears down a task's worktree directory and registration,
// leaving the branches in place: orphan branches are retained for
// post-mortem, an operator prune reclaims them.
func (m *Manager) Remove(ctx context.Context, w store.Worktree) error {
	if _, err := run(ctx, m.repoRoot, "worktree", "remove", "--force", w.Path); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	return m.worktrees.SetStatus(ctx, w.ID, store.WorktreeStatusOrphaned)
}

// Resolve parses a worktree://<task_id>/<path> artifact URI into a
// filesystem path under that task's worktree root.
func (m *Manager) Resolve(uri string) (string, error) {
	const scheme = "worktree://"
	if !strings.HasPrefix(uri, scheme) {
		return "", fmt.Errorf("not a worktree URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("malformed worktree URI: %q", uri)
	}
	taskID := parts[0]
	tail := ""
	if len(parts) == 2 {
		tail = parts[1]
	}
	return filepath.Join(m.runtimeDir, "worktrees", taskID, tail), nil
}

// MergeQueue returns the FIFO-per-parent-branch queue stage-2 merges
// must go through.
func (m *Manager) MergeQueue() *MergeQueue { return m.queue }
