package reactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/odgrim/abathur/internal/store"
)

// mergeConflictResolverTemplate names the specialist agent template the
// reactor enqueues a task against when a two-stage merge reports an
// unresolved conflict, the same evaluate-rather-than-reject shape as
// limits.go's limitEvaluationTemplate.
const mergeConflictResolverTemplate = "merge-conflict-resolver"

// EnqueueMergeConflictResolver creates a specialist task asking an agent
// to resolve the conflicting files left behind by a failed merge stage,
// as a dependent of the task whose merge failed.
func EnqueueMergeConflictResolver(ctx context.Context, tasks *store.TaskRepo, taskID, stage, parentBranch string, conflictFiles []string) (store.Task, error) {
	parent := taskID
	return tasks.Create(ctx, store.Task{
		ParentID:     &parent,
		Title:        fmt.Sprintf("resolve merge conflict (%s) for task %s", stage, taskID),
		Description:  fmt.Sprintf("Merge stage %q for task %s onto %s left unresolved conflicts in: %s. Resolve them and re-run the merge.", stage, taskID, parentBranch, strings.Join(conflictFiles, ", ")),
		AgentType:    mergeConflictResolverTemplate,
		TemplateName: mergeConflictResolverTemplate,
		Priority:     5,
		Source:       store.TaskSourceAgentPlanner,
		TaskType:     store.TaskTypeStandard,
	})
}
