package reactor

import (
	"context"
	"fmt"

	"github.com/odgrim/abathur/internal/store"
)

// DefaultMaxDepth, DefaultMaxDirectSubtasks, and DefaultMaxDescendants
// are D_max, S_max, and T_max: the spawn-limit ceilings a task's own
// subtask creation must respect before the reactor will dispatch it.
const (
	DefaultMaxDepth           = 5
	DefaultMaxDirectSubtasks  = 10
	DefaultMaxDescendants     = 50
)

// LimitBreach names which ceiling a task tripped.
type LimitBreach string

const (
	BreachNone        LimitBreach = ""
	BreachDepth       LimitBreach = "depth"
	BreachDirectFanout LimitBreach = "direct_subtasks"
	BreachDescendants  LimitBreach = "descendants"
)

// Limits holds the configured spawn-limit ceilings.
type Limits struct {
	MaxDepth          int
	MaxDirectSubtasks int
	MaxDescendants    int
}

// DefaultLimits returns the default spawn-tree ceilings.
func DefaultLimits() Limits {
	return Limits{MaxDepth: DefaultMaxDepth, MaxDirectSubtasks: DefaultMaxDirectSubtasks, MaxDescendants: DefaultMaxDescendants}
}

// Check evaluates taskID's position in the spawn tree against l's
// ceilings, returning which one (if any) it has breached.
func (l Limits) Check(ctx context.Context, tasks *store.TaskRepo, taskID string) (LimitBreach, error) {
	depth, err := tasks.SpawnDepth(ctx, taskID)
	if err != nil {
		return BreachNone, fmt.Errorf("spawn depth for %s: %w", taskID, err)
	}
	if depth > l.MaxDepth {
		return BreachDepth, nil
	}

	direct, err := tasks.CountDirectChildren(ctx, taskID)
	if err != nil {
		return BreachNone, fmt.Errorf("direct children for %s: %w", taskID, err)
	}
	if direct > l.MaxDirectSubtasks {
		return BreachDirectFanout, nil
	}

	descendants, err := tasks.CountDescendants(ctx, taskID)
	if err != nil {
		return BreachNone, fmt.Errorf("descendants for %s: %w", taskID, err)
	}
	if descendants > l.MaxDescendants {
		return BreachDescendants, nil
	}

	return BreachNone, nil
}

// limitEvaluationTemplate names the specialist agent template the
// reactor enqueues a task against when a spawn-limit breach is
// detected, rather than rejecting the task outright: a human-in-the-loop-
// capable evaluation decides whether the fan-out proceeds.
const limitEvaluationTemplate = "limit-evaluation"

// EnqueueLimitEvaluation creates a specialist task asking an agent to
// decide how to proceed given a spawn-limit breach on parentTaskID.
func EnqueueLimitEvaluation(ctx context.Context, tasks *store.TaskRepo, parentTaskID string, breach LimitBreach) (store.Task, error) {
	parent := parentTaskID
	return tasks.Create(ctx, store.Task{
		ParentID:     &parent,
		Title:        fmt.Sprintf("evaluate spawn-limit breach (%s) on task %s", breach, parentTaskID),
		Description:  fmt.Sprintf("Task %s breached its %s spawn limit. Decide whether to prune, reparent, or approve continued fan-out.", parentTaskID, breach),
		AgentType:    limitEvaluationTemplate,
		TemplateName: limitEvaluationTemplate,
		Priority:     5,
		Source:       store.TaskSourceAgentPlanner,
		TaskType:     store.TaskTypeStandard,
	})
}
