package bus

// Goal event topics.
const (
	TopicGoalCreated  = "goal.created"
	TopicGoalRetired  = "goal.retired"
	TopicGoalConverge = "goal.convergence_checked"
)

// Task lifecycle event topics.
const (
	TopicTaskSubmitted = "task.submitted"
	TopicTaskReady     = "task.ready"
	TopicTaskBlocked   = "task.blocked"
	TopicTaskRunning   = "task.running"
	TopicTaskCompleted = "task.completed"
	TopicTaskFailed    = "task.failed"
	TopicTaskCancelled = "task.cancelled"
	TopicTaskRetrying  = "task.retrying"
)

// Dependency graph event topics.
const (
	TopicDependencyAdded = "dependency.added"
	TopicDependencyCycle = "dependency.cycle_rejected"
)

// Worktree and merge event topics.
const (
	TopicWorktreeProvisioned = "worktree.provisioned"
	TopicMergeStageComplete  = "merge.stage_complete"
	TopicMergeConflict       = "merge.conflict"
)

// Convergence engine event topics.
const (
	TopicConvergenceStarted  = "convergence.started"
	TopicConvergenceIterated = "convergence.iterated"
	TopicConvergenceResolved = "convergence.resolved"
)

// Memory system event topics.
const (
	TopicMemoryPromoted = "memory.promoted"
	TopicMemoryArchived = "memory.archived"
)

// Evolution loop event topics.
const (
	TopicRefinementOpened   = "refinement.opened"
	TopicRefinementReverted = "refinement.reverted"
)

// Reactor / orchestrator event topics.
const (
	TopicStallDetected      = "reactor.stall_detected"
	TopicHumanEscalation    = "reactor.human_escalation_required"
	TopicCircuitBreakerTrip = "reactor.circuit_breaker_tripped"
	TopicBudgetReduced      = "reactor.budget_reduced"
)

// TaskStateChangedEvent is published whenever a task's status field
// changes, in commit order relative to other events from the same task.
type TaskStateChangedEvent struct {
	TaskID    string
	OldStatus string
	NewStatus string
}

// TaskFailedEvent carries the failure reason and whether retries remain.
type TaskFailedEvent struct {
	TaskID     string
	Reason     string
	RetryCount int
	MaxRetries int
	Terminal   bool
}

// MergeConflictEvent is emitted when a two-stage merge fails its
// rebase-retry, naming the failing stage and the files in conflict.
type MergeConflictEvent struct {
	TaskID        string
	Stage         string // "agent_to_task" or "task_to_parent"
	ParentBranch  string
	ConflictFiles []string
}

// HumanEscalationEvent is emitted by the stall detector or the fatal
// error path; last-alerted time per correlation id prevents storms.
type HumanEscalationEvent struct {
	CorrelationID string
	Reason        string
}

// ConvergenceEvent mirrors a convergence engine state transition for a
// task's iteration loop onto the bus.
type ConvergenceEvent struct {
	TaskID         string
	GoalID         string
	Iteration      int
	Strategy       string
	Classification string // "" while iterating; set to the attractor label at Resolve
}

// RefinementEvent mirrors a RefinementRequest decision onto the bus.
type RefinementEvent struct {
	TemplateName string
	FromVersion  int
	ToVersion    int
	Kind         string
	Status       string
}
