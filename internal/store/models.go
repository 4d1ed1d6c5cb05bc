package store

import "time"

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalStatusActive  GoalStatus = "ACTIVE"
	GoalStatusPaused  GoalStatus = "PAUSED"
	GoalStatusRetired GoalStatus = "RETIRED"
)

// GoalPriority is the operator-assigned importance of a Goal.
type GoalPriority string

const (
	GoalPriorityLow      GoalPriority = "LOW"
	GoalPriorityNormal   GoalPriority = "NORMAL"
	GoalPriorityHigh     GoalPriority = "HIGH"
	GoalPriorityCritical GoalPriority = "CRITICAL"
)

// ConstraintKind classifies a Goal constraint.
type ConstraintKind string

const (
	ConstraintInvariant  ConstraintKind = "INVARIANT"
	ConstraintPreference ConstraintKind = "PREFERENCE"
	ConstraintBoundary   ConstraintKind = "BOUNDARY"
)

// Constraint is a single named rule a goal imposes on the tasks beneath it.
type Constraint struct {
	Name string         `json:"name"`
	Kind ConstraintKind `json:"kind"`
	Text string         `json:"text"`
}

// Goal is a long-lived directive that tasks are created to serve.
type Goal struct {
	ID                      string       `json:"id"`
	Name                    string       `json:"name"`
	Description             string       `json:"description"`
	Status                  GoalStatus   `json:"status"`
	Priority                GoalPriority `json:"priority"`
	Constraints             []Constraint `json:"constraints"`
	ParentID                *string      `json:"parent_id,omitempty"`
	CreatedAt               time.Time    `json:"created_at"`
	LastConvergenceCheckAt  *time.Time   `json:"last_convergence_check_at,omitempty"`
}

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusBlocked   TaskStatus = "BLOCKED"
	TaskStatusReady     TaskStatus = "READY"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusComplete  TaskStatus = "COMPLETE"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// allowedTaskTransitions enumerates the legal state machine edges. A
// transition not present here is rejected by TaskRepo.Transition.
var allowedTaskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusBlocked:   {},
		TaskStatusReady:     {},
		TaskStatusCancelled: {},
	},
	TaskStatusBlocked: {
		TaskStatusReady:     {},
		TaskStatusCancelled: {},
	},
	TaskStatusReady: {
		TaskStatusRunning:   {},
		TaskStatusBlocked:   {}, // dependency added/re-evaluated after submit
		TaskStatusCancelled: {},
	},
	TaskStatusRunning: {
		TaskStatusComplete:  {},
		TaskStatusFailed:    {},
		TaskStatusCancelled: {},
	},
	TaskStatusFailed: {
		TaskStatusPending: {}, // retry_count < max_retries
	},
}

// TaskSource identifies who asked for a task to exist.
type TaskSource string

const (
	TaskSourceHuman                TaskSource = "HUMAN"
	TaskSourceAgentRequirements    TaskSource = "AGENT_REQUIREMENTS"
	TaskSourceAgentPlanner         TaskSource = "AGENT_PLANNER"
	TaskSourceAgentImplementation  TaskSource = "AGENT_IMPLEMENTATION"
)

// TaskType distinguishes standard work from the specialist task types the
// reactor and convergence engine enqueue on its behalf.
type TaskType string

const (
	TaskTypeStandard     TaskType = "STANDARD"
	TaskTypeVerification TaskType = "VERIFICATION"
	TaskTypeResearch     TaskType = "RESEARCH"
	TaskTypeReview       TaskType = "REVIEW"
)

// Task is a unit of work executed in an isolated worktree.
type Task struct {
	ID                 string     `json:"id"`
	ParentID           *string    `json:"parent_id,omitempty"`
	GoalID             *string    `json:"goal_id,omitempty"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	AgentType           string     `json:"agent_type"`
	Priority            int        `json:"priority"`
	CalculatedPriority  float64    `json:"calculated_priority"`
	Status              TaskStatus `json:"status"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	EstimatedDuration   *time.Duration `json:"estimated_duration,omitempty"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	FeatureBranch       string     `json:"feature_branch,omitempty"`
	TaskBranch          string     `json:"task_branch,omitempty"`
	WorktreePath        string     `json:"worktree_path,omitempty"`
	DependencyDepth     int        `json:"dependency_depth"`
	Source              TaskSource `json:"source"`
	TaskType            TaskType   `json:"task_type"`
	Summary             string     `json:"summary,omitempty"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	TemplateName        string     `json:"template_name,omitempty"`
	TemplateVersion     int        `json:"template_version,omitempty"`
	LastHeartbeatAt     *time.Time `json:"last_heartbeat_at,omitempty"`
}

// DependencyKind is the edge type in the task DAG; PARALLEL is AND
// semantics identical to SEQUENTIAL for readiness purposes.
type DependencyKind string

const (
	DependencySequential DependencyKind = "SEQUENTIAL"
	DependencyParallel   DependencyKind = "PARALLEL"
)

// TaskDependency is a directed edge: DependentID awaits PrerequisiteID.
type TaskDependency struct {
	PrerequisiteID string         `json:"prerequisite_id"`
	DependentID    string         `json:"dependent_id"`
	Kind           DependencyKind `json:"kind"`
}

// AgentTier classifies an AgentTemplate's position in the delegation
// hierarchy.
type AgentTier string

const (
	TierMeta       AgentTier = "META"
	TierStrategic  AgentTier = "STRATEGIC"
	TierExecution  AgentTier = "EXECUTION"
	TierSpecialist AgentTier = "SPECIALIST"
)

// AgentTemplate is a versioned prompt + tool set bound to tasks at
// creation time.
type AgentTemplate struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Tier            AgentTier `json:"tier"`
	Version         int       `json:"version"`
	IsActive        bool      `json:"is_active"`
	SystemPrompt    string    `json:"system_prompt"`
	Tools           []string  `json:"tools"`
	Constraints     []string  `json:"constraints"`
	HandoffTargets  []string  `json:"handoff_targets"`
	MaxTurns        int       `json:"max_turns"`
	CreatedAt       time.Time `json:"created_at"`
}

// MemoryTier is the retention tier of a Memory row.
type MemoryTier string

const (
	MemoryTierWorking  MemoryTier = "WORKING"
	MemoryTierEpisodic MemoryTier = "EPISODIC"
	MemoryTierSemantic MemoryTier = "SEMANTIC"
)

// MemoryState tracks whether a memory is still eligible for retrieval.
type MemoryState string

const (
	MemoryStateActive   MemoryState = "ACTIVE"
	MemoryStateCooling  MemoryState = "COOLING"
	MemoryStateArchived MemoryState = "ARCHIVED"
)

// Memory is a piece of long-lived knowledge accumulated across tasks.
type Memory struct {
	ID                string      `json:"id"`
	Namespace         string      `json:"namespace"`
	Key               string      `json:"key"`
	Value             string      `json:"value"`
	Tier              MemoryTier  `json:"tier"`
	Confidence        float64     `json:"confidence"`
	AccessCount       int         `json:"access_count"`
	DistinctAccessors []string    `json:"distinct_accessors"`
	DecayRate         float64     `json:"decay_rate"`
	State             MemoryState `json:"state"`
	Version           int         `json:"version"`
	ParentID          *string     `json:"parent_id,omitempty"`
	Provenance        string      `json:"provenance"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// WorktreeStatus is the lifecycle state of a Worktree record.
type WorktreeStatus string

const (
	WorktreeStatusActive   WorktreeStatus = "ACTIVE"
	WorktreeStatusMerged   WorktreeStatus = "MERGED"
	WorktreeStatusOrphaned WorktreeStatus = "ORPHANED"
	WorktreeStatusFailed   WorktreeStatus = "FAILED"
)

// Worktree is an isolated git checkout reserved for a single task.
type Worktree struct {
	ID      string         `json:"id"`
	TaskID  string         `json:"task_id"`
	Path    string         `json:"path"`
	Branch  string         `json:"branch"`
	BaseRef string         `json:"base_ref"`
	Status  WorktreeStatus `json:"status"`
}

// Event is an append-only record of something that happened to an
// aggregate, mirrored to the bus after its row commits.
type Event struct {
	ID            int64     `json:"id"`
	Category      string    `json:"category"`
	PayloadType   string    `json:"payload_type"`
	Payload       string    `json:"payload"` // JSON-encoded
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// RefinementKind is the category of evolution decision.
type RefinementKind string

const (
	RefinementMinor  RefinementKind = "MINOR"
	RefinementMajor  RefinementKind = "MAJOR"
	RefinementRevert RefinementKind = "REVERT"
)

// RefinementStatus tracks a RefinementRequest through its own small
// lifecycle.
type RefinementStatus string

const (
	RefinementPending    RefinementStatus = "PENDING"
	RefinementInProgress RefinementStatus = "IN_PROGRESS"
	RefinementCompleted  RefinementStatus = "COMPLETED"
	RefinementFailed     RefinementStatus = "FAILED"
)

// RefinementRequest records an evolution-loop decision about a template.
type RefinementRequest struct {
	ID           string           `json:"id"`
	TemplateName string           `json:"template_name"`
	FromVersion  int              `json:"from_version"`
	ToVersion    *int             `json:"to_version,omitempty"`
	Kind         RefinementKind   `json:"kind"`
	Status       RefinementStatus `json:"status"`
	Reason       string           `json:"reason"`
	CreatedAt    time.Time        `json:"created_at"`
}

// AuditEntry is a single audit-log row: a decision made about a state
// transition, and why.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason"`
}

// ConvergenceStrategy is one of the fixed iteration strategies the
// convergence engine's bandit chooses between at Decide.
type ConvergenceStrategy string

const (
	StrategyThreshold ConvergenceStrategy = "THRESHOLD"
	StrategyStability ConvergenceStrategy = "STABILITY"
	StrategyTestPass  ConvergenceStrategy = "TEST_PASS"
	StrategyJudge     ConvergenceStrategy = "JUDGE"
)

// StrategyPrior is a per-goal, per-strategy Beta(alpha, beta) posterior
// over "this strategy converges this goal's tasks to a fixed point".
type StrategyPrior struct {
	GoalID    string              `json:"goal_id"`
	Strategy  ConvergenceStrategy `json:"strategy"`
	Alpha     float64             `json:"alpha"`
	Beta      float64             `json:"beta"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Attractor classifies the long-run behavior of a convergence trajectory.
type Attractor string

const (
	AttractorNone       Attractor = ""
	AttractorFixedPoint Attractor = "FIXED_POINT"
	AttractorLimitCycle Attractor = "LIMIT_CYCLE"
	AttractorChaotic    Attractor = "CHAOTIC"
	AttractorDiverging  Attractor = "DIVERGING"
)

// Trajectory is one iteration of a task's convergence loop: the strategy
// used, the resulting diff size and test outcome, and (once classified)
// the attractor label.
type Trajectory struct {
	ID             string              `json:"id"`
	TaskID         string              `json:"task_id"`
	GoalID         string              `json:"goal_id"`
	Iteration      int                 `json:"iteration"`
	Strategy       ConvergenceStrategy `json:"strategy"`
	AttemptBranch  string              `json:"attempt_branch"`
	DiffSize       int                 `json:"diff_size"`
	TestsPassed    bool                `json:"tests_passed"`
	Classification Attractor           `json:"classification"`
	CreatedAt      time.Time           `json:"created_at"`
}
