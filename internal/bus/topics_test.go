package bus

import "testing"

func TestTopicConstants_NotEmpty(t *testing.T) {
	topics := map[string]string{
		"TopicTaskSubmitted":       TopicTaskSubmitted,
		"TopicTaskReady":           TopicTaskReady,
		"TopicTaskBlocked":         TopicTaskBlocked,
		"TopicTaskRunning":         TopicTaskRunning,
		"TopicTaskCompleted":       TopicTaskCompleted,
		"TopicTaskFailed":          TopicTaskFailed,
		"TopicTaskCancelled":       TopicTaskCancelled,
		"TopicDependencyAdded":     TopicDependencyAdded,
		"TopicDependencyCycle":     TopicDependencyCycle,
		"TopicWorktreeProvisioned": TopicWorktreeProvisioned,
		"TopicMergeStageComplete":  TopicMergeStageComplete,
		"TopicMergeConflict":       TopicMergeConflict,
		"TopicConvergenceStarted":  TopicConvergenceStarted,
		"TopicMemoryPromoted":      TopicMemoryPromoted,
		"TopicRefinementOpened":    TopicRefinementOpened,
		"TopicStallDetected":       TopicStallDetected,
		"TopicHumanEscalation":     TopicHumanEscalation,
	}
	for name, v := range topics {
		if v == "" {
			t.Fatalf("%s is empty", name)
		}
	}
}

func TestTopicConstants_Unique(t *testing.T) {
	seen := map[string]bool{}
	all := []string{
		TopicTaskSubmitted, TopicTaskReady, TopicTaskBlocked, TopicTaskRunning,
		TopicTaskCompleted, TopicTaskFailed, TopicTaskCancelled, TopicTaskRetrying,
		TopicDependencyAdded, TopicDependencyCycle,
		TopicWorktreeProvisioned, TopicMergeStageComplete, TopicMergeConflict,
		TopicConvergenceStarted, TopicConvergenceIterated, TopicConvergenceResolved,
		TopicMemoryPromoted, TopicMemoryArchived,
		TopicRefinementOpened, TopicRefinementReverted,
		TopicStallDetected, TopicHumanEscalation, TopicCircuitBreakerTrip, TopicBudgetReduced,
	}
	for _, topic := range all {
		if seen[topic] {
			t.Fatalf("duplicate topic constant value %q", topic)
		}
		seen[topic] = true
	}
}

func TestMergeConflictEvent_Fields(t *testing.T) {
	e := MergeConflictEvent{
		TaskID:        "t1",
		Stage:         "agent_to_task",
		ParentBranch:  "main",
		ConflictFiles: []string{"a.go"},
	}
	if e.Stage != "agent_to_task" || len(e.ConflictFiles) != 1 {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestHumanEscalationEvent_Fields(t *testing.T) {
	e := HumanEscalationEvent{CorrelationID: "c1", Reason: "stall"}
	if e.CorrelationID != "c1" || e.Reason != "stall" {
		t.Fatalf("unexpected event: %+v", e)
	}
}
