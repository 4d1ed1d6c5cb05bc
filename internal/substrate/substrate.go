// Package substrate defines the abstract LLM-backed execution service the
// executor invokes per task attempt, and a subprocess-based implementation
// of it. No vendor SDK is wired here; specific LLM backends are out of
// scope for this package.
package substrate

import (
	"context"
	"time"
)

// Status is the terminal state of a substrate invocation.
type Status string

const (
	StatusComplete Status = "Complete"
	StatusMaxTurns Status = "MaxTurns"
	StatusError    Status = "Error"
	StatusTimeout  Status = "Timeout"
)

// ToolCall records one tool invocation the substrate made during a turn.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
	Result    string
	Error     string
}

// Timings captures coarse-grained duration breakdown for an invocation.
type Timings struct {
	QueuedFor  time.Duration
	RunningFor time.Duration
}

// Request is the substrate invocation payload assembled by the executor:
// system prompt from the bound AgentTemplate version, transitively
// aggregated goal constraints, memory context, task title/description,
// available tools, and the turn cap.
type Request struct {
	CorrelationID   string
	AgentName       string
	TaskID          string
	TaskTitle       string
	TaskDescription string
	Context         string // aggregated constraints + memory context, pre-rendered
	SystemPrompt    string
	Tools           []string
	MaxTurns        int
	Timeout         time.Duration
	WorkDir         string // provisioned worktree path the subprocess runs in
}

// Response is what a substrate invocation returns.
type Response struct {
	SessionID  string
	OutputText string
	Artifacts  []string // worktree:// URIs or plain relative paths
	ToolCalls  []ToolCall
	TurnsUsed  int
	Status     Status
	Timings    Timings
}

// Adapter is the abstract substrate the executor drives. Implementations
// own how a request actually reaches an LLM-backed agent; the executor
// only depends on this interface.
type Adapter interface {
	Invoke(ctx context.Context, req Request) (Response, error)
	ContinueSession(ctx context.Context, sessionID, message string) (Response, error)
	TerminateSession(ctx context.Context, sessionID string) error
	HealthCheck(ctx context.Context) error
}
