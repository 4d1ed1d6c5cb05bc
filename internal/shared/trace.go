package shared

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceKey ctxKey = iota
	runKey
	taskKey
	agentKey
	correlationKey
)

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	return stringOr(ctx, traceKey, "-")
}

// WithRunID attaches the active convergence run_id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey, runID)
}

// RunID extracts run_id from context. Returns "-" if absent.
func RunID(ctx context.Context) string {
	return stringOr(ctx, runKey, "-")
}

// WithTaskID attaches the active task_id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey, taskID)
}

// TaskID extracts task_id from context. Returns "-" if absent.
func TaskID(ctx context.Context) string {
	return stringOr(ctx, taskKey, "-")
}

// WithAgentID attaches the acting agent_id to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey, agentID)
}

// AgentID extracts agent_id from context. Returns "-" if absent.
func AgentID(ctx context.Context) string {
	return stringOr(ctx, agentKey, "-")
}

// WithCorrelationID attaches a caller-supplied correlation id (e.g. an
// ingestion item id) to the context so downstream events can be traced
// back to the request that caused them.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey, correlationID)
}

// CorrelationID extracts the correlation id from context. Returns "-" if
// absent.
func CorrelationID(ctx context.Context) string {
	return stringOr(ctx, correlationKey, "-")
}

func stringOr(ctx context.Context, key ctxKey, fallback string) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

// NewTraceID generates a new opaque trace/run/task identifier. All engine
// IDs are UUIDv4 strings; there is no structured encoding to parse.
func NewTraceID() string {
	return uuid.NewString()
}
