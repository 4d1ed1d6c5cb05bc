// Package egress defines the outbound action the engine hands to an
// adapter after a terminal task transition. The engine never talks to
// an external tracker directly; it only ever produces EgressActions
// and calls whatever Publisher the operator wired up. Concrete
// adapters (GitHub, ClickUp) are out of scope for this package.
package egress

import "context"

// ActionKind discriminates the EgressAction union.
type ActionKind string

const (
	ActionUpdateStatus ActionKind = "UPDATE_STATUS"
	ActionPostComment  ActionKind = "POST_COMMENT"
	ActionCreateItem   ActionKind = "CREATE_ITEM"
	ActionCustom       ActionKind = "CUSTOM"
)

// Action is the EgressAction sum type flattened into one struct with
// kind-specific fields left zero-valued when unused — the idiomatic Go
// substitute for a tagged union.
type Action struct {
	Kind ActionKind

	// UpdateStatus
	ExternalID string
	NewStatus  string

	// PostComment
	Body string

	// CreateItem
	Title       string
	Description string
	Fields      map[string]string

	// Custom
	Name   string
	Params map[string]string
}

// Publisher is implemented by whatever concrete adapter the operator
// wires in; the reactor calls it after every terminal task transition.
// No adapter ships with this package.
type Publisher interface {
	Publish(ctx context.Context, action Action) error
}

// NoopPublisher discards every action, the default when no adapter is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, action Action) error { return nil }
