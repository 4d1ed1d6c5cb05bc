// Package api is the engine's exposed contract surface: a thin Go
// interface over store/bus/reactor/egress with no transport attached.
// Every method is a straight projection onto an existing repo or
// component call — this package adds dispatch shape, not new state.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/egress"
	"github.com/odgrim/abathur/internal/store"
)

// API is the engine's method-dispatch surface. Construct one per
// process and hand it to whatever transport the operator wires in
// (none ships here).
type API struct {
	store      *store.Store
	bus        *bus.Bus
	egress     egress.Publisher
	adapterIDs []string
}

// Config names the substrate adapters this API instance reports
// through AdapterList, and the egress publisher EgressPublish calls
// through.
type Config struct {
	Store      *store.Store
	Bus        *bus.Bus
	Egress     egress.Publisher
	AdapterIDs []string
}

// New builds an API from cfg.
func New(cfg Config) *API {
	pub := cfg.Egress
	if pub == nil {
		pub = egress.NoopPublisher{}
	}
	return &API{store: cfg.Store, bus: cfg.Bus, egress: pub, adapterIDs: cfg.AdapterIDs}
}

// TaskSubmit creates a new task and returns it with its assigned ID.
func (a *API) TaskSubmit(ctx context.Context, t store.Task) (store.Task, error) {
	created, err := a.store.Tasks.Create(ctx, t)
	if err != nil {
		return store.Task{}, fmt.Errorf("task_submit: %w", err)
	}
	a.emit(bus.TopicTaskSubmitted, bus.TaskStateChangedEvent{TaskID: created.ID, NewStatus: string(created.Status)})
	return created, nil
}

// TaskList returns every task under goalID, or every task when goalID
// is nil.
func (a *API) TaskList(ctx context.Context, goalID *string) ([]store.Task, error) {
	tasks, err := a.store.Tasks.ListByGoal(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("task_list: %w", err)
	}
	return tasks, nil
}

// TaskGet loads a single task by ID.
func (a *API) TaskGet(ctx context.Context, id string) (store.Task, error) {
	t, err := a.store.Tasks.Get(ctx, id)
	if err != nil {
		return store.Task{}, fmt.Errorf("task_get %s: %w", id, err)
	}
	return t, nil
}

// TaskUpdateStatus drives id through the task state machine to next,
// rejecting the call if next isn't a legal transition from its current
// status.
func (a *API) TaskUpdateStatus(ctx context.Context, id string, next store.TaskStatus, reason string) (store.TransitionResult, error) {
	result, err := a.store.Tasks.Transition(ctx, id, next, reason)
	if err != nil {
		return store.TransitionResult{}, fmt.Errorf("task_update_status %s -> %s: %w", id, next, err)
	}
	return result, nil
}

// TaskWait blocks until id reaches a terminal status or timeout
// elapses, without polling the store: it subscribes to task.* bus
// events and only re-reads the row when an event names this task.
func (a *API) TaskWait(ctx context.Context, id string, timeout time.Duration) (store.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := a.bus.Subscribe("task.")
	defer a.bus.Unsubscribe(sub)

	if t, err := a.terminalOrZero(ctx, id); err != nil {
		return store.Task{}, err
	} else if t != nil {
		return *t, nil
	}

	for {
		select {
		case <-ctx.Done():
			return store.Task{}, fmt.Errorf("task_wait %s: %w", id, ctx.Err())
		case ev, ok := <-sub.Ch():
			if !ok {
				return store.Task{}, fmt.Errorf("task_wait %s: event bus closed", id)
			}
			if taskIDOf(ev) != id {
				continue
			}
			t, err := a.terminalOrZero(ctx, id)
			if err != nil {
				return store.Task{}, err
			}
			if t != nil {
				return *t, nil
			}
		}
	}
}

func (a *API) terminalOrZero(ctx context.Context, id string) (*store.Task, error) {
	t, err := a.store.Tasks.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task_wait %s: %w", id, err)
	}
	switch t.Status {
	case store.TaskStatusComplete, store.TaskStatusFailed, store.TaskStatusCancelled:
		return &t, nil
	default:
		return nil, nil
	}
}

func taskIDOf(ev bus.Event) string {
	switch p := ev.Payload.(type) {
	case bus.TaskStateChangedEvent:
		return p.TaskID
	default:
		return ""
	}
}

// AgentDeploy deploys a new AgentTemplate version.
func (a *API) AgentDeploy(ctx context.Context, t store.AgentTemplate) (store.AgentTemplate, error) {
	deployed, err := a.store.Templates.Deploy(ctx, t)
	if err != nil {
		return store.AgentTemplate{}, fmt.Errorf("agent_deploy %s: %w", t.Name, err)
	}
	return deployed, nil
}

// AgentActive returns the currently active version of the named
// template.
func (a *API) AgentActive(ctx context.Context, name string) (store.AgentTemplate, error) {
	t, err := a.store.Templates.Active(ctx, name)
	if err != nil {
		return store.AgentTemplate{}, fmt.Errorf("agent_active %s: %w", name, err)
	}
	return t, nil
}

// AgentRevert activates toVersion of name and deactivates fromVersion.
func (a *API) AgentRevert(ctx context.Context, name string, fromVersion, toVersion int) error {
	if err := a.store.Templates.Revert(ctx, name, fromVersion, toVersion); err != nil {
		return fmt.Errorf("agent_revert %s v%d->v%d: %w", name, fromVersion, toVersion, err)
	}
	return nil
}

// MemoryUpsert writes or updates a namespaced Memory entry.
func (a *API) MemoryUpsert(ctx context.Context, m store.Memory) (store.Memory, error) {
	saved, err := a.store.Memories.Upsert(ctx, m)
	if err != nil {
		return store.Memory{}, fmt.Errorf("memory_upsert %s/%s: %w", m.Namespace, m.Key, err)
	}
	return saved, nil
}

// MemoryList returns every active Memory entry in namespace.
func (a *API) MemoryList(ctx context.Context, namespace string) ([]store.Memory, error) {
	memories, err := a.store.Memories.ListActiveByNamespace(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("memory_list %s: %w", namespace, err)
	}
	return memories, nil
}

// GoalsList returns every goal in status Active.
func (a *API) GoalsList(ctx context.Context) ([]store.Goal, error) {
	goals, err := a.store.Goals.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("goals_list: %w", err)
	}
	return goals, nil
}

// EgressPublish hands action to the configured Publisher directly,
// bypassing the reactor's terminal-transition gate — for an operator
// that wants to post an update the reactor itself wouldn't produce
// (e.g. a comment on an in-progress task).
func (a *API) EgressPublish(ctx context.Context, action egress.Action) error {
	if err := a.egress.Publish(ctx, action); err != nil {
		return fmt.Errorf("egress_publish %s: %w", action.Kind, err)
	}
	return nil
}

// AdapterList returns the substrate adapter IDs this process was
// configured with.
func (a *API) AdapterList() []string {
	return a.adapterIDs
}

func (a *API) emit(topic string, payload interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(topic, payload)
}
