// Package ingestion turns external work items into tasks. An
// IngestionItem is whatever an adapter poll produces (a GitHub issue, a
// ClickUp card); Submit creates exactly one task per distinct
// (source, external_id) pair, however many times the adapter resubmits
// it — the engine never talks to the external system directly, only to
// this stream. Dedup runs through store.TaskRepo's RecordIngestion
// (unique index + INSERT OR IGNORE) rather than a separate table.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/store"
)

// IngestionItem is what an external adapter poll produces.
type IngestionItem struct {
	ExternalID  string
	Source      string
	Title       string
	Description string
	Priority    *int
	Metadata    map[string]string
}

// Ingestor submits IngestionItems as tasks, deduplicated by
// (source, external_id).
type Ingestor struct {
	store *store.Store
	bus   *bus.Bus
}

// New builds an Ingestor.
func New(s *store.Store, b *bus.Bus) *Ingestor {
	return &Ingestor{store: s, bus: b}
}

// Submit creates a task for item unless one already exists for its
// (source, external_id) pair, in which case it returns the existing
// task and no error — submitting the same item twice produces at most
// one task.
func (i *Ingestor) Submit(ctx context.Context, item IngestionItem) (store.Task, error) {
	priority := 0
	if item.Priority != nil {
		priority = *item.Priority
	}
	task, err := i.store.Tasks.RecordIngestion(ctx, item.Source, item.ExternalID, store.Task{
		Title:       item.Title,
		Description: item.Description,
		Priority:    priority,
		// An ingested item is externally originated work, not an
		// agent's own subtask — it gets the same source-term priority
		// boost a human submission would.
		Source: store.TaskSourceHuman,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return task, nil
		}
		return store.Task{}, fmt.Errorf("submit ingestion item %s/%s: %w", item.Source, item.ExternalID, err)
	}
	i.emit(ctx, bus.TopicTaskSubmitted, task)
	return task, nil
}

func (i *Ingestor) emit(ctx context.Context, topic string, task store.Task) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(topic, bus.TaskStateChangedEvent{TaskID: task.ID, NewStatus: string(task.Status)})
}
