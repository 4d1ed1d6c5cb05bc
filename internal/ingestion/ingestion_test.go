package ingestion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "abathur.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestor_Submit_CreatesTask(t *testing.T) {
	s := openTestStore(t)
	ing := New(s, bus.New())

	task, err := ing.Submit(context.Background(), IngestionItem{
		ExternalID: "GH-42", Source: "github", Title: "fix the thing", Description: "it's broken",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected a created task id")
	}
	if task.Title != "fix the thing" {
		t.Fatalf("expected title carried over, got %q", task.Title)
	}
}

func TestIngestor_Submit_DedupsBySourceAndExternalID(t *testing.T) {
	s := openTestStore(t)
	ing := New(s, bus.New())
	ctx := context.Background()

	first, err := ing.Submit(ctx, IngestionItem{ExternalID: "GH-42", Source: "github", Title: "fix the thing"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := ing.Submit(ctx, IngestionItem{ExternalID: "GH-42", Source: "github", Title: "fix the thing (resubmitted)"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected dedup to return the same task, got %s and %s", first.ID, second.ID)
	}
}

func TestIngestor_Submit_DistinctExternalIDsCreateDistinctTasks(t *testing.T) {
	s := openTestStore(t)
	ing := New(s, bus.New())
	ctx := context.Background()

	a, err := ing.Submit(ctx, IngestionItem{ExternalID: "GH-1", Source: "github", Title: "one"})
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	b, err := ing.Submit(ctx, IngestionItem{ExternalID: "GH-2", Source: "github", Title: "two"})
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct tasks for distinct external ids")
	}
}
