package memory

import (
	"context"
	"testing"
	"time"

	"github.com/odgrim/abathur/internal/store"
)

type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return f.vectors[text], nil
}

func TestRetriever_Select_RanksMoreRelevantMemoryFirst(t *testing.T) {
	now := time.Now()
	r := NewRetriever(nil)
	r.now = func() time.Time { return now }

	candidates := []store.Memory{
		{ID: "m1", Key: "deploy-pipeline", Value: "the deploy pipeline retries transient failures", Tier: store.MemoryTierWorking, Confidence: 0.8, DecayRate: 0.1, State: store.MemoryStateActive, UpdatedAt: now},
		{ID: "m2", Key: "cats", Value: "cats are independent animals", Tier: store.MemoryTierWorking, Confidence: 0.8, DecayRate: 0.1, State: store.MemoryStateActive, UpdatedAt: now},
	}

	selected, err := r.Select(context.Background(), "deploy pipeline retries on transient failures", candidates, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected both candidates selected, got %d", len(selected))
	}
	if selected[0].ID != "m1" {
		t.Fatalf("expected the topically relevant memory ranked first, got %s", selected[0].ID)
	}
}

func TestRetriever_Select_DropsArchivedAndLowConfidence(t *testing.T) {
	r := NewRetriever(nil)
	candidates := []store.Memory{
		{ID: "m1", Key: "a", Value: "active memory", Confidence: 0.5, State: store.MemoryStateActive, UpdatedAt: time.Now()},
		{ID: "m2", Key: "b", Value: "archived memory", Confidence: 0.9, State: store.MemoryStateArchived, UpdatedAt: time.Now()},
		{ID: "m3", Key: "c", Value: "low confidence memory", Confidence: 0.01, State: store.MemoryStateActive, UpdatedAt: time.Now()},
	}
	selected, err := r.Select(context.Background(), "memory", candidates, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != "m1" {
		t.Fatalf("expected only the active, above-floor memory selected, got %+v", selected)
	}
}

func TestRetriever_Select_RespectsTokenBudget(t *testing.T) {
	r := NewRetriever(nil)
	var candidates []store.Memory
	for i := 0; i < 20; i++ {
		candidates = append(candidates, store.Memory{
			ID: string(rune('a' + i)), Key: "fact", Value: "some moderately long recorded fact about the system",
			Confidence: 0.9, State: store.MemoryStateActive, UpdatedAt: time.Now(),
		})
	}
	selected, err := r.Select(context.Background(), "fact about the system", candidates, 50)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(selected) == 0 || len(selected) == len(candidates) {
		t.Fatalf("expected the token budget to cut the candidate set down, got %d of %d", len(selected), len(candidates))
	}
}

func TestRetriever_Select_UsesEmbeddingProviderWhenConfigured(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"query":                  {1, 0},
		"topic relevant content": {1, 0},
		"topic irrelevant stuff": {0, 1},
	}}
	r := NewRetriever(embedder)
	candidates := []store.Memory{
		{ID: "m1", Key: "topic", Value: "relevant content", Confidence: 0.8, State: store.MemoryStateActive, UpdatedAt: time.Now()},
		{ID: "m2", Key: "topic", Value: "irrelevant stuff", Confidence: 0.8, State: store.MemoryStateActive, UpdatedAt: time.Now()},
	}
	selected, err := r.Select(context.Background(), "query", candidates, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if selected[0].ID != "m1" {
		t.Fatalf("expected the embedding-aligned memory ranked first, got %s", selected[0].ID)
	}
}
