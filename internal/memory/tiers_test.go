package memory

import (
	"strings"
	"testing"

	"github.com/odgrim/abathur/internal/store"
)

func TestNewContextBlock_DropsArchivedAndLowConfidence(t *testing.T) {
	b := NewContextBlock([]store.Memory{
		{Key: "k1", Value: "v1", Tier: store.MemoryTierWorking, Confidence: 0.5, State: store.MemoryStateActive},
		{Key: "k2", Value: "v2", Tier: store.MemoryTierWorking, Confidence: 0.5, State: store.MemoryStateArchived},
		{Key: "k3", Value: "v3", Tier: store.MemoryTierWorking, Confidence: 0.01, State: store.MemoryStateActive},
	})
	out := b.Format(0)
	if !strings.Contains(out, "k1") {
		t.Fatal("expected active, above-floor memory to be included")
	}
	if strings.Contains(out, "k2") {
		t.Fatal("archived memory must not appear in context")
	}
	if strings.Contains(out, "k3") {
		t.Fatal("below-floor confidence memory must not appear in context")
	}
}

func TestNewContextBlock_OrdersSemanticBeforeWorking(t *testing.T) {
	b := NewContextBlock([]store.Memory{
		{Key: "working-fact", Value: "v", Tier: store.MemoryTierWorking, Confidence: 0.9, State: store.MemoryStateActive},
		{Key: "semantic-fact", Value: "v", Tier: store.MemoryTierSemantic, Confidence: 0.5, State: store.MemoryStateActive},
	})
	out := b.Format(0)
	semanticIdx := strings.Index(out, "semantic-fact")
	workingIdx := strings.Index(out, "working-fact")
	if semanticIdx == -1 || workingIdx == -1 {
		t.Fatalf("expected both entries present, got %q", out)
	}
	if semanticIdx > workingIdx {
		t.Fatalf("expected semantic tier to be rendered before working tier: %q", out)
	}
}

func TestContextBlock_Format_EmptyReturnsEmptyString(t *testing.T) {
	b := NewContextBlock(nil)
	if out := b.Format(100); out != "" {
		t.Fatalf("expected empty string for no memories, got %q", out)
	}
}

func TestContextBlock_Format_TrimsToTokenBudget(t *testing.T) {
	var memories []store.Memory
	for i := 0; i < 50; i++ {
		memories = append(memories, store.Memory{
			Key:        "fact",
			Value:      strings.Repeat("x", 40),
			Tier:       store.MemoryTierWorking,
			Confidence: 0.9,
			State:      store.MemoryStateActive,
		})
	}
	b := NewContextBlock(memories)
	out := b.Format(20)
	if EstimateTokens(out) > 20 {
		t.Fatalf("expected rendering to respect token budget, got %d tokens", EstimateTokens(out))
	}
}
