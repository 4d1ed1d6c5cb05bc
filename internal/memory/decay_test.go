package memory

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/odgrim/abathur/internal/store"
)

func TestDecayFactor_NoElapsedTimeIsIdentity(t *testing.T) {
	if got := DecayFactor(0, 0.1); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected factor 1.0 for zero elapsed time, got %f", got)
	}
}

func TestDecayFactor_DecreasesWithElapsedAndRate(t *testing.T) {
	fast := DecayFactor(24*time.Hour, 0.1)
	slow := DecayFactor(24*time.Hour, 0.01)
	if fast >= slow {
		t.Fatalf("higher decay rate should shrink confidence faster: fast=%f slow=%f", fast, slow)
	}
	if fast <= 0 || fast >= 1 {
		t.Fatalf("factor should be in (0,1), got %f", fast)
	}
}

func TestDecayDaemon_TickArchivesBelowFloor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.Memories.Upsert(ctx, store.Memory{
		Namespace:  "implementer",
		Key:        "stale-fact",
		Value:      "x",
		Tier:       store.MemoryTierWorking,
		Confidence: 0.2,
		DecayRate:  5.0,
	})
	if err != nil {
		t.Fatalf("upsert memory: %v", err)
	}

	// backdate UpdatedAt far enough that even a high decay rate drives
	// confidence under the floor.
	if _, err := s.DB().ExecContext(ctx, `UPDATE memories SET updated_at = ? WHERE id = ?;`,
		time.Now().UTC().Add(-72*time.Hour), m.ID); err != nil {
		t.Fatalf("backdate memory: %v", err)
	}

	d := NewDecayDaemon(DecayConfig{Store: s.Memories, Logger: slog.Default(), Floor: DefaultDecayFloor})
	d.tick(ctx)

	memories, err := s.Memories.ListDecayable(ctx)
	if err != nil {
		t.Fatalf("list decayable: %v", err)
	}
	for _, mm := range memories {
		if mm.ID == m.ID {
			t.Fatalf("expected memory to be archived and excluded from decayable list, found state live")
		}
	}
}

func TestDecayDaemon_TickLeavesRecentMemoriesActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.Memories.Upsert(ctx, store.Memory{
		Namespace:  "implementer",
		Key:        "fresh-fact",
		Value:      "x",
		Tier:       store.MemoryTierWorking,
		Confidence: 0.9,
		DecayRate:  0.01,
	})
	if err != nil {
		t.Fatalf("upsert memory: %v", err)
	}

	d := NewDecayDaemon(DecayConfig{Store: s.Memories})
	d.tick(ctx)

	memories, err := s.Memories.ListDecayable(ctx)
	if err != nil {
		t.Fatalf("list decayable: %v", err)
	}
	found := false
	for _, mm := range memories {
		if mm.ID == m.ID {
			found = true
			if mm.Confidence <= 0 || mm.Confidence > 0.9 {
				t.Fatalf("expected confidence to decay slightly but stay positive, got %f", mm.Confidence)
			}
		}
	}
	if !found {
		t.Fatal("expected fresh memory to remain in the decayable set")
	}
}
