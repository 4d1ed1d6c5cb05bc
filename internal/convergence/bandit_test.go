package convergence

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

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

func TestSampleBeta_StaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		s := sampleBeta(2.0, 5.0, rng)
		if s < 0 || s > 1 {
			t.Fatalf("beta sample out of [0,1]: %f", s)
		}
	}
}

func TestSampleBeta_HighAlphaBiasesHigh(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var lowMean, highMean float64
	const n = 2000
	for i := 0; i < n; i++ {
		lowMean += sampleBeta(1, 10, rng)
		highMean += sampleBeta(10, 1, rng)
	}
	lowMean /= n
	highMean /= n
	if highMean <= lowMean {
		t.Fatalf("expected Beta(10,1) mean > Beta(1,10) mean, got %f vs %f", highMean, lowMean)
	}
	if math.Abs(highMean-0.91) > 0.1 {
		t.Fatalf("expected Beta(10,1) mean near 0.91, got %f", highMean)
	}
}

func TestBandit_UpdateShiftsPosteriorTowardWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	goal, err := s.Goals.Create(ctx, store.Goal{Name: "converge-me", Status: store.GoalStatusActive})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	b := NewBandit(s.Convergence)
	for i := 0; i < 20; i++ {
		if err := b.Update(ctx, goal.ID, store.StrategyTestPass, true); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		if err := b.Update(ctx, goal.ID, store.StrategyJudge, false); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	rng := rand.New(rand.NewSource(3))
	counts := map[store.ConvergenceStrategy]int{}
	for i := 0; i < 200; i++ {
		choice, err := b.Choose(ctx, goal.ID, rng)
		if err != nil {
			t.Fatalf("choose: %v", err)
		}
		counts[choice]++
	}
	if counts[store.StrategyTestPass] <= counts[store.StrategyJudge] {
		t.Fatalf("expected reinforced strategy to be chosen more often: %v", counts)
	}
}
