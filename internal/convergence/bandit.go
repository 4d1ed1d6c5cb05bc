// Package convergence runs a task's iterative refinement loop: pick an
// iteration strategy via a Thompson-sampling bandit, run one iteration,
// classify the resulting trajectory, and repeat until the trajectory
// settles or a ceiling is reached. The turn-loop shape (claim, per-turn
// dispatch, terminal classification) is generalized from "drive a chat
// turn" to "drive one convergence iteration".
package convergence

import (
	"context"
	"math"
	"math/rand"

	"github.com/odgrim/abathur/internal/store"
)

// strategies is the fixed set the bandit chooses between.
var strategies = []store.ConvergenceStrategy{
	store.StrategyThreshold, store.StrategyStability, store.StrategyTestPass, store.StrategyJudge,
}

// Bandit samples a Beta(alpha, beta) posterior per strategy for a goal
// and picks the strategy with the highest sample (Thompson sampling),
// then feeds the iteration's outcome back into that strategy's
// posterior at Resolve. No Beta-distribution sampler exists anywhere in
// the reference corpus, so the Gamma-ratio construction below is
// stdlib-only (math/rand); everything around it is store-backed.
type Bandit struct {
	repo *store.ConvergenceRepo
}

// NewBandit builds a Bandit backed by repo.
func NewBandit(repo *store.ConvergenceRepo) *Bandit {
	return &Bandit{repo: repo}
}

// Choose samples each strategy's current posterior and returns the
// strategy with the highest draw for goalID.
func (b *Bandit) Choose(ctx context.Context, goalID string, rng *rand.Rand) (store.ConvergenceStrategy, error) {
	priors, err := b.repo.AllPriors(ctx, goalID)
	if err != nil {
		return "", err
	}
	best := strategies[0]
	bestSample := -1.0
	for _, p := range priors {
		sample := sampleBeta(p.Alpha, p.Beta, rng)
		if sample > bestSample {
			bestSample = sample
			best = p.Strategy
		}
	}
	return best, nil
}

// Update records whether the chosen strategy's iteration converged,
// updating its posterior for future Choose calls on the same goal.
func (b *Bandit) Update(ctx context.Context, goalID string, strategy store.ConvergenceStrategy, success bool) error {
	_, err := b.repo.UpdatePrior(ctx, goalID, strategy, success)
	return err
}

// sampleBeta draws from Beta(alpha, beta) via the standard X/(X+Y)
// ratio of two independent Gamma draws.
func sampleBeta(alpha, beta float64, rng *rand.Rand) float64 {
	x := sampleGamma(alpha, rng)
	y := sampleGamma(beta, rng)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia and Tsang's
// method, boosting shapes below 1 per their note in the same paper.
func sampleGamma(shape float64, rng *rand.Rand) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(shape+1, rng) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*(x*x*x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
