package convergence

import "github.com/odgrim/abathur/internal/store"

// Classify labels a trajectory's long-run behavior by comparing
// successive iterations' diff sizes and test outcomes. history must be
// ordered oldest-first and non-empty; the latest entry is history's last
// element. Returns AttractorNone if the trajectory hasn't settled into
// a recognizable pattern yet (the caller keeps iterating).
func Classify(history []store.Trajectory) store.Attractor {
	n := len(history)
	if n == 0 {
		return store.AttractorNone
	}
	latest := history[n-1]

	if latest.DiffSize == 0 && latest.TestsPassed {
		return store.AttractorFixedPoint
	}
	if n < 3 {
		return store.AttractorNone
	}

	diffs := make([]int, n)
	for i, t := range history {
		diffs[i] = t.DiffSize
	}

	if isOscillating(diffs) {
		return store.AttractorLimitCycle
	}
	if isDiverging(diffs) {
		return store.AttractorDiverging
	}
	return store.AttractorNone
}

// isOscillating reports whether the last few diff sizes alternate
// up/down around a stable band rather than trending toward zero —
// the signature of a limit cycle rather than convergence.
func isOscillating(diffs []int) bool {
	tail := diffs
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) < 3 {
		return false
	}
	alternations := 0
	for i := 1; i < len(tail)-1; i++ {
		rising := tail[i] > tail[i-1]
		nextFalling := tail[i+1] < tail[i]
		fallingThenRising := tail[i] < tail[i-1] && tail[i+1] > tail[i]
		if (rising && nextFalling) || fallingThenRising {
			alternations++
		}
	}
	return alternations >= len(tail)-2 && !allZero(tail)
}

// isDiverging reports whether diff size has grown monotonically across
// the whole trajectory, i.e. each iteration is strictly worse than its
// predecessor.
func isDiverging(diffs []int) bool {
	for i := 1; i < len(diffs); i++ {
		if diffs[i] <= diffs[i-1] {
			return false
		}
	}
	return len(diffs) >= 3
}

func allZero(diffs []int) bool {
	for _, d := range diffs {
		if d != 0 {
			return false
		}
	}
	return true
}
