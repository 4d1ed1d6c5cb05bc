// Package resolver computes readiness, dependency depth, and wave
// (topological layer) over the task DAG loaded from internal/store.
// Cycle rejection itself lives in internal/store (it must be atomic
// with the insert); this package answers "what does the graph look
// like" for the reactor's dispatch loop and for depth/wave reporting.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/odgrim/abathur/internal/store"
)

// Graph is a read-only snapshot of the non-terminal task dependency
// graph, built once per resolver pass and safe for concurrent reads.
// Callers must rebuild it (via Load) after any edge mutation; the
// resolver does not subscribe to invalidation itself.
type Graph struct {
	prerequisitesOf map[string][]string // dependent -> []prerequisite
	dependentsOf    map[string][]string // prerequisite -> []dependent
	taskIDs         map[string]struct{}
}

// Load builds a Graph from every non-Cancelled dependency edge currently
// in the repository.
func Load(ctx context.Context, deps *store.DependencyRepo) (*Graph, error) {
	edges, err := deps.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dependency edges: %w", err)
	}
	g := &Graph{
		prerequisitesOf: map[string][]string{},
		dependentsOf:    map[string][]string{},
		taskIDs:         map[string]struct{}{},
	}
	for _, e := range edges {
		g.prerequisitesOf[e.DependentID] = append(g.prerequisitesOf[e.DependentID], e.PrerequisiteID)
		g.dependentsOf[e.PrerequisiteID] = append(g.dependentsOf[e.PrerequisiteID], e.DependentID)
		g.taskIDs[e.DependentID] = struct{}{}
		g.taskIDs[e.PrerequisiteID] = struct{}{}
	}
	return g, nil
}

// Depth returns the longest prerequisite path ending at taskID (0 if it
// has no prerequisites). Memoized within a single Graph snapshot.
func (g *Graph) Depth(taskID string) int {
	memo := map[string]int{}
	var visit func(string) int
	visit = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		memo[id] = 0 // break cycles defensively; store guarantees acyclicity
		best := 0
		for _, prereq := range g.prerequisitesOf[id] {
			if d := visit(prereq) + 1; d > best {
				best = d
			}
		}
		memo[id] = best
		return best
	}
	return visit(taskID)
}

// DirectDependents returns the tasks directly awaiting taskID.
func (g *Graph) DirectDependents(taskID string) []string {
	return g.dependentsOf[taskID]
}

// Waves partitions taskIDs into Kahn-style topological layers: wave 0
// has no prerequisite inside the set, wave k's members depend only on
// tasks in waves < k. Returns an error if the subgraph induced by
// taskIDs contains a cycle (should not happen given store's atomic
// cycle rejection, but the resolver re-validates defensively before
// handing waves to the reactor).
func (g *Graph) Waves(taskIDs []string) ([][]string, error) {
	inSet := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		inSet[id] = struct{}{}
	}

	indegree := make(map[string]int, len(taskIDs))
	for _, id := range taskIDs {
		count := 0
		for _, prereq := range g.prerequisitesOf[id] {
			if _, ok := inSet[prereq]; ok {
				count++
			}
		}
		indegree[id] = count
	}

	var waves [][]string
	remaining := len(taskIDs)
	processed := map[string]bool{}
	for remaining > 0 {
		var wave []string
		for _, id := range taskIDs {
			if processed[id] {
				continue
			}
			if indegree[id] == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("cycle detected among %d remaining tasks", remaining)
		}
		sort.Strings(wave)
		for _, id := range wave {
			processed[id] = true
			remaining--
			for _, dependent := range g.dependentsOf[id] {
				if _, ok := inSet[dependent]; ok && !processed[dependent] {
					indegree[dependent]--
				}
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// Ready reports whether all of task's prerequisites are in the complete
// set, i.e. whether the task is eligible to move Blocked -> Ready.
// PARALLEL and SEQUENTIAL dependency kinds both use AND semantics, so
// the resolver does not need the kind once prerequisites are loaded —
// it only needs their completion status.
func Ready(prerequisiteStatuses []store.TaskStatus) bool {
	for _, s := range prerequisiteStatuses {
		if s != store.TaskStatusComplete {
			return false
		}
	}
	return true
}
