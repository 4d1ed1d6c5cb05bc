package resolver

import (
	"testing"

	"github.com/odgrim/abathur/internal/store"
)

func buildGraph(edges [][2]string) *Graph {
	g := &Graph{
		prerequisitesOf: map[string][]string{},
		dependentsOf:    map[string][]string{},
		taskIDs:         map[string]struct{}{},
	}
	for _, e := range edges {
		prereq, dependent := e[0], e[1]
		g.prerequisitesOf[dependent] = append(g.prerequisitesOf[dependent], prereq)
		g.dependentsOf[prereq] = append(g.dependentsOf[prereq], dependent)
		g.taskIDs[prereq] = struct{}{}
		g.taskIDs[dependent] = struct{}{}
	}
	return g
}

func TestWaves_LinearChain(t *testing.T) {
	g := buildGraph([][2]string{{"a", "b"}, {"b", "c"}})
	waves, err := g.Waves([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(waves) != 3 {
		t.Fatalf("got %d waves, want 3: %v", len(waves), waves)
	}
	if waves[0][0] != "a" || waves[1][0] != "b" || waves[2][0] != "c" {
		t.Fatalf("unexpected wave order: %v", waves)
	}
}

func TestWaves_Diamond(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	g := buildGraph([][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})
	waves, err := g.Waves([]string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatal(err)
	}
	if len(waves) != 3 {
		t.Fatalf("got %d waves, want 3: %v", len(waves), waves)
	}
	if len(waves[1]) != 2 {
		t.Fatalf("expected wave 1 to contain b and c: %v", waves)
	}
}

func TestWaves_CycleDetected(t *testing.T) {
	g := buildGraph([][2]string{{"a", "b"}, {"b", "a"}})
	if _, err := g.Waves([]string{"a", "b"}); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestDepth(t *testing.T) {
	g := buildGraph([][2]string{{"a", "b"}, {"b", "c"}})
	if d := g.Depth("a"); d != 0 {
		t.Fatalf("depth(a) = %d, want 0", d)
	}
	if d := g.Depth("c"); d != 2 {
		t.Fatalf("depth(c) = %d, want 2", d)
	}
}

func TestDirectDependents(t *testing.T) {
	g := buildGraph([][2]string{{"a", "b"}, {"a", "c"}})
	deps := g.DirectDependents("a")
	if len(deps) != 2 {
		t.Fatalf("got %d dependents, want 2: %v", len(deps), deps)
	}
}

func TestReady(t *testing.T) {
	if !Ready(nil) {
		t.Fatal("no prerequisites should be ready")
	}
	if !Ready([]store.TaskStatus{store.TaskStatusComplete, store.TaskStatusComplete}) {
		t.Fatal("all-complete should be ready")
	}
	if Ready([]store.TaskStatus{store.TaskStatusComplete, store.TaskStatusRunning}) {
		t.Fatal("incomplete prerequisite should not be ready")
	}
}
