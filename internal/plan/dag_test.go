package plan

import (
	"strings"
	"testing"

	"github.com/msageha/planguard/internal/model"
)

func task(id string, deps ...string) model.TaskNode {
	return model.TaskNode{ID: id, Description: "a sufficiently long description", Dependencies: deps}
}

func TestCycleError_Acyclic(t *testing.T) {
	tasks := []model.TaskNode{
		task("C", "B"),
		task("B", "A"),
		task("A"),
	}
	if msg := cycleError(tasks); msg != "" {
		t.Fatalf("expected no cycle, got %q", msg)
	}
}

func TestCycleError_ThreeNodeCycle(t *testing.T) {
	tasks := []model.TaskNode{
		task("A", "C"),
		task("B", "A"),
		task("C", "B"),
	}
	want := "Circular dependency detected: A -> B -> C -> A"
	if msg := cycleError(tasks); msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
}

func TestCycleError_SelfLoop(t *testing.T) {
	tasks := []model.TaskNode{
		task("root"),
		task("loop", "root", "loop"),
	}
	want := "Circular dependency detected: loop -> loop"
	if msg := cycleError(tasks); msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
}

func TestCycleError_CycleBehindAdmittedPrefix(t *testing.T) {
	tasks := []model.TaskNode{
		task("setup"),
		task("x", "setup", "y"),
		task("y", "x"),
		task("tail", "y"),
	}
	msg := cycleError(tasks)
	if !strings.HasPrefix(msg, "Circular dependency detected: ") {
		t.Fatalf("expected cycle error, got %q", msg)
	}
	if strings.Contains(msg, "setup") || strings.Contains(msg, "tail") {
		t.Errorf("cycle path should only name cycle members, got %q", msg)
	}
	if !strings.Contains(msg, "x") || !strings.Contains(msg, "y") {
		t.Errorf("cycle path should name x and y, got %q", msg)
	}
}

func TestFormatCycle(t *testing.T) {
	got := formatCycle([]string{"a", "b"})
	if got != "Circular dependency detected: a -> b -> a" {
		t.Errorf("unexpected format: %q", got)
	}
}

func TestMaxDepth(t *testing.T) {
	tests := []struct {
		name  string
		tasks []model.TaskNode
		want  int
	}{
		{"single", []model.TaskNode{task("A")}, 0},
		{"chain", []model.TaskNode{task("A"), task("B", "A"), task("C", "B")}, 2},
		{"diamond", []model.TaskNode{task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C")}, 2},
		{"uneven", []model.TaskNode{task("A"), task("B", "A"), task("C", "B"), task("D", "A", "C")}, 3},
		{"cycle terminates", []model.TaskNode{task("A", "B"), task("B", "A")}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maxDepth(tt.tasks); got != tt.want {
				t.Errorf("maxDepth = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	stats := computeStats([]model.TaskNode{task("A"), task("B"), task("C", "A", "B")})
	if stats.TotalTasks != 3 || stats.ParallelizableTasks != 2 || stats.MaxDepth != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
