package plan

import (
	"fmt"
	"strings"

	"github.com/msageha/planguard/internal/graph"
	"github.com/msageha/planguard/internal/model"
)

// cycleError admits tasks into a throwaway graph in dependency order and
// returns a formatted error when the plan contains a cycle, or "".
// Dependencies must already be known to resolve.
func cycleError(tasks []model.TaskNode) string {
	g := graph.New()
	remaining := tasks

	for len(remaining) > 0 {
		var stalled []model.TaskNode
		for _, t := range remaining {
			if !admittable(g, t) {
				stalled = append(stalled, t)
				continue
			}
			if err := g.AddNode(t); err != nil {
				// Duplicates were rejected before this stage.
				panic(fmt.Sprintf("plan: admit %q: %v", t.ID, err))
			}
		}
		if len(stalled) == len(remaining) {
			return stalledCycle(g, stalled)
		}
		remaining = stalled
	}

	if res := g.DetectCycle(); res.HasCycle {
		return formatCycle(res.CyclePath)
	}
	return ""
}

func admittable(g *graph.DependencyGraph, t model.TaskNode) bool {
	for _, dep := range t.Dependencies {
		if !g.Has(dep) {
			return false
		}
	}
	return true
}

// stalledCycle explains a work-list stall. The admitted graph is asked first;
// otherwise the cycle must lie entirely among the tasks never admitted.
func stalledCycle(g *graph.DependencyGraph, stalled []model.TaskNode) string {
	if res := g.DetectCycle(); res.HasCycle {
		return formatCycle(res.CyclePath)
	}

	ids := make([]string, 0, len(stalled))
	successors := make(map[string][]string, len(stalled))
	for _, t := range stalled {
		ids = append(ids, t.ID)
		for _, dep := range t.Dependencies {
			successors[dep] = append(successors[dep], t.ID)
		}
	}
	if path := graph.FindCycle(ids, successors); path != nil {
		return formatCycle(path)
	}

	return "Circular dependency detected among tasks: " + strings.Join(ids, ", ")
}

func formatCycle(path []string) string {
	closed := append(append([]string(nil), path...), path[0])
	return "Circular dependency detected: " + strings.Join(closed, " -> ")
}

func computeStats(tasks []model.TaskNode) model.PlanStats {
	stats := model.PlanStats{TotalTasks: len(tasks)}
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			stats.ParallelizableTasks++
		}
	}
	stats.MaxDepth = maxDepth(tasks)
	return stats
}

// maxDepth returns the longest dependency chain length. depth(t) is 0 for a
// task without dependencies and 1 + max(depth(dep)) otherwise. A task seen
// again within one top-level call counts as 0 so a residual cycle cannot recurse
// forever.
func maxDepth(tasks []model.TaskNode) int {
	byID := make(map[string]model.TaskNode, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	memo := make(map[string]int, len(tasks))

	var depth func(id string, visited map[string]bool) int
	depth = func(id string, visited map[string]bool) int {
		if d, ok := memo[id]; ok {
			return d
		}
		t, ok := byID[id]
		if !ok || visited[id] {
			return 0
		}
		visited[id] = true

		d := 0
		for _, dep := range t.Dependencies {
			if dd := depth(dep, visited) + 1; dd > d {
				d = dd
			}
		}
		memo[id] = d
		return d
	}

	maxD := 0
	for _, t := range tasks {
		if d := depth(t.ID, make(map[string]bool)); d > maxD {
			maxD = d
		}
	}
	return maxD
}
