// Package graph holds the mutable task dependency graph shared by the plan
// validator and the live execution side.
package graph

import (
	"slices"
	"strings"

	"github.com/msageha/planguard/internal/model"
)

// TaskSpec is the metadata registered with AddTask.
type TaskSpec struct {
	Name         string
	Dependencies []string
	Priority     *int
}

// DependencyGraph maps task IDs to their metadata and keeps adjacency edges
// from each dependency to its dependents. It is not safe for concurrent
// mutation; the owner serializes writers.
type DependencyGraph struct {
	order      []string
	nodes      map[string]*model.TaskNode
	dependents map[string][]string // dependency -> dependents, insertion order
}

func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]*model.TaskNode),
		dependents: make(map[string][]string),
	}
}

// FromPlan builds a graph holding every task of plan in plan order.
// Dependencies may reference tasks that appear later in the plan.
func FromPlan(plan model.TaskPlan) (*DependencyGraph, error) {
	g := New()
	for _, t := range plan.Tasks {
		if err := g.AddNode(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddTask registers id and an edge from each dependency to id. Dependencies
// that are not (yet) in the graph are recorded but ignored by traversal.
func (g *DependencyGraph) AddTask(id string, spec TaskSpec) error {
	if _, exists := g.nodes[id]; exists {
		return &DuplicateTaskError{TaskID: id}
	}

	deps := make([]string, 0, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		if slices.Contains(deps, dep) {
			continue
		}
		deps = append(deps, dep)
		g.dependents[dep] = append(g.dependents[dep], id)
	}

	node := &model.TaskNode{ID: id, Description: spec.Name, Dependencies: deps}
	if spec.Priority != nil {
		p := *spec.Priority
		node.Priority = &p
	}
	g.nodes[id] = node
	g.order = append(g.order, id)
	return nil
}

// AddNode is AddTask for a full TaskNode; the estimated duration is kept.
func (g *DependencyGraph) AddNode(n model.TaskNode) error {
	if err := g.AddTask(n.ID, TaskSpec{Name: n.Description, Dependencies: n.Dependencies, Priority: n.Priority}); err != nil {
		return err
	}
	if n.EstimatedDurationMs != nil {
		d := *n.EstimatedDurationMs
		g.nodes[n.ID].EstimatedDurationMs = &d
	}
	return nil
}

// RemoveTask deletes a task that nothing depends on. It reports whether the
// task was removed.
func (g *DependencyGraph) RemoveTask(id string) bool {
	node, ok := g.nodes[id]
	if !ok || len(g.dependents[id]) > 0 {
		return false
	}
	for _, dep := range node.Dependencies {
		g.dependents[dep] = remove(g.dependents[dep], id)
	}
	delete(g.dependents, id)
	delete(g.nodes, id)
	g.order = remove(g.order, id)
	return true
}

// AddDependency makes taskID depend on depID. Adding an existing edge is a no-op.
func (g *DependencyGraph) AddDependency(taskID, depID string) error {
	node, ok := g.nodes[taskID]
	if !ok {
		return notFound(taskID)
	}
	if _, ok := g.nodes[depID]; !ok {
		return notFound(depID)
	}
	if slices.Contains(node.Dependencies, depID) {
		return nil
	}
	node.Dependencies = append(node.Dependencies, depID)
	g.dependents[depID] = append(g.dependents[depID], taskID)
	return nil
}

// RemoveDependency deletes the edge depID -> taskID and reports whether it existed.
func (g *DependencyGraph) RemoveDependency(taskID, depID string) bool {
	node, ok := g.nodes[taskID]
	if !ok || !slices.Contains(node.Dependencies, depID) {
		return false
	}
	node.Dependencies = remove(node.Dependencies, depID)
	g.dependents[depID] = remove(g.dependents[depID], taskID)
	return true
}

// UpdateSpec appends a revision instruction to the task's description.
func (g *DependencyGraph) UpdateSpec(taskID, instruction string) error {
	node, ok := g.nodes[taskID]
	if !ok {
		return notFound(taskID)
	}
	var sb strings.Builder
	sb.WriteString(node.Description)
	if node.Description != "" {
		sb.WriteString("\n\n")
	}
	sb.WriteString("Revision: ")
	sb.WriteString(instruction)
	node.Description = sb.String()
	return nil
}

// GetTask returns a copy of the task.
func (g *DependencyGraph) GetTask(id string) (model.TaskNode, bool) {
	node, ok := g.nodes[id]
	if !ok {
		return model.TaskNode{}, false
	}
	return node.Clone(), true
}

func (g *DependencyGraph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// IDs returns task IDs in insertion order.
func (g *DependencyGraph) IDs() []string {
	return slices.Clone(g.order)
}

func (g *DependencyGraph) Dependencies(id string) []string {
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(node.Dependencies)
}

func (g *DependencyGraph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// Plan returns the graph contents as a plan snapshot in insertion order.
func (g *DependencyGraph) Plan() model.TaskPlan {
	tasks := make([]model.TaskNode, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id].Clone())
	}
	return model.TaskPlan{Tasks: tasks}
}

// DetectCycle runs a three-color DFS over all tasks in insertion order.
func (g *DependencyGraph) DetectCycle() model.CycleResult {
	path := FindCycle(g.order, g.dependents)
	if path == nil {
		return model.CycleResult{}
	}
	return model.CycleResult{HasCycle: true, CyclePath: path}
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
