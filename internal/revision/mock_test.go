package revision

import (
	"sync"

	"github.com/msageha/planguard/internal/model"
)

// mockExecutor records every call and answers from a fixed task table.
type mockExecutor struct {
	mu          sync.Mutex
	tasks       map[string]model.TaskNode
	cycle       model.CycleResult
	added       [][2]string
	removed     [][2]string
	detectCalls int
	getCalls    int
}

func newMockExecutor(tasks ...model.TaskNode) *mockExecutor {
	m := &mockExecutor{tasks: make(map[string]model.TaskNode)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockExecutor) AddDependency(taskID, depID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, [2]string{taskID, depID})
	return nil
}

func (m *mockExecutor) RemoveDependency(taskID, depID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, [2]string{taskID, depID})
	return true
}

func (m *mockExecutor) GetTask(taskID string) (model.TaskNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	t, ok := m.tasks[taskID]
	return t, ok
}

func (m *mockExecutor) DetectCycle() model.CycleResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectCalls++
	return m.cycle
}

func (m *mockExecutor) calls() (detect, get, mutations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectCalls, m.getCalls, len(m.added) + len(m.removed)
}
