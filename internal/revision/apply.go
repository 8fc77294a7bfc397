package revision

import (
	"errors"
	"fmt"
	"slices"

	"github.com/msageha/planguard/internal/model"
)

var (
	ErrInfeasible        = errors.New("revision is not feasible")
	ErrCycleIntroduced   = errors.New("revision introduces a dependency cycle")
	ErrUnsupportedAction = errors.New("executor does not support action")
	ErrUnknownSpecTarget = errors.New("update_spec targets an unknown task")
)

// NodeAdder is implemented by executors that can grow the graph. It is
// required to apply AddNode actions.
type NodeAdder interface {
	AddNode(n model.TaskNode) error
	RemoveTask(taskID string) bool
}

// SpecUpdater is implemented by executors that store task specifications.
// Without it UpdateSpec actions are returned as pending for the caller.
type SpecUpdater interface {
	UpdateSpec(taskID, instruction string) error
}

// ApplyReport lists what Apply did with each action.
type ApplyReport struct {
	Applied []model.RevisionAction
	Pending []model.UpdateSpec
}

// Apply executes a feasible result against exec. Structural actions are
// applied in order and the graph is checked for cycles afterwards; any error
// or new cycle undoes every structural edit made by this call. Spec updates
// run only once the structure is settled.
func Apply(exec RevisionExecutor, res model.RevisionResult) (ApplyReport, error) {
	var report ApplyReport
	if !res.Feasible {
		return report, fmt.Errorf("%w: %s", ErrInfeasible, res.Reason)
	}

	var specs []model.UpdateSpec
	for _, a := range res.Actions {
		if u, ok := a.(model.UpdateSpec); ok {
			specs = append(specs, u)
		}
	}

	var undo []func()
	rollback := func() {
		for _, fn := range slices.Backward(undo) {
			fn()
		}
	}

	for _, a := range res.Actions {
		if !model.IsStructural(a) {
			continue
		}
		u, err := applyStructural(exec, a)
		if err != nil {
			rollback()
			return ApplyReport{}, fmt.Errorf("apply %s: %w", a, err)
		}
		if u != nil {
			undo = append(undo, u)
		}
		report.Applied = append(report.Applied, a)
	}

	if c := exec.DetectCycle(); c.HasCycle {
		rollback()
		return ApplyReport{}, fmt.Errorf("%w: %s", ErrCycleIntroduced, cycleText(c.CyclePath))
	}

	// Spec targets may include nodes added above, so they are checked now.
	for _, s := range specs {
		if _, ok := exec.GetTask(s.TaskID); !ok {
			rollback()
			return ApplyReport{}, fmt.Errorf("%w: %s", ErrUnknownSpecTarget, s.TaskID)
		}
	}

	updater, canUpdate := exec.(SpecUpdater)
	for _, s := range specs {
		if !canUpdate {
			report.Pending = append(report.Pending, s)
			continue
		}
		if err := updater.UpdateSpec(s.TaskID, s.Instruction); err != nil {
			rollback()
			return ApplyReport{}, fmt.Errorf("apply %s: %w", s, err)
		}
		report.Applied = append(report.Applied, s)
	}
	return report, nil
}

// applyStructural applies one topology edit and returns its inverse, or nil
// when the edit changed nothing.
func applyStructural(exec RevisionExecutor, a model.RevisionAction) (func(), error) {
	switch v := a.(type) {
	case model.AddNode:
		adder, ok := exec.(NodeAdder)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Kind())
		}
		if err := adder.AddNode(v.Node); err != nil {
			return nil, err
		}
		return func() { adder.RemoveTask(v.Node.ID) }, nil

	case model.AddDependency:
		t, ok := exec.GetTask(v.TaskID)
		existed := ok && slices.Contains(t.Dependencies, v.DependsOn)
		if err := exec.AddDependency(v.TaskID, v.DependsOn); err != nil {
			return nil, err
		}
		if existed {
			return nil, nil
		}
		return func() { exec.RemoveDependency(v.TaskID, v.DependsOn) }, nil

	case model.RemoveDependency:
		if !exec.RemoveDependency(v.TaskID, v.DependsOn) {
			return nil, nil
		}
		return func() { _ = exec.AddDependency(v.TaskID, v.DependsOn) }, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Kind())
	}
}
