package revision

import (
	"fmt"

	"github.com/msageha/planguard/internal/failure"
	"github.com/msageha/planguard/internal/model"
)

// RemediationSuffix is appended to a failed task's ID to name the task that
// fetches its missing resource.
const RemediationSuffix = "-fetch-resource"

// TaskLookup is the read side of a RevisionExecutor.
type TaskLookup interface {
	GetTask(taskID string) (model.TaskNode, bool)
}

// Planner turns failure analyses into revision actions.
type Planner struct{}

func NewPlanner() *Planner {
	return &Planner{}
}

// Plan returns the actions for one failed task. lookup is consulted for the
// failed task's dependencies and for an existing remediation task; it may be
// nil.
func (p *Planner) Plan(an failure.Analysis, lookup TaskLookup) []model.RevisionAction {
	switch an.Category {
	case failure.CategoryMissingResource:
		return p.planMissingResource(an, lookup)
	case failure.CategoryAccessDenied:
		return []model.RevisionAction{model.UpdateSpec{
			TaskID: an.TaskID,
			Instruction: fmt.Sprintf(
				"Access was denied (%s). Revise the task to run with different credentials or take a different approach.",
				an.Message),
		}}
	case failure.CategoryConstraintViolation:
		return p.PlanViolation(an.TaskID, an.Message)
	default:
		return []model.RevisionAction{model.UpdateSpec{
			TaskID:      an.TaskID,
			Instruction: fmt.Sprintf("Task failed: %s. Revise its specification to address the error.", an.Message),
		}}
	}
}

// PlanViolation flags a completed task whose output reported failure.
func (p *Planner) PlanViolation(taskID, violation string) []model.RevisionAction {
	return []model.RevisionAction{model.UpdateSpec{
		TaskID: taskID,
		Instruction: fmt.Sprintf(
			"Task completed but its output signals failure (%s). Revise its specification so the failure is handled.",
			violation),
	}}
}

// planMissingResource adds a remediation task that runs in the failed task's
// slot and makes the failed task wait for it. When the remediation task is
// already in the graph only the dependency is proposed.
func (p *Planner) planMissingResource(an failure.Analysis, lookup TaskLookup) []model.RevisionAction {
	remediationID := an.TaskID + RemediationSuffix

	var deps []string
	if lookup != nil {
		if failed, ok := lookup.GetTask(an.TaskID); ok {
			deps = append(deps, failed.Dependencies...)
		}
	}

	link := model.AddDependency{TaskID: an.TaskID, DependsOn: remediationID}
	if lookup != nil {
		if _, exists := lookup.GetTask(remediationID); exists {
			return []model.RevisionAction{link}
		}
	}

	return []model.RevisionAction{
		model.AddNode{
			TaskID: an.TaskID,
			Node: model.TaskNode{
				ID:           remediationID,
				Description:  remediationDescription(an),
				Dependencies: deps,
			},
		},
		link,
	}
}

func remediationDescription(an failure.Analysis) string {
	if an.Resource != "" {
		return fmt.Sprintf("Create or fetch the missing resource %q required by task %q", an.Resource, an.TaskID)
	}
	return fmt.Sprintf("Create or fetch the resource task %q could not find: %s", an.TaskID, an.Message)
}
