package model

import "fmt"

type ActionKind string

const (
	ActionAddNode          ActionKind = "add_node"
	ActionAddDependency    ActionKind = "add_dependency"
	ActionRemoveDependency ActionKind = "remove_dependency"
	ActionUpdateSpec       ActionKind = "update_spec"
)

// RevisionAction is a closed sum type: only the four variants below implement it.
// Apply them with an exhaustive type switch.
type RevisionAction interface {
	Kind() ActionKind
	Target() string
	String() string
	isRevisionAction()
}

// AddNode introduces Node on behalf of the failed task TaskID.
type AddNode struct {
	TaskID string
	Node   TaskNode
}

// AddDependency makes TaskID wait for DependsOn.
type AddDependency struct {
	TaskID    string
	DependsOn string
}

type RemoveDependency struct {
	TaskID    string
	DependsOn string
}

// UpdateSpec asks for TaskID to be re-specified; Instruction is free text.
type UpdateSpec struct {
	TaskID      string
	Instruction string
}

func (AddNode) Kind() ActionKind          { return ActionAddNode }
func (AddDependency) Kind() ActionKind    { return ActionAddDependency }
func (RemoveDependency) Kind() ActionKind { return ActionRemoveDependency }
func (UpdateSpec) Kind() ActionKind       { return ActionUpdateSpec }

func (a AddNode) Target() string          { return a.TaskID }
func (a AddDependency) Target() string    { return a.TaskID }
func (a RemoveDependency) Target() string { return a.TaskID }
func (a UpdateSpec) Target() string       { return a.TaskID }

func (AddNode) isRevisionAction()          {}
func (AddDependency) isRevisionAction()    {}
func (RemoveDependency) isRevisionAction() {}
func (UpdateSpec) isRevisionAction()       {}

func (a AddNode) String() string {
	return fmt.Sprintf("add_node %s (for %s)", a.Node.ID, a.TaskID)
}

func (a AddDependency) String() string {
	return fmt.Sprintf("add_dependency %s -> %s", a.DependsOn, a.TaskID)
}

func (a RemoveDependency) String() string {
	return fmt.Sprintf("remove_dependency %s -> %s", a.DependsOn, a.TaskID)
}

func (a UpdateSpec) String() string {
	return fmt.Sprintf("update_spec %s: %s", a.TaskID, a.Instruction)
}

// IsStructural reports whether applying the action edits graph topology.
func IsStructural(a RevisionAction) bool {
	switch a.(type) {
	case AddNode, AddDependency, RemoveDependency:
		return true
	default:
		return false
	}
}

// ActionRecord is the flat, tagged encoding of a RevisionAction used in
// reports and audit entries.
type ActionRecord struct {
	Type        ActionKind `yaml:"type" json:"type"`
	TaskID      string     `yaml:"task_id" json:"task_id"`
	DependsOn   string     `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Node        *TaskNode  `yaml:"node,omitempty" json:"node,omitempty"`
	Instruction string     `yaml:"instruction,omitempty" json:"instruction,omitempty"`
}

func ToRecord(a RevisionAction) ActionRecord {
	switch v := a.(type) {
	case AddNode:
		n := v.Node.Clone()
		return ActionRecord{Type: ActionAddNode, TaskID: v.TaskID, Node: &n}
	case AddDependency:
		return ActionRecord{Type: ActionAddDependency, TaskID: v.TaskID, DependsOn: v.DependsOn}
	case RemoveDependency:
		return ActionRecord{Type: ActionRemoveDependency, TaskID: v.TaskID, DependsOn: v.DependsOn}
	case UpdateSpec:
		return ActionRecord{Type: ActionUpdateSpec, TaskID: v.TaskID, Instruction: v.Instruction}
	default:
		panic(fmt.Sprintf("model: unknown revision action %T", a))
	}
}

// RevisionReport is the serializable form of a RevisionResult.
type RevisionReport struct {
	Feasible bool           `yaml:"feasible" json:"feasible"`
	Reason   string         `yaml:"reason" json:"reason"`
	Actions  []ActionRecord `yaml:"actions" json:"actions"`
}

func (r RevisionResult) Report() RevisionReport {
	records := make([]ActionRecord, 0, len(r.Actions))
	for _, a := range r.Actions {
		records = append(records, ToRecord(a))
	}
	return RevisionReport{Feasible: r.Feasible, Reason: r.Reason, Actions: records}
}
