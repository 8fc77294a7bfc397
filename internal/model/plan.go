package model

// PlanSchemaVersion is the only plan/outcome envelope version understood by this module.
const PlanSchemaVersion = 1

// TaskNode is a single unit of work in a plan. Dependencies keep their declared
// order for display; correctness never depends on it.
type TaskNode struct {
	ID                  string   `yaml:"id" json:"id"`
	Description         string   `yaml:"description" json:"description"`
	Dependencies        []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Priority            *int     `yaml:"priority,omitempty" json:"priority,omitempty"`
	EstimatedDurationMs *int64   `yaml:"estimated_duration_ms,omitempty" json:"estimated_duration_ms,omitempty"`
}

// Clone returns a deep copy so callers can hand nodes across ownership boundaries.
func (n TaskNode) Clone() TaskNode {
	c := n
	if n.Dependencies != nil {
		c.Dependencies = append([]string(nil), n.Dependencies...)
	}
	if n.Priority != nil {
		p := *n.Priority
		c.Priority = &p
	}
	if n.EstimatedDurationMs != nil {
		d := *n.EstimatedDurationMs
		c.EstimatedDurationMs = &d
	}
	return c
}

// TaskPlan is an ordered, immutable snapshot of tasks produced by an external planner.
type TaskPlan struct {
	Tasks []TaskNode `yaml:"tasks" json:"tasks"`
}

func (p TaskPlan) Len() int {
	return len(p.Tasks)
}

type PlanFile struct {
	SchemaVersion int        `yaml:"schema_version"`
	Tasks         []TaskNode `yaml:"tasks"`
}

type OutcomeFile struct {
	SchemaVersion int           `yaml:"schema_version"`
	Outcomes      []TaskOutcome `yaml:"outcomes"`
}
