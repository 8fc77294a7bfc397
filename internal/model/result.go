package model

// TaskOutcome is what the execution engine reports for a finished task.
// Output is either a string or a structured value decoded from YAML/JSON.
type TaskOutcome struct {
	TaskID     string `yaml:"task_id" json:"task_id"`
	Status     Status `yaml:"status" json:"status"`
	Output     any    `yaml:"output,omitempty" json:"output,omitempty"`
	Error      string `yaml:"error,omitempty" json:"error,omitempty"`
	DurationMs int64  `yaml:"duration_ms" json:"duration_ms"`
}

type PlanStats struct {
	TotalTasks          int `yaml:"total_tasks" json:"total_tasks"`
	ParallelizableTasks int `yaml:"parallelizable_tasks" json:"parallelizable_tasks"`
	MaxDepth            int `yaml:"max_depth" json:"max_depth"`
}

// ValidationResult reports fatal errors and advisory warnings, both in the
// order they were found.
type ValidationResult struct {
	Valid    bool       `yaml:"valid" json:"valid"`
	Errors   []string   `yaml:"errors" json:"errors"`
	Warnings []string   `yaml:"warnings" json:"warnings"`
	Stats    *PlanStats `yaml:"stats,omitempty" json:"stats,omitempty"`
}

type QuickValidationResult struct {
	Valid      bool   `yaml:"valid" json:"valid"`
	FirstError string `yaml:"first_error,omitempty" json:"first_error,omitempty"`
}

// RevisionResult is the outcome of one self-revision pass. Callers apply
// Actions only when Feasible is true.
type RevisionResult struct {
	Actions  []RevisionAction
	Reason   string
	Feasible bool
}

// CycleResult is returned by every cycle detector in the module. CyclePath is
// ancestor-first; the closing edge back to CyclePath[0] is implied.
type CycleResult struct {
	HasCycle  bool     `yaml:"has_cycle" json:"has_cycle"`
	CyclePath []string `yaml:"cycle_path,omitempty" json:"cycle_path,omitempty"`
}
