// Package plan validates task plans and reads and writes plan and outcome files.
package plan

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/msageha/planguard/internal/model"
)

const (
	msgEmptyPlan     = "Plan has no tasks"
	prefixDuplicate  = "Duplicate task IDs found: "
	prefixCycle      = "Circular dependency detected"
	fragmentDangling = " depends on non-existent task "
)

// ErrorKind names the structural check that produced a Validate error
// message: duplicate_id, dangling_dependency, cycle, or unknown.
func ErrorKind(msg string) string {
	switch {
	case strings.HasPrefix(msg, prefixDuplicate):
		return "duplicate_id"
	case strings.HasPrefix(msg, prefixCycle):
		return "cycle"
	case strings.Contains(msg, fragmentDangling):
		return "dangling_dependency"
	default:
		return "unknown"
	}
}

// Validator checks plans for structural soundness and reports heuristic
// warnings and statistics. It holds no per-call state and is safe for
// concurrent use.
type Validator struct {
	longTaskThresholdMs  int64
	minDescriptionLength int
}

type Option func(*Validator)

// WithLongTaskThreshold sets the estimated duration above which a task is
// flagged for splitting.
func WithLongTaskThreshold(ms int64) Option {
	return func(v *Validator) {
		v.longTaskThresholdMs = ms
	}
}

// WithMinDescriptionLength sets the description length, in characters, below
// which a task is flagged as underspecified.
func WithMinDescriptionLength(n int) Option {
	return func(v *Validator) {
		v.minDescriptionLength = n
	}
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		longTaskThresholdMs:  model.DefaultLongTaskThresholdMs,
		minDescriptionLength: model.DefaultMinDescriptionLength,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewValidatorFromConfig applies the validation section of cfg.
func NewValidatorFromConfig(cfg model.ValidationConfig) *Validator {
	return NewValidator(
		WithLongTaskThreshold(cfg.LongTaskThresholdMs),
		WithMinDescriptionLength(cfg.MinDescriptionLength),
	)
}

var defaultValidator = NewValidator()

// ValidateTaskPlan validates p with the default thresholds.
func ValidateTaskPlan(p model.TaskPlan) model.ValidationResult {
	return defaultValidator.Validate(p)
}

// QuickValidatePlan only checks for duplicate IDs and dangling dependencies and
// stops at the first violation.
func QuickValidatePlan(p model.TaskPlan) model.QuickValidationResult {
	return defaultValidator.QuickValidate(p)
}

// Validate runs the structural checks in order, stopping at the first stage
// that finds a fatal problem, then computes warnings and stats.
func (v *Validator) Validate(p model.TaskPlan) model.ValidationResult {
	if len(p.Tasks) == 0 {
		return model.ValidationResult{
			Valid:    true,
			Errors:   []string{},
			Warnings: []string{msgEmptyPlan},
			Stats:    &model.PlanStats{},
		}
	}

	if dups := duplicateIDs(p.Tasks); len(dups) > 0 {
		return invalid(duplicateMessage(dups))
	}

	if errs := danglingDependencies(p.Tasks); len(errs) > 0 {
		return invalid(errs...)
	}

	if msg := cycleError(p.Tasks); msg != "" {
		return invalid(msg)
	}

	stats := computeStats(p.Tasks)
	return model.ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: v.warnings(p.Tasks),
		Stats:    &stats,
	}
}

func (v *Validator) QuickValidate(p model.TaskPlan) model.QuickValidationResult {
	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if seen[t.ID] {
			return model.QuickValidationResult{FirstError: duplicateMessage([]string{t.ID})}
		}
		seen[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return model.QuickValidationResult{FirstError: danglingMessage(t.ID, dep)}
			}
		}
	}
	return model.QuickValidationResult{Valid: true}
}

func invalid(errs ...string) model.ValidationResult {
	return model.ValidationResult{
		Valid:    false,
		Errors:   errs,
		Warnings: []string{},
	}
}

// duplicateIDs returns each ID that occurs more than once, once, in order of
// first repetition.
func duplicateIDs(tasks []model.TaskNode) []string {
	seen := make(map[string]bool, len(tasks))
	reported := make(map[string]bool)
	var dups []string
	for _, t := range tasks {
		if seen[t.ID] && !reported[t.ID] {
			dups = append(dups, t.ID)
			reported[t.ID] = true
		}
		seen[t.ID] = true
	}
	return dups
}

func danglingDependencies(tasks []model.TaskNode) []string {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	var errs []string
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !known[dep] {
				errs = append(errs, danglingMessage(t.ID, dep))
			}
		}
	}
	return errs
}

func duplicateMessage(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return prefixDuplicate + strings.Join(quoted, ", ")
}

func danglingMessage(taskID, dep string) string {
	return fmt.Sprintf("Task %q"+fragmentDangling+"%q", taskID, dep)
}

func (v *Validator) warnings(tasks []model.TaskNode) []string {
	warnings := []string{}

	hasDependents := make(map[string]bool, len(tasks))
	allDependent := true
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			allDependent = false
		}
		for _, dep := range t.Dependencies {
			hasDependents[dep] = true
		}
	}
	if allDependent {
		warnings = append(warnings, "All tasks have dependencies; no parallelism possible")
	}

	var orphans []string
	for _, t := range tasks {
		if len(t.Dependencies) == 0 && !hasDependents[t.ID] {
			orphans = append(orphans, t.ID)
		}
	}
	// A single orphan is usually the plan's only root.
	if len(orphans) > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"Found %d orphan tasks with no dependencies or dependents: %s",
			len(orphans), strings.Join(orphans, ", ")))
	}

	for _, t := range tasks {
		if t.EstimatedDurationMs != nil && *t.EstimatedDurationMs > v.longTaskThresholdMs {
			warnings = append(warnings, fmt.Sprintf(
				"Task %q has estimated duration %dms (over %dms); consider splitting it into smaller tasks",
				t.ID, *t.EstimatedDurationMs, v.longTaskThresholdMs))
		}
	}

	for _, t := range tasks {
		if utf8.RuneCountInString(t.Description) < v.minDescriptionLength {
			warnings = append(warnings, fmt.Sprintf(
				"Task %q has a very short description; add more detail", t.ID))
		}
	}

	return warnings
}
