package plan

import (
	"fmt"
	"os"

	"github.com/msageha/planguard/internal/model"
	yamlutil "github.com/msageha/planguard/internal/yaml"
)

// OutcomeSet is the decoded content of an outcome file: outcomes keyed by task
// ID plus the completed and failed IDs in file order.
type OutcomeSet struct {
	Outcomes  map[string]model.TaskOutcome
	Completed []string
	Failed    []string
}

func LoadPlanFile(path string) (model.TaskPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TaskPlan{}, fmt.Errorf("read plan: %w", err)
	}
	p, err := ParsePlan(data)
	if err != nil {
		return model.TaskPlan{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePlan decodes a plan envelope. Unknown fields are rejected. Only the
// envelope is checked here; graph structure is the Validator's job.
func ParsePlan(data []byte) (model.TaskPlan, error) {
	var pf model.PlanFile
	if err := yamlutil.DecodeStrict(data, &pf); err != nil {
		return model.TaskPlan{}, fmt.Errorf("parse plan: %w", err)
	}

	errs := &ValidationErrors{}
	validateSchemaVersion(pf.SchemaVersion, errs)
	for i, t := range pf.Tasks {
		prefix := fmt.Sprintf("tasks[%d]", i)
		if t.ID == "" {
			errs.Add(prefix+".id", "required field is missing")
		}
		if t.EstimatedDurationMs != nil && *t.EstimatedDurationMs < 0 {
			errs.Add(prefix+".estimated_duration_ms", fmt.Sprintf("must be non-negative, got %d", *t.EstimatedDurationMs))
		}
		for j, dep := range t.Dependencies {
			if dep == "" {
				errs.Add(fmt.Sprintf("%s.dependencies[%d]", prefix, j), "empty task ID")
			}
		}
	}
	if errs.HasErrors() {
		return model.TaskPlan{}, errs
	}

	return model.TaskPlan{Tasks: pf.Tasks}, nil
}

// WritePlanFile atomically replaces path with p, keeping a .bak of the
// previous version. Nothing is written unless the encoded plan parses back.
func WritePlanFile(path string, p model.TaskPlan) error {
	pf := model.PlanFile{SchemaVersion: model.PlanSchemaVersion, Tasks: p.Tasks}
	if err := yamlutil.WriteFile(path, pf, checkPlanEnvelope); err != nil {
		return fmt.Errorf("write plan %s: %w", path, err)
	}
	return nil
}

// ReplacePlanFile writes p to path, loads it back and passes the loaded plan
// to verify. If loading or verify fails, path is rolled back: the previous
// version is restored from its backup, or the file is removed when there was
// none. A nil verify only checks that the plan loads.
func ReplacePlanFile(path string, p model.TaskPlan, verify func(model.TaskPlan) error) error {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := WritePlanFile(path, p); err != nil {
		return err
	}
	got, err := LoadPlanFile(path)
	if err == nil && verify != nil {
		err = verify(got)
	}
	if err == nil {
		return nil
	}

	var rollbackErr error
	if existed {
		rollbackErr = RestorePlanFile(path)
	} else {
		rollbackErr = os.Remove(path)
	}
	if rollbackErr != nil {
		return fmt.Errorf("%w (rollback of %s failed: %v)", err, path, rollbackErr)
	}
	return fmt.Errorf("%s rolled back: %w", path, err)
}

// RestorePlanFile puts the .bak of path back in place. The backup must still
// parse as a plan.
func RestorePlanFile(path string) error {
	if err := yamlutil.RestoreFromBackup(path, checkPlanEnvelope); err != nil {
		return fmt.Errorf("restore plan %s: %w", path, err)
	}
	return nil
}

func checkPlanEnvelope(content []byte) error {
	_, err := ParsePlan(content)
	return err
}

func LoadOutcomeFile(path string) (OutcomeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OutcomeSet{}, fmt.Errorf("read outcomes: %w", err)
	}
	set, err := ParseOutcomes(data)
	if err != nil {
		return OutcomeSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

func ParseOutcomes(data []byte) (OutcomeSet, error) {
	var of model.OutcomeFile
	if err := yamlutil.DecodeStrict(data, &of); err != nil {
		return OutcomeSet{}, fmt.Errorf("parse outcomes: %w", err)
	}

	errs := &ValidationErrors{}
	validateSchemaVersion(of.SchemaVersion, errs)
	set := collectOutcomes(of.Outcomes, errs)
	if errs.HasErrors() {
		return OutcomeSet{}, errs
	}
	return set, nil
}

// NewOutcomeSet indexes outcomes reported outside an outcome file, applying
// the same per-entry checks as ParseOutcomes.
func NewOutcomeSet(outcomes []model.TaskOutcome) (OutcomeSet, error) {
	errs := &ValidationErrors{}
	set := collectOutcomes(outcomes, errs)
	if errs.HasErrors() {
		return OutcomeSet{}, errs
	}
	return set, nil
}

func collectOutcomes(outcomes []model.TaskOutcome, errs *ValidationErrors) OutcomeSet {
	set := OutcomeSet{Outcomes: make(map[string]model.TaskOutcome, len(outcomes))}
	for i, o := range outcomes {
		prefix := fmt.Sprintf("outcomes[%d]", i)
		if o.TaskID == "" {
			errs.Add(prefix+".task_id", "required field is missing")
			continue
		}
		if _, dup := set.Outcomes[o.TaskID]; dup {
			errs.Add(prefix+".task_id", fmt.Sprintf("duplicate outcome for task %q", o.TaskID))
			continue
		}
		if !o.Status.IsValid() {
			errs.Add(prefix+".status", fmt.Sprintf("must be 'completed' or 'failed', got %q", o.Status))
			continue
		}
		if o.DurationMs < 0 {
			errs.Add(prefix+".duration_ms", fmt.Sprintf("must be non-negative, got %d", o.DurationMs))
		}

		set.Outcomes[o.TaskID] = o
		switch o.Status {
		case model.StatusCompleted:
			set.Completed = append(set.Completed, o.TaskID)
		case model.StatusFailed:
			set.Failed = append(set.Failed, o.TaskID)
		}
	}
	return set
}

func validateSchemaVersion(v int, errs *ValidationErrors) {
	if v != model.PlanSchemaVersion {
		errs.Add("schema_version", fmt.Sprintf("unsupported version %d (want %d)", v, model.PlanSchemaVersion))
	}
}
